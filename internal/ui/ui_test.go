package ui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"sshmen/internal/hostkeys"
	"sshmen/internal/models"
	"sshmen/internal/tunnel"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"
)

func testKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func press(m tea.Model, k tea.KeyType) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: k})
}

var testHost = &models.Host{Name: "web", Login: "deploy", IP: "10.0.0.5", Port: 22}

func TestHostKeyUnknownAcceptsShortYes(t *testing.T) {
	g := NewWithT(t)
	key := testKey(t)
	m := newHostKeyModel(testHost, hostkeys.Unknown{Fingerprint: ssh.FingerprintSHA256(key), KeyType: key.Type()}, key)

	g.Expect(m.View()).To(ContainSubstring("can't be established"))
	g.Expect(m.View()).To(ContainSubstring(ssh.FingerprintSHA256(key)))

	next, cmd := press(typeText(m, "y"), tea.KeyEnter)
	g.Expect(cmd).NotTo(BeNil())
	g.Expect(next.(*hostKeyModel).accepted).To(BeTrue())
}

func TestHostKeyChangedNeedsFullYes(t *testing.T) {
	g := NewWithT(t)
	key := testKey(t)
	m := newHostKeyModel(testHost, hostkeys.Changed{Fingerprint: ssh.FingerprintSHA256(key), Line: 4}, key)

	view := m.View()
	g.Expect(view).To(ContainSubstring("REMOTE HOST IDENTIFICATION HAS CHANGED"))
	g.Expect(view).To(ContainSubstring("line 4"))

	next, cmd := press(typeText(m, "y"), tea.KeyEnter)
	g.Expect(cmd).To(BeNil())
	hk := next.(*hostKeyModel)
	g.Expect(hk.accepted).To(BeFalse())
	g.Expect(hk.View()).To(ContainSubstring(`Type "yes" in full`))

	next, cmd = press(typeText(hk, "yes"), tea.KeyEnter)
	g.Expect(cmd).NotTo(BeNil())
	g.Expect(next.(*hostKeyModel).accepted).To(BeTrue())
}

func TestHostKeyEscapeRejects(t *testing.T) {
	g := NewWithT(t)
	key := testKey(t)
	m := newHostKeyModel(testHost, hostkeys.Unknown{}, key)
	typeText(m, "yes")
	next, cmd := press(m, tea.KeyEsc)
	g.Expect(cmd).NotTo(BeNil())
	g.Expect(next.(*hostKeyModel).accepted).To(BeFalse())
}

func TestHostKeyPromptProgram(t *testing.T) {
	g := NewWithT(t)
	key := testKey(t)
	var out bytes.Buffer
	prompt := HostKeyPrompt{In: strings.NewReader("no\r"), Out: &out}

	accepted, err := prompt.Decide(testHost, hostkeys.Unknown{}, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(accepted).To(BeFalse())
	g.Expect(out.String()).To(ContainSubstring("Unknown host"))
}

func TestSnippetModelPicksSelection(t *testing.T) {
	g := NewWithT(t)
	m := newSnippetModel([]string{"uptime", "df -h"})
	g.Expect(m.View()).To(ContainSubstring("uptime"))

	next, _ := press(m, tea.KeyDown)
	next, cmd := press(next, tea.KeyEnter)
	g.Expect(cmd).NotTo(BeNil())
	sm := next.(*snippetModel)
	g.Expect(sm.picked).To(BeTrue())
	g.Expect(sm.choice).To(Equal("df -h"))
	g.Expect(sm.View()).To(BeEmpty())
}

func TestSnippetModelCancel(t *testing.T) {
	g := NewWithT(t)
	next, _ := press(newSnippetModel([]string{"uptime"}), tea.KeyEsc)
	g.Expect(next.(*snippetModel).picked).To(BeFalse())
}

func TestPickSnippetWithNoSnippets(t *testing.T) {
	g := NewWithT(t)
	var out bytes.Buffer
	_, ok, err := PickSnippet(context.Background(), strings.NewReader(""), &out, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())
	g.Expect(out.String()).To(ContainSubstring("No snippets"))
}

func TestBookmarkModel(t *testing.T) {
	g := NewWithT(t)
	m := newBookmarkModel("deploy@10.0.0.5:22", "")

	// Enter on an empty name does nothing.
	next, cmd := press(m, tea.KeyEnter)
	g.Expect(cmd).To(BeNil())

	next, cmd = press(typeText(next, "  web  "), tea.KeyEnter)
	g.Expect(cmd).NotTo(BeNil())
	bm := next.(*bookmarkModel)
	g.Expect(bm.saved).To(BeTrue())
	g.Expect(bm.name).To(Equal("web"))
}

func TestPromptBookmarkNameCancelledContext(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := PromptBookmarkName(ctx, strings.NewReader(""), &bytes.Buffer{}, "x", "")
	g.Expect(ok).To(BeFalse())
	g.Expect(err).To(HaveOccurred())
}

func TestTunnelTable(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.Expect(TunnelTable(nil, now)).To(ContainSubstring("No tunnels running"))

	out := TunnelTable([]tunnel.Entry{{
		Bookmark:   "db",
		Forwards:   []tunnel.ForwardSpec{{Direction: tunnel.Local, LocalPort: 5432, RemoteHost: "db.internal", RemotePort: 5432}},
		Persistent: true,
		PID:        4242,
		StartedAt:  now.Add(-90 * time.Second),
		Reconnects: 2,
		Status:     tunnel.StatusReconnecting,
	}}, now)
	g.Expect(out).To(ContainSubstring("db"))
	g.Expect(out).To(ContainSubstring("-L 5432:db.internal:5432"))
	g.Expect(out).To(ContainSubstring("reconnecting"))
	g.Expect(out).To(ContainSubstring("1m30s"))
	g.Expect(out).To(ContainSubstring("4242"))
}

func TestProgressLine(t *testing.T) {
	g := NewWithT(t)
	line := ProgressLine("/tmp/archive.tar.gz", 512, 1024)
	g.Expect(line).To(HavePrefix("\r"))
	g.Expect(line).To(ContainSubstring("archive.tar.gz"))
	g.Expect(line).To(ContainSubstring("50%"))
	g.Expect(humanBytes(3 * 1024 * 1024)).To(Equal("3.0 MiB"))
	g.Expect(humanBytes(12)).To(Equal("12 B"))
}
