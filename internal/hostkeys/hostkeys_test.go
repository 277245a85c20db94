package hostkeys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	return key
}

func TestPattern(t *testing.T) {
	g := NewWithT(t)
	g.Expect(Pattern("example.com", 22)).To(Equal("example.com"))
	g.Expect(Pattern("example.com", 2222)).To(Equal("[example.com]:2222"))
	g.Expect(Pattern("10.0.0.1", 0)).To(Equal("10.0.0.1"))
}

func TestCheckMissingFileIsUnknown(t *testing.T) {
	g := NewWithT(t)
	key := newKey(t)
	store := NewStore(filepath.Join(t.TempDir(), "nope", "known_hosts"), false)

	status, err := store.Check("example.com", 22, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Unknown{Fingerprint: ssh.FingerprintSHA256(key), KeyType: key.Type()}))
}

func TestAddThenCheck(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	store := NewStore(path, false)
	key := newKey(t)
	other := newKey(t)

	g.Expect(store.Add("example.com", 2222, key)).To(Succeed())

	status, err := store.Check("example.com", 2222, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Known{}))

	status, err = store.Check("example.com", 2222, other)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Changed{Fingerprint: ssh.FingerprintSHA256(other), Line: 1}))

	status, err = store.Check("example.org", 2222, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(BeAssignableToTypeOf(Unknown{}))

	// Same host on the default port is a different pattern.
	status, err = store.Check("example.com", 22, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(BeAssignableToTypeOf(Unknown{}))

	info, err := os.Stat(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
}

func TestAddAppendsOnly(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "known_hosts")
	g.Expect(os.WriteFile(path, []byte("# keep me\n\n"), 0o644)).To(Succeed())

	store := NewStore(path, false)
	g.Expect(store.Add("a.example", 22, newKey(t))).To(Succeed())
	g.Expect(store.Add("b.example", 22, newKey(t))).To(Succeed())

	data, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	g.Expect(lines).To(HaveLen(4))
	g.Expect(lines[0]).To(Equal("# keep me"))
	g.Expect(lines[2]).To(HavePrefix("a.example "))
	g.Expect(lines[3]).To(HavePrefix("b.example "))

	info, err := os.Stat(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
}

func TestFirstMatchingLineWins(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "known_hosts")
	stale := newKey(t)
	current := newKey(t)

	content := "# comment\n" +
		knownhosts.Line([]string{"other.example", "db.example"}, stale) + "\n" +
		knownhosts.Line([]string{"db.example"}, current) + "\n"
	g.Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

	status, err := NewStore(path, false).Check("db.example", 22, current)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Changed{Fingerprint: ssh.FingerprintSHA256(current), Line: 2}))
}

func TestHashedPatternMatchesOnlyItsHost(t *testing.T) {
	g := NewWithT(t)
	key := newKey(t)

	salt := make([]byte, sha1.Size)
	_, err := rand.Read(salt)
	g.Expect(err).NotTo(HaveOccurred())
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte("secret.example"))
	pattern := "|1|" + base64.StdEncoding.EncodeToString(salt) + "|" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	path := filepath.Join(t.TempDir(), "known_hosts")
	g.Expect(os.WriteFile(path, []byte(knownhosts.Line([]string{pattern}, key)+"\n"), 0o600)).To(Succeed())
	store := NewStore(path, false)

	status, err := store.Check("secret.example", 22, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Known{}))

	for _, host := range []string{"secret.exampl", "secret.example.com", "other.example"} {
		status, err = store.Check(host, 22, key)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(status).To(BeAssignableToTypeOf(Unknown{}), host)
	}
}

func TestHashedStoreWritesHashedEntries(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "known_hosts")
	store := NewStore(path, true)
	key := newKey(t)

	g.Expect(store.Add("hidden.example", 2200, key)).To(Succeed())

	data, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(data)).To(HavePrefix("|1|"))
	g.Expect(string(data)).NotTo(ContainSubstring("hidden.example"))

	status, err := store.Check("hidden.example", 2200, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Known{}))

	status, err = store.Check("hidden.example", 2200, newKey(t))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(BeAssignableToTypeOf(Changed{}))
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	g := NewWithT(t)
	key := newKey(t)
	path := filepath.Join(t.TempDir(), "known_hosts")
	content := "garbage-without-key\n" +
		"|1|not-base64|also-not\tssh-ed25519 AAAA\n" +
		knownhosts.Line([]string{"ok.example"}, key) + "\n"
	g.Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

	status, err := NewStore(path, false).Check("ok.example", 22, key)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(status).To(Equal(Known{}))
}
