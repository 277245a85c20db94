package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperr "sshmen/internal/error"

	. "github.com/onsi/gomega"
)

func TestLoadSettingsDefaults(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	t.Setenv("HOME", "/home/tester")

	s, err := LoadSettings(dir)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.KnownHostsFile).To(Equal("/home/tester/.ssh/known_hosts"))
	g.Expect(s.TunnelStateFile).To(Equal(filepath.Join(dir, "tunnels.json")))
	g.Expect(s.ConnectTimeout).To(Equal(10 * time.Second))
	g.Expect(s.SnippetTrigger).To(Equal("~~"))
	g.Expect(s.BookmarkTrigger).To(Equal("~b"))
}

func TestLoadSettingsLayering(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()

	yamlDoc := `
known_hosts_file: /etc/sshmen/known_hosts
hash_known_hosts: true
connect_timeout: 3s
reconnect_initial: 2s
reconnect_max: 30s
snippets:
  - uptime
  - df -h
log_level: debug
`
	g.Expect(os.WriteFile(filepath.Join(dir, SettingsFileName), []byte(yamlDoc), 0o600)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(dir, EnvFileName), []byte("SSHMEN_LOG_LEVEL=warn\nSSHMEN_SNIPPET_TRIGGER=;;\n"), 0o600)).To(Succeed())
	t.Setenv("SSHMEN_CONNECT_TIMEOUT", "7s")
	t.Setenv("SSHMEN_LOG_LEVEL", "error")
	t.Cleanup(func() { os.Unsetenv("SSHMEN_SNIPPET_TRIGGER") })

	s, err := LoadSettings(dir)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.KnownHostsFile).To(Equal("/etc/sshmen/known_hosts"))
	g.Expect(s.HashKnownHosts).To(BeTrue())
	g.Expect(s.Snippets).To(Equal([]string{"uptime", "df -h"}))
	g.Expect(s.ReconnectInitial).To(Equal(2 * time.Second))
	g.Expect(s.ReconnectMax).To(Equal(30 * time.Second))

	// The environment beats the file, and .env never beats the environment.
	g.Expect(s.ConnectTimeout).To(Equal(7 * time.Second))
	g.Expect(s.LogLevel).To(Equal("error"))
	g.Expect(s.SnippetTrigger).To(Equal(";;"))
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	g.Expect(os.WriteFile(filepath.Join(dir, SettingsFileName), []byte("reconnect_initial: 1m\nreconnect_max: 1s\n"), 0o600)).To(Succeed())

	_, err := LoadSettings(dir)
	g.Expect(apperr.IsType(err, apperr.ConfigError)).To(BeTrue())

	g.Expect(os.WriteFile(filepath.Join(dir, SettingsFileName), []byte("connect_timeout: [\n"), 0o600)).To(Succeed())
	_, err = LoadSettings(dir)
	g.Expect(err).To(MatchError(ContainSubstring("failed to parse")))
}
