// internal/hostkeys/hostkeys.go

// Package hostkeys is the trust store for server host keys. The store is an
// OpenSSH known_hosts file that this package only ever appends to.
package hostkeys

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	dirPerms  = 0o700
	filePerms = 0o600

	hashMagic = "|1|"
)

// Status is the outcome of Check. It is one of Known, Unknown or Changed.
type Status interface {
	status()
}

// Known means a stored entry matched the host and its key is identical.
type Known struct{}

// Unknown means no stored entry matched the host.
type Unknown struct {
	Fingerprint string
	KeyType     string
}

// Changed means the host is stored with a different key. Treat it as a
// possible man-in-the-middle.
type Changed struct {
	Fingerprint string
	// Line is the 1-based line of the entry that disagreed.
	Line int
}

func (Known) status()   {}
func (Unknown) status() {}
func (Changed) status() {}

// Store checks and records host keys in one known_hosts file.
type Store struct {
	path string
	hash bool
}

// NewStore returns a store backed by path. When hash is true, new entries are
// written with hashed hostnames.
func NewStore(path string, hash bool) *Store {
	return &Store{path: path, hash: hash}
}

func (s *Store) Path() string {
	return s.path
}

// Pattern returns the known_hosts host pattern for hostname and port:
// "hostname" on port 22, "[hostname]:port" otherwise.
func Pattern(hostname string, port int) string {
	if port == 22 || port == 0 {
		return hostname
	}
	return "[" + hostname + "]:" + strconv.Itoa(port)
}

// Check looks up hostname:port. The first line with a matching host pattern
// decides the result.
func (s *Store) Check(hostname string, port int, key ssh.PublicKey) (Status, error) {
	unknown := Unknown{Fingerprint: ssh.FingerprintSHA256(key), KeyType: key.Type()}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return unknown, nil
		}
		return nil, fmt.Errorf("open known hosts %s: %w", s.path, err)
	}
	defer f.Close()

	want := Pattern(hostname, port)
	offered := key.Marshal()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		marker, hosts, stored, _, _, err := ssh.ParseKnownHosts(line)
		if err != nil || marker != "" {
			continue
		}
		if !matchesAny(hosts, want) {
			continue
		}

		if bytes.Equal(stored.Marshal(), offered) {
			return Known{}, nil
		}
		return Changed{Fingerprint: unknown.Fingerprint, Line: lineNum}, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read known hosts %s: %w", s.path, err)
	}

	return unknown, nil
}

// Add appends an entry for hostname:port. Existing lines are never touched.
func (s *Store) Add(hostname string, port int, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerms); err != nil {
		return fmt.Errorf("create known hosts dir: %w", err)
	}

	pattern := Pattern(hostname, port)
	if s.hash {
		pattern = knownhosts.HashHostname(pattern)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerms)
	if err != nil {
		return fmt.Errorf("open known hosts %s: %w", s.path, err)
	}
	if _, err := f.WriteString(knownhosts.Line([]string{pattern}, key) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append known host: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close known hosts: %w", err)
	}

	// O_CREATE honours umask and leaves an existing file's mode alone.
	return os.Chmod(s.path, filePerms)
}

func matchesAny(patterns []string, want string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, hashMagic) {
			if matchHashed(p, want) {
				return true
			}
			continue
		}
		if p == want {
			return true
		}
	}
	return false
}

// matchHashed tests want against "|1|base64(salt)|base64(HMAC-SHA1(salt, host))".
func matchHashed(pattern, want string) bool {
	parts := strings.Split(pattern[len(hashMagic):], "|")
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	digest, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(want))
	return hmac.Equal(mac.Sum(nil), digest)
}
