// internal/ssh/client.go
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/hostkeys"
	"sshmen/internal/logging"
	"sshmen/internal/models"
	"sshmen/internal/utils"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout bounds dial and handshake when neither the bookmark
// nor the settings say otherwise.
const DefaultConnectTimeout = 10 * time.Second

// DefaultKeyNames are tried in order from the key directory when a bookmark
// has no identity file.
var DefaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}

// HostKeyDecider is asked what to do with a key that is not Known.
type HostKeyDecider interface {
	Decide(host *models.Host, status hostkeys.Status, key ssh.PublicKey) (bool, error)
}

// PasswordPrompter reads a password out of band, never from the session.
type PasswordPrompter interface {
	PromptPassword(prompt string) (string, error)
}

// HostKeyError is returned when a host key is Unknown or Changed and nobody
// accepted it.
type HostKeyError struct {
	Host   string
	Status hostkeys.Status
}

func (e *HostKeyError) Error() string {
	switch st := e.Status.(type) {
	case hostkeys.Changed:
		return fmt.Sprintf("host key for %s has changed (offending entry on line %d, offered %s)", e.Host, st.Line, st.Fingerprint)
	case hostkeys.Unknown:
		return fmt.Sprintf("host key for %s is not trusted (%s %s)", e.Host, st.KeyType, st.Fingerprint)
	default:
		return fmt.Sprintf("host key for %s rejected", e.Host)
	}
}

// ConnectOptions carries everything Connect needs besides the bookmark.
type ConnectOptions struct {
	HostKeys *hostkeys.Store
	Decider  HostKeyDecider
	Prompter PasswordPrompter
	// Password is the decrypted stored password. Empty means prompt.
	Password string
	// KeyDir holds the conventional key files. Empty means ~/.ssh.
	KeyDir    string
	Timeout   time.Duration
	KeepAlive time.Duration
	Logger    log.FieldLogger
}

func (o ConnectOptions) logger() log.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.StandardLogger()
}

// Connect dials the bookmark, verifies its host key and authenticates with
// public keys and then, once, a password.
func Connect(ctx context.Context, host *models.Host, opts ConnectOptions) (*Session, error) {
	if err := host.Validate(); err != nil {
		return nil, apperr.New(apperr.ValidationError, "invalid bookmark", err)
	}
	if opts.HostKeys == nil {
		return nil, apperr.New(apperr.ConfigError, "no host key store configured", nil)
	}

	logger := opts.logger().WithField("bookmark", host.String())
	addr := host.Address()

	timeout := host.ConnectTimeout(opts.Timeout)
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	verifier := &hostKeyVerifier{host: host, store: opts.HostKeys, decider: opts.Decider, log: logger}
	config := &ssh.ClientConfig{
		User:            host.Login,
		Auth:            authMethods(host, opts, logger),
		HostKeyCallback: verifier.callback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.ConnectionError, fmt.Sprintf("failed to dial %s", addr), err)
	}

	armDeadline := func() {
		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		conn.SetDeadline(deadline)
	}
	armDeadline()

	// The user may take longer than the timeout to answer a trust prompt.
	verifier.pause = func() { conn.SetDeadline(time.Time{}) }
	verifier.resume = armDeadline

	// A cancelled context aborts the handshake.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		switch {
		case verifier.rejected != nil:
			return nil, apperr.New(apperr.TrustError, "host key verification failed", verifier.rejected)
		case ctx.Err() != nil:
			return nil, apperr.New(apperr.ConnectionError, fmt.Sprintf("connection to %s cancelled", addr), ctx.Err())
		case isAuthFailure(err), errors.Is(err, errNoPassword):
			return nil, apperr.New(apperr.AuthError, fmt.Sprintf("authentication to %s failed", host), err)
		default:
			return nil, apperr.New(apperr.ConnectionError, fmt.Sprintf("handshake with %s failed", addr), err)
		}
	}
	conn.SetDeadline(time.Time{})

	logger.WithField("server_version", logging.Sanitize(string(clientConn.ServerVersion()))).Debug("connected")

	client := ssh.NewClient(clientConn, chans, reqs)
	return newSession(client, host, opts.KeepAlive, logger), nil
}

// errNoPassword marks a password method that had nothing to offer. x/crypto
// aborts the handshake with it instead of reporting an auth failure.
var errNoPassword = errors.New("no password available")

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

type hostKeyVerifier struct {
	host    *models.Host
	store   *hostkeys.Store
	decider HostKeyDecider
	log     log.FieldLogger

	pause, resume func()

	rejected *HostKeyError
}

func (v *hostKeyVerifier) callback(_ string, _ net.Addr, key ssh.PublicKey) error {
	hostname, port := v.host.IP, v.host.EffectivePort()

	status, err := v.store.Check(hostname, port, key)
	if err != nil {
		return apperr.New(apperr.TrustError, "failed to read known hosts", err)
	}
	if _, ok := status.(hostkeys.Known); ok {
		return nil
	}

	accepted := false
	if v.decider != nil {
		if v.pause != nil {
			v.pause()
			defer v.resume()
		}
		accepted, err = v.decider.Decide(v.host, status, key)
		if err != nil {
			v.rejected = &HostKeyError{Host: hostkeys.Pattern(hostname, port), Status: status}
			return err
		}
	}
	if !accepted {
		v.rejected = &HostKeyError{Host: hostkeys.Pattern(hostname, port), Status: status}
		return v.rejected
	}

	switch st := status.(type) {
	case hostkeys.Unknown:
		if err := v.store.Add(hostname, port, key); err != nil {
			return apperr.New(apperr.PersistenceError, "failed to record host key", err)
		}
		v.log.WithField("fingerprint", st.Fingerprint).Info("host key added to known hosts")
	case hostkeys.Changed:
		// The stored entry stays; fixing it is an explicit edit of the file.
		v.log.WithFields(log.Fields{
			"fingerprint": st.Fingerprint,
			"line":        st.Line,
			"file":        v.store.Path(),
		}).Warn("accepted changed host key for this connection only")
	}
	return nil
}

func authMethods(host *models.Host, opts ConnectOptions, logger log.FieldLogger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if signers := loadSigners(keyPaths(host, opts), logger); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	// x/crypto never retries a method it already tried, so this callback
	// runs at most once per connection.
	methods = append(methods, ssh.PasswordCallback(func() (string, error) {
		if opts.Password != "" {
			return opts.Password, nil
		}
		if opts.Prompter == nil {
			return "", errNoPassword
		}
		pw, err := opts.Prompter.PromptPassword(fmt.Sprintf("%s@%s's password: ", host.Login, host.IP))
		if err != nil {
			logger.WithError(err).Warn("cannot prompt for password")
			return "", errNoPassword
		}
		return pw, nil
	}))
	return methods
}

func keyPaths(host *models.Host, opts ConnectOptions) []string {
	if host.IdentityFile != "" {
		return []string{host.IdentityFile}
	}

	dir := opts.KeyDir
	if dir == "" {
		dir = "~/.ssh"
	}
	paths := make([]string, 0, len(DefaultKeyNames))
	for _, name := range DefaultKeyNames {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

// loadSigners parses every readable key. Failures are logged and skipped.
func loadSigners(paths []string, logger log.FieldLogger) []ssh.Signer {
	var signers []ssh.Signer
	for _, p := range paths {
		expanded, err := utils.ExpandHome(p)
		if err != nil {
			logger.WithError(err).WithField("key", p).Warn("cannot resolve key path")
			continue
		}

		data, err := os.ReadFile(expanded)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.WithField("key", expanded).Debug("key file not present")
			} else {
				logger.WithError(err).WithField("key", expanded).Warn("cannot read key")
			}
			continue
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				logger.WithField("key", expanded).Info("skipping passphrase-protected key")
			} else {
				logger.WithError(err).WithField("key", expanded).Warn("cannot parse key")
			}
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}
