// internal/ssh/session.go
package ssh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/models"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SessionState is the lifecycle of a Session.
type SessionState int

const (
	StateConnected SessionState = iota
	StateError
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// keepAliveMaxMissed is how many keepalive failures in a row close the
// transport.
const keepAliveMaxMissed = 3

// maxKeepAliveReplyWait caps how long one keepalive waits for its reply.
const maxKeepAliveReplyWait = 10 * time.Second

// Session is a live authenticated SSH connection. Channels may be opened
// from any goroutine; global requests go through one at a time.
type Session struct {
	client *ssh.Client
	host   *models.Host
	log    log.FieldLogger

	keepAlive     time.Duration
	keepAliveBusy atomic.Bool

	// ctlMu serializes tcpip-forward and cancel-tcpip-forward requests.
	ctlMu sync.Mutex

	stateMutex sync.RWMutex
	state      SessionState
	lastError  error

	stopChan  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(client *ssh.Client, host *models.Host, keepAlive time.Duration, logger log.FieldLogger) *Session {
	s := &Session{
		client:    client,
		host:      host,
		log:       logger,
		keepAlive: keepAlive,
		state:     StateConnected,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	go func() {
		err := client.Wait()
		select {
		case <-s.stopChan:
		default:
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.setError(err)
			}
		}
		s.setState(StateDisconnected)
		close(s.done)
	}()

	if keepAlive > 0 {
		go s.keepAliveLoop()
	}
	return s
}

// NewSession wraps an already authenticated client. The caller gives up
// ownership of client.
func NewSession(client *ssh.Client, host *models.Host, keepAlive time.Duration, logger log.FieldLogger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return newSession(client, host, keepAlive, logger)
}

func (s *Session) Client() *ssh.Client {
	return s.client
}

func (s *Session) Host() *models.Host {
	return s.host
}

// Dial opens a direct-tcpip channel to addr through the server.
func (s *Session) Dial(addr string) (net.Conn, error) {
	conn, err := s.client.Dial("tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.ForwardError, fmt.Sprintf("failed to open channel to %s", addr), err)
	}
	return conn, nil
}

// HandleChannelOpen registers interest in server-initiated channels of the
// given type. It returns nil if the type is already being handled.
func (s *Session) HandleChannelOpen(channelType string) <-chan ssh.NewChannel {
	return s.client.HandleChannelOpen(channelType)
}

type channelForwardMsg struct {
	Addr  string
	Rport uint32
}

// RequestRemoteForward asks the server to listen on addr:port and returns the
// port it actually bound.
func (s *Session) RequestRemoteForward(addr string, port uint32) (uint32, error) {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	ok, reply, err := s.client.SendRequest("tcpip-forward", true, ssh.Marshal(&channelForwardMsg{Addr: addr, Rport: port}))
	if err != nil {
		return 0, apperr.New(apperr.ForwardError, "tcpip-forward request failed", err)
	}
	if !ok {
		return 0, apperr.New(apperr.ForwardError, fmt.Sprintf("server refused remote forward on %s", net.JoinHostPort(addr, strconv.Itoa(int(port)))), nil)
	}

	// The reply only carries a port when the request asked for port 0.
	if len(reply) >= 4 {
		return binary.BigEndian.Uint32(reply[:4]), nil
	}
	return port, nil
}

// CancelRemoteForward withdraws a forward set up by RequestRemoteForward.
func (s *Session) CancelRemoteForward(addr string, port uint32) error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	ok, _, err := s.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&channelForwardMsg{Addr: addr, Rport: port}))
	if err != nil {
		return apperr.New(apperr.ForwardError, "cancel-tcpip-forward request failed", err)
	}
	if !ok {
		return apperr.New(apperr.ForwardError, "server refused to cancel remote forward", nil)
	}
	return nil
}

// SFTP opens an SFTP subsystem on the session.
func (s *Session) SFTP() (*sftp.Client, error) {
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, apperr.New(apperr.ConnectionError, "failed to start sftp subsystem", err)
	}
	return c, nil
}

// Done is closed once the transport has gone away.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the transport closes and returns the reason, if any.
func (s *Session) Wait() error {
	<-s.done
	return s.GetLastError()
}

// keepAliveLoop sends keepalive@openssh.com and closes the transport after
// keepAliveMaxMissed failures in a row.
func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ticker.C:
			if err := s.sendKeepAlive(); err != nil {
				missed++
				s.log.WithError(err).WithField("missed", missed).Warn("keepalive failed")
				if missed >= keepAliveMaxMissed {
					s.setError(fmt.Errorf("keepalive failed %d times: %w", missed, err))
					s.client.Close()
					return
				}
				continue
			}
			missed = 0
		case <-s.stopChan:
			return
		case <-s.done:
			return
		}
	}
}

// sendKeepAlive waits at most keepAliveReplyTimeout for the reply. It does
// not take ctlMu; x/crypto already orders global requests. A request still
// waiting from an earlier tick counts as another miss.
func (s *Session) sendKeepAlive() error {
	if !s.keepAliveBusy.CompareAndSwap(false, true) {
		return errors.New("previous keepalive still unanswered")
	}

	result := make(chan error, 1)
	go func() {
		defer s.keepAliveBusy.Store(false)
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		result <- err
	}()

	timer := time.NewTimer(s.keepAliveReplyTimeout())
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errors.New("keepalive timed out")
	case <-s.done:
		return errors.New("connection closed")
	}
}

func (s *Session) keepAliveReplyTimeout() time.Duration {
	if s.keepAlive < maxKeepAliveReplyWait {
		return s.keepAlive
	}
	return maxKeepAliveReplyWait
}

// Close tears down the transport. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		if cerr := s.client.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("client close error: %w", cerr)
		}
		s.setState(StateDisconnected)
	})
	return err
}

func (s *Session) setState(state SessionState) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.state == StateError && state == StateDisconnected {
		return
	}
	s.state = state
}

func (s *Session) setError(err error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.lastError == nil {
		s.lastError = err
	}
	s.state = StateError
}

// GetState returns the current lifecycle state.
func (s *Session) GetState() SessionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetLastError returns the error that ended the session, if any.
func (s *Session) GetLastError() error {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.lastError
}
