// internal/tunnel/forward.go
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	apperr "sshmen/internal/error"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// remoteBindAddr is the address remote forwards ask the server to listen on.
const remoteBindAddr = "localhost"

const acceptRetryDelay = 100 * time.Millisecond

// cancelForwardTimeout bounds the wait for a cancel-tcpip-forward reply on
// shutdown. The transport is closed right after either way.
const cancelForwardTimeout = 5 * time.Second

// Transport is the part of a live session the tunnel code needs.
// *sshmen/internal/ssh.Session satisfies it.
type Transport interface {
	Dial(addr string) (net.Conn, error)
	RequestRemoteForward(addr string, port uint32) (uint32, error)
	CancelRemoteForward(addr string, port uint32) error
	HandleChannelOpen(channelType string) <-chan ssh.NewChannel
	Done() <-chan struct{}
	Close() error
}

// localForward serves one -L spec.
type localForward struct {
	spec     ForwardSpec
	listener net.Listener
	log      log.FieldLogger
	wg       sync.WaitGroup
}

func startLocal(t Transport, spec ForwardSpec, logger log.FieldLogger) (*localForward, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(spec.LocalPort))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.ForwardError, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	f := &localForward{spec: spec, listener: l, log: logger}
	f.wg.Add(1)
	go f.acceptLoop(t)
	logger.WithField("listen", addr).Info("local forward ready")
	return f, nil
}

func (f *localForward) acceptLoop(t Transport) {
	defer f.wg.Done()
	target := net.JoinHostPort(f.spec.RemoteHost, strconv.Itoa(f.spec.RemotePort))
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.log.WithError(err).Warn("accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}

		go func() {
			remote, err := t.Dial(target)
			if err != nil {
				f.log.WithError(err).Warn("failed to open forwarded channel")
				conn.Close()
				return
			}
			bridge(conn, remote)
		}()
	}
}

// Close stops accepting. Connections already bridged end with the session.
func (f *localForward) Close() error {
	err := f.listener.Close()
	f.wg.Wait()
	return err
}

// remoteForward is one -R spec registered with the server.
type remoteForward struct {
	transport Transport
	routes    *RemoteForwardMap
	port      uint32
	timeout   time.Duration
}

func startRemote(t Transport, spec ForwardSpec, routes *RemoteForwardMap, logger log.FieldLogger) (*remoteForward, error) {
	requested := uint32(spec.LocalPort)
	granted, err := t.RequestRemoteForward(remoteBindAddr, requested)
	if err != nil {
		return nil, err
	}
	if granted != requested {
		logger.WithFields(log.Fields{
			"requested": requested,
			"granted":   granted,
		}).Warn("server bound a different port than requested")
	}

	target := net.JoinHostPort(spec.RemoteHost, strconv.Itoa(spec.RemotePort))
	routes.Register(remoteBindAddr, granted, target)
	logger.WithField("bound", net.JoinHostPort(remoteBindAddr, strconv.Itoa(int(granted)))).Info("remote forward ready")
	return &remoteForward{transport: t, routes: routes, port: granted, timeout: cancelForwardTimeout}, nil
}

func (f *remoteForward) Close() error {
	f.routes.Remove(remoteBindAddr, f.port)
	select {
	case <-f.transport.Done():
		return nil
	default:
	}

	result := make(chan error, 1)
	go func() { result <- f.transport.CancelRemoteForward(remoteBindAddr, f.port) }()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-f.transport.Done():
		return nil
	case <-timer.C:
		return apperr.New(apperr.ForwardError, fmt.Sprintf("no reply to cancel of remote forward on port %d", f.port), nil)
	}
}

// forwardSet is everything set up on one session.
type forwardSet struct {
	closers []io.Closer
	stop    func()
}

func (s *forwardSet) Close() {
	for _, c := range s.closers {
		c.Close()
	}
	if s.stop != nil {
		s.stop()
	}
}
