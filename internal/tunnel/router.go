// internal/tunnel/router.go
package tunnel

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"sshmen/internal/logging"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const localDialTimeout = 10 * time.Second

type forwardKey struct {
	addr string
	port uint32
}

// RemoteForwardMap maps a server-side bound address to the local target its
// connections are delivered to.
type RemoteForwardMap struct {
	mu      sync.RWMutex
	targets map[forwardKey]string
}

func NewRemoteForwardMap() *RemoteForwardMap {
	return &RemoteForwardMap{targets: make(map[forwardKey]string)}
}

// Register maps addr:port on the server to target, a host:port dialed
// locally.
func (m *RemoteForwardMap) Register(addr string, port uint32, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[forwardKey{addr, port}] = target
}

func (m *RemoteForwardMap) Lookup(addr string, port uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	target, ok := m.targets[forwardKey{addr, port}]
	return target, ok
}

func (m *RemoteForwardMap) Remove(addr string, port uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, forwardKey{addr, port})
}

func (m *RemoteForwardMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.targets)
}

type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// Router delivers forwarded-tcpip channels opened by the server to their
// local targets.
type Router struct {
	forwards *RemoteForwardMap
	log      log.FieldLogger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewRouter(forwards *RemoteForwardMap, logger log.FieldLogger) *Router {
	if logger == nil {
		logger = log.StandardLogger()
	}
	d := &net.Dialer{Timeout: localDialTimeout}
	return &Router{forwards: forwards, log: logger, dial: d.DialContext}
}

// Serve handles channel opens until chans is closed or ctx is done. A bad or
// unmapped channel is rejected without affecting the session.
func (r *Router) Serve(ctx context.Context, chans <-chan ssh.NewChannel) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case nc, ok := <-chans:
			if !ok {
				return
			}

			var payload forwardedTCPPayload
			if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
				r.log.WithError(err).Warn("unable to parse forwarded-tcpip payload")
				nc.Reject(ssh.ConnectionFailed, "could not parse forwarded-tcpip payload")
				continue
			}

			logger := r.log.WithFields(log.Fields{
				"bound":  net.JoinHostPort(logging.Sanitize(payload.Addr), strconv.Itoa(int(payload.Port))),
				"origin": net.JoinHostPort(logging.Sanitize(payload.OriginAddr), strconv.Itoa(int(payload.OriginPort))),
			})

			target, ok := r.forwards.Lookup(payload.Addr, payload.Port)
			if !ok {
				logger.Warn("rejecting forwarded connection for unregistered address")
				nc.Reject(ssh.Prohibited, "no forward registered for this address")
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				r.deliver(ctx, nc, target, logger.WithField("target", target))
			}()
		}
	}
}

func (r *Router) deliver(ctx context.Context, nc ssh.NewChannel, target string, logger log.FieldLogger) {
	ch, reqs, err := nc.Accept()
	if err != nil {
		logger.WithError(err).Warn("failed to accept forwarded channel")
		return
	}
	go ssh.DiscardRequests(reqs)

	conn, err := r.dial(ctx, "tcp", target)
	if err != nil {
		logger.WithError(err).Warn("failed to reach local target")
		ch.Close()
		return
	}
	logger.Debug("forwarded connection opened")
	bridge(ch, conn)
	logger.Debug("forwarded connection closed")
}
