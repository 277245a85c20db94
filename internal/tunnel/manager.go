// internal/tunnel/manager.go
package tunnel

import (
	"context"
	"fmt"
	"os"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
)

// Backoff yields reconnect delays that double from Initial and clamp at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current *= 2
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

func (b *Backoff) Reset() {
	b.current = 0
}

// ConnectFunc opens an authenticated session to host.
type ConnectFunc func(ctx context.Context, host *models.Host) (Transport, error)

// Tunnel is one bookmark's set of forwards.
type Tunnel struct {
	Host       *models.Host
	Forwards   []ForwardSpec
	Persistent bool
}

type ManagerOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         log.FieldLogger
}

// Manager runs tunnels and keeps the shared state file in step with them.
type Manager struct {
	connect ConnectFunc
	state   *StateStore
	log     log.FieldLogger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	pid int
	now func() time.Time
}

func NewManager(connect ConnectFunc, state *StateStore, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		connect:        connect,
		state:          state,
		log:            logger,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		pid:            os.Getpid(),
		now:            time.Now,
	}
}

// run is the bookkeeping for one Run call.
type run struct {
	m      *Manager
	tunnel Tunnel
	entry  Entry
	log    log.FieldLogger

	registered bool
}

// Run brings the tunnel up and supervises it until ctx is cancelled. A
// persistent tunnel reconnects with backoff after losing its session; any
// other tunnel returns when the session ends. The state entry is removed on
// return.
func (m *Manager) Run(ctx context.Context, t Tunnel) error {
	if t.Host == nil {
		return apperr.New(apperr.ValidationError, "tunnel has no bookmark", nil)
	}
	if len(t.Forwards) == 0 {
		return apperr.New(apperr.ValidationError, "tunnel has no forwards", nil)
	}
	for _, f := range t.Forwards {
		if err := ValidateHost(f.RemoteHost); err != nil {
			return err
		}
	}

	name := t.Host.String()
	existing, found, err := m.state.Find(name)
	if err != nil {
		return err
	}
	if found && existing.PID != m.pid {
		return apperr.New(apperr.ValidationError, fmt.Sprintf("tunnel for %s is already running (pid %d)", name, existing.PID), nil)
	}

	r := &run{
		m:      m,
		tunnel: t,
		log:    m.log.WithField("bookmark", name),
		entry: Entry{
			Bookmark:   name,
			Forwards:   t.Forwards,
			Persistent: t.Persistent,
			PID:        m.pid,
			StartedAt:  m.now().UTC(),
		},
	}
	// The entry exists from the start so a tunnel still waiting on its first
	// session is listed and claims the bookmark.
	r.record(StatusReconnecting)
	defer r.deregister()
	return r.supervise(ctx)
}

func (r *run) supervise(ctx context.Context) error {
	backoff := NewBackoff(r.m.initialBackoff, r.m.maxBackoff)
	if r.m.maxBackoff <= 0 {
		backoff.Max = DefaultMaxBackoff
	}

	for {
		transport, set, err := r.establish(ctx)
		if err == nil {
			backoff.Reset()
			r.record(StatusConnected)

			select {
			case <-ctx.Done():
			case <-transport.Done():
			}
			set.Close()
			transport.Close()

			if ctx.Err() != nil {
				r.log.Info("tunnel stopped")
				return nil
			}
			if !r.tunnel.Persistent {
				r.log.Warn("connection lost, tunnel stopped")
				return apperr.New(apperr.ConnectionError, "connection lost", nil)
			}
			r.log.Warn("connection lost")
		} else {
			if ctx.Err() != nil {
				r.log.Info("tunnel stopped")
				return nil
			}
			if !r.tunnel.Persistent || fatal(err) {
				r.log.WithError(err).Error("tunnel setup failed, giving up")
				return err
			}
			r.log.WithError(err).Warn("tunnel setup failed")
		}

		delay := backoff.Next()
		r.entry.Reconnects++
		r.record(StatusReconnecting)
		r.log.WithFields(log.Fields{
			"attempt": r.entry.Reconnects,
			"delay":   delay,
		}).Info("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("tunnel stopped")
			return nil
		case <-timer.C:
		}
	}
}

// establish connects and sets up every forward. Individual forwards may
// fail; the attempt only fails when none come up.
func (r *run) establish(ctx context.Context) (Transport, *forwardSet, error) {
	transport, err := r.m.connect(ctx, r.tunnel.Host)
	if err != nil {
		return nil, nil, err
	}

	set := &forwardSet{}
	routes := NewRemoteForwardMap()

	// Claim forwarded-tcpip before asking for any remote forward so early
	// connections are not refused by the client library.
	var chans <-chan ssh.NewChannel
	for _, spec := range r.tunnel.Forwards {
		if spec.Direction == Remote {
			chans = transport.HandleChannelOpen("forwarded-tcpip")
			break
		}
	}

	for _, spec := range r.tunnel.Forwards {
		logger := r.log.WithField("forward", spec.Flag())
		switch spec.Direction {
		case Local:
			f, err := startLocal(transport, spec, logger)
			if err != nil {
				logger.WithError(err).Warn("forward setup failed")
				continue
			}
			set.closers = append(set.closers, f)
		case Remote:
			f, err := startRemote(transport, spec, routes, logger)
			if err != nil {
				logger.WithError(err).Warn("forward setup failed")
				continue
			}
			set.closers = append(set.closers, f)
		}
	}

	if len(set.closers) == 0 {
		transport.Close()
		return nil, nil, apperr.New(apperr.ForwardError, "no forwards could be established", nil)
	}

	if chans != nil {
		routerCtx, cancel := context.WithCancel(ctx)
		set.stop = cancel
		go NewRouter(routes, r.log).Serve(routerCtx, chans)
	}
	return transport, set, nil
}

// record writes the entry with a new status. A failed write is logged and
// the tunnel keeps running.
func (r *run) record(status Status) {
	r.entry.Status = status
	if err := r.m.state.Register(r.entry); err != nil {
		r.log.WithError(err).Warn("failed to update tunnel state")
		return
	}
	r.registered = true
	r.log.WithField("status", status).Debug("tunnel status recorded")
}

// deregister marks the entry stopped and then drops it, so a failed removal
// still leaves an accurate status behind.
func (r *run) deregister() {
	if !r.registered {
		return
	}
	r.record(StatusStopped)
	if err := r.m.state.Remove(r.entry.Bookmark); err != nil {
		r.log.WithError(err).Warn("failed to remove tunnel state")
	}
}

func fatal(err error) bool {
	return apperr.IsType(err, apperr.AuthError) ||
		apperr.IsType(err, apperr.TrustError) ||
		apperr.IsType(err, apperr.ValidationError) ||
		apperr.IsType(err, apperr.ConfigError)
}

// List returns the tunnels whose owning process is still running.
func (m *Manager) List() ([]Entry, error) {
	return m.state.PurgeStale()
}

// Stop asks the process running bookmark's tunnel to shut down.
func (m *Manager) Stop(bookmark string) error {
	entry, found, err := m.state.Find(bookmark)
	if err != nil {
		return err
	}
	if !found {
		return apperr.New(apperr.ValidationError, fmt.Sprintf("no running tunnel for %s", bookmark), nil)
	}
	if err := terminate(entry.PID); err != nil {
		return apperr.New(apperr.ForwardError, fmt.Sprintf("failed to stop tunnel process %d", entry.PID), err)
	}
	m.log.WithFields(log.Fields{"bookmark": bookmark, "pid": entry.PID}).Info("stop requested")
	return nil
}
