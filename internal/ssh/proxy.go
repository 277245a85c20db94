// internal/ssh/proxy.go
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"sshmen/internal/detect"
	apperr "sshmen/internal/error"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTermType = "xterm-256color"
	proxyBufSize    = 32 * 1024
)

// TriggerHandler runs when an escape trigger fires. keys delivers what the
// user types while the handler runs. Returned bytes are sent to the remote
// shell.
type TriggerHandler func(ctx context.Context, trigger detect.Trigger, keys io.Reader) ([]byte, error)

// ProxyOptions configures RunShell.
type ProxyOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	TermType string
	Size     WindowSize
	Resize   <-chan WindowSize

	// Guard, if set, owns the local terminal for the life of the shell.
	Guard *TerminalGuard

	Filter *detect.EscapeFilter
	Prompt *detect.PromptDetector

	// OnPasswordPrompt returns bytes to type in answer to a detected
	// password prompt, or nil to leave it to the user.
	OnPasswordPrompt func() []byte
	OnTrigger        TriggerHandler
}

var errStdinClosed = errors.New("local input closed")

// RunShell starts an interactive shell and proxies it to the local streams
// until the remote side exits, local input ends or ctx is cancelled.
func (s *Session) RunShell(ctx context.Context, opts ProxyOptions) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return apperr.New(apperr.ConnectionError, "failed to create session", err)
	}
	defer sess.Close()

	termType := opts.TermType
	if termType == "" {
		termType = defaultTermType
	}
	size := opts.Size
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultWindowSize
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
		ssh.VINTR:         3,  // Ctrl+C
		ssh.VQUIT:         28, // Ctrl+\
		ssh.VERASE:        127,
		ssh.VKILL:         21, // Ctrl+U
		ssh.VEOF:          4,  // Ctrl+D
		ssh.VWERASE:       23, // Ctrl+W
		ssh.VLNEXT:        22, // Ctrl+V
		ssh.VSUSP:         26, // Ctrl+Z
	}
	if err := sess.RequestPty(termType, size.Height, size.Width, modes); err != nil {
		return apperr.New(apperr.ConnectionError, "failed to request PTY", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if opts.Guard != nil {
		if err := opts.Guard.Enter(); err != nil {
			return err
		}
		defer opts.Guard.Restore()
	}

	if err := sess.Shell(); err != nil {
		return apperr.New(apperr.ConnectionError, "failed to start shell", err)
	}

	p := newProxy(opts, s.log)
	remoteDone, err := p.run(ctx, sess, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !remoteDone {
		return nil
	}

	if err := sess.Wait(); err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		if errors.As(err, &exitErr) {
			s.log.WithField("exit_status", exitErr.ExitStatus()).Debug("remote shell exited")
			return nil
		}
		if errors.As(err, &missing) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("session ended with error: %w", err)
	}
	return nil
}

type proxy struct {
	opts ProxyOptions
	log  log.FieldLogger

	filter *detect.EscapeFilter
	prompt *detect.PromptDetector

	// outMu is held while output is written, and by the writer for the whole
	// of a trigger handler so remote output does not paint over it.
	outMu sync.Mutex

	keys   chan []byte
	inject chan []byte
	quit   chan struct{}
}

func newProxy(opts ProxyOptions, logger log.FieldLogger) *proxy {
	filter := opts.Filter
	if filter == nil {
		filter = detect.NewEscapeFilter(nil, nil)
	}
	prompt := opts.Prompt
	if prompt == nil {
		prompt = detect.NewPromptDetector(false)
	}
	return &proxy{
		opts:   opts,
		log:    logger,
		filter: filter,
		prompt: prompt,
		keys:   make(chan []byte),
		inject: make(chan []byte, 1),
		quit:   make(chan struct{}),
	}
}

// run reports whether the remote side ended the session.
func (p *proxy) run(parent context.Context, sess *ssh.Session, stdin io.WriteCloser, stdout, stderr io.Reader) (bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer close(p.quit)

	go p.pumpStdin()

	var remoteDone bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := p.copyOutput(gctx, stdout)
		if err == nil && gctx.Err() == nil {
			remoteDone = true
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&lockedWriter{mu: &p.outMu, w: p.stderr()}, stderr)
		return err
	})
	g.Go(func() error {
		err := p.copyInput(gctx, stdin)
		if errors.Is(err, errStdinClosed) {
			cancel()
			return nil
		}
		return err
	})
	g.Go(func() error {
		return p.forwardResize(gctx, sess)
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Close()
		return nil
	})

	err := g.Wait()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)) {
		err = nil
	}
	return remoteDone, err
}

func (p *proxy) stdout() io.Writer {
	if p.opts.Stdout == nil {
		return io.Discard
	}
	return p.opts.Stdout
}

func (p *proxy) stderr() io.Writer {
	if p.opts.Stderr == nil {
		return p.stdout()
	}
	return p.opts.Stderr
}

// pumpStdin moves local keystrokes onto p.keys. It lives outside the task
// group because a blocked terminal read cannot be interrupted.
func (p *proxy) pumpStdin() {
	defer close(p.keys)
	if p.opts.Stdin == nil {
		<-p.quit
		return
	}

	buf := make([]byte, proxyBufSize)
	for {
		n, err := p.opts.Stdin.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case p.keys <- chunk:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// copyOutput writes remote stdout locally and watches it for password
// prompts. It returns nil when the remote side closes the stream.
func (p *proxy) copyOutput(ctx context.Context, stdout io.Reader) error {
	out := p.stdout()
	buf := make([]byte, proxyBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.outMu.Lock()
			_, werr := out.Write(chunk)
			p.outMu.Unlock()
			if werr != nil {
				return fmt.Errorf("write output: %w", werr)
			}

			if p.prompt.Feed(chunk) {
				p.prompt.Clear()
				if p.opts.OnPasswordPrompt != nil {
					if resp := p.opts.OnPasswordPrompt(); len(resp) > 0 {
						select {
						case p.inject <- resp:
						case <-ctx.Done():
							return nil
						}
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read output: %w", err)
		}
	}
}

// copyInput is the only writer to the remote stdin.
func (p *proxy) copyInput(ctx context.Context, stdin io.WriteCloser) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case b := <-p.inject:
			if _, err := stdin.Write(b); err != nil {
				return fmt.Errorf("write input: %w", err)
			}

		case chunk, ok := <-p.keys:
			if !ok {
				if held := p.filter.Flush(); len(held) > 0 {
					stdin.Write(held)
				}
				stdin.Close()
				return errStdinClosed
			}
			for _, ev := range p.filter.Write(chunk) {
				if ev.Trigger == detect.TriggerNone {
					if _, err := stdin.Write(ev.Pass); err != nil {
						return fmt.Errorf("write input: %w", err)
					}
					continue
				}
				resp, err := p.runTrigger(ctx, ev.Trigger)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					// The shell outlives a broken picker or prompt.
					p.log.WithError(err).WithField("trigger", ev.Trigger).Warn("trigger handler failed")
					continue
				}
				if len(resp) > 0 {
					if _, err := stdin.Write(resp); err != nil {
						return fmt.Errorf("write input: %w", err)
					}
				}
			}
		}
	}
}

func (p *proxy) runTrigger(ctx context.Context, trigger detect.Trigger) ([]byte, error) {
	if p.opts.OnTrigger == nil {
		return nil, nil
	}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	keys := &keyReader{keys: p.keys, stop: make(chan struct{})}
	defer keys.Close()
	return p.opts.OnTrigger(ctx, trigger, keys)
}

func (p *proxy) forwardResize(ctx context.Context, sess *ssh.Session) error {
	if p.opts.Resize == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ws, ok := <-p.opts.Resize:
			if !ok {
				return nil
			}
			if ws.Width <= 0 || ws.Height <= 0 {
				continue
			}
			if err := sess.WindowChange(ws.Height, ws.Width); err != nil && ctx.Err() == nil {
				return apperr.New(apperr.ConnectionError, "failed to update window size", err)
			}
		}
	}
}

// keyReader hands keystrokes to a trigger handler. Once closed it stops
// taking chunks so a handler's leftover reader goroutine cannot swallow
// input meant for the shell.
type keyReader struct {
	keys    <-chan []byte
	stop    chan struct{}
	once    sync.Once
	pending []byte
}

func (r *keyReader) Read(b []byte) (int, error) {
	if len(r.pending) == 0 {
		select {
		case <-r.stop:
			return 0, io.EOF
		default:
		}
		select {
		case <-r.stop:
			return 0, io.EOF
		case chunk, ok := <-r.keys:
			if !ok {
				return 0, io.EOF
			}
			r.pending = chunk
		}
	}
	n := copy(b, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *keyReader) Close() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
