// internal/ssh/terminal.go
package ssh

import (
	"fmt"
	"io"
	"os"
	"sync"

	mobyterm "github.com/moby/term"
	"golang.org/x/term"
)

// WindowSize is a terminal size in character cells.
type WindowSize struct {
	Width  int
	Height int
}

// DefaultWindowSize is used when the local terminal size is unknown.
var DefaultWindowSize = WindowSize{Width: 80, Height: 24}

// TerminalSize reads the size of the terminal behind fd.
func TerminalSize(fd uintptr) (WindowSize, error) {
	ws, err := mobyterm.GetWinsize(fd)
	if err != nil {
		return WindowSize{}, fmt.Errorf("failed to get terminal size: %w", err)
	}
	return WindowSize{Width: int(ws.Width), Height: int(ws.Height)}, nil
}

const (
	oscSetBackground   = "\x1b]11;%s\x07"
	oscResetBackground = "\x1b]111\x07"
)

// TerminalGuard puts the local terminal into raw mode and applies the
// bookmark's background color. Restore undoes both exactly once.
type TerminalGuard struct {
	in         *os.File
	out        io.Writer
	background string

	mu     sync.Mutex
	state  *term.State
	themed bool
	once   sync.Once
}

// NewTerminalGuard returns a guard for in. Raw mode is skipped when in is
// not a terminal. An invalid background is ignored.
func NewTerminalGuard(in *os.File, out io.Writer, background string) *TerminalGuard {
	if !validColor(background) {
		background = ""
	}
	return &TerminalGuard{in: in, out: out, background: background}
}

func (g *TerminalGuard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.in != nil && term.IsTerminal(int(g.in.Fd())) {
		state, err := term.MakeRaw(int(g.in.Fd()))
		if err != nil {
			return fmt.Errorf("failed to set raw terminal: %w", err)
		}
		g.state = state
	}

	if g.background != "" && g.out != nil {
		fmt.Fprintf(g.out, oscSetBackground, g.background)
		g.themed = true
	}
	return nil
}

// Restore is safe to call from defers on every exit path, including panics.
func (g *TerminalGuard) Restore() error {
	var err error
	g.once.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.themed {
			io.WriteString(g.out, oscResetBackground)
		}
		if g.state != nil {
			if rerr := term.Restore(int(g.in.Fd()), g.state); rerr != nil {
				err = fmt.Errorf("failed to restore terminal state: %w", rerr)
			}
		}
	})
	return err
}

// validColor accepts "#rrggbb".
func validColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
