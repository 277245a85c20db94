// internal/ssh/resize_unix.go

//go:build !windows

package ssh

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchResize emits the size of the terminal behind f whenever it changes.
// The channel is closed when ctx is done.
func WatchResize(ctx context.Context, f *os.File) <-chan WindowSize {
	out := make(chan WindowSize, 1)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)

	go func() {
		defer close(out)
		defer signal.Stop(sigChan)

		last, _ := TerminalSize(f.Fd())
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				ws, err := TerminalSize(f.Fd())
				if err != nil || ws == last {
					continue
				}
				last = ws
				select {
				case out <- ws:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
