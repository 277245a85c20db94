// internal/ssh/resize_windows.go

//go:build windows

package ssh

import (
	"context"
	"os"
	"time"
)

const resizePollInterval = 250 * time.Millisecond

// WatchResize polls the console size; Windows has no SIGWINCH.
func WatchResize(ctx context.Context, f *os.File) <-chan WindowSize {
	out := make(chan WindowSize, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(resizePollInterval)
		defer ticker.Stop()

		last, _ := TerminalSize(f.Fd())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
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
