//go:build !windows

package ssh

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	. "github.com/onsi/gomega"
)

func TestTerminalSizeFromPty(t *testing.T) {
	g := NewWithT(t)
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer ptmx.Close()
	defer tty.Close()

	g.Expect(pty.Setsize(ptmx, &pty.Winsize{Rows: 30, Cols: 100})).To(Succeed())
	ws, err := TerminalSize(tty.Fd())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ws).To(Equal(WindowSize{Width: 100, Height: 30}))
}

func TestWatchResizeOnSigwinch(t *testing.T) {
	g := NewWithT(t)
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer ptmx.Close()
	defer tty.Close()
	g.Expect(pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	sizes := WatchResize(ctx, tty)
	time.Sleep(50 * time.Millisecond)

	g.Expect(pty.Setsize(ptmx, &pty.Winsize{Rows: 50, Cols: 160})).To(Succeed())
	g.Expect(syscall.Kill(syscall.Getpid(), syscall.SIGWINCH)).To(Succeed())
	g.Eventually(sizes, 2*time.Second).Should(Receive(Equal(WindowSize{Width: 160, Height: 50})))

	cancel()
	g.Eventually(sizes, 2*time.Second).Should(BeClosed())
}
