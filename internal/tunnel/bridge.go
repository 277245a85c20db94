// internal/tunnel/bridge.go
package tunnel

import (
	"io"
	"sync"
)

// closeWriter is satisfied by *net.TCPConn, ssh.Channel and the conns
// returned by ssh.Client.Dial.
type closeWriter interface {
	CloseWrite() error
}

// bridge copies between a and b until both directions finish, half-closing
// each side as its source ends. Both are closed on return.
func bridge(a, b io.ReadWriteCloser) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(a, b)
		halfClose(a)
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		halfClose(b)
	}()
	wg.Wait()
	a.Close()
	b.Close()
}

func halfClose(c io.ReadWriteCloser) {
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}
