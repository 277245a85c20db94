// internal/sshtest/server.go

// Package sshtest runs an in-process SSH server for tests. It supports
// password and public key auth, PTY shells, SFTP, direct-tcpip and
// tcpip-forward.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ShellFunc serves one shell channel. It should return when the channel is
// done; the server closes the channel afterwards.
type ShellFunc func(ch ssh.Channel)

type Options struct {
	User           string
	Password       string
	AuthorizedKeys []ssh.PublicKey
	// Shell defaults to EchoShell.
	Shell ShellFunc
	// ReassignPorts makes tcpip-forward bind a random port whatever was
	// asked for.
	ReassignPorts bool
	// IgnoreKeepAlive leaves keepalive requests unanswered, like a peer
	// that has stopped responding.
	IgnoreKeepAlive bool
}

// WindowChange is a window-change request seen by the server.
type WindowChange struct {
	Width  uint32
	Height uint32
}

type Server struct {
	opts     Options
	config   *ssh.ServerConfig
	listener net.Listener
	hostKey  ssh.Signer

	passwordAttempts atomic.Int32

	WindowChanges chan WindowChange

	mu    sync.Mutex
	conns []*ssh.ServerConn
	wg    sync.WaitGroup
}

func GenerateSigner(t testing.TB) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

// New starts a server on 127.0.0.1 and stops it when the test ends.
func New(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.User == "" {
		opts.User = "deploy"
	}
	if opts.Shell == nil {
		opts.Shell = EchoShell
	}

	s := &Server{
		opts:          opts,
		hostKey:       GenerateSigner(t),
		WindowChanges: make(chan WindowChange, 16),
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.passwordAttempts.Add(1)
			if opts.Password != "" && conn.User() == opts.User && string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			for _, k := range opts.AuthorizedKeys {
				if conn.User() == opts.User && ssh.FingerprintSHA256(k) == ssh.FingerprintSHA256(key) {
					return &ssh.Permissions{}, nil
				}
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	s.config.AddHostKey(s.hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(netConn)
			}()
		}
	}()

	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

func (s *Server) HostKey() ssh.PublicKey { return s.hostKey.PublicKey() }

func (s *Server) PasswordAttempts() int { return int(s.passwordAttempts.Load()) }

// DropConnections closes every live client connection without stopping the
// listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Conns returns the number of live client connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// OpenForwarded opens a forwarded-tcpip channel on the newest connection as
// if a client had connected to addr:port on the server.
func (s *Server) OpenForwarded(addr string, port uint32) (ssh.Channel, error) {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return nil, errors.New("no client connected")
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	payload := ssh.Marshal(&forwardedTCPPayload{Addr: addr, Port: port, OriginAddr: "127.0.0.1", OriginPort: 40000})
	ch, reqs, err := conn.OpenChannel("forwarded-tcpip", payload)
	if err != nil {
		return nil, err
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}

func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	s.mu.Lock()
	s.conns = append(s.conns, sshConn)
	s.mu.Unlock()
	defer s.forget(sshConn)

	fwd := &forwarder{conn: sshConn, reassign: s.opts.ReassignPorts, ignoreKeepAlive: s.opts.IgnoreKeepAlive, listeners: map[string]net.Listener{}}
	defer fwd.closeAll()
	go fwd.handleRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(ch, requests)
		case "direct-tcpip":
			go handleDirect(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func (s *Server) forget(c *ssh.ServerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cc := range s.conns {
		if cc == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env":
			req.Reply(true, nil)

		case "window-change":
			var msg struct {
				Width, Height, PixelWidth, PixelHeight uint32
			}
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				select {
				case s.WindowChanges <- WindowChange{Width: msg.Width, Height: msg.Height}:
				default:
				}
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			req.Reply(true, nil)
			go func() {
				s.opts.Shell(ch)
				ch.Close()
			}()

		case "subsystem":
			var msg struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					ch.Close()
					return
				}
				server.Serve()
				server.Close()
				ch.Close()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// SendExitStatus reports status to the client the way sshd does.
func SendExitStatus(ch ssh.Channel, status uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(&struct{ Status uint32 }{status}))
}

// EchoShell writes back everything it reads prefixed with "echo:". A line
// containing "exit" ends the shell with status 0.
func EchoShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			data := buf[:n]
			ch.Write([]byte("echo:"))
			ch.Write(data)
			if containsExit(data) {
				SendExitStatus(ch, 0)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func containsExit(b []byte) bool {
	for i := 0; i+4 <= len(b); i++ {
		if string(b[i:i+4]) == "exit" {
			return true
		}
	}
	return false
}

type directTCPIPPayload struct {
	DestAddr   string
	DestPort   uint32
	OriginAddr string
	OriginPort uint32
}

func handleDirect(newChan ssh.NewChannel) {
	var p directTCPIPPayload
	if err := ssh.Unmarshal(newChan.ExtraData(), &p); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "bad payload")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(p.DestAddr, strconv.Itoa(int(p.DestPort))))
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newChan.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	pipe(ch, target)
}

type channelForwardMsg struct {
	Addr  string
	Rport uint32
}

type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

type forwarder struct {
	conn            *ssh.ServerConn
	reassign        bool
	ignoreKeepAlive bool

	mu        sync.Mutex
	listeners map[string]net.Listener
}

func (f *forwarder) handleRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var msg channelForwardMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			port := msg.Rport
			if f.reassign {
				port = 0
			}
			l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
			if err != nil {
				req.Reply(false, nil)
				continue
			}
			bound := uint32(l.Addr().(*net.TCPAddr).Port)
			f.mu.Lock()
			f.listeners[forwardKey(msg.Addr, bound)] = l
			f.mu.Unlock()
			req.Reply(true, ssh.Marshal(&struct{ Port uint32 }{bound}))
			go f.accept(l, msg.Addr, bound)

		case "cancel-tcpip-forward":
			var msg channelForwardMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			f.mu.Lock()
			l, ok := f.listeners[forwardKey(msg.Addr, msg.Rport)]
			delete(f.listeners, forwardKey(msg.Addr, msg.Rport))
			f.mu.Unlock()
			if ok {
				l.Close()
			}
			req.Reply(ok, nil)

		case "keepalive@openssh.com":
			if f.ignoreKeepAlive {
				continue
			}
			if req.WantReply {
				req.Reply(false, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (f *forwarder) accept(l net.Listener, addr string, port uint32) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		go func() {
			origin := c.RemoteAddr().(*net.TCPAddr)
			payload := ssh.Marshal(&forwardedTCPPayload{
				Addr:       addr,
				Port:       port,
				OriginAddr: origin.IP.String(),
				OriginPort: uint32(origin.Port),
			})
			ch, reqs, err := f.conn.OpenChannel("forwarded-tcpip", payload)
			if err != nil {
				c.Close()
				return
			}
			go ssh.DiscardRequests(reqs)
			pipe(ch, c)
		}()
	}
}

func (f *forwarder) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, l := range f.listeners {
		l.Close()
		delete(f.listeners, k)
	}
}

func forwardKey(addr string, port uint32) string {
	return net.JoinHostPort(addr, strconv.Itoa(int(port)))
}

func pipe(ch ssh.Channel, c net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(ch, c)
		ch.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		io.Copy(c, ch)
		if tc, ok := c.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	wg.Wait()
	ch.Close()
	c.Close()
}

// EchoTCP starts a TCP server on 127.0.0.1 that echoes each connection and
// returns its port.
func EchoTCP(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}
