package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	sshclient "sshmen/internal/ssh"
	"sshmen/internal/sshtest"

	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

func TestRemoteForwardMap(t *testing.T) {
	g := NewWithT(t)
	m := NewRemoteForwardMap()

	m.Register("localhost", 9000, "127.0.0.1:80")
	target, ok := m.Lookup("localhost", 9000)
	g.Expect(ok).To(BeTrue())
	g.Expect(target).To(Equal("127.0.0.1:80"))

	_, ok = m.Lookup("0.0.0.0", 9000)
	g.Expect(ok).To(BeFalse())

	m.Remove("localhost", 9000)
	g.Expect(m.Len()).To(BeZero())
}

func startRouter(t *testing.T, srv *sshtest.Server, routes *RemoteForwardMap) {
	t.Helper()
	sess := dialSession(t, srv)
	logger, _ := testLogger()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewRouter(routes, logger).Serve(ctx, sess.HandleChannelOpen("forwarded-tcpip"))
}

func TestRouterDeliversToRegisteredTarget(t *testing.T) {
	g := NewWithT(t)
	srv := sshtest.New(t, sshtest.Options{Password: "pw"})
	echo := sshtest.EchoTCP(t)

	routes := NewRemoteForwardMap()
	routes.Register("localhost", 7000, net.JoinHostPort("127.0.0.1", strconv.Itoa(echo)))
	startRouter(t, srv, routes)

	ch, err := srv.OpenForwarded("localhost", 7000)
	g.Expect(err).NotTo(HaveOccurred())
	defer ch.Close()

	got, err := roundTrip(ch, "hello")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(Equal("hello"))
}

func TestRouterRejectsUnknownAddress(t *testing.T) {
	g := NewWithT(t)
	srv := sshtest.New(t, sshtest.Options{Password: "pw"})
	sess := dialSession(t, srv)
	logger, hook := testLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRouter(NewRemoteForwardMap(), logger).Serve(ctx, sess.HandleChannelOpen("forwarded-tcpip"))

	_, err := srv.OpenForwarded("localhost", 7001)
	var openErr *ssh.OpenChannelError
	g.Expect(errors.As(err, &openErr)).To(BeTrue())
	g.Expect(openErr.Reason).To(Equal(ssh.Prohibited))
	g.Expect(hook.LastEntry()).NotTo(BeNil())
	g.Expect(hook.LastEntry().Level).To(Equal(log.WarnLevel))

	// The session survives the rejection.
	g.Expect(sess.GetState()).To(Equal(sshclient.StateConnected))
}

func TestRouterClosesChannelWhenTargetIsDown(t *testing.T) {
	g := NewWithT(t)
	srv := sshtest.New(t, sshtest.Options{Password: "pw"})

	routes := NewRemoteForwardMap()
	routes.Register("localhost", 7002, net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t))))
	startRouter(t, srv, routes)

	ch, err := srv.OpenForwarded("localhost", 7002)
	g.Expect(err).NotTo(HaveOccurred())

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(ch)
		done <- err
	}()
	g.Eventually(done, 5*time.Second).Should(Receive(BeNil()))
}
