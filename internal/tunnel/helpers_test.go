package tunnel

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"sshmen/internal/hostkeys"
	"sshmen/internal/models"
	sshclient "sshmen/internal/ssh"
	"sshmen/internal/sshtest"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/ssh"
)

type trustAll struct{}

func (trustAll) Decide(*models.Host, hostkeys.Status, ssh.PublicKey) (bool, error) {
	return true, nil
}

func testLogger() (*log.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return logger, hook
}

func hostFor(srv *sshtest.Server) *models.Host {
	return &models.Host{
		Name:       "test",
		Login:      "deploy",
		IP:         srv.Host(),
		Port:       srv.Port(),
		PasswordID: models.NoPassword,
	}
}

func connectFunc(t *testing.T, password string, logger log.FieldLogger) ConnectFunc {
	opts := sshclient.ConnectOptions{
		HostKeys: hostkeys.NewStore(filepath.Join(t.TempDir(), "known_hosts"), false),
		Decider:  trustAll{},
		Password: password,
		KeyDir:   t.TempDir(),
		Timeout:  5 * time.Second,
		Logger:   logger,
	}
	return func(ctx context.Context, host *models.Host) (Transport, error) {
		sess, err := sshclient.Connect(ctx, host, opts)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

func dialSession(t *testing.T, srv *sshtest.Server) *sshclient.Session {
	t.Helper()
	logger, _ := testLogger()
	tr, err := connectFunc(t, "pw", logger)(context.Background(), hostFor(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sess := tr.(*sshclient.Session)
	t.Cleanup(func() { sess.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for srv.Conns() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return sess
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// roundTrip sends msg through conn and returns what comes back.
func roundTrip(conn io.ReadWriter, msg string) (string, error) {
	if _, err := conn.Write([]byte(msg)); err != nil {
		return "", err
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// echoThrough dials 127.0.0.1:port and reports whether an echo comes back.
func echoThrough(port int) func() string {
	return func() string {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
		if err != nil {
			return err.Error()
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		got, err := roundTrip(conn, "ping")
		if err != nil {
			return err.Error()
		}
		return got
	}
}
