//go:build !windows

package tunnel

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestManagerStopSignalsOwningProcess(t *testing.T) {
	g := NewWithT(t)
	cmd := exec.Command("sleep", "30")
	g.Expect(cmd.Start()).To(Succeed())
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	t.Cleanup(func() { cmd.Process.Kill() })

	logger, _ := testLogger()
	store := NewStateStore(filepath.Join(t.TempDir(), "tunnels.json"), nil)
	g.Expect(store.Register(Entry{Bookmark: "web", PID: cmd.Process.Pid, Status: StatusConnected})).To(Succeed())

	m := NewManager(nil, store, ManagerOptions{Logger: logger})
	g.Expect(m.Stop("web")).To(Succeed())

	var err error
	g.Eventually(exited, 5*time.Second).Should(Receive(&err))
	g.Expect(err).To(MatchError(ContainSubstring("terminated")))
}
