//go:build unix

package processutil

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/internal/metrics"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command("sh", "-c", script)
	SetGroup(cmd)
	require.NoError(t, cmd.Start())
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestTerminate_GracefulSignal(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 30")

	before := testutil.ToFloat64(metrics.ProcessExits.WithLabelValues("exit_nonzero"))
	err := Terminate(cmd, waitCh, syscall.SIGTERM, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProcessExits.WithLabelValues("exit_nonzero")))
}

func TestTerminate_KillsAfterGrace(t *testing.T) {
	cmd, waitCh := startGroup(t, `trap "" TERM; sleep 30`)
	time.Sleep(100 * time.Millisecond)

	before := testutil.ToFloat64(metrics.ProcessExits.WithLabelValues("forced_error"))
	start := time.Now()
	err := Terminate(cmd, waitCh, syscall.SIGTERM, 200*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProcessExits.WithLabelValues("forced_error")))
}

func TestTerminate_AlreadyExited(t *testing.T) {
	cmd, waitCh := startGroup(t, "exit 0")
	time.Sleep(100 * time.Millisecond)

	assert.NoError(t, Terminate(cmd, waitCh, nil, time.Second))
}

func TestTerminate_NilCommand(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, syscall.SIGTERM, time.Second))
	assert.NoError(t, Signal(&exec.Cmd{}, syscall.SIGTERM))
}
