// Package processutil holds helpers for the ffmpeg child processes.
package processutil

import (
	"os"
	"os/exec"
	"time"

	"go2tv.app/screenrec/internal/metrics"
)

// Terminate stops a command that was started with SetGroup. It sends sig,
// waits up to grace for waitCh, then kills the group and drains waitCh. The
// returned error is the one from waitCh. A nil sig skips straight to the
// grace wait, for callers that already asked the process to finish.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, sig os.Signal, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if sig != nil {
		report(sig, Signal(cmd, sig))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		metrics.IncProcessExit(exitKind(err, false))
		return err
	case <-timer.C:
	}

	report(killSignal(), Signal(cmd, killSignal()))
	err := <-waitCh
	metrics.IncProcessExit(exitKind(err, true))
	return err
}

func report(sig os.Signal, err error) {
	if err != nil {
		metrics.IncProcessSignal(sig.String(), "error")
		return
	}
	metrics.IncProcessSignal(sig.String(), "sent")
}

func exitKind(err error, forced bool) string {
	switch {
	case forced && err == nil:
		return "forced_exit0"
	case forced:
		return "forced_error"
	case err == nil:
		return "exit0"
	default:
		return "exit_nonzero"
	}
}
