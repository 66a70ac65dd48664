//go:build unix

package processutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// Interrupt asks a process to finish its output cleanly.
var Interrupt os.Signal = syscall.SIGINT

// SetGroup starts the command in its own process group so helper children
// are signalled together with it.
func SetGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal delivers sig to the command's process group. A process that has
// already exited is not an error.
func Signal(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return cmd.Process.Signal(sig)
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, s); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func killSignal() os.Signal { return syscall.SIGKILL }
