//go:build !unix

package processutil

import (
	"errors"
	"os"
	"os/exec"
)

// Interrupt falls back to a hard kill where no interrupt can be delivered.
var Interrupt os.Signal = os.Kill

func SetGroup(*exec.Cmd) {}

func Signal(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func killSignal() os.Signal { return os.Kill }
