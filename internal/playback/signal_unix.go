//go:build !windows

package playback

import (
	"fmt"
	"os/exec"
	"syscall"
)

func suspend(proc *exec.Cmd) error {
	if err := proc.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to pause player process: %w", err)
	}
	return nil
}

func resume(proc *exec.Cmd) error {
	if err := proc.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume player process: %w", err)
	}
	return nil
}
