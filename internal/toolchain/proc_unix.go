//go:build !windows

package toolchain

import (
	"os/exec"
	"syscall"
)

// killProcessTree runs cmd in its own process group and makes context
// cancellation kill the whole group, so interpreters and the tools they spawn
// stop together.
func killProcessTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
