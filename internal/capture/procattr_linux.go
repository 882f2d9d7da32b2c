//go:build linux

package capture

import (
	"os/exec"
	"syscall"
)

// setProcAttr asks the kernel to kill the encoder when its parent goes away.
// Pdeathsig follows the OS thread that forked the child, not the process, so
// it is only a best effort. SweepOrphans is what reaps grabbers left behind
// by a dead run.
func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
