//go:build !linux

package capture

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}
