//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so the
// immediate group can be signaled together. Descendants that escape the
// group (double-forks) are covered by the proctree snapshot in Kill.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
