//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDetached puts the spawned worker in its own session so it
// survives the Supervisor process exiting without an explicit Stop,
// and so a grace-period SIGTERM sent to its pid doesn't also land on
// the Supervisor itself.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
