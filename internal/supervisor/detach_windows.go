//go:build windows

package supervisor

import "os/exec"

// setDetached is a no-op on Windows; DETACHED_PROCESS creation flags
// would be the equivalent but aren't required for Kait's single-host
// deployment target.
func setDetached(cmd *exec.Cmd) {}
