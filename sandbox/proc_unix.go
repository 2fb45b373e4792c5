//go:build unix

package sandbox

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the analyzer and everything it spawns into a fresh group
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// groupAlive probes the group with signal 0
func groupAlive(pgid int) bool {
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminateGroup(pgid int) error {
	return signalGroup(pgid, unix.SIGTERM)
}

func killGroup(pgid int) error {
	return signalGroup(pgid, unix.SIGKILL)
}

// signalGroup treats ESRCH as success: the group already exited.
func signalGroup(pgid int, sig syscall.Signal) error {
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
