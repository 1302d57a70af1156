//go:build !windows

package command

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the command into a new process group so signals
// reach all of its children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

func shellSpec(line string) Spec {
	return Spec{Name: "/bin/sh", Args: []string{"-c", line}}
}
