//go:build windows

package command

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// setProcessGroup creates a new process group so the whole tree is
// terminated when the context is canceled.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func shellSpec(line string) Spec {
	return Spec{Name: "cmd", Args: []string{"/C", line}}
}
