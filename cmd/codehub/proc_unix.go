//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProcess puts codehubd in its own process group so it
// outlives the shell that started it
func configureDaemonProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
