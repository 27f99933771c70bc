//go:build windows

package procgroup

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no process groups reachable through signals; only the direct child is killed.
func terminateGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(int) {}
