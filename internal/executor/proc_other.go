//go:build !unix

package executor

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func exitStatus(err *exec.ExitError) int {
	return err.ExitCode()
}
