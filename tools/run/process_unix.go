//go:build unix

package run

import (
	"os"
	"syscall"
)

// The command is started in its own session, so its pid is the process group.
func processGroupKill(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGINT)
}
