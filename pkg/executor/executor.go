package executor

import (
	"context"
	"io"
)

// Executor runs host commands for the hypervisor side of provisioning.
// Implementations decide where the command runs (this host, a remote host).
type Executor interface {
	Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (exitCode int, err error)
	Name() string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Error    error
}
