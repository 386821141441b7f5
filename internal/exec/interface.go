// Package exec provides an interface for running external commands.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// Both the worker dispatch path and the issue-tracker client go through
// this abstraction so tests can substitute fakes.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	Run(ctx context.Context, name string, args ...string) (output []byte, err error)

	// RunInput executes a command with the given bytes on stdin and
	// returns combined stdout/stderr output.
	RunInput(ctx context.Context, input []byte, name string, args ...string) (output []byte, err error)
}

// ExitCoder is implemented by errors that carry a process exit code.
// os/exec.ExitError satisfies it.
type ExitCoder interface {
	ExitCode() int
}
