package exec

import (
	"bytes"
	"context"
	"os/exec"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// RunInput executes a command with input on stdin and returns combined
// stdout/stderr output.
func (r *ExecRunner) RunInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)
	return cmd.CombinedOutput()
}

// LookPath reports whether the named executable is available in PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
