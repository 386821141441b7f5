// Package dispatch fans batches of independent work units out to the
// worker capability and fans the results back in.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksargent/cascade/internal/exec"
	"github.com/ksargent/cascade/internal/retry"
	"github.com/ksargent/cascade/pkg/models"
)

// Worker is the opaque capability that performs a unit's work. Anything
// satisfying this contract can be dispatched to; the engine never looks
// inside.
type Worker interface {
	// Execute performs the unit's work and reports the outcome. Errors
	// represent execution problems (and are retried when transient);
	// a Result with OK=false is a definitive negative outcome.
	Execute(ctx context.Context, unit *models.WorkUnit) (*models.Result, error)
}

// Exit codes the external worker command uses to classify its outcome.
const (
	// exitBlocked signals a missing precondition; never retried.
	exitBlocked = 3
	// exitTempFail signals a transient failure, eligible for retry.
	// Mirrors EX_TEMPFAIL from sysexits.
	exitTempFail = 75
)

// ExecWorker dispatches a unit by running a configured external command
// with the unit document on stdin. Exit code 0 is success, 3 is blocked,
// 75 is a transient failure; anything else is an execution failure
// (also treated as transient so the retry policy gets a shot at it).
type ExecWorker struct {
	runner  exec.CommandRunner
	command string
	args    []string
}

// NewExecWorker creates an ExecWorker running the given command.
func NewExecWorker(runner exec.CommandRunner, command string, args []string) *ExecWorker {
	return &ExecWorker{
		runner:  runner,
		command: command,
		args:    args,
	}
}

// Execute runs the worker command for the unit.
func (w *ExecWorker) Execute(ctx context.Context, unit *models.WorkUnit) (*models.Result, error) {
	if w.command == "" {
		return nil, fmt.Errorf("no worker command configured")
	}

	doc, err := json.Marshal(unit)
	if err != nil {
		return nil, fmt.Errorf("marshal unit %s: %w", unit.ID, err)
	}

	args := append(append([]string(nil), w.args...), unit.ID)
	output, err := w.runner.RunInput(ctx, doc, w.command, args...)
	summary := strings.TrimSpace(string(output))

	if err == nil {
		return &models.Result{OK: true, Summary: summary}, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, retry.Transient(fmt.Errorf("worker timed out on %s: %w", unit.ID, ctx.Err()))
	}

	var coder exec.ExitCoder
	if errors.As(err, &coder) {
		switch coder.ExitCode() {
		case exitBlocked:
			return &models.Result{Blocked: true, Summary: summary}, nil
		case exitTempFail:
			return nil, retry.Transient(fmt.Errorf("worker transient failure on %s: %s", unit.ID, summary))
		}
	}
	return nil, retry.Transient(fmt.Errorf("worker failed on %s: %w: %s", unit.ID, err, summary))
}

// detailFileName names an externalized output file for a unit.
func detailFileName(unitID string, now time.Time) string {
	return fmt.Sprintf("%s-%s.log", unitID, now.UTC().Format("20060102T150405"))
}

// Verify ExecWorker implements Worker at compile time.
var _ Worker = (*ExecWorker)(nil)
