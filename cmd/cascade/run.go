package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ksargent/cascade/internal/config"
	"github.com/ksargent/cascade/internal/gate"
	"github.com/ksargent/cascade/pkg/models"
)

var (
	runParallel bool
	runWatch    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tree to completion",
	Long: `Tick the gate repeatedly until the epic completes, the frontier
blocks, or the run halts.

Budget pauses compact automatically and continue; if a compaction frees
nothing the run stops with exit code 2. A blocked frontier ends the run
with exit code 3 so an operator can intervene; with --watch the command
instead waits for the persisted documents to change (e.g. 'cascade
reset') and resumes.

Exit codes:
  0  epic completed
  1  halted on an unrecoverable error
  2  paused on budget even after compaction
  3  blocked awaiting operator action`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Batch independent siblings up to max_concurrency")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "On a blocked frontier, wait for operator edits and resume")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := buildEngine(cfg, runParallel)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		outcome, err := eng.ctrl.RunAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("interrupted; state saved, re-run to resume")
				exitCode = exitHalted
				return nil
			}
			return err
		}

		flushReconciler(ctx, eng)

		switch outcome {
		case gate.OutcomeCompleted:
			fmt.Println("epic completed")
			return nil
		case gate.OutcomePaused:
			printPaused(eng)
			exitCode = exitPaused
			return nil
		case gate.OutcomeBlocked:
			printBlocked(eng)
			if !runWatch {
				fmt.Println("frontier blocked; inspect with 'cascade status', then 'cascade reset'")
				exitCode = exitBlocked
				return nil
			}
			if err := waitForEdit(ctx, eng); err != nil {
				exitCode = exitBlocked
				return nil
			}
			fmt.Println("state changed on disk, resuming")
		default:
			fmt.Printf("run %s\n", outcome)
			exitCode = exitHalted
			return nil
		}
	}
}

// waitForEdit blocks until the persisted documents change or the context
// is cancelled.
func waitForEdit(ctx context.Context, eng *engine) error {
	w, err := eng.store.Watch()
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Println("frontier blocked; watching for operator edits (ctrl-c to stop)")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.Changes:
		return nil
	}
}

// printBlocked lists the units holding up the frontier with enough
// detail to resume deterministically.
func printBlocked(eng *engine) {
	tree, err := eng.store.Load()
	if err != nil {
		return
	}
	tree.Walk(func(u *models.WorkUnit) bool {
		switch u.Status {
		case models.StatusBlocked:
			fmt.Printf("blocked: %s %q — %s (retries: %d)\n", u.Kind, u.Title, u.BlockerReason, u.RetryCount)
		case models.StatusFailed:
			fmt.Printf("failed: %s %q — %s (retries: %d)\n", u.Kind, u.Title, u.BlockerReason, u.RetryCount)
		}
		return true
	})
}

// printPaused names the unit the budget withheld so the operator knows
// where the run resumes.
func printPaused(eng *engine) {
	if id := eng.ctrl.ResumeAt(); id != "" {
		fmt.Printf("paused on budget before dispatching %s; raise budget.limit or lower budget.residual_percent\n", id)
		return
	}
	fmt.Println("paused on budget; raise budget.limit or lower budget.residual_percent")
}

// flushReconciler drains any debounced tracker syncs at the end of a run.
func flushReconciler(ctx context.Context, eng *engine) {
	if eng.rec == nil {
		return
	}
	tree, err := eng.store.Load()
	if err != nil {
		return
	}
	eng.rec.Flush(ctx, tree)
}
