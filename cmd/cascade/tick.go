package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ksargent/cascade/internal/config"
	"github.com/ksargent/cascade/internal/gate"
)

var tickParallel bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance the tree by one dispatch cycle",
	Long: `Run a single gate tick: roll up completed parents, dispatch the
eligible frontier, and persist the outcomes.

Useful for cron-driven or step-by-step operation. Exit codes:
  0  progressed, or epic completed
  1  halted on an unrecoverable error
  2  paused at the budget threshold (compacts on the next run)
  3  blocked awaiting operator action`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().BoolVar(&tickParallel, "parallel", false, "Batch independent siblings up to max_concurrency")
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := buildEngine(cfg, tickParallel)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := eng.ctrl.Tick(ctx)
	if err != nil {
		return err
	}
	flushReconciler(ctx, eng)

	fmt.Printf("tick: %s\n", outcome)
	switch outcome {
	case gate.OutcomeCompleted, gate.OutcomeProgressed:
	case gate.OutcomePaused:
		printPaused(eng)
		exitCode = exitPaused
	case gate.OutcomeBlocked:
		printBlocked(eng)
		exitCode = exitBlocked
	default:
		exitCode = exitHalted
	}
	return nil
}
