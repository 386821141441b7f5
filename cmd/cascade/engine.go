package main

import (
	"fmt"

	"github.com/ksargent/cascade/internal/breaker"
	"github.com/ksargent/cascade/internal/budget"
	"github.com/ksargent/cascade/internal/config"
	"github.com/ksargent/cascade/internal/dispatch"
	"github.com/ksargent/cascade/internal/exec"
	"github.com/ksargent/cascade/internal/gate"
	"github.com/ksargent/cascade/internal/history"
	"github.com/ksargent/cascade/internal/reconcile"
	"github.com/ksargent/cascade/internal/retry"
	"github.com/ksargent/cascade/internal/store"
	"github.com/ksargent/cascade/internal/tracker"
)

// engine bundles the wired components behind run and tick.
type engine struct {
	ctrl  *gate.Controller
	store *store.Store
	rec   *reconcile.Reconciler
	hist  *history.DB
}

// Close releases the engine's resources.
func (e *engine) Close() {
	if e.hist != nil {
		e.hist.Close()
	}
}

// buildEngine wires the controller stack from configuration: store,
// budget guard, worker dispatcher, issue-tracker reconciler, and audit
// log. The tracker is optional; without one, ticks still run and only
// external sync is skipped.
func buildEngine(cfg *config.Config, parallel bool) (*engine, error) {
	st := store.New(stateDir)
	if !st.Exists() {
		return nil, fmt.Errorf("no tree found in %s (run 'cascade init' first)", stateDir)
	}

	if cfg.Worker.Command == "" {
		return nil, fmt.Errorf("no worker command configured (set worker.command or CASCADE_WORKER_COMMAND)")
	}

	logger, err := gate.NewDebugLogger(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	hist, err := history.Open(history.DBPath(stateDir))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	detailsDir, err := st.DetailsDir()
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("create details dir: %w", err)
	}

	runner := exec.NewRunner()
	worker := dispatch.NewExecWorker(runner, cfg.Worker.Command, cfg.Worker.Args)

	policy := retryPolicy(cfg)
	circuits := breaker.NewRegistry(breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		RecoveryTimeout:     cfg.Breaker.RecoveryTimeout(),
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
		SuccessThreshold:    cfg.Breaker.SuccessThreshold,
	})

	d := dispatch.New(worker, policy, circuits.Get("worker"), cfg.MaxConcurrency, cfg.Worker.Timeout(), detailsDir)

	guard := budget.NewGuard(cfg.Budget.Limit, cfg.Budget.CompactionThresholdPercent)
	guard.SetResidualPercent(cfg.Budget.ResidualPercent)

	var rec *reconcile.Reconciler
	if cfg.Tracker.Enabled {
		trk := tracker.NewGHTracker(runner, cfg.Tracker.Command, cfg.Tracker.Repo)
		rec = reconcile.New(trk, retryPolicy(cfg), circuits.Get("tracker"), st, hist, cfg.Reconcile.DebounceWindow())

		// Seed the diff baseline from the persisted tree; otherwise the
		// first tick's transitions would only prime the snapshot and
		// never reach the tracker.
		tree, err := st.Load()
		if err != nil {
			hist.Close()
			return nil, fmt.Errorf("load tree: %w", err)
		}
		rec.Prime(tree)
	}

	var notifier gate.Notifier
	if rec != nil {
		notifier = rec
	}
	ctrl := gate.NewController(st, guard, d, notifier, hist, cfg, parallel, logger)

	return &engine{ctrl: ctrl, store: st, rec: rec, hist: hist}, nil
}

// retryPolicy builds a fresh policy from config; dispatch and tracker
// each get their own so backoff state never crosses collaborators.
func retryPolicy(cfg *config.Config) *retry.Policy {
	return retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay(), cfg.Retry.MaxDelay(), cfg.Retry.Multiplier)
}
