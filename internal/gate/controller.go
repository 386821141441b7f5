package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ksargent/cascade/internal/budget"
	"github.com/ksargent/cascade/internal/config"
	"github.com/ksargent/cascade/internal/dispatch"
	"github.com/ksargent/cascade/internal/history"
	"github.com/ksargent/cascade/internal/store"
	"github.com/ksargent/cascade/pkg/models"
)

// Outcome classifies what a tick accomplished.
type Outcome int

const (
	// OutcomeProgressed means at least one unit moved forward; tick again.
	OutcomeProgressed Outcome = iota
	// OutcomeCompleted means the root epic is completed.
	OutcomeCompleted
	// OutcomePaused means the budget threshold was reached; compact
	// before dispatching more work.
	OutcomePaused
	// OutcomeBlocked means the frontier is blocked awaiting operator action.
	OutcomeBlocked
	// OutcomeHalted means the frontier failed and the run cannot continue.
	OutcomeHalted
)

// String implements fmt.Stringer for log output.
func (o Outcome) String() string {
	switch o {
	case OutcomeProgressed:
		return "progressed"
	case OutcomeCompleted:
		return "completed"
	case OutcomePaused:
		return "paused"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeHalted:
		return "halted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Notifier receives the saved tree after each tick so status changes can
// be mirrored externally. Notification is fire-and-forget: it never
// affects gating.
type Notifier interface {
	Notify(ctx context.Context, tree *models.Tree)
}

// Controller drives the tree forward one frontier at a time.
//
// Each tick loads the tree, rolls completed children up into their
// parents, locates the single eligible frontier unit, optionally widens
// it into a batch of independent siblings, dispatches, and persists the
// outcomes. The hard gate holds throughout: a unit is never dispatched
// while an earlier sibling (or anything it depends on) is incomplete.
type Controller struct {
	store      *store.Store
	guard      *budget.Guard
	dispatcher *dispatch.Dispatcher
	notifier   Notifier
	// hist is the optional audit log for observed transitions.
	hist *history.DB
	cfg  *config.Config
	// parallel enables independence batching; sequential mode always
	// dispatches singletons.
	parallel bool
	// resumeAt is the frontier unit the last pause withheld, for
	// operator-facing pause output.
	resumeAt string

	// now is the clock, injectable for tests.
	now func() time.Time
	// mu serializes ticks; the store is not safe for concurrent writers.
	mu sync.Mutex
}

// NewController wires a Controller. notifier and hist may be nil.
// In parallel mode the guard's pause threshold is lowered to the
// configured parallel threshold.
func NewController(st *store.Store, guard *budget.Guard, d *dispatch.Dispatcher, notifier Notifier, hist *history.DB, cfg *config.Config, parallel bool, logger *DebugLogger) *Controller {
	if parallel {
		guard.SetThresholdPercent(cfg.Budget.ParallelThresholdPercent)
	}
	setPackageLogger(logger)
	return &Controller{
		store:      st,
		guard:      guard,
		dispatcher: d,
		notifier:   notifier,
		hist:       hist,
		cfg:        cfg,
		parallel:   parallel,
		now:        time.Now,
	}
}

// SetClock replaces the controller's time source (for tests).
func (c *Controller) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Tick advances the tree by one dispatch cycle.
func (c *Controller) Tick(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resumeAt = ""

	tree, err := c.store.Load()
	if err != nil {
		return OutcomeHalted, fmt.Errorf("load tree: %w", err)
	}
	before := tree.Clone()

	c.rollup(tree)

	if tree.Root().Status == models.StatusCompleted {
		return c.finishTick(ctx, tree, before, OutcomeCompleted)
	}

	frontier, reason := c.frontier(tree, tree.Root())
	if frontier == nil {
		debugLog("[tick] frontier blocked: %s", reason)
		return c.finishTick(ctx, tree, before, OutcomeBlocked)
	}

	if c.guard.OverThreshold() {
		usage := c.guard.Check()
		c.resumeAt = frontier.ID
		debugLog("[tick] budget at %.0f%%, pausing before %s", usage.Percent, frontier.ID)
		return c.finishTick(ctx, tree, before, OutcomePaused)
	}

	batch := c.independentBatch(tree, frontier)

	// Reserve budget per unit; trim the batch if headroom runs out.
	reserved := batch[:0]
	for _, u := range batch {
		if !c.guard.Reserve(c.cfg.Budget.UnitCost) {
			break
		}
		reserved = append(reserved, u)
	}
	if len(reserved) == 0 {
		c.resumeAt = frontier.ID
		debugLog("[tick] budget exhausted before dispatching %s", frontier.ID)
		return c.finishTick(ctx, tree, before, OutcomePaused)
	}
	batch = reserved

	startedAt := c.now()
	for _, u := range batch {
		u.Status = models.StatusInProgress
		if u.StartedAt == nil {
			ts := startedAt
			u.StartedAt = &ts
		}
	}
	// Persist in_progress before dispatching so an interrupted run can
	// be distinguished from one that never started.
	if err := c.store.Save(tree); err != nil {
		return OutcomeHalted, fmt.Errorf("save before dispatch: %w", err)
	}

	ids := make([]string, len(batch))
	for i, u := range batch {
		ids[i] = u.ID
	}
	debugLog("[tick] dispatching batch %v", ids)

	results := c.dispatcher.RunBatch(ctx, batch)
	c.applyResults(tree, batch, results)
	c.rollup(tree)

	outcome := c.tickOutcome(tree, batch)
	return c.finishTick(ctx, tree, before, outcome)
}

// finishTick persists the tree, records the observed transitions, and
// notifies the reconciler. Audit and notification failures are
// non-fatal.
func (c *Controller) finishTick(ctx context.Context, tree, before *models.Tree, outcome Outcome) (Outcome, error) {
	if err := c.store.Save(tree); err != nil {
		return OutcomeHalted, fmt.Errorf("save tree: %w", err)
	}

	if c.hist != nil {
		for _, ev := range store.Diff(before, tree) {
			if err := c.hist.RecordEvent(ev); err != nil {
				debugLog("[tick] record event %s/%s: %v", ev.Kind, ev.UnitID, err)
			}
		}
	}

	if c.notifier != nil {
		c.notifier.Notify(ctx, tree)
	}

	debugLog("[tick] outcome: %s", outcome)
	return outcome, nil
}

// RunAll ticks until the run reaches a terminal outcome. A paused tick
// compacts the budget and continues; a second pause with no progress in
// between means compaction freed nothing, and the pause is returned to
// the caller instead of spinning.
func (c *Controller) RunAll(ctx context.Context) (Outcome, error) {
	compacted := false
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeHalted, err
		}

		outcome, err := c.Tick(ctx)
		if err != nil {
			return outcome, err
		}

		switch outcome {
		case OutcomeProgressed:
			compacted = false
			continue
		case OutcomePaused:
			if compacted {
				return OutcomePaused, nil
			}
			c.guard.Compact()
			compacted = true
			usage := c.guard.Check()
			debugLog("[run] compacted budget to %.0f%%", usage.Percent)
			continue
		default:
			return outcome, nil
		}
	}
}

// ResumeAt returns the frontier unit the most recent pause withheld, or
// an empty string when the last tick did not pause.
func (c *Controller) ResumeAt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeAt
}

// rollup marks every unit whose children are all completed as completed
// itself, bottom-up, so frontier selection never lands on an exhausted
// parent.
func (c *Controller) rollup(tree *models.Tree) {
	c.rollupUnit(tree, tree.Root())
}

func (c *Controller) rollupUnit(tree *models.Tree, u *models.WorkUnit) {
	children := tree.Children(u)
	if len(children) == 0 {
		return
	}
	allDone := true
	for _, child := range children {
		c.rollupUnit(tree, child)
		if child.Status != models.StatusCompleted {
			allDone = false
		}
	}
	if allDone && u.Status != models.StatusCompleted {
		u.Status = models.StatusCompleted
		ts := c.now()
		u.CompletedAt = &ts
		debugLog("[rollup] %s completed (all %d children done)", u.ID, len(children))
	}
}

// frontier descends the tree to the single unit the gate allows next: at
// every level the first non-completed child, recursively, down to a
// childless unit. Returns nil with a reason when that unit cannot be
// dispatched without operator action.
func (c *Controller) frontier(tree *models.Tree, u *models.WorkUnit) (*models.WorkUnit, string) {
	switch u.Status {
	case models.StatusCompleted:
		return nil, ""
	case models.StatusBlocked:
		return nil, fmt.Sprintf("%s is blocked: %s", u.ID, u.BlockerReason)
	case models.StatusFailed:
		if u.RetryCount >= c.cfg.Retry.MaxAttempts {
			return nil, fmt.Sprintf("%s exhausted %d retries", u.ID, u.RetryCount)
		}
	}

	children := tree.Children(u)
	if len(children) == 0 {
		if dep, ok := c.unmetDependency(tree, u); !ok {
			return nil, fmt.Sprintf("%s waits on incomplete dependency %s", u.ID, dep)
		}
		return u, ""
	}

	blockedReason := ""
	for _, child := range children {
		if child.Status == models.StatusCompleted {
			continue
		}
		f, reason := c.frontier(tree, child)
		if f == nil && c.cfg.ContinueOnFailure {
			// Skip the blocked branch and keep the run moving.
			blockedReason = reason
			continue
		}
		return f, reason
	}
	if blockedReason != "" {
		return nil, blockedReason
	}
	// All children completed; rollup runs before frontier selection, so
	// this only happens on an inconsistent tree.
	return nil, fmt.Sprintf("%s has completed children but is %s", u.ID, u.Status)
}

// unmetDependency reports whether all of u's dependencies are completed,
// returning the first incomplete one otherwise.
func (c *Controller) unmetDependency(tree *models.Tree, u *models.WorkUnit) (string, bool) {
	for _, dep := range u.DependsOn {
		d := tree.Get(dep)
		if d == nil || d.Status != models.StatusCompleted {
			return dep, false
		}
	}
	return "", true
}

// independentBatch widens the frontier into a batch of independent
// later siblings, bounded by max concurrency. Sequential mode always
// returns the singleton frontier.
//
// A sibling joins only when it is dispatchable now, declares no
// unfinished dependencies, and touches no file any batch member touches.
func (c *Controller) independentBatch(tree *models.Tree, frontier *models.WorkUnit) []*models.WorkUnit {
	batch := []*models.WorkUnit{frontier}
	if !c.parallel || c.cfg.MaxConcurrency <= 1 {
		return batch
	}

	parent := c.parentOf(tree, frontier)
	if parent == nil {
		return batch
	}

	touched := make(map[string]bool)
	for _, f := range frontier.FilesTouched {
		touched[f] = true
	}

	siblings := tree.Children(parent)
	past := false
	for _, sib := range siblings {
		if sib.ID == frontier.ID {
			past = true
			continue
		}
		if !past || sib.Status == models.StatusCompleted {
			continue
		}
		skip := len(batch) >= c.cfg.MaxConcurrency || !c.batchable(tree, sib)
		if !skip && sib.TouchesAny(touched) {
			debugLog("[batch] %s overlaps files with an earlier pending sibling, deferred", sib.ID)
			skip = true
		}
		if skip {
			// A skipped pending sibling still owns its files: nothing
			// after it may jump ahead on the same files.
			for _, f := range sib.FilesTouched {
				touched[f] = true
			}
			continue
		}
		batch = append(batch, sib)
		for _, f := range sib.FilesTouched {
			touched[f] = true
		}
	}

	return batch
}

// batchable reports whether a later sibling may run alongside the
// frontier: childless, never started or retryable, dependencies met.
func (c *Controller) batchable(tree *models.Tree, u *models.WorkUnit) bool {
	if !u.IsLeaf() {
		return false
	}
	switch u.Status {
	case models.StatusNotStarted, models.StatusInProgress:
	case models.StatusFailed:
		if u.RetryCount >= c.cfg.Retry.MaxAttempts {
			return false
		}
	default:
		return false
	}
	_, ok := c.unmetDependency(tree, u)
	return ok
}

// parentOf finds the unit whose Children list contains u.
func (c *Controller) parentOf(tree *models.Tree, u *models.WorkUnit) *models.WorkUnit {
	var parent *models.WorkUnit
	tree.Walk(func(candidate *models.WorkUnit) bool {
		for _, id := range candidate.Children {
			if id == u.ID {
				parent = candidate
				return false
			}
		}
		return true
	})
	return parent
}

// applyResults writes dispatch outcomes back onto the tree. A failed
// dispatch consumes one gate-level retry; once retries are exhausted the
// unit converts to blocked so the frontier surfaces it to the operator.
func (c *Controller) applyResults(tree *models.Tree, batch []*models.WorkUnit, results map[string]*models.Result) {
	completedAt := c.now()
	for _, u := range batch {
		res := results[u.ID]
		if res == nil {
			res = &models.Result{Summary: "no result returned"}
		}

		switch {
		case res.OK:
			u.Status = models.StatusCompleted
			ts := completedAt
			u.CompletedAt = &ts
			u.BlockerReason = ""
			debugLog("[apply] %s completed after %d attempt(s)", u.ID, res.Attempts)

		case res.Blocked:
			u.Status = models.StatusBlocked
			u.BlockerReason = res.Summary
			debugLog("[apply] %s blocked: %s", u.ID, res.Summary)

		default:
			u.RetryCount++
			if u.RetryCount >= c.cfg.Retry.MaxAttempts {
				u.Status = models.StatusBlocked
				u.BlockerReason = fmt.Sprintf("failed %d times, last: %s", u.RetryCount, res.Summary)
				debugLog("[apply] %s exhausted retries, converting to blocked", u.ID)
			} else {
				u.Status = models.StatusFailed
				u.BlockerReason = res.Summary
				debugLog("[apply] %s failed (retry %d of %d): %s", u.ID, u.RetryCount, c.cfg.Retry.MaxAttempts, res.Summary)
			}
		}
	}
}

// tickOutcome classifies the tick from the batch's final statuses.
func (c *Controller) tickOutcome(tree *models.Tree, batch []*models.WorkUnit) Outcome {
	if tree.Root().Status == models.StatusCompleted {
		return OutcomeCompleted
	}

	var completed, blocked, failed int
	for _, u := range batch {
		switch u.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusBlocked:
			blocked++
		case models.StatusFailed:
			failed++
		}
	}

	switch {
	case completed > 0:
		return OutcomeProgressed
	case failed > 0:
		// Retries remain; the next tick re-dispatches the frontier.
		return OutcomeProgressed
	case blocked > 0:
		return OutcomeBlocked
	default:
		return OutcomeHalted
	}
}
