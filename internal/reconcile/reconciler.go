// Package reconcile mirrors work-unit status transitions to an external
// issue tracker.
//
// The reconciler diffs successive tree snapshots, coalesces rapid
// changes to the same external item inside a debounce window, and posts
// the latest state through retry- and breaker-wrapped tracker calls.
// Sync failures never affect scheduling: the gate keeps ticking while
// the tracker is down, and outcomes land in non-gating sync metadata.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ksargent/cascade/internal/breaker"
	"github.com/ksargent/cascade/internal/history"
	"github.com/ksargent/cascade/internal/retry"
	"github.com/ksargent/cascade/internal/store"
	"github.com/ksargent/cascade/internal/tracker"
	"github.com/ksargent/cascade/pkg/models"
)

// blockedLabel is attached to an external item while its unit is blocked.
const blockedLabel = "blocked"

// Sync status values recorded in unit metadata and the audit log.
const (
	SyncOK          = "ok"
	SyncPending     = "pending"
	SyncFailed      = "failed"
	SyncCircuitOpen = "circuit_open"
)

// pendingSync is a coalesced change awaiting its debounce window.
type pendingSync struct {
	event models.ChangeEvent
	// unit is a snapshot of the unit at the latest change.
	unit *models.WorkUnit
}

// Saver persists sync metadata back through the state store.
type Saver interface {
	Save(tree *models.Tree) error
}

// Reconciler synchronizes tree transitions to the issue tracker.
type Reconciler struct {
	trk    tracker.IssueTracker
	policy *retry.Policy
	brk    *breaker.Breaker
	saver  Saver
	// hist is the optional audit log.
	hist *history.DB
	// debounce is the coalescing window per external item.
	debounce time.Duration

	// prev is the snapshot cached from the last Notify.
	prev *models.Tree
	// lastAttempt tracks the last sync attempt per external ref.
	lastAttempt map[string]time.Time
	// pending holds coalesced changes per external ref.
	pending map[string]*pendingSync
	// labeled tracks refs currently carrying the blocked label.
	labeled map[string]bool

	// now is the clock, injectable for tests.
	now func() time.Time
	mu  sync.Mutex
}

// New creates a Reconciler. saver and hist may be nil; sync metadata and
// audit records are then skipped.
func New(trk tracker.IssueTracker, policy *retry.Policy, brk *breaker.Breaker, saver Saver, hist *history.DB, debounce time.Duration) *Reconciler {
	return &Reconciler{
		trk:         trk,
		policy:      policy,
		brk:         brk,
		saver:       saver,
		hist:        hist,
		debounce:    debounce,
		lastAttempt: make(map[string]time.Time),
		pending:     make(map[string]*pendingSync),
		labeled:     make(map[string]bool),
		now:         time.Now,
	}
}

// SetClock replaces the reconciler's time source (for tests).
func (r *Reconciler) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now != nil {
		r.now = now
	}
}

// CircuitState reports the tracker circuit's current state for status output.
func (r *Reconciler) CircuitState() breaker.State {
	return r.brk.State()
}

// Prime seeds the baseline snapshot from the persisted tree so the very
// first Notify already has something to diff against. Without priming,
// the first Notify only records a baseline and its transitions are lost.
func (r *Reconciler) Prime(tree *models.Tree) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prev = tree.Clone()
}

// Notify diffs the tree against the previous snapshot and syncs the
// resulting changes, debounced per external item. An unprimed
// reconciler treats its first call as the baseline: pre-existing state
// is not re-announced.
// Notify never mutates gating fields; it writes sync metadata only.
func (r *Reconciler) Notify(ctx context.Context, tree *models.Tree) {
	r.mu.Lock()
	prev := r.prev
	r.prev = tree.Clone()
	r.mu.Unlock()

	if prev == nil {
		return
	}

	for _, ev := range store.Diff(prev, tree) {
		unit := tree.Get(ev.UnitID)
		if unit == nil || unit.ExternalRef == "" {
			continue
		}
		r.enqueue(ev, unit)
	}

	r.flush(ctx, tree, false)
}

// Flush forces all pending syncs out regardless of the debounce window.
// Called when a run finishes so coalesced changes are not stranded.
func (r *Reconciler) Flush(ctx context.Context, tree *models.Tree) {
	r.flush(ctx, tree, true)
}

// enqueue coalesces an event into the per-ref pending slot; the latest
// state wins.
func (r *Reconciler) enqueue(ev models.ChangeEvent, unit *models.WorkUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[unit.ExternalRef] = &pendingSync{event: ev, unit: unit.Clone()}
}

// flush syncs every pending ref whose debounce window has elapsed (or
// all of them when force is set), then persists sync metadata.
func (r *Reconciler) flush(ctx context.Context, tree *models.Tree, force bool) {
	r.mu.Lock()
	due := make(map[string]*pendingSync)
	nowTime := r.now()
	for ref, ps := range r.pending {
		last, seen := r.lastAttempt[ref]
		if force || !seen || nowTime.Sub(last) >= r.debounce {
			due[ref] = ps
			delete(r.pending, ref)
			r.lastAttempt[ref] = nowTime
		}
	}
	r.mu.Unlock()

	if len(due) == 0 {
		return
	}

	changed := false
	for ref, ps := range due {
		status, err := r.sync(ctx, ref, ps)
		r.record(ps, status, err)
		if live := tree.Get(ps.unit.ID); live != nil {
			meta := &models.SyncMeta{Status: status}
			if err != nil {
				meta.Error = err.Error()
			} else {
				ts := nowTime
				meta.LastSyncedAt = &ts
			}
			live.Sync = meta
			changed = true
		}
	}

	if changed && r.saver != nil {
		// Metadata persistence is best effort; the next tick's save will
		// carry it if this one fails.
		_ = r.saver.Save(tree)
	}
}

// sync performs the single coalesced tracker call for a ref and returns
// the resulting sync status.
func (r *Reconciler) sync(ctx context.Context, ref string, ps *pendingSync) (string, error) {
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		return r.brk.Execute(ctx, func(ctx context.Context) error {
			return r.apply(ctx, ref, ps)
		})
	})
	switch {
	case err == nil:
		return SyncOK, nil
	case errors.Is(err, breaker.ErrCircuitOpen):
		return SyncCircuitOpen, err
	default:
		return SyncFailed, err
	}
}

// apply issues the tracker calls for the coalesced event.
func (r *Reconciler) apply(ctx context.Context, ref string, ps *pendingSync) error {
	text := commentText(ps)

	switch {
	case ps.event.Kind.ClosesExternalItem():
		if r.wasLabeled(ref) {
			if err := r.trk.RemoveLabel(ctx, ref, blockedLabel); err != nil {
				return err
			}
			r.setLabeled(ref, false)
		}
		return r.trk.CloseItem(ctx, ref, text)

	case ps.event.Kind == models.EventBlocked:
		if err := r.trk.AddLabel(ctx, ref, blockedLabel); err != nil {
			return err
		}
		r.setLabeled(ref, true)
		return r.trk.CreateComment(ctx, ref, text)

	default:
		if ps.event.Kind == models.EventTaskCompleted || ps.event.Kind == models.EventPhaseCompleted {
			if r.wasLabeled(ref) {
				if err := r.trk.RemoveLabel(ctx, ref, blockedLabel); err != nil {
					return err
				}
				r.setLabeled(ref, false)
			}
		}
		return r.trk.CreateComment(ctx, ref, text)
	}
}

func (r *Reconciler) wasLabeled(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labeled[ref]
}

func (r *Reconciler) setLabeled(ref string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labeled[ref] = v
}

// record writes the sync attempt to the audit log, if one is attached.
func (r *Reconciler) record(ps *pendingSync, status string, err error) {
	if r.hist == nil {
		return
	}
	rec := history.SyncRecord{
		UnitID:      ps.unit.ID,
		ExternalRef: ps.unit.ExternalRef,
		Action:      string(ps.event.Kind),
		Status:      status,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	_ = r.hist.RecordSync(rec)
}

// commentText renders the progress comment for a coalesced event.
func commentText(ps *pendingSync) string {
	switch ps.event.Kind {
	case models.EventBlocked:
		reason := ps.unit.BlockerReason
		if reason == "" {
			reason = "no reason recorded"
		}
		return fmt.Sprintf("%s %q is blocked: %s", ps.unit.Kind, ps.unit.Title, reason)
	case models.EventFailed:
		return fmt.Sprintf("%s %q failed (attempt %d)", ps.unit.Kind, ps.unit.Title, ps.unit.RetryCount+1)
	default:
		return fmt.Sprintf("%s %q completed", ps.unit.Kind, ps.unit.Title)
	}
}
