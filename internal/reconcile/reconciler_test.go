package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ksargent/cascade/internal/breaker"
	"github.com/ksargent/cascade/internal/retry"
	"github.com/ksargent/cascade/pkg/models"
)

// call records one tracker invocation for assertion.
type call struct {
	method string
	itemID string
	arg    string
}

// fakeTracker records calls and fails on demand.
type fakeTracker struct {
	mu    sync.Mutex
	calls []call
	// failAll makes every call return a transient error.
	failAll bool
}

func (f *fakeTracker) record(method, itemID, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return retry.Transient(errors.New("tracker unreachable"))
	}
	f.calls = append(f.calls, call{method, itemID, arg})
	return nil
}

func (f *fakeTracker) CreateComment(_ context.Context, itemID, body string) error {
	return f.record("comment", itemID, body)
}

func (f *fakeTracker) CloseItem(_ context.Context, itemID, comment string) error {
	return f.record("close", itemID, comment)
}

func (f *fakeTracker) AddLabel(_ context.Context, itemID, label string) error {
	return f.record("add_label", itemID, label)
}

func (f *fakeTracker) RemoveLabel(_ context.Context, itemID, label string) error {
	return f.record("remove_label", itemID, label)
}

func (f *fakeTracker) callsFor(itemID string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.itemID == itemID {
			out = append(out, c)
		}
	}
	return out
}

func testReconciler(t *testing.T, trk *fakeTracker, debounce time.Duration) (*Reconciler, *fakeClock) {
	t.Helper()
	policy := retry.NewPolicy(0, time.Millisecond, time.Millisecond, 1)
	brk := breaker.New(breaker.DefaultConfig())
	r := New(trk, policy, brk, nil, nil, debounce)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r.SetClock(clock.Now)
	return r, clock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// twoPlanTree builds epic -> roadmap -> [plan1, plan2], plans leaf and
// externally tracked.
func twoPlanTree(t *testing.T) (*models.Tree, *models.WorkUnit, *models.WorkUnit) {
	t.Helper()
	epic := models.NewUnit(models.KindEpic, "epic")
	tree := models.NewTree(epic)
	rm := models.NewUnit(models.KindRoadmap, "roadmap")
	if err := tree.Add(epic.ID, rm); err != nil {
		t.Fatal(err)
	}
	p1 := models.NewUnit(models.KindPlan, "plan one")
	p1.ExternalRef = "101"
	p2 := models.NewUnit(models.KindPlan, "plan two")
	p2.ExternalRef = "102"
	for _, p := range []*models.WorkUnit{p1, p2} {
		if err := tree.Add(rm.ID, p); err != nil {
			t.Fatal(err)
		}
	}
	return tree, p1, p2
}

func complete(u *models.WorkUnit, at time.Time) {
	u.Status = models.StatusCompleted
	u.CompletedAt = &at
}

func TestNotify_FirstCallPrimesSnapshotOnly(t *testing.T) {
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, 0)
	tree, p1, _ := twoPlanTree(t)
	complete(p1, clock.Now())

	r.Notify(context.Background(), tree)

	if len(trk.calls) != 0 {
		t.Fatalf("first Notify issued %d tracker calls, want 0", len(trk.calls))
	}
}

func TestPrime_FirstNotifySyncsTransitions(t *testing.T) {
	// A process performing a single tick notifies exactly once; priming
	// from the persisted tree must make that one notification count.
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, 0)
	tree, p1, _ := twoPlanTree(t)

	r.Prime(tree.Clone())
	complete(p1, clock.Now())
	r.Notify(context.Background(), tree)

	got := trk.callsFor("101")
	if len(got) != 1 || got[0].method != "close" {
		t.Fatalf("ref 101: calls = %v, want exactly one close after primed Notify", got)
	}
}

func TestNotify_ClosesCompletedPlans(t *testing.T) {
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, 0)
	tree, p1, p2 := twoPlanTree(t)

	r.Notify(context.Background(), tree)

	complete(p1, clock.Now())
	complete(p2, clock.Now())
	r.Notify(context.Background(), tree)

	for _, ref := range []string{"101", "102"} {
		got := trk.callsFor(ref)
		if len(got) != 1 || got[0].method != "close" {
			t.Fatalf("ref %s: calls = %v, want exactly one close", ref, got)
		}
	}
}

func TestNotify_CoalescesWithinDebounceWindow(t *testing.T) {
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, 10*time.Second)
	tree, p1, _ := twoPlanTree(t)

	r.Notify(context.Background(), tree)

	// First change syncs immediately (no prior attempt for the ref).
	p1.Status = models.StatusInProgress
	p1.Status = models.StatusBlocked
	p1.BlockerReason = "missing credentials"
	r.Notify(context.Background(), tree)

	if got := trk.callsFor("101"); len(got) != 2 {
		// add_label + comment is one sync.
		t.Fatalf("initial sync calls = %v, want label+comment", got)
	}

	// Two rapid follow-up transitions inside the window coalesce: no new
	// tracker traffic until the window elapses.
	p1.Status = models.StatusInProgress
	p1.BlockerReason = ""
	r.Notify(context.Background(), tree)
	complete(p1, clock.Now())
	r.Notify(context.Background(), tree)

	if got := trk.callsFor("101"); len(got) != 2 {
		t.Fatalf("calls within window = %d, want 2 (coalesced)", len(got))
	}

	// After the window the latest state syncs once: plan completed closes
	// the item (removing the stale blocked label first).
	clock.Advance(11 * time.Second)
	r.Notify(context.Background(), tree)

	got := trk.callsFor("101")
	if len(got) != 4 {
		t.Fatalf("calls after window = %v, want remove_label+close appended", got)
	}
	if got[2].method != "remove_label" || got[3].method != "close" {
		t.Fatalf("coalesced sync = [%s %s], want [remove_label close]", got[2].method, got[3].method)
	}
}

func TestFlush_DrainsPendingImmediately(t *testing.T) {
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, time.Hour)
	tree, p1, _ := twoPlanTree(t)

	r.Notify(context.Background(), tree)
	p1.Status = models.StatusFailed
	r.Notify(context.Background(), tree) // first sync for the ref goes out

	// A second change lands inside the hour-long window and stays pending.
	p1.Status = models.StatusInProgress
	r.Notify(context.Background(), tree)
	complete(p1, clock.Now())
	r.Notify(context.Background(), tree)
	if got := trk.callsFor("101"); len(got) != 1 {
		t.Fatalf("pre-flush calls = %v, want 1", got)
	}

	r.Flush(context.Background(), tree)

	got := trk.callsFor("101")
	if len(got) != 2 || got[1].method != "close" {
		t.Fatalf("post-flush calls = %v, want close appended", got)
	}
}

func TestNotify_BlockedAddsLabelAndComment(t *testing.T) {
	trk := &fakeTracker{}
	r, _ := testReconciler(t, trk, 0)
	tree, p1, _ := twoPlanTree(t)

	r.Notify(context.Background(), tree)
	p1.Status = models.StatusBlocked
	p1.BlockerReason = "api quota exhausted"
	r.Notify(context.Background(), tree)

	got := trk.callsFor("101")
	if len(got) != 2 || got[0].method != "add_label" || got[1].method != "comment" {
		t.Fatalf("blocked sync calls = %v, want add_label then comment", got)
	}
	if got[0].arg != "blocked" {
		t.Fatalf("label = %q, want blocked", got[0].arg)
	}
	want := fmt.Sprintf("plan %q is blocked: api quota exhausted", p1.Title)
	if got[1].arg != want {
		t.Fatalf("comment = %q, want %q", got[1].arg, want)
	}
}

func TestNotify_CircuitOpenRecordsStatusWithoutGating(t *testing.T) {
	trk := &fakeTracker{failAll: true}
	r, _ := testReconciler(t, trk, 0)
	// One failure opens the circuit immediately.
	r.brk = breaker.New(breaker.Config{
		FailureThreshold:    1,
		RecoveryTimeout:     time.Minute,
		HalfOpenMaxAttempts: 1,
		SuccessThreshold:    1,
	})
	tree, p1, p2 := twoPlanTree(t)

	r.Notify(context.Background(), tree)
	now := time.Now()
	complete(p1, now)
	complete(p2, now)
	r.Notify(context.Background(), tree)

	var failed, open int
	for _, p := range []*models.WorkUnit{p1, p2} {
		if p.Sync == nil {
			t.Fatalf("%s: no sync metadata recorded", p.ID)
		}
		switch p.Sync.Status {
		case SyncFailed:
			failed++
		case SyncCircuitOpen:
			open++
		default:
			t.Fatalf("%s: sync status = %q", p.ID, p.Sync.Status)
		}
		// Gating fields untouched by sync failure.
		if p.Status != models.StatusCompleted {
			t.Fatalf("%s: status changed to %s by sync failure", p.ID, p.Status)
		}
	}
	if failed != 1 || open != 1 {
		t.Fatalf("sync statuses = %d failed / %d circuit_open, want 1/1", failed, open)
	}
	if r.CircuitState() != breaker.StateOpen {
		t.Fatalf("circuit state = %s, want open", r.CircuitState())
	}
}

func TestNotify_SkipsUnitsWithoutExternalRef(t *testing.T) {
	trk := &fakeTracker{}
	r, clock := testReconciler(t, trk, 0)
	tree, p1, p2 := twoPlanTree(t)
	p2.ExternalRef = ""

	r.Notify(context.Background(), tree)
	complete(p1, clock.Now())
	complete(p2, clock.Now())
	r.Notify(context.Background(), tree)

	if got := trk.callsFor("102"); len(got) != 0 {
		t.Fatalf("unexpected calls for untracked unit: %v", got)
	}
	if got := trk.callsFor("101"); len(got) != 1 {
		t.Fatalf("tracked unit calls = %v, want 1", got)
	}
}
