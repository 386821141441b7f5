// Package budget tracks the bounded context budget consumed by dispatched work.
package budget

import (
	"sync"
)

// Status represents the current state of budget consumption.
type Status int

const (
	// StatusOK indicates usage is below the compaction threshold.
	StatusOK Status = iota
	// StatusOverThreshold indicates usage has crossed the compaction
	// threshold; the controller must pause rather than dispatch.
	StatusOverThreshold
	// StatusExhausted indicates the budget is fully consumed.
	StatusExhausted
)

// String returns a human-readable representation of the budget status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusOverThreshold:
		return "OverThreshold"
	case StatusExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// Usage reports a point-in-time view of budget consumption.
type Usage struct {
	// Used is the cost consumed so far.
	Used int64
	// Limit is the total budget.
	Limit int64
	// Percent is Used/Limit as 0-100. Zero when no limit is set.
	Percent float64
	// Status classifies the usage against the configured threshold.
	Status Status
}

// Guard is the process-wide context-budget counter. Every dispatched
// unit reserves its estimated cost up front; crossing the configured
// threshold signals the controller to pause for compaction. This is
// advisory backpressure, not a hard memory limit — the cost unit is an
// abstract count supplied by the caller.
type Guard struct {
	// limit is the total budget in abstract cost units.
	limit int64
	// used is the current consumption.
	used int64
	// thresholdPercent is the usage level (0-100) that flips the guard
	// to OverThreshold.
	thresholdPercent int
	// residualPercent is the usage level Compact resets to, reflecting
	// the summary retained after a compaction event.
	residualPercent int
	// mu protects mutable state.
	mu sync.RWMutex
}

// NewGuard creates a Guard with the given limit and threshold percent.
// The residual after compaction defaults to zero.
func NewGuard(limit int64, thresholdPercent int) *Guard {
	return &Guard{
		limit:            limit,
		thresholdPercent: thresholdPercent,
	}
}

// SetResidualPercent sets the usage level Compact resets to.
// Values are clamped to 0-100.
func (g *Guard) SetResidualPercent(percent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.residualPercent = clampPercent(percent)
}

// SetThresholdPercent updates the pause threshold. Parallel mode runs
// with a lower threshold than sequential mode.
func (g *Guard) SetThresholdPercent(percent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thresholdPercent = clampPercent(percent)
}

// Reserve attempts to consume the estimated cost of a unit of work.
// It returns false (Deny) if the reservation would exceed the limit;
// the counter is unchanged on Deny.
func (g *Guard) Reserve(estimatedCost int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limit > 0 && g.used+estimatedCost > g.limit {
		return false
	}
	g.used += estimatedCost
	return true
}

// Check returns the current usage. Status is OverThreshold once the
// usage percentage meets or exceeds the configured threshold, and
// Exhausted at or past the limit.
func (g *Guard) Check() Usage {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u := Usage{Used: g.used, Limit: g.limit, Status: StatusOK}
	if g.limit <= 0 {
		return u
	}
	u.Percent = float64(g.used) / float64(g.limit) * 100

	switch {
	case u.Percent >= 100:
		u.Status = StatusExhausted
	case u.Percent >= float64(g.thresholdPercent):
		u.Status = StatusOverThreshold
	}
	return u
}

// OverThreshold reports whether dispatching should pause for compaction.
func (g *Guard) OverThreshold() bool {
	return g.Check().Status != StatusOK
}

// Compact resets the counter to the residual baseline. The baseline is
// not necessarily zero: a compaction keeps a summary of prior work.
func (g *Guard) Compact() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limit <= 0 {
		g.used = 0
		return
	}
	g.used = g.limit * int64(g.residualPercent) / 100
}

// Reset clears the counter entirely. Used at process start and in tests.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used = 0
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
