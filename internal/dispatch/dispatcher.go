package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ksargent/cascade/internal/breaker"
	"github.com/ksargent/cascade/internal/retry"
	"github.com/ksargent/cascade/pkg/models"
)

// Dispatcher runs batches of independent units against the Worker,
// bounded by a concurrency limit, with each unit's call individually
// wrapped in the retry policy and circuit breaker.
type Dispatcher struct {
	worker Worker
	policy *retry.Policy
	brk    *breaker.Breaker
	// maxConcurrency bounds simultaneous worker invocations in a batch.
	maxConcurrency int
	// timeout bounds a single worker invocation attempt.
	timeout time.Duration
	// detailsDir receives externalized output too large for a summary.
	detailsDir string
	// now is the clock, injectable for tests.
	now func() time.Time
}

// New creates a Dispatcher. maxConcurrency below 1 is treated as 1.
func New(worker Worker, policy *retry.Policy, brk *breaker.Breaker, maxConcurrency int, timeout time.Duration, detailsDir string) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		worker:         worker,
		policy:         policy,
		brk:            brk,
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
		detailsDir:     detailsDir,
		now:            time.Now,
	}
}

// RunBatch executes every unit in the batch and returns a result per
// unit ID. A singleton batch runs synchronously; larger batches fan out
// concurrently (bounded) and fan back in — the call returns only once
// the entire batch has finished, never partially.
func (d *Dispatcher) RunBatch(ctx context.Context, units []*models.WorkUnit) map[string]*models.Result {
	results := make(map[string]*models.Result, len(units))
	if len(units) == 0 {
		return results
	}
	if len(units) == 1 {
		results[units[0].ID] = d.runOne(ctx, units[0])
		return results
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.maxConcurrency)
	)
	for _, unit := range units {
		wg.Add(1)
		go func(u *models.WorkUnit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := d.runOne(ctx, u)
			mu.Lock()
			results[u.ID] = res
			mu.Unlock()
		}(unit)
	}
	wg.Wait()
	return results
}

// runOne executes a single unit through retry and breaker wrapping and
// normalizes every failure mode into a Result.
func (d *Dispatcher) runOne(ctx context.Context, unit *models.WorkUnit) *models.Result {
	var result *models.Result

	attempts, err := d.policy.ExecuteWithAttempts(ctx, func(ctx context.Context) error {
		return d.brk.Execute(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if d.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			res, err := d.worker.Execute(callCtx, unit)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})

	switch {
	case err == nil && result != nil:
		// Fall through to bounding below.
	case errors.Is(err, breaker.ErrCircuitOpen):
		result = &models.Result{
			OK:      false,
			Summary: fmt.Sprintf("worker unavailable: %v", err),
		}
	default:
		result = &models.Result{
			OK:      false,
			Summary: fmt.Sprintf("execution failed: %v", err),
		}
	}
	result.Attempts = attempts

	d.boundSummary(unit.ID, result)
	return result
}

// boundSummary enforces the context-safety contract: summaries stay
// small in memory, with full output externalized behind DetailRef.
func (d *Dispatcher) boundSummary(unitID string, result *models.Result) {
	if len(result.Summary) <= models.MaxSummaryLen {
		return
	}

	full := result.Summary
	result.Summary = models.TruncateSummary(full)

	if d.detailsDir == "" {
		return
	}
	path := filepath.Join(d.detailsDir, detailFileName(unitID, d.now()))
	if err := os.WriteFile(path, []byte(full), 0644); err != nil {
		// Losing the detail file is not worth failing the unit over; the
		// bounded summary still records the outcome.
		return
	}
	result.DetailRef = path
}
