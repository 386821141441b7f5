// Package retry provides exponential-backoff retry for calls to
// unreliable external collaborators (worker dispatch, issue tracker).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// TransientError marks an error as retryable. Timeouts and network
// failures from external collaborators are wrapped in it; anything else
// propagates immediately without a retry.
type TransientError struct {
	Err error
}

// Error returns the underlying error message.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
// Context deadline expiry counts as transient: a timed-out worker call
// is treated as a failed attempt eligible for retry.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Policy retries an operation with exponential backoff and jitter.
type Policy struct {
	// maxRetries is the number of retries after the initial attempt.
	maxRetries int
	// initialDelay is the base backoff delay.
	initialDelay time.Duration
	// maxDelay caps the backoff delay.
	maxDelay time.Duration
	// multiplier is the exponential growth factor per attempt.
	multiplier float64
	// sleep is swapped out in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
	// rng provides jitter; guarded by rngMu.
	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewPolicy creates a retry policy. A non-positive multiplier defaults
// to 2.0; a non-positive maxDelay defaults to 30s.
func NewPolicy(maxRetries int, initialDelay, maxDelay time.Duration, multiplier float64) *Policy {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Policy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		sleep:        sleepCtx,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSleep replaces the delay function. Tests use this to run instantly.
func (p *Policy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		p.sleep = fn
	}
}

// Execute runs op, retrying transient failures up to the configured cap.
// Non-transient errors propagate immediately. The returned error is the
// last attempt's error when all retries are exhausted.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", p.maxRetries+1, lastErr)
}

// ExecuteWithAttempts is Execute plus the number of attempts made,
// including the first. Callers use it to record per-unit retry counts.
func (p *Policy) ExecuteWithAttempts(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := p.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return op(ctx)
	})
	return attempts, err
}

// Delay computes the backoff before retry number attempt (0-based):
// min(initialDelay * multiplier^attempt, maxDelay), with ±50% jitter.
func (p *Policy) Delay(attempt int) time.Duration {
	base := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))
	if base > float64(p.maxDelay) {
		base = float64(p.maxDelay)
	}

	p.rngMu.Lock()
	jitter := 0.5 + p.rng.Float64() // 0.5x to 1.5x
	p.rngMu.Unlock()

	d := time.Duration(base * jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
