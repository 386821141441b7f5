package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instant replaces the backoff sleep so tests run without delay.
func instant(policy *Policy) *Policy {
	policy.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return policy
}

func TestIsTransient(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped transient", Transient(base), true},
		{"deeply wrapped transient", errorsJoin(Transient(base)), true},
		{"plain error", base, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// errorsJoin wraps with one more fmt layer to exercise errors.As traversal.
func errorsJoin(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "outer: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }

func TestPolicy_RetriesTransientUntilSuccess(t *testing.T) {
	p := instant(NewPolicy(3, time.Millisecond, time.Second, 2.0))

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestPolicy_NonTransientPropagatesImmediately(t *testing.T) {
	p := instant(NewPolicy(3, time.Millisecond, time.Second, 2.0))

	permanent := errors.New("schema mismatch")
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Execute error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1 (no retry of non-transient)", calls)
	}
}

func TestPolicy_GivesUpAfterMaxRetries(t *testing.T) {
	p := instant(NewPolicy(2, time.Millisecond, time.Second, 2.0))

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("still down"))
	})

	if err == nil {
		t.Fatal("Execute succeeded, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3 (initial + 2 retries)", calls)
	}
}

func TestPolicy_ExecuteWithAttempts(t *testing.T) {
	p := instant(NewPolicy(2, time.Millisecond, time.Second, 2.0))

	attempts, err := p.ExecuteWithAttempts(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil || attempts != 1 {
		t.Errorf("ExecuteWithAttempts = (%d, %v), want (1, nil)", attempts, err)
	}

	fails := 0
	attempts, err = p.ExecuteWithAttempts(context.Background(), func(ctx context.Context) error {
		fails++
		if fails == 1 {
			return Transient(errors.New("once"))
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Errorf("ExecuteWithAttempts = (%d, %v), want (2, nil)", attempts, err)
	}
}

func TestPolicy_DelayBounds(t *testing.T) {
	p := NewPolicy(5, 100*time.Millisecond, time.Second, 2.0)

	// With ±50% jitter, delay for attempt n lies in
	// [0.5, 1.5] * min(initial * multiplier^n, maxDelay).
	tests := []struct {
		attempt int
		baseMin time.Duration
		baseMax time.Duration
	}{
		{0, 50 * time.Millisecond, 150 * time.Millisecond},
		{1, 100 * time.Millisecond, 300 * time.Millisecond},
		{2, 200 * time.Millisecond, 600 * time.Millisecond},
		// 100ms * 2^6 = 6.4s, capped at 1s.
		{6, 500 * time.Millisecond, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := p.Delay(tt.attempt)
			if d < tt.baseMin || d > tt.baseMax {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", tt.attempt, d, tt.baseMin, tt.baseMax)
			}
		}
	}
}

func TestPolicy_ContextCancelDuringBackoff(t *testing.T) {
	p := NewPolicy(5, time.Hour, time.Hour, 2.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, func(ctx context.Context) error {
		return Transient(errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute error = %v, want context.Canceled", err)
	}
}
