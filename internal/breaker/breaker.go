// Package breaker implements a circuit breaker for external collaborators.
//
// The breaker prevents a consistently failing collaborator (worker
// dispatch, issue tracker) from being hammered: after a run of
// consecutive failures the circuit opens and calls fail fast without
// touching the collaborator, until a recovery timeout allows trial calls.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is short-circuited because the
// circuit is open. It is a fail-fast signal, not a collaborator error.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State represents the current state of a circuit.
type State int

const (
	// StateClosed means normal operation: calls pass through, failures counted.
	StateClosed State = iota
	// StateOpen means too many failures: calls are blocked until the
	// recovery timeout elapses.
	StateOpen
	// StateHalfOpen means the circuit is probing recovery with a limited
	// number of trial calls.
	StateHalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before half-open probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxAttempts is the number of trial calls allowed while half-open.
	HalfOpenMaxAttempts int
	// SuccessThreshold is the consecutive trial successes needed to close.
	SuccessThreshold int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxAttempts: 1,
		SuccessThreshold:    1,
	}
}

// Breaker is a circuit breaker for a single external collaborator.
// Circuits live for the process lifetime and are not persisted.
type Breaker struct {
	cfg Config

	// state is the current circuit state.
	state State
	// failures counts consecutive failures while closed.
	failures int
	// successes counts consecutive trial successes while half-open.
	successes int
	// halfOpenInFlight counts trial calls admitted while half-open.
	halfOpenInFlight int
	// lastFailureAt records the most recent failure.
	lastFailureAt time.Time
	// nextAttemptAt is when an open circuit next admits a trial call.
	nextAttemptAt time.Time

	// now is the clock, injectable for tests.
	now func() time.Time
	// mu protects all mutable state.
	mu sync.Mutex
}

// New creates a Breaker in the closed state. Zero-valued config fields
// fall back to defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = def.HalfOpenMaxAttempts
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	// Closing requires SuccessThreshold trial successes, so half-open must
	// admit at least that many calls or the circuit can never close.
	if cfg.HalfOpenMaxAttempts < cfg.SuccessThreshold {
		cfg.HalfOpenMaxAttempts = cfg.SuccessThreshold
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// SetClock replaces the breaker's time source (for tests).
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
}

// State returns the current circuit state, applying the open→half_open
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Execute runs op through the circuit. While open it returns
// ErrCircuitOpen without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow admits or rejects a call based on the current state.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxAttempts {
			return fmt.Errorf("half-open attempt limit reached: %w", ErrCircuitOpen)
		}
		b.halfOpenInFlight++
		return nil
	default: // StateOpen
		return ErrCircuitOpen
	}
}

// maybeHalfOpen transitions open→half_open once the recovery timeout
// elapses. Must be called with the lock held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && !b.now().Before(b.nextAttemptAt) {
		b.state = StateHalfOpen
		b.halfOpenInFlight = 0
		b.successes = 0
	}
}

// recordFailure counts a failed call and opens the circuit as configured.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		// A failed trial reopens immediately and extends the timeout.
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// recordSuccess counts a successful call and closes the circuit once the
// success threshold is met while half-open.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.halfOpenInFlight = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// open moves the circuit to open. Must be called with the lock held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.failures = 0
	b.successes = 0
	b.halfOpenInFlight = 0
	b.nextAttemptAt = b.now().Add(b.cfg.RecoveryTimeout)
}

// Registry hands out one breaker per named collaborator, created lazily
// on first use.
type Registry struct {
	cfg      Config
	breakers map[string]*Breaker
	mu       sync.Mutex
}

// NewRegistry creates a Registry sharing one config across circuits.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named collaborator, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(r.cfg)
		r.breakers[name] = b
	}
	return b
}
