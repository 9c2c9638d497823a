// Package circuitbreaker stops the worker from pulling device snapshots while
// the store keeps failing, so they stay pending in the stream instead of
// burning their retries.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down passes.
	StateOpen
	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while a half-open trial call is running.
	ErrTooManyRequests = errors.New("circuit breaker trial call in progress")
)

// Settings configures a breaker.
type Settings struct {
	Name string

	// Failures is the number of consecutive counted failures that opens it.
	Failures int

	// Successes is the number of consecutive half-open successes that closes it.
	Successes int

	// CoolDown is how long it stays open before a trial call.
	CoolDown time.Duration

	// Counts decides which errors count as failures. Nil counts every error.
	// Context cancellation never counts.
	Counts func(error) bool

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(name string, from, to State)
}

// Counts holds outcome counters.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker guards calls to a failing dependency.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trial    bool
}

// New creates a closed breaker. Zero thresholds default to one.
func New(s Settings) *CircuitBreaker {
	if s.Failures <= 0 {
		s.Failures = 1
	}
	if s.Successes <= 0 {
		s.Successes = 1
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

// StoreBreaker returns the breaker guarding snapshot merges against the
// primary store. Only errors accepted by counts are failures, so bad
// snapshots do not open it.
func StoreBreaker(counts func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "snapshot-store",
		Failures:      3,
		Successes:     1,
		CoolDown:      10 * time.Second,
		Counts:        counts,
		OnStateChange: onStateChange,
	})
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.remaining() > 0 {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
	case StateHalfOpen:
		if cb.trial {
			return ErrTooManyRequests
		}
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	cb.trial = false

	if !cb.counted(err) {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.Successes {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.Failures {
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) counted(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case cb.settings.Counts != nil:
		return cb.settings.Counts(err)
	default:
		return true
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// remaining must be called with mu held.
func (cb *CircuitBreaker) remaining() time.Duration {
	if cb.state != StateOpen {
		return 0
	}
	left := cb.settings.CoolDown - cb.now().Sub(cb.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the outcome counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.RetryAfter() > 0
}

// RetryAfter returns how long calls will still be rejected. Zero means the
// next call is let through.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.remaining()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
