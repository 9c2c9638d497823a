// Package retry re-runs idempotent operations that failed with a transient
// error. Which errors are transient is decided by the caller: the engine
// passes shared.IsRetryable, the Redis locker retries only a busy lock.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Transient reports whether err is worth another attempt.
type Transient func(err error) bool

// Policy describes how many attempts are made and how long to wait between them.
type Policy struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt. Each later wait
	// doubles, up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64
}

// DefaultPolicy is used by New when no options are given.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Jitter:       0.1,
	}
}

// Option adjusts a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the number of attempts; values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the first wait.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.InitialDelay = d
		}
	}
}

// WithMaxDelay caps every wait.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

// WithJitter sets the jitter fraction, from 0 to 1.
func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

// Retrier runs an operation until it succeeds, fails permanently, runs out
// of attempts or its context ends.
type Retrier struct {
	policy    Policy
	transient Transient
}

// New creates a Retrier. A nil transient retries nothing.
func New(transient Transient, opts ...Option) *Retrier {
	policy := DefaultPolicy()
	for _, opt := range opts {
		opt(&policy)
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if transient == nil {
		transient = func(error) bool { return false }
	}
	return &Retrier{policy: policy, transient: transient}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op. It returns nil on the first success, otherwise the error of the
// last attempt made. A cancelled context stops the retries; the last
// operation error is returned if there was one.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = op(ctx)
		if last == nil || !r.transient(last) || attempt >= r.policy.MaxAttempts {
			return last
		}

		if !sleep(ctx, r.Delay(attempt)) {
			return last
		}
	}
}

// Delay returns the wait after the given failed attempt, jitter included.
func (r *Retrier) Delay(attempt int) time.Duration {
	d := r.policy.InitialDelay
	for i := 1; i < attempt && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if r.policy.Jitter > 0 && d > 0 {
		spread := time.Duration(float64(d) * r.policy.Jitter)
		if spread > 0 {
			d += time.Duration(rand.Int64N(int64(2*spread)+1)) - spread
		}
	}
	return d
}

// sleep waits for d and reports whether ctx is still alive.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// PersistenceRetrier is used for writing engine results back to the store.
func PersistenceRetrier(transient Transient) *Retrier {
	return New(transient,
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}

// LockRetrier is used for acquiring a contended per-record lock.
func LockRetrier(transient Transient) *Retrier {
	return New(transient,
		WithMaxAttempts(5),
		WithInitialDelay(20*time.Millisecond),
		WithMaxDelay(500*time.Millisecond),
		WithJitter(0.2),
	)
}

// HandlerRetrier is used for event handlers on the in-process bus.
func HandlerRetrier(transient Transient) *Retrier {
	return New(transient,
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
	)
}
