package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store down")

func fail(context.Context) error { return errStore }
func ok(context.Context) error   { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(s Settings) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(s)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(Settings{
		Name:     "test",
		Failures: 2,
		CoolDown: time.Minute,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	ctx := context.Background()
	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	require.True(t, cb.IsOpen())
	assert.Equal(t, time.Minute, cb.RetryAfter())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.t = clock.t.Add(40 * time.Second)
	assert.Equal(t, 20*time.Second, cb.RetryAfter())

	clock.t = clock.t.Add(20 * time.Second)
	assert.False(t, cb.IsOpen(), "cool-down over, next call goes through")
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Settings{Name: "test", Failures: 1, CoolDown: time.Second})

	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	clock.t = clock.t.Add(time.Second)
	_ = cb.Execute(context.Background(), fail)
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
}

func TestCircuitBreaker_OneTrialCallAtATime(t *testing.T) {
	cb, clock := newTestBreaker(Settings{Name: "test", Failures: 1, CoolDown: time.Second})
	_ = cb.Execute(context.Background(), fail)
	clock.t = clock.t.Add(time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStoreBreaker_IgnoresUncountedErrors(t *testing.T) {
	cb := StoreBreaker(func(err error) bool { return errors.Is(err, errStore) }, nil)
	bad := errors.New("bad snapshot")

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return bad })
		_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 20, cb.Counts().TotalSuccesses)
	assert.Equal(t, "snapshot-store", cb.Name())

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.True(t, cb.IsOpen())
	assert.Equal(t, 3, cb.Counts().TotalFailures)
}
