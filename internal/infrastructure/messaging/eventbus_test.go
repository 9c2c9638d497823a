package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/retry"
)

var at = time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC)

func syncBus(mw ...Middleware) *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:     false,
		Middlewares:   mw,
		Logger:        logger.Nop(),
		EnableMetrics: true,
	})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var completed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLessonCompleted, func(e shared.Event) error {
		completed = append(completed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLessonCompletedEvent("learner-1", "pillars-salah-01", 1, 165, true, at)))
	require.NoError(t, bus.Publish(shared.NewFreezeGrantedEvent("learner-1", 1, at)))

	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted}, completed)
	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted, shared.EventFreezeGranted}, all)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
	assert.Equal(t, 1.0, snap.HandlerSuccessRate)
}

func TestInMemoryEventBus_HandlerErrorsDoNotReachPublisher(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))

	assert.NoError(t, bus.Publish(shared.NewFreezeGrantedEvent("learner-1", 1, at)))
	assert.EqualValues(t, 1, bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewFreezeGrantedEvent("learner-1", 1, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewFreezeGrantedEvent("learner-1", 1, at)))
	}
	require.NoError(t, bus.Close())

	assert.EqualValues(t, 10, handled.Load())
}

func TestMiddlewares(t *testing.T) {
	fast := retry.New(shared.IsRetryable,
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
	)
	bus := syncBus(RecoveryMiddleware(logger.Nop()), RetryMiddleware(fast))

	var calls int
	require.NoError(t, bus.Subscribe(shared.EventXPGained, func(shared.Event) error {
		calls++
		if calls < 3 {
			return shared.ErrServiceUnavailable
		}
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventLearnerReset, func(shared.Event) error {
		panic("nil profile")
	}))

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("learner-1", 15, 180, "pillars-salah-01", at)))
	assert.Equal(t, 3, calls)

	require.NoError(t, bus.Publish(shared.NewLearnerResetEvent("learner-1", "audit-1", "support", "admin", at)))
	assert.EqualValues(t, 1, bus.Metrics().Snapshot().HandlerFailures)
}

func TestWireMessage(t *testing.T) {
	event := shared.NewLessonCompletedEvent("learner-1", "pillars-salah-01", 2, 40, false, at)

	payload, err := encodeMessage("instance-a", event)
	require.NoError(t, err)

	origin, back, err := decodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", origin)
	assert.Equal(t, shared.EventLessonCompleted, back.EventType())
	assert.Equal(t, "learner-1", back.AggregateID())
	assert.True(t, at.Equal(back.OccurredAt()))
	assert.Equal(t, "pillars-salah-01", back.Payload()["lesson_id"])
	assert.EqualValues(t, 40, back.Payload()["xp_earned"])

	_, _, err = decodeMessage(`{"origin":"x","envelope":{}}`)
	assert.Error(t, err)
	_, _, err = decodeMessage(`not json`)
	assert.Error(t, err)
}
