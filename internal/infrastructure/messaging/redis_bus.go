package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// Events are handled locally and mirrored to a Redis channel so that other
// worker instances and downstream services see them too. Messages published
// by this instance are skipped on receipt.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEventChannel is the pub/sub channel carrying event envelopes.
const DefaultEventChannel = "nur:events"

// RedisEventBus mirrors a local bus over Redis pub/sub.
type RedisEventBus struct {
	client     redis.UniversalClient
	pubsub     *redis.PubSub
	localBus   *InMemoryEventBus
	channel    string
	instanceID string
	log        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client redis.UniversalClient

	// Channel defaults to DefaultEventChannel.
	Channel string

	// InstanceID filters out this instance's own messages. Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *logger.Logger
}

// NewRedisEventBus subscribes to the channel and starts the receive loop.
func NewRedisEventBus(ctx context.Context, config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultEventChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	pubsub := config.Client.Subscribe(ctx, config.Channel)
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	bus := &RedisEventBus{
		client:     config.Client,
		pubsub:     pubsub,
		localBus:   NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		log: config.Logger.With(
			logger.Component("redis_event_bus"),
			logger.String("instance_id", config.InstanceID)),
		ctx:    runCtx,
		cancel: cancel,
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.receiveLoop(pubsub.Channel())
	}()

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish mirrors the event to Redis, then delivers it locally. A Redis
// failure is logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := encodeMessage(b.instanceID, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
		b.log.Warn("failed to mirror event to redis",
			logger.String("event_type", string(event.EventType())), logger.Err(err))
	}

	return b.localBus.Publish(event)
}

func (b *RedisEventBus) receiveLoop(messages <-chan *redis.Message) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(payload string) {
	origin, event, err := decodeMessage(payload)
	if err != nil {
		b.log.Error("dropping undecodable event", logger.Err(err))
		return
	}
	if origin == b.instanceID {
		return
	}
	if err := b.localBus.Publish(event); err != nil {
		b.log.Error("failed to deliver remote event", logger.Err(err))
	}
}

// Close unsubscribes and drains the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	if err := b.pubsub.Close(); err != nil {
		b.log.Warn("failed to close subscription", logger.Err(err))
	}
	b.wg.Wait()

	return b.localBus.Close()
}

// Metrics returns the local bus metrics.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type wireMessage struct {
	Origin   string               `json:"origin"`
	Envelope shared.EventEnvelope `json:"envelope"`
}

func encodeMessage(origin string, event shared.Event) (string, error) {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	data, err := json.Marshal(wireMessage{Origin: origin, Envelope: env})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	return string(data), nil
}

func decodeMessage(payload string) (string, shared.Event, error) {
	var msg wireMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", nil, err
	}
	if msg.Envelope.Type == "" {
		return "", nil, errors.New("envelope has no event type")
	}
	var data map[string]interface{}
	if len(msg.Envelope.Payload) > 0 {
		if err := json.Unmarshal(msg.Envelope.Payload, &data); err != nil {
			return "", nil, fmt.Errorf("decode %s payload: %w", msg.Envelope.Type, err)
		}
	}
	return msg.Origin, &remoteEvent{
		eventType:   msg.Envelope.Type,
		aggregateID: msg.Envelope.AggregateID,
		occurredAt:  msg.Envelope.Timestamp,
		payload:     data,
	}, nil
}

// remoteEvent is an event received from another instance.
type remoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *remoteEvent) EventType() shared.EventType     { return e.eventType }
func (e *remoteEvent) AggregateID() string             { return e.aggregateID }
func (e *remoteEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *remoteEvent) Payload() map[string]interface{} { return e.payload }
