package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/circuitbreaker"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT FEED
// Device snapshots travel over a Redis stream read by a consumer group.
// An entry is acknowledged once merged or once it is known to be unmergeable;
// entries that failed on a transient error stay pending and are reclaimed.
// ══════════════════════════════════════════════════════════════════════════════

const snapshotField = "snapshot"

// SnapshotBatchHandler merges a batch of snapshots. failures maps batch
// positions to their errors; err is reserved for the batch as a whole.
type SnapshotBatchHandler func(ctx context.Context, snaps []reconcile.Snapshot) (failures map[int]error, err error)

// FeedConfig configures the snapshot feed.
type FeedConfig struct {
	Stream   string
	Group    string
	Consumer string

	// BatchSize is the maximum number of entries merged per batch.
	BatchSize int

	// Block is how long one read waits for new entries.
	Block time.Duration

	// ReclaimIdle is how long an entry stays pending before it is retried.
	ReclaimIdle time.Duration

	// MaxLen caps the stream length on publish (approximate).
	MaxLen int64
}

// DefaultFeedConfig returns defaults for one consumer.
func DefaultFeedConfig(consumer string) FeedConfig {
	return FeedConfig{
		Stream:      StreamKey("snapshots"),
		Group:       "reconcilers",
		Consumer:    consumer,
		BatchSize:   32,
		Block:       5 * time.Second,
		ReclaimIdle: time.Minute,
		MaxLen:      100_000,
	}
}

// SnapshotFeed publishes and consumes device snapshots.
type SnapshotFeed struct {
	client  redis.UniversalClient
	config  FeedConfig
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewSnapshotFeed creates a feed. breaker may be nil.
func NewSnapshotFeed(cache *Cache, config FeedConfig, breaker *circuitbreaker.CircuitBreaker, log *logger.Logger) *SnapshotFeed {
	defaults := DefaultFeedConfig(config.Consumer)
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.Consumer == "" {
		config.Consumer = "worker"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Block <= 0 {
		config.Block = defaults.Block
	}
	if config.ReclaimIdle <= 0 {
		config.ReclaimIdle = defaults.ReclaimIdle
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SnapshotFeed{
		client:  cache.Client(),
		config:  config,
		breaker: breaker,
		log:     log.With(logger.Component("snapshot_feed"), logger.String("stream", config.Stream)),
	}
}

// Publish appends a snapshot to the stream and returns the entry ID.
func (f *SnapshotFeed) Publish(ctx context.Context, snap reconcile.Snapshot) (string, error) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: f.config.Stream,
		Values: map[string]any{snapshotField: data},
	}
	if f.config.MaxLen > 0 {
		args.MaxLen = f.config.MaxLen
		args.Approx = true
	}
	return f.client.XAdd(ctx, args).Result()
}

// PublishPayload validates a snapshot received from a device and appends it
// to the stream. Malformed payloads wrap shared.ErrInvalidInput.
func (f *SnapshotFeed) PublishPayload(ctx context.Context, payload []byte) (string, error) {
	snap, err := DecodeSnapshot(string(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	if err := snap.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	return f.Publish(ctx, snap)
}

// Run consumes the stream until ctx is done.
func (f *SnapshotFeed) Run(ctx context.Context, handle SnapshotBatchHandler) error {
	if err := f.ensureGroup(ctx); err != nil {
		return err
	}
	f.log.Info("snapshot feed started",
		logger.String("group", f.config.Group), logger.String("consumer", f.config.Consumer))

	for {
		if ctx.Err() != nil {
			return nil
		}

		if wait := f.breakerWait(); wait > 0 {
			if !sleep(ctx, wait) {
				return nil
			}
		}

		messages, err := f.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Warn("snapshot feed read failed", logger.Err(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if len(messages) == 0 {
			continue
		}

		f.process(ctx, messages, handle)
	}
}

// next returns reclaimed pending entries first, then new ones.
func (f *SnapshotFeed) next(ctx context.Context) ([]redis.XMessage, error) {
	claimed, _, err := f.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   f.config.Stream,
		Group:    f.config.Group,
		Consumer: f.config.Consumer,
		MinIdle:  f.config.ReclaimIdle,
		Start:    "0-0",
		Count:    int64(f.config.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reclaim: %w", err)
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.config.Group,
		Consumer: f.config.Consumer,
		Streams:  []string{f.config.Stream, ">"},
		Count:    int64(f.config.BatchSize),
		Block:    f.config.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read: %w", err)
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (f *SnapshotFeed) process(ctx context.Context, messages []redis.XMessage, handle SnapshotBatchHandler) {
	var (
		ids   []string
		snaps []reconcile.Snapshot
		ack   []string
	)
	for _, m := range messages {
		snap, err := decodeMessage(m)
		if err != nil {
			f.log.Error("dropping undecodable snapshot", logger.String("entry_id", m.ID), logger.Err(err))
			ack = append(ack, m.ID)
			continue
		}
		ids = append(ids, m.ID)
		snaps = append(snaps, snap)
	}

	if len(snaps) > 0 {
		var failures map[int]error
		run := func(ctx context.Context) error {
			var err error
			failures, err = handle(ctx, snaps)
			if err != nil {
				return err
			}
			return firstRetryable(failures)
		}

		var err error
		if f.breaker != nil {
			err = f.breaker.Execute(ctx, run)
		} else {
			err = run(ctx)
		}

		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			f.log.Warn("store breaker open, leaving snapshots pending", logger.Int("count", len(snaps)))
		case failures == nil && err != nil:
			f.log.Warn("snapshot batch failed, leaving it pending", logger.Err(err))
		default:
			settled, pending := settle(ids, failures)
			ack = append(ack, settled...)
			for i, ferr := range failures {
				if shared.IsRetryable(ferr) {
					continue
				}
				f.log.Error("dropping unmergeable snapshot",
					logger.String("entry_id", ids[i]), logger.LearnerID(snaps[i].LearnerID), logger.Err(ferr))
			}
			if pending > 0 {
				f.log.Warn("snapshots left pending after transient failures", logger.Int("count", pending))
			}
		}
	}

	if len(ack) > 0 {
		if err := f.client.XAck(context.WithoutCancel(ctx), f.config.Stream, f.config.Group, ack...).Err(); err != nil {
			f.log.Warn("snapshot ack failed, entries will be redelivered", logger.Err(err))
		}
	}
}

func (f *SnapshotFeed) ensureGroup(ctx context.Context) error {
	err := f.client.XGroupCreateMkStream(ctx, f.config.Stream, f.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// EncodeSnapshot returns the stream payload of a snapshot.
func EncodeSnapshot(snap reconcile.Snapshot) (string, error) {
	data, err := json.Marshal(ToSnapshotDTO(snap))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return string(data), nil
}

// DecodeSnapshot parses a stream payload.
func DecodeSnapshot(payload string) (reconcile.Snapshot, error) {
	var dto SnapshotDTO
	if err := json.Unmarshal([]byte(payload), &dto); err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return dto.ToDomain()
}

func decodeMessage(m redis.XMessage) (reconcile.Snapshot, error) {
	raw, ok := m.Values[snapshotField]
	if !ok {
		return reconcile.Snapshot{}, fmt.Errorf("entry has no %q field", snapshotField)
	}
	payload, ok := raw.(string)
	if !ok {
		return reconcile.Snapshot{}, fmt.Errorf("field %q is %T, want string", snapshotField, raw)
	}
	return DecodeSnapshot(payload)
}

// settle returns the entry IDs to acknowledge: merged ones and those that
// failed permanently. pending counts the transient failures left for retry.
func settle(ids []string, failures map[int]error) (ack []string, pending int) {
	for i, id := range ids {
		if err, failed := failures[i]; failed && shared.IsRetryable(err) {
			pending++
			continue
		}
		ack = append(ack, id)
	}
	return ack, pending
}

func firstRetryable(failures map[int]error) error {
	for _, err := range failures {
		if shared.IsRetryable(err) {
			return err
		}
	}
	return nil
}

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

// breakerWait returns how long the store breaker still rejects merges.
func (f *SnapshotFeed) breakerWait() time.Duration {
	if f.breaker == nil {
		return 0
	}
	return f.breaker.RetryAfter()
}
