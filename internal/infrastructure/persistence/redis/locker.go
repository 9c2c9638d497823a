package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED KEY LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KeyLocker is a per-record lock shared by every worker instance.
// Each lock is a key holding a random token with a TTL, so a crashed holder
// releases it when the TTL runs out.
type KeyLocker struct {
	cache   *Cache
	ttl     time.Duration
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewKeyLocker creates a locker. ttl <= 0 uses TTLDistributedLock.
func NewKeyLocker(cache *Cache, ttl time.Duration, log *logger.Logger) *KeyLocker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KeyLocker{
		cache: cache,
		ttl:   ttl,
		retrier: retry.LockRetrier(func(err error) bool {
			return errors.Is(err, shared.ErrLockNotAcquired)
		}),
		log: log.With(logger.Component("redis_locker")),
	}
}

// Lock acquires key, retrying with backoff while another holder has it.
// Returns ErrLockNotAcquired when the retries run out.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := LockKey(key)

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		ok, err := l.cache.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return fmt.Errorf("%w: lock %s: %w", shared.ErrServiceUnavailable, key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", shared.ErrLockNotAcquired, key)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, shared.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %s: %w", shared.ErrLockNotAcquired, key, ctx.Err())
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token) })
	}, nil
}

// release runs on its own context: the caller's may already be cancelled.
func (l *KeyLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.cache.Client(), []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.log.Warn("lock release failed, it will expire on its own",
			logger.String("key", redisKey), logger.Err(err))
	}
}
