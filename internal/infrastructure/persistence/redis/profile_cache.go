package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ProfileCache caches learner profiles for the progress query.
type ProfileCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewProfileCache creates a profile cache. ttl <= 0 uses TTLProfileCache.
func NewProfileCache(cache *Cache, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = TTLProfileCache
	}
	return &ProfileCache{cache: cache, ttl: ttl}
}

// GetProfile returns a cached profile. A miss wraps shared.ErrNotFound.
func (c *ProfileCache) GetProfile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	var dto ProfileDTO
	if err := c.cache.Get(ctx, ProfileKey(learnerID), &dto); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %w", shared.ErrNotFound, err)
		}
		return nil, err
	}
	p := dto.ToDomain()
	return &p, nil
}

// SetProfile stores a profile.
func (c *ProfileCache) SetProfile(ctx context.Context, p *learner.Profile) error {
	if p == nil {
		return ErrCacheNilValue
	}
	return c.cache.Set(ctx, ProfileKey(p.ID), ToProfileDTO(*p), c.ttl)
}

// Invalidate drops a cached profile.
func (c *ProfileCache) Invalidate(ctx context.Context, learnerID string) error {
	return c.cache.Delete(ctx, ProfileKey(learnerID))
}
