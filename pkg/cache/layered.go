package cache

import (
	"context"
	"time"
)

// localTTL caps how long a value read from Redis is served from process
// memory, so snapshots written by another arena show up within a second.
const localTTL = time.Second

// LayeredCache reads through a short-lived in-process copy in front of Redis.
// Locks always go to Redis.
type LayeredCache struct {
	local  *MemoryCache
	shared *RedisCache
}

func NewLayeredCache(shared *RedisCache) *LayeredCache {
	return &LayeredCache{local: NewMemoryCache(), shared: shared}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := lc.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, value, localCap(ttl))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.local.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.shared.Get(ctx, key, dest); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, dest, localTTL)
	return nil
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.shared.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.shared.Unlock(ctx, key)
}

func (lc *LayeredCache) Close() error {
	return lc.shared.Close()
}

func localCap(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > localTTL {
		return localTTL
	}
	return ttl
}
