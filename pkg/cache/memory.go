package cache

import (
	"context"
	"sync"
	"time"
)

// defaultMemoryTTL applies to values stored without a ttl.
const defaultMemoryTTL = 24 * time.Hour

type memoryEntry struct {
	raw      []byte
	expireAt time.Time
}

// MemoryCache implements Service for a single arena process. The arena keeps
// a handful of fixed keys, so expired entries are dropped on access.
type MemoryCache struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	locks  map[string]time.Time
	now    func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values: make(map[string]memoryEntry),
		locks:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, raw, ttl)
	return nil
}

// put stores raw under key. Caller holds mu.
func (mc *MemoryCache) put(key string, raw []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	mc.values[key] = memoryEntry{raw: raw, expireAt: mc.now().Add(ttl)}
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e, ok := mc.values[key]
	if ok && !mc.now().Before(e.expireAt) {
		delete(mc.values, key)
		ok = false
	}
	mc.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return decode(e.raw, dest)
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	if until, held := mc.locks[key]; held && now.Before(until) {
		return false, nil
	}
	mc.locks[key] = now.Add(ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	until, held := mc.locks[key]
	delete(mc.locks, key)
	if !held || !mc.now().Before(until) {
		return ErrLockNotHeld
	}
	return nil
}

func (mc *MemoryCache) Close() error { return nil }
