package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cacheEntry represents a cached value with expiration.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// isExpired checks if the entry has expired.
func (e *cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryCache is an in-memory implementation of Cache and Locker.
// Use this for development/testing or single-instance deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	nowFunc         func() time.Time
}

// NewMemoryCache creates a new in-memory cache with automatic cleanup.
func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Now)
}

func newMemoryCache(nowFunc func() time.Time) *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*cacheEntry),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		nowFunc:         nowFunc,
	}

	go c.cleanup()

	return c
}

// Get retrieves a value by key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.nowFunc()) {
		return nil, ErrCacheMiss
	}

	result := make([]byte, len(entry.value))
	copy(result, entry.value)
	return result, nil
}

// Set stores a value with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.entries[key] = &cacheEntry{
		value:     valueCopy,
		expiresAt: c.nowFunc().Add(ttl),
	}

	return nil
}

// Take retrieves and removes a value.
func (c *MemoryCache) Take(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, ErrCacheMiss
	}
	delete(c.entries, key)

	if entry.isExpired(c.nowFunc()) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Delete removes a value by key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// TryLock acquires key if it is free or its holder's TTL has run out.
func (c *MemoryCache) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lockKey := "lock:" + key
	if entry, exists := c.entries[lockKey]; exists && !entry.isExpired(c.nowFunc()) {
		return nil, ErrLockHeld
	}

	owner := uuid.NewString()
	c.entries[lockKey] = &cacheEntry{
		value:     []byte(owner),
		expiresAt: c.nowFunc().Add(ttl),
	}

	return &memoryLock{cache: c, key: lockKey, owner: owner}, nil
}

// Lock waits for key.
func (c *MemoryCache) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	return waitForLock(ctx, func() (Lock, error) {
		return c.TryLock(ctx, key, ttl)
	})
}

type memoryLock struct {
	cache *MemoryCache
	key   string
	owner string
}

// Unlock deletes the lock entry if it still belongs to this owner.
func (l *memoryLock) Unlock(ctx context.Context) error {
	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()

	if entry, exists := l.cache.entries[l.key]; exists && string(entry.value) == l.owner {
		delete(l.cache.entries, l.key)
	}
	return nil
}

// Close stops the background cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// removeExpired removes all expired entries.
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
		}
	}
}

// Ensure MemoryCache implements both interfaces
var (
	_ Cache  = (*MemoryCache)(nil)
	_ Locker = (*MemoryCache)(nil)
)
