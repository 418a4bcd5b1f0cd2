package cache

import (
	"context"
	"errors"
	"time"
)

// Cache defines the interface for caching operations.
// This abstraction allows swapping between memory cache (single instance)
// and Redis cache (several instances behind a load balancer) without
// changing business logic.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Take retrieves and removes a value in one step. Returns ErrCacheMiss
	// if not found. Used for one-shot values such as OAuth state.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error
}

// Locker hands out named, expiring mutual-exclusion locks.
type Locker interface {
	// TryLock acquires key without waiting. It returns ErrLockHeld when
	// another owner holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)

	// Lock waits until key can be acquired or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. Unlock only releases it if it is still owned by
// the holder, so an expired lock taken over by someone else is left alone.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"

	// ErrLockHeld indicates the lock is owned by someone else.
	ErrLockHeld CacheError = "lock held"
)

// lockRetryInterval is how often Lock polls a held lock.
const lockRetryInterval = 50 * time.Millisecond

// waitForLock polls try until it succeeds, fails with something other than
// ErrLockHeld, or ctx is done.
func waitForLock(ctx context.Context, try func() (Lock, error)) (Lock, error) {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		l, err := try()
		if !errors.Is(err, ErrLockHeld) {
			return l, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
