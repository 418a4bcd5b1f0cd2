package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseIfOwnerScript deletes a lock key only while it still holds the
// caller's owner token.
var releaseIfOwnerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig holds connection settings for Redis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// RedisCache implements Cache and Locker on Redis. Keys are namespaced by
// a prefix so several deployments can share one database.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache wraps an existing client. The caller owns the client.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "eeetrading"
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + ":" + k
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return data, nil
}

// Set stores a value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Take retrieves and removes a value with GETDEL.
func (c *RedisCache) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.GetDel(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: take %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a value by key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// TryLock acquires key with SET NX PX.
func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := c.key("lock:" + key)
	owner := uuid.NewString()

	ok, err := c.client.SetNX(ctx, lockKey, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &redisLock{client: c.client, key: lockKey, owner: owner}, nil
}

// Lock waits for key.
func (c *RedisCache) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	return waitForLock(ctx, func() (Lock, error) {
		return c.TryLock(ctx, key, ttl)
	})
}

type redisLock struct {
	client *redis.Client
	key    string
	owner  string
}

func (l *redisLock) Unlock(ctx context.Context) error {
	if err := releaseIfOwnerScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("cache: unlock %s: %w", l.key, err)
	}
	return nil
}

// Ensure RedisCache implements both interfaces
var (
	_ Cache  = (*RedisCache)(nil)
	_ Locker = (*RedisCache)(nil)
)
