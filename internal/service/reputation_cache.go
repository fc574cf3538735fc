package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopguard/shopguard/internal/database"
)

// ReputationCache is the short-TTL cache in front of the durable
// reputation store. It is purely an optimization: every write path
// invalidates it synchronously, and correctness holds with it disabled.
type ReputationCache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisReputationCache backs ReputationCache with Redis
type RedisReputationCache struct {
	rdb *database.Redis
}

// NewRedisReputationCache creates a Redis-backed reputation cache
func NewRedisReputationCache(rdb *database.Redis) *RedisReputationCache {
	return &RedisReputationCache{rdb: rdb}
}

// Get implements ReputationCache
func (c *RedisReputationCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.GetString(ctx, key)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements ReputationCache
func (c *RedisReputationCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.SetWithTTL(ctx, key, value, ttl)
}

// Delete implements ReputationCache
func (c *RedisReputationCache) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Delete(ctx, keys...)
}

type memoryCacheEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryReputationCache is an in-process ReputationCache for
// single-instance deployments and tests
type MemoryReputationCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
}

// NewMemoryReputationCache creates an in-process reputation cache
func NewMemoryReputationCache() *MemoryReputationCache {
	return &MemoryReputationCache{entries: make(map[string]memoryCacheEntry)}
}

// Get implements ReputationCache
func (c *MemoryReputationCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements ReputationCache
func (c *MemoryReputationCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete implements ReputationCache
func (c *MemoryReputationCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}
