package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shopguard/shopguard/internal/database"
)

// takeScript performs evict + count + record as one server-side atomic
// unit. Separate round trips would let two concurrent requests observe
// the same stale count and both claim the last slot.
//
// KEYS[1] window zset, KEYS[2] violation counter
// ARGV: now_us, window_us, limit, key_ttl_ms, member
var takeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
	local viol = redis.call('INCR', KEYS[2])
	if viol == 1 then
		redis.call('PEXPIRE', KEYS[2], window / 1000)
	end
	return {0, count, viol}
end
redis.call('ZADD', KEYS[1], now, ARGV[5])
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[4]))
return {1, count + 1, 0}
`)

// RedisWindowStore is the production WindowStore, backed by a Redis
// sorted set per key with TTL-based expiry of idle keys.
type RedisWindowStore struct {
	rdb *database.Redis
}

// NewRedisWindowStore creates a Redis-backed window store
func NewRedisWindowStore(rdb *database.Redis) *RedisWindowStore {
	return &RedisWindowStore{rdb: rdb}
}

// Take implements WindowStore
func (s *RedisWindowStore) Take(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (TakeResult, error) {
	keys := []string{key, key + ":viol"}
	args := []interface{}{
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		(window + idleGrace).Milliseconds(),
		uuid.NewString(),
	}

	raw, err := takeScript.Run(ctx, s.rdb.Client, keys, args...).Result()
	if err != nil {
		return TakeResult{}, fmt.Errorf("window take script failed: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return TakeResult{}, fmt.Errorf("window take script returned unexpected result: %v", raw)
	}

	return TakeResult{
		Allowed:    vals[0].(int64) == 1,
		Count:      vals[1].(int64),
		Violations: vals[2].(int64),
	}, nil
}

// Peek implements WindowStore
func (s *RedisWindowStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	cutoff := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)

	count, err := s.rdb.ZCount(ctx, key, "("+cutoff, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("window peek count failed: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "(" + cutoff,
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("window peek oldest failed: %w", err)
	}

	var oldest time.Time
	if len(entries) > 0 {
		oldest = time.UnixMicro(int64(entries[0].Score))
	}
	return count, oldest, nil
}

// Reset implements WindowStore
func (s *RedisWindowStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key, key+":viol").Err(); err != nil {
		return fmt.Errorf("window reset failed: %w", err)
	}
	return nil
}

// ResetPrefix implements WindowStore
func (s *RedisWindowStore) ResetPrefix(ctx context.Context, prefix string) error {
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("window reset failed for %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("window key scan failed: %w", err)
	}
	return nil
}
