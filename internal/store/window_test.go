package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowStoreAdmitsUpToLimit(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		res, err := s.Take(ctx, "k", 5, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, int64(i+1), res.Count)
	}

	res, err := s.Take(ctx, "k", 5, time.Minute, now.Add(6*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed, "request over the limit must be rejected")
	assert.Equal(t, int64(5), res.Count)
	assert.Equal(t, int64(1), res.Violations)
}

func TestMemoryWindowStoreWindowSlides(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		res, err := s.Take(ctx, "k", 3, time.Minute, now)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := s.Take(ctx, "k", 3, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed, "still inside the window")

	// All three original timestamps have aged out
	res, err = s.Take(ctx, "k", 3, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window has slid past the old requests")
	assert.Equal(t, int64(1), res.Count)
}

func TestMemoryWindowStoreRejectionsNotRecorded(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := s.Take(ctx, "k", 2, time.Minute, now)
		require.NoError(t, err)
	}

	// Rejected requests must not extend the window occupancy
	for i := 0; i < 10; i++ {
		res, err := s.Take(ctx, "k", 2, time.Minute, now.Add(time.Second))
		require.NoError(t, err)
		require.False(t, res.Allowed)
		assert.Equal(t, int64(2), res.Count)
	}
}

func TestMemoryWindowStoreViolationsAccumulate(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Take(ctx, "k", 1, time.Minute, now)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		res, err := s.Take(ctx, "k", 1, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.False(t, res.Allowed)
		assert.Equal(t, int64(i), res.Violations, "violations must be strictly increasing")
	}

	// The tracking period has elapsed; violations start over
	res, err := s.Take(ctx, "k", 1, time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Violations)
}

func TestMemoryWindowStorePeek(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	count, oldest, err := s.Peek(ctx, "k", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.True(t, oldest.IsZero())

	first := now.Add(time.Second)
	_, err = s.Take(ctx, "k", 10, time.Minute, first)
	require.NoError(t, err)
	_, err = s.Take(ctx, "k", 10, time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)

	count, oldest, err = s.Peek(ctx, "k", time.Minute, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, first, oldest)
}

func TestMemoryWindowStoreReset(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Take(ctx, "ratelimit:1.2.3.4:a", 1, time.Minute, now)
	require.NoError(t, err)
	_, err = s.Take(ctx, "ratelimit:1.2.3.4:b", 1, time.Minute, now)
	require.NoError(t, err)
	_, err = s.Take(ctx, "ratelimit:5.6.7.8:a", 1, time.Minute, now)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx, "ratelimit:1.2.3.4:a"))
	res, err := s.Take(ctx, "ratelimit:1.2.3.4:a", 1, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "reset key starts a fresh window")

	require.NoError(t, s.ResetPrefix(ctx, "ratelimit:1.2.3.4:"))
	res, err = s.Take(ctx, "ratelimit:1.2.3.4:b", 1, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Other IPs are untouched
	res, err = s.Take(ctx, "ratelimit:5.6.7.8:a", 1, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestMemoryWindowStoreSweep(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Take(ctx, "old", 1, time.Minute, now)
	require.NoError(t, err)
	_, err = s.Take(ctx, "fresh", 1, time.Minute, now.Add(time.Hour))
	require.NoError(t, err)

	swept := s.Sweep(now.Add(time.Hour))
	assert.Equal(t, 1, swept)
	assert.Len(t, s.windows, 1)
}
