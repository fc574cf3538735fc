// Package store provides the ephemeral sliding-window state behind the
// rate limiter. Window state is never durably persisted; losing it only
// resets counts to zero.
package store

import (
	"context"
	"sync"
	"time"
)

// TakeResult reports the outcome of one atomic window take.
type TakeResult struct {
	Allowed bool
	// Count is the number of requests in the trailing window, including
	// this one when it was admitted.
	Count int64
	// Violations is the number of rejections recorded in the current
	// violation tracking period. Zero when the request was admitted.
	Violations int64
}

// WindowStore tracks request timestamps per key over a trailing window.
// Take must evict, count, and record as a single atomic unit per key:
// two concurrent takes against the same key must never both be admitted
// when only one slot remains.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (TakeResult, error)

	// Peek returns the current in-window count and the oldest in-window
	// timestamp without mutating the window.
	Peek(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, oldest time.Time, err error)

	// Reset clears one window key.
	Reset(ctx context.Context, key string) error

	// ResetPrefix clears all window keys with the given prefix.
	ResetPrefix(ctx context.Context, prefix string) error
}

// idleGrace is added to the window when setting key expiry so that idle
// keys vanish on their own.
const idleGrace = time.Minute

type memoryWindow struct {
	timestamps []time.Time
	violations int64
	// violations reset once the tracking period that started with the
	// first violation has elapsed
	violationsUntil time.Time
	expiresAt       time.Time
}

// MemoryWindowStore is an in-process WindowStore for single-node
// deployments and tests. Per-key atomicity comes from a store-wide
// mutex; contention is acceptable at single-process scale.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

// NewMemoryWindowStore creates an empty in-memory window store
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*memoryWindow)}
}

// Take implements WindowStore
func (s *MemoryWindowStore) Take(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (TakeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	w.evict(now.Add(-window))
	if !w.violationsUntil.IsZero() && now.After(w.violationsUntil) {
		w.violations = 0
		w.violationsUntil = time.Time{}
	}

	count := int64(len(w.timestamps))
	if count >= limit {
		if w.violations == 0 {
			w.violationsUntil = now.Add(window)
		}
		w.violations++
		return TakeResult{Allowed: false, Count: count, Violations: w.violations}, nil
	}

	w.timestamps = append(w.timestamps, now)
	w.expiresAt = now.Add(window + idleGrace)
	return TakeResult{Allowed: true, Count: count + 1}, nil
}

// Peek implements WindowStore
func (s *MemoryWindowStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		return 0, time.Time{}, nil
	}

	cutoff := now.Add(-window)
	var count int64
	var oldest time.Time
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			if count == 0 {
				oldest = ts
			}
			count++
		}
	}
	return count, oldest, nil
}

// Reset implements WindowStore
func (s *MemoryWindowStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// ResetPrefix implements WindowStore
func (s *MemoryWindowStore) ResetPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.windows {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.windows, key)
		}
	}
	return nil
}

// Sweep drops keys whose expiry has passed. Storage hygiene only; lazy
// eviction in Take keeps counts correct without it.
func (s *MemoryWindowStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int
	for key, w := range s.windows {
		if !w.expiresAt.IsZero() && now.After(w.expiresAt) {
			delete(s.windows, key)
			swept++
		}
	}
	return swept
}

func (w *memoryWindow) evict(cutoff time.Time) {
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}
