package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/metrics"
)

// WindowStore counts requests in fixed windows. Incr adds one hit for key
// in the window containing now and returns the new count and the instant
// the window ends.
type WindowStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
}

// windowBounds returns the index of the fixed window containing now and the
// time it ends. Windows are aligned to the Unix epoch.
func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	size := window.Milliseconds()
	idx := now.UnixMilli() / size
	return idx, time.UnixMilli((idx + 1) * size).UTC()
}

func normalizeWindow(window time.Duration) time.Duration {
	if window < time.Millisecond {
		return DefaultWindow
	}
	return window
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps window counters in process memory. Each replica counts
// on its own, so a deployment with N instances admits up to N times the
// configured limit.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*windowEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]*windowEntry),
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	window = normalizeWindow(window)
	now := s.clock.Now()
	_, resetAt := windowBounds(now, window)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{resetAt: resetAt}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.resetAt, nil
}

// Sweep drops every window that has ended and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.RateLimitWindows.Set(float64(len(s.entries)))
	return removed
}

// Len reports the number of live window entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps expired windows every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("ratelimit: swept expired windows", "removed", n)
			}
		}
	}
}

const redisKeyPrefix = "ratelimit:window:"

// RedisStore shares window counters between instances through Redis.
type RedisStore struct {
	rdb   redis.Cmdable
	clock clock.Clock
}

// NewRedisStore creates a Redis-backed WindowStore.
func NewRedisStore(rdb redis.Cmdable, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisStore{rdb: rdb, clock: clk}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	window = normalizeWindow(window)
	idx, resetAt := windowBounds(s.clock.Now(), window)
	redisKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, idx)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// Outlive the window by one period to absorb clock skew between instances.
	pipe.PExpire(ctx, redisKey, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("incrementing window counter: %w", err)
	}
	return int(incr.Val()), resetAt, nil
}
