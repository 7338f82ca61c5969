package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradewise/meter/internal/clock"
)

var windowStart = time.Date(2026, 3, 10, 10, 0, 30, 0, time.UTC)

func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestWindowBounds_AlignedToEpoch(t *testing.T) {
	_, resetAt := windowBounds(windowStart, time.Minute)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 1, 0, 0, time.UTC), resetAt)

	idx1, _ := windowBounds(windowStart, time.Minute)
	idx2, _ := windowBounds(windowStart.Add(29*time.Second), time.Minute)
	idx3, _ := windowBounds(windowStart.Add(30*time.Second), time.Minute)
	assert.Equal(t, idx1, idx2)
	assert.Equal(t, idx1+1, idx3)
}

func TestMemoryStore_CountsWithinWindow(t *testing.T) {
	clk := clock.NewFake(windowStart)
	s := NewMemoryStore(clk)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, resetAt, err := s.Incr(ctx, "ip:1.1.1.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Equal(t, windowStart.Add(30*time.Second), resetAt)
	}

	n, _, err := s.Incr(ctx, "ip:2.2.2.2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "identifiers are counted independently")
}

func TestMemoryStore_WindowRollover(t *testing.T) {
	clk := clock.NewFake(windowStart)
	s := NewMemoryStore(clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := s.Incr(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	clk.Advance(30 * time.Second)

	n, resetAt, err := s.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 2, 0, 0, time.UTC), resetAt)
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	clk := clock.NewFake(windowStart)
	s := NewMemoryStore(clk)
	ctx := context.Background()

	_, _, _ = s.Incr(ctx, "a", time.Minute)
	_, _, _ = s.Incr(ctx, "b", time.Hour)
	require.Equal(t, 2, s.Len())

	assert.Zero(t, s.Sweep(), "nothing has expired yet")

	clk.Advance(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	s := NewMemoryStore(clock.NewFake(windowStart))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestRedisStore_CountsAndExpires(t *testing.T) {
	client, mr := setupMiniredis(t)
	clk := clock.NewFake(windowStart)
	s := NewRedisStore(client, clk)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, resetAt, err := s.Incr(ctx, "api_key:abc", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Equal(t, windowStart.Add(30*time.Second), resetAt)
	}

	idx, _ := windowBounds(windowStart, time.Minute)
	key := redisKeyPrefix + "api_key:abc:" + strconv.FormatInt(idx, 10)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))
}

func TestRedisStore_WindowRollover(t *testing.T) {
	client, _ := setupMiniredis(t)
	clk := clock.NewFake(windowStart)
	s := NewRedisStore(client, clk)
	ctx := context.Background()

	_, _, err := s.Incr(ctx, "ip:9.9.9.9", time.Minute)
	require.NoError(t, err)
	_, _, err = s.Incr(ctx, "ip:9.9.9.9", time.Minute)
	require.NoError(t, err)

	clk.Advance(time.Minute)

	n, _, err := s.Incr(ctx, "ip:9.9.9.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStore_SharedBetweenInstances(t *testing.T) {
	client, _ := setupMiniredis(t)
	clk := clock.NewFake(windowStart)
	a := NewRedisStore(client, clk)
	b := NewRedisStore(client, clk)
	ctx := context.Background()

	_, _, err := a.Incr(ctx, "ip:5.5.5.5", time.Minute)
	require.NoError(t, err)
	n, _, err := b.Incr(ctx, "ip:5.5.5.5", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStore_ErrorWhenUnavailable(t *testing.T) {
	client, mr := setupMiniredis(t)
	s := NewRedisStore(client, clock.NewFake(windowStart))
	mr.Close()

	_, _, err := s.Incr(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}
