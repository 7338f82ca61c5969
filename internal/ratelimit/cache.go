package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gradewise/meter/internal/clock"
)

// OverrideFinder looks up the active override for a target. It returns
// nil, nil when there is none.
type OverrideFinder interface {
	FindActive(ctx context.Context, targetType IdentifierType, targetID string, now time.Time) (*Override, error)
}

type cachedOverride struct {
	override  *Override
	fetchedAt time.Time
}

// OverrideCache keeps override lookups, including misses, for ttl. A failed
// lookup is logged and treated as no override without being cached.
type OverrideCache struct {
	finder OverrideFinder
	clock  clock.Clock
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]cachedOverride
}

// NewOverrideCache creates an OverrideCache in front of finder.
func NewOverrideCache(finder OverrideFinder, ttl time.Duration, clk clock.Clock) *OverrideCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &OverrideCache{
		finder:  finder,
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]cachedOverride),
	}
}

func cacheKey(targetType IdentifierType, targetID string) string {
	return string(targetType) + ":" + targetID
}

// Get returns the override for the target that is active now, or nil.
func (c *OverrideCache) Get(ctx context.Context, targetType IdentifierType, targetID string) *Override {
	now := c.clock.Now()
	key := cacheKey(targetType, targetID)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || now.Sub(entry.fetchedAt) >= c.ttl {
		o, err := c.finder.FindActive(ctx, targetType, targetID, now)
		if err != nil {
			slog.Warn("ratelimit: override lookup failed", "target_type", targetType, "target_id", targetID, "error", err)
			return nil
		}
		entry = cachedOverride{override: o, fetchedAt: now}

		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
	}

	// A cached override can expire before the entry does.
	if entry.override != nil && !entry.override.ActiveAt(now) {
		return nil
	}
	return entry.override
}

// Invalidate drops the cached entry for a target so the next Get reloads it.
func (c *OverrideCache) Invalidate(targetType IdentifierType, targetID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(targetType, targetID))
	c.mu.Unlock()
}

// Purge drops entries older than the TTL.
func (c *OverrideCache) Purge() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

// Run purges stale entries every interval until ctx is done.
func (c *OverrideCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
