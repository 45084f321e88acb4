package cache

import (
	"context"
	"sync"
	"time"

	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now returns f()
func (f ClockFunc) Now() time.Time { return f() }

type entry struct {
	record    types.MediaRecord
	expiresAt time.Time
}

// ResolutionCache holds resolved records per (platform, id) with lazy expiry
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   Clock
	ttl     time.Duration
}

// NewResolutionCache creates a cache whose entries live for ttl by default
func NewResolutionCache(ttl time.Duration, clock Clock) *ResolutionCache {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	return &ResolutionCache{
		entries: make(map[string]entry),
		clock:   clock,
		ttl:     ttl,
	}
}

func key(p types.Platform, id string) string {
	return string(p) + ":" + id
}

// Get returns a copy of the record if present and unexpired
func (c *ResolutionCache) Get(p types.Platform, id string) (types.MediaRecord, bool) {
	k := key(p, id)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return types.MediaRecord{}, false
	}

	if !c.clock.Now().Before(e.expiresAt) {
		c.mu.Lock()
		// re-check, a concurrent Set may have refreshed it
		if cur, ok := c.entries[k]; ok && !c.clock.Now().Before(cur.expiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return types.MediaRecord{}, false
	}

	return e.record.Clone(), true
}

// Set stores a copy of rec; ttl <= 0 uses the cache default
func (c *ResolutionCache) Set(p types.Platform, id string, rec types.MediaRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key(p, id)] = entry{record: rec.Clone(), expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete drops one entry
func (c *ResolutionCache) Delete(p types.Platform, id string) {
	c.mu.Lock()
	delete(c.entries, key(p, id))
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *ResolutionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the default entry lifetime
func (c *ResolutionCache) TTL() time.Duration {
	return c.ttl
}

// Sweep removes expired entries and returns how many were dropped
func (c *ResolutionCache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is done
func (c *ResolutionCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
