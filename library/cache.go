package library

import (
	"sync"
	"time"
)

// resultCache is a TTL cache over lookup results, bounded by capacity. When
// it grows past capacity the oldest fifth of entries is dropped; insertion
// order is tracked explicitly so eviction does not depend on map iteration.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   []string // insertion order, oldest first; may hold stale keys
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     Result
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, max int) *resultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if max <= 0 {
		max = 500
	}
	return &resultCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheEntry, max),
	}
}

func (c *resultCache) get(key string, now time.Time) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.value, true
}

func (c *resultCache) set(key string, value Result, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(c.ttl)}
	if len(c.entries) > c.max {
		c.evictOldestLocked(len(c.entries) / 5)
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	c.order = nil
	c.entries = make(map[string]cacheEntry, c.max)
	c.mu.Unlock()
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *resultCache) evictOldestLocked(n int) {
	if n <= 0 {
		n = 1
	}
	removed := 0
	idx := 0
	for idx < len(c.order) && removed < n {
		key := c.order[idx]
		idx++
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	c.order = c.order[idx:]
}
