package gate

import (
	"sync"
	"time"

	"github.com/uke16/Helix-sub002/internal/model"
)

type cacheEntry struct {
	result  *model.GateResult
	expires time.Time
}

// resultCache is a small TTL cache for gate results. Entries expire
// after the TTL and the map is pruned on insert once it exceeds the
// size cap, so a long run cannot grow it without bound.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get returns a copy so callers cannot mutate the cached result.
func (c *resultCache) get(key string) *model.GateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil
	}
	cp := *entry.result
	return &cp
}

func (c *resultCache) set(key string, result *model.GateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.prune()
	}
	cp := *result
	c.entries[key] = cacheEntry{result: &cp, expires: time.Now().Add(c.ttl)}
}

// prune drops expired entries, then arbitrary ones if still full.
// Caller holds the lock.
func (c *resultCache) prune() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.maxSize {
			break
		}
		delete(c.entries, k)
	}
}
