// Package cache provides an in-memory key/value store with per-entry TTLs,
// intended as an optional memoization layer around statement execution. It is
// process-local; entries and counters do not survive a restart.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lakequery/lakequery/internal/observability"
)

var ErrInvalidArgument = errors.New("invalid argument")

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Cache is safe for concurrent use. Expired entries are purged lazily by the
// Get that observes them; there is no background sweeper.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	now func() time.Time
}

type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func New() *Cache {
	return &Cache{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// Get returns the value stored under key. An unknown key or an expired entry
// counts as a miss; an expired entry is removed as a side effect.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		c.misses++
		observability.IncrementCacheMiss()
		return nil, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.entries, key)
		c.misses++
		observability.IncrementCacheMiss()
		return nil, false
	}
	c.hits++
	observability.IncrementCacheHit()
	return item.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: cache key must not be empty", ErrInvalidArgument)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidArgument, ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]entry{}
}

// Stats counters are monotonic for the lifetime of the instance; Clear does
// not reset them.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// GetTyped is a typed convenience over Get. A stored value of a different
// type is treated as a lookup failure, not an error.
func GetTyped[T any](c *Cache, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return value, true
}
