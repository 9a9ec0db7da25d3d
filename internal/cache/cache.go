// Package cache provides the TTL-bounded answer cache.
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time; injectable for tests.
type Clock func() time.Time

type entry struct {
	value      string
	insertedAt time.Time
}

// Cache is an exact-string-keyed answer cache. Entries expire after a fixed
// TTL measured from insertion; lookups after expiry are misses and evict the
// entry lazily.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     Clock

	onEviction func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the cache clock.
func WithClock(now Clock) Option {
	return func(c *Cache) { c.now = now }
}

// WithEvictionHook registers a callback invoked on each lazy eviction.
func WithEvictionHook(fn func()) Option {
	return func(c *Cache) { c.onEviction = fn }
}

// New creates a cache with the given TTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set inserts or replaces the answer for a question.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, insertedAt: c.now()}
}

// Get returns the cached answer for a question. An expired entry is evicted
// and reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		if c.onEviction != nil {
			c.onEviction()
		}
		return "", false
	}
	return e.value, true
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, including not-yet-evicted
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
