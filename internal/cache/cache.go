// Package cache is the TTL-keyed store of prior operation results.
//
// DESIGN: Entries past their TTL are treated as absent even before eviction:
// expiry is checked lazily on every Get, and a background sweep bounds memory
// between reads. Values are stored as raw JSON bytes so a hit returns exactly
// the bytes a fresh call would have produced.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a TTL map with lazy plus periodic eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// New creates a cache and starts its background sweeper.
func New(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweeper(sweepInterval)
	return c
}

// Get returns the cached value, treating expired entries as misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > e.ttl {
		c.mu.Lock()
		// Re-check: a concurrent Put may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && c.now().Sub(cur.insertedAt) > cur.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Put stores a value. A non-positive TTL disables caching for the entry.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Sweep removes every expired entry.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) > e.ttl {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the background sweeper.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cache) sweeper(interval time.Duration) {
	defer close(c.done)

	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
