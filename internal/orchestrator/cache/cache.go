// Package cache provides a TTL-based cache for convergence outputs, so
// repeated convergence calls over an unchanged group state stay cheap and
// idempotent.
package cache

import (
	"errors"
	"sync"
	"time"
)

var errEmptyKey = errors.New("cache key cannot be empty")

const cleanupInterval = 1 * time.Minute

// entry is a cached value with expiration metadata
type entry struct {
	value     any
	cachedAt  time.Time
	expiresAt time.Time
}

// Cache caches values for retrieval with TTL-based expiration
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	done    chan struct{} // Signal to stop cleanup goroutine
}

// New creates a cache with the specified TTL and starts a background
// cleanup goroutine that removes expired entries.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Store caches a value under key with the configured TTL
func (c *Cache) Store(key string, value any) error {
	if key == "" {
		return errEmptyKey
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		value:     value,
		cachedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
	return nil
}

// Get returns the cached value for key, or false when missing or expired
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Invalidate removes any cached value for key
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	close(c.done)
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
