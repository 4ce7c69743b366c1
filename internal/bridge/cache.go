// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package bridge

import (
	"sync"
	"time"
)

// DefaultCacheSize bounds the bridge cache when no size is configured.
const DefaultCacheSize = 50

type cacheKey struct {
	proxyID    string
	providerID string
}

type cacheEntry struct {
	bridge   *Bridge
	lastUsed time.Time
}

// Cache holds live bridges keyed by (proxy, provider) so repeated
// requests over the same route reuse the pair. Requests carrying their
// own credential bypass it entirely.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[cacheKey]*cacheEntry
	now     func() time.Time
}

// NewCache builds a cache bounded at max entries; max <= 0 means
// DefaultCacheSize.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{max: max, entries: map[cacheKey]*cacheEntry{}, now: time.Now}
}

// Get returns the cached bridge for the pair and marks it used.
func (c *Cache) Get(proxyID, providerID string) (*Bridge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey{proxyID, providerID}]
	if !ok {
		return nil, false
	}
	e.lastUsed = c.now()
	return e.bridge, true
}

// Put stores a bridge for the pair, evicting the least recently used
// entry when full.
func (c *Cache) Put(proxyID, providerID string, b *Bridge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{proxyID, providerID}
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{bridge: b, lastUsed: c.now()}
}

// evictOldest drops the entry with the smallest lastUsed. A scan is fine
// at the configured sizes.
func (c *Cache) evictOldest() {
	var (
		oldestKey cacheKey
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.lastUsed.Before(oldest) {
			oldestKey, oldest, found = k, e.lastUsed, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops every entry for the proxy.
func (c *Cache) Invalidate(proxyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.proxyID == proxyID {
			delete(c.entries, k)
		}
	}
}

// InvalidateProvider drops every entry bottoming out at the provider.
func (c *Cache) InvalidateProvider(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.providerID == providerID {
			delete(c.entries, k)
		}
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
