package crawl

import (
	"sync"
	"time"
)

// Cache stores extracted record sets keyed by resource identifier with a
// fixed TTL. Entries expire by timestamp comparison on read; there is no
// eviction goroutine.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   Clock
	entries map[string]cacheEntry
}

type cacheEntry struct {
	records   RecordSet
	fetchedAt time.Time
}

// NewCache constructs a Cache with the given TTL.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the live entry for key, if any. An entry at or past its TTL is
// never served.
func (c *Cache) Get(key string) (RecordSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return RecordSet{}, false
	}
	if c.clock.Now().Sub(entry.fetchedAt) >= c.ttl {
		return RecordSet{}, false
	}
	return entry.records, true
}

// Put stores a freshly extracted record set, stamping it with the current
// time. Stale entries for the key are overwritten.
func (c *Cache) Put(key string, records RecordSet) {
	now := c.clock.Now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, fetchedAt: now}
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
