package enrich

import (
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/pkg/lookup"
)

// Cache holds successful lookup results keyed by item identity. It is safe
// for concurrent use and is shared across sessions by the caller; nothing in
// this package keeps a global instance.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[uint64]cacheEntry
	now        func() time.Time
}

type cacheEntry struct {
	result   lookup.Result
	storedAt time.Time
}

// NewCache creates a cache. ttl <= 0 disables expiry; maxEntries <= 0
// disables the size bound.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[uint64]cacheEntry),
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// CacheKey hashes the normalized name, brand and catalog number of an item.
func CacheKey(item lookup.Item) uint64 {
	parts := []string{
		schema.NormalizeHeader(item.Name),
		schema.NormalizeHeader(item.Brand),
		schema.NormalizeHeader(item.CatalogNumber),
	}
	return xxh3.HashString(strings.Join(parts, "|"))
}

// Get returns a fresh cached result.
func (c *Cache) Get(item lookup.Item) (lookup.Result, bool) {
	if c == nil {
		return lookup.Result{}, false
	}
	key := CacheKey(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return lookup.Result{}, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return lookup.Result{}, false
	}
	return e.result, true
}

// Put stores a result, evicting expired entries and then the oldest entries
// when the cache is full.
func (c *Cache) Put(item lookup.Item, r lookup.Result) {
	if c == nil {
		return
	}
	key := CacheKey(item)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{result: r, storedAt: c.now()}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl
}

func (c *Cache) evictLocked() {
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.storedAt.Before(oldest) {
				oldestKey, oldest, first = k, e.storedAt, false
			}
		}
		delete(c.entries, oldestKey)
	}
}
