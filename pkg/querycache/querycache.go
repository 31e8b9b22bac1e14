// Package querycache provides an LRU result cache with a byte budget and
// path-based invalidation.
//
// Entries are keyed by a stable hash of the query string plus the options
// that affect results, so the same logical query always maps to the same
// slot. Each entry records the file paths that contributed to its results;
// when those paths change, the affected entries are dropped without
// touching the rest of the cache.
//
// Eviction is two-tiered: the LRU core bounds entry count, and a memory
// accountant evicts oldest entries until the configured byte budget holds.
package querycache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Config tunes the cache.
type Config struct {
	// MaxEntries bounds the number of cached results.
	MaxEntries int
	// MaxMemoryBytes bounds the accounted size of cached values. Zero
	// disables the byte budget.
	MaxMemoryBytes int64
	// TTL expires entries that have not been refreshed. Zero disables
	// expiry.
	TTL time.Duration
}

// DefaultConfig returns production cache defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     1024,
		MaxMemoryBytes: 64 << 20, // 64 MiB
		TTL:            5 * time.Minute,
	}
}

// Entry is a cached query result with its bookkeeping.
type Entry struct {
	Key       string
	Value     any
	Size      int64
	Paths     []string
	CreatedAt time.Time
	HitCount  int
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries       int     `json:"entries"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	MemoryUsage   int64   `json:"memory_usage"`
	EvictionCount int64   `json:"eviction_count"`
	Invalidations int64   `json:"invalidations"`
}

// Cache is a byte-budgeted LRU for query results. Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	lru    *simplelru.LRU[string, *Entry]
	byPath map[string]map[string]struct{}

	memUsage      int64
	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
}

// New creates a cache with the given config.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("querycache: MaxEntries must be positive, got %d", cfg.MaxEntries)
	}
	c := &Cache{
		cfg:    cfg,
		byPath: make(map[string]map[string]struct{}),
	}
	lru, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("querycache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu via the LRU's Add/Remove paths.
func (c *Cache) onEvict(key string, entry *Entry) {
	c.memUsage -= entry.Size
	c.evictions++
	for _, path := range entry.Paths {
		if keys, ok := c.byPath[path]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byPath, path)
			}
		}
	}
}

// Key derives the stable cache key for a query and an options fingerprint.
// The fingerprint must include every option that changes results.
func Key(query, optionsFingerprint string) string {
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(optionsFingerprint))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Get returns the cached value for key, if present and fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.cfg.TTL > 0 && time.Since(entry.CreatedAt) > c.cfg.TTL {
		c.lru.Remove(key)
		c.evictions-- // expiry, not pressure
		c.misses++
		return nil, false
	}
	entry.HitCount++
	c.hits++
	return entry.Value, true
}

// Put stores a value with its accounted size and contributing paths, then
// evicts oldest entries until the byte budget holds. A value larger than
// the whole budget is not cached.
func (c *Cache) Put(key string, value any, size int64, paths []string) {
	if c.cfg.MaxMemoryBytes > 0 && size > c.cfg.MaxMemoryBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace any stale entry under the same key first so its size and
	// path index entries are released. Replacement is not a pressure
	// eviction.
	if c.lru.Remove(key) {
		c.evictions--
	}

	entry := &Entry{
		Key:       key,
		Value:     value,
		Size:      size,
		Paths:     append([]string(nil), paths...),
		CreatedAt: time.Now(),
	}
	c.lru.Add(key, entry)
	c.memUsage += size
	for _, path := range paths {
		keys, ok := c.byPath[path]
		if !ok {
			keys = make(map[string]struct{})
			c.byPath[path] = keys
		}
		keys[key] = struct{}{}
	}

	if c.cfg.MaxMemoryBytes > 0 {
		for c.memUsage > c.cfg.MaxMemoryBytes && c.lru.Len() > 0 {
			c.lru.RemoveOldest()
		}
	}
}

// InvalidatePaths drops every entry whose results depended on any of the
// given paths. Returns the number of entries removed.
func (c *Cache) InvalidatePaths(paths []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	for _, path := range paths {
		for key := range c.byPath[path] {
			seen[key] = struct{}{}
		}
	}
	for key := range seen {
		c.lru.Remove(key)
		c.evictions-- // invalidation, not pressure
		c.invalidations++
	}
	return len(seen)
}

// Purge empties the cache. Counters are preserved.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	evictionsBefore := c.evictions
	c.lru.Purge()
	c.evictions = evictionsBefore
	c.byPath = make(map[string]map[string]struct{})
	c.memUsage = 0
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache counters and the current hit rate.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:       c.lru.Len(),
		Hits:          c.hits,
		Misses:        c.misses,
		MemoryUsage:   c.memUsage,
		EvictionCount: c.evictions,
		Invalidations: c.invalidations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
