package fhirpath

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// CacheStats is a snapshot of a Cache's hit/miss counters.
type CacheStats struct {
	Gets int64
	Hits int64
	Size int
}

// HitRate returns Hits/Gets, or 0 when no lookups have happened yet.
func (s CacheStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Gets)
}

// Cache is a size-bounded, thread-safe LRU cache of parsed expressions keyed
// by their source text, backed by hashicorp/golang-lru's simplelru so a
// single mutex covers both the LRU bookkeeping and the stats counters.
//
// Clear evicts every cached entry but leaves the hit/miss counters alone;
// only ResetStats zeroes them. This lets a caller purge stale entries (e.g.
// after an expression-builder config change) without losing the running
// hit-rate signal.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.LRU[string, *Ast]
	gets  int64
	hits  int64
}

// NewCache builds a Cache holding at most size parsed expressions. size < 1
// is rejected outright rather than silently clamped: a cache that can't hold
// at least one entry isn't a cache, it's a bug in the caller.
func NewCache(size int) (*Cache, error) {
	if size < 1 {
		return nil, fmt.Errorf("fhirpath: cache size must be at least 1, got %d", size)
	}
	inner, _ := lru.NewLRU[string, *Ast](size, nil)
	return &Cache{lru: inner}, nil
}

// Get looks up expr, reporting a hit/miss and promoting a hit to
// most-recently-used.
func (c *Cache) Get(expr string) (*Ast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	ast, ok := c.lru.Get(expr)
	if ok {
		c.hits++
	}
	return ast, ok
}

// Put inserts ast under expr, evicting the single least-recently-used entry
// if the cache is at capacity.
func (c *Cache) Put(expr string, ast *Ast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(expr, ast)
}

// Clear empties the cache without touching Gets/Hits.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// ResetStats zeroes Gets and Hits without evicting cached entries.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = 0
	c.hits = 0
}

// Stats returns a snapshot of the current counters and cache size.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Gets: c.gets, Hits: c.hits, Size: c.lru.Len()}
}
