package heuristic

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Key is the heuristic cache key per §4.3: (tokenCount, edgeCount,
// targetAddr, gasPerHopPenalty). Insensitive to in-place weight edits —
// a deliberate precision/reuse trade the spec calls out explicitly.
type Key struct {
	TokenCount       int
	EdgeCount        int
	Target           common.Address
	GasPerHopPenalty float64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%s:%g", k.TokenCount, k.EdgeCount, k.Target.Hex(), k.GasPerHopPenalty)
}

// Cache is satisfied by both the default in-process cache and the optional
// Redis-backed one (rediscache.go), so callers can swap implementations
// without touching the search package.
type Cache interface {
	Get(key Key) (Table, bool)
	Put(key Key, table Table)
	// Invalidate drops every entry keyed on the given (tokenCount,
	// edgeCount) shape — the dispatcher calls this with the pre-mutation
	// shape on PoolCreated/PoolDisabled (§4.9), since entries keyed on that
	// now-stale shape can no longer be trusted.
	Invalidate(tokenCount, edgeCount int)
}

// MemCache is a concurrent in-process map. Per §5: "producers must treat a
// cache hit as authoritative and a miss as compute-and-store, last writer
// wins; stale entries are acceptable."
type MemCache struct {
	mu      sync.RWMutex
	entries map[Key]Table
}

func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[Key]Table)}
}

func (c *MemCache) Get(key Key) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[key]
	return t, ok
}

func (c *MemCache) Put(key Key, table Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Last writer wins, per §5 — no compare-and-swap needed.
	c.entries[key] = table
}

// Invalidate drops every entry keyed on the given (tokenCount, edgeCount)
// shape — the dispatcher calls this with the pre-mutation shape when a
// PoolCreated/PoolDisabled event changes topology (§4.9), since entries
// keyed on that now-stale shape can no longer be trusted.
func (c *MemCache) Invalidate(tokenCount, edgeCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.TokenCount == tokenCount && k.EdgeCount == edgeCount {
			delete(c.entries, k)
		}
	}
}

// CacheMetricsRecorder is the minimal surface GetOrCompute needs from the
// metrics package; defined locally so this package does not import metrics.
type CacheMetricsRecorder interface {
	IncCacheHit()
	IncCacheMiss()
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) IncCacheHit()  {}
func (noopCacheMetrics) IncCacheMiss() {}

// GetOrCompute is the idiom every caller should use: a cache hit is
// authoritative even if stale; a miss computes, stores, and returns. m may
// be nil, in which case hits/misses go unrecorded.
func GetOrCompute(c Cache, key Key, m CacheMetricsRecorder, compute func() Table) Table {
	if m == nil {
		m = noopCacheMetrics{}
	}
	if t, ok := c.Get(key); ok {
		m.IncCacheHit()
		return t
	}
	m.IncCacheMiss()
	t := compute()
	c.Put(key, t)
	return t
}
