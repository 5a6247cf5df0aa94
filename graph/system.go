package graph

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sor/router-core/pool"
)

// System provides the concurrency-safe layer spec §5 requires: a single
// writer serialized through mu, and many lock-free readers served from an
// atomically-swapped snapshot. Adapted from the donor's
// protocols/tokenpoolregistry.TokenPoolSystem, which uses the identical
// sync.RWMutex + atomic.Pointer discipline for the same reason — the search
// hot path must never block on a writer holding the registry lock.
type System struct {
	mu       sync.RWMutex
	registry *Registry

	// snapshot is an immutable, read-optimized copy of the registry's
	// adjacency and bijections. Readers load it without taking mu.
	snapshot atomic.Pointer[Snapshot]
}

// Snapshot is the read-optimized structure handed to every
// search.FindTopKRoutes call: a frozen adjacency plus the pool lookup needed
// to evaluate edges.
// It is never mutated after publication — a writer always builds a new one.
type Snapshot struct {
	Tokens    []Token
	TokenToID map[common.Address]TokenID
	PoolAddrs []common.Address
	Pools     map[PoolID]pool.Pool
	Adjacency map[TokenID][]Edge
}

// NewSystem wraps an empty Registry in the concurrency-safe System.
func NewSystem() *System {
	s := &System{registry: NewRegistry()}
	s.publish()
	return s
}

// NewSystemFromPools builds a System from a one-shot pool set (SPEC_FULL §C,
// e.g. replaying a bootstrap snapshot before subscribing to live updates).
func NewSystemFromPools(pools []pool.Pool) (*System, error) {
	r, err := Build(pools)
	if err != nil {
		return nil, err
	}
	s := &System{registry: r}
	s.publish()
	return s, nil
}

// publish must be called with mu held (for writes) or during construction.
func (s *System) publish() {
	snap := &Snapshot{
		Tokens:    append([]Token(nil), s.registry.tokens...),
		TokenToID: make(map[common.Address]TokenID, len(s.registry.tokenToID)),
		PoolAddrs: append([]common.Address(nil), s.registry.poolAddrs...),
		Pools:     make(map[PoolID]pool.Pool, len(s.registry.pools)),
		Adjacency: make(map[TokenID][]Edge, len(s.registry.adjacency)),
	}
	for addr, id := range s.registry.tokenToID {
		snap.TokenToID[addr] = id
	}
	for id, p := range s.registry.pools {
		snap.Pools[id] = p
	}
	for from, edges := range s.registry.adjacency {
		cp := make([]Edge, len(edges))
		copy(cp, edges)
		snap.Adjacency[from] = cp
	}
	s.snapshot.Store(snap)
}

// AddPool inserts or replaces a pool (a PoolCreated event, or a reserve or
// fee update, §4.9) under the write lock.
func (s *System) AddPool(p pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.AddPool(p); err != nil {
		return err
	}
	s.publish()
	return nil
}

// AddPools applies a batch of pool updates as a single published snapshot,
// mirroring the donor's AddPools batching-for-one-publish optimization.
func (s *System) AddPools(pools []pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pools {
		if err := s.registry.AddPool(p); err != nil {
			return err
		}
	}
	s.publish()
	return nil
}

// RemovePool applies a PoolDisabled event (§4.9).
func (s *System) RemovePool(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.RemovePool(addr)
	s.publish()
}

// Snapshot returns the current lock-free read snapshot. Callers must treat
// it as immutable; it is safe to hold across a long-running search because a
// writer never mutates a published Snapshot in place.
func (s *System) Snapshot() *Snapshot {
	snap := s.snapshot.Load()
	if snap == nil {
		return &Snapshot{}
	}
	return snap
}

// View returns a deep-copied, JSON-serializable graph view (SPEC_FULL §C).
func (s *System) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.View()
}

func (sn *Snapshot) TokenID(addr common.Address) (TokenID, bool) {
	id, ok := sn.TokenToID[addr]
	return id, ok
}

func (sn *Snapshot) Edges(from TokenID) []Edge {
	return sn.Adjacency[from]
}

func (sn *Snapshot) Pool(id PoolID) (pool.Pool, bool) {
	p, ok := sn.Pools[id]
	return p, ok
}
