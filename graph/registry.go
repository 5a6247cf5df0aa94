// Package graph implements the Graph Builder (spec §4.2) over the Pool
// Oracle contract: a directed multigraph with parallel-edge compression and
// numeric-ID flat-array adjacency, adapted from the donor's
// protocols/tokenpoolregistry.Registry (itself built around addEdge/add/
// removePool/removeToken/compact over a pool-indexed clique) generalized to
// carry the spec's per-edge weight/cap fields and apply §4.2's
// second-best-within-50bps compression rule.
package graph

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
)

var (
	// ErrTokenDictionaryInconsistent is the one way the builder fails as a
	// whole, per §4.2's error model ("never fails as a whole unless the
	// token dictionary is inconsistent").
	ErrTokenDictionaryInconsistent = errors.New("graph: token dictionary is inconsistent with pool token slots")

	minUnit            = big.NewInt(1)
	probeCap           = big.NewFloat(1e9)
	shallowPoolImpact  = 0.05
	parallelEdgeBpsTol = 0.005 // 50 basis points
)

// Registry holds the graph's token/pool bijections and the directed
// adjacency. It is not safe for concurrent mutation by itself — System
// (system.go) wraps it with the single-writer/many-readers discipline
// spec §5 requires.
type Registry struct {
	tokenToID map[common.Address]TokenID
	tokens    []Token

	poolToID  map[common.Address]PoolID
	poolAddrs []common.Address
	pools     map[PoolID]pool.Pool

	// rawEdges holds every surviving edge before parallel-edge compression,
	// keyed by (from, poolID) so a single pool's update can be applied
	// without touching any other pool's contribution to the same `from`.
	rawEdges map[TokenID]map[PoolID]Edge

	// adjacency holds the compressed, score-sorted edge list consumed by
	// the search. Rebuilt per-token by compactToken, not globally.
	adjacency map[TokenID][]Edge
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tokenToID: make(map[common.Address]TokenID),
		poolToID:  make(map[common.Address]PoolID),
		pools:     make(map[PoolID]pool.Pool),
		rawEdges:  make(map[TokenID]map[PoolID]Edge),
		adjacency: make(map[TokenID][]Edge),
	}
}

// TokenID looks up a token's dense ID by address.
func (r *Registry) TokenID(addr common.Address) (TokenID, bool) {
	id, ok := r.tokenToID[addr]
	return id, ok
}

// Token returns the token metadata for an ID.
func (r *Registry) Token(id TokenID) (Token, bool) {
	if id < 0 || int(id) >= len(r.tokens) {
		return Token{}, false
	}
	return r.tokens[id], true
}

// TokenCount feeds the heuristic cache key (§4.3); PoolCount reports the
// number of pool IDs assigned.
func (r *Registry) TokenCount() int { return len(r.tokens) }
func (r *Registry) PoolCount() int  { return len(r.poolAddrs) }

// EdgeCount sums the compressed adjacency, also part of the heuristic cache key.
func (r *Registry) EdgeCount() int {
	n := 0
	for _, edges := range r.adjacency {
		n += len(edges)
	}
	return n
}

func (r *Registry) getOrCreateToken(addr common.Address, symbol string, decimals uint8) TokenID {
	if id, ok := r.tokenToID[addr]; ok {
		return id
	}
	id := TokenID(len(r.tokens))
	r.tokens = append(r.tokens, Token{Addr: addr, Symbol: symbol, Decimals: decimals})
	r.tokenToID[addr] = id
	return id
}

// Edges returns the compressed, score-sorted outgoing edge list for a token.
// The returned slice must not be mutated by the caller.
func (r *Registry) Edges(from TokenID) []Edge {
	return r.adjacency[from]
}

// Pool returns the live pool backing a PoolID.
func (r *Registry) Pool(id PoolID) (pool.Pool, bool) {
	p, ok := r.pools[id]
	return p, ok
}

// AddPool inserts or replaces a pool's two directional edges, per §4.2's
// validity filters, and recompresses only the two `from` tokens it touches.
func (r *Registry) AddPool(p pool.Pool) error {
	slots := p.Tokens()
	if slots[0].Addr == slots[1].Addr {
		return fmt.Errorf("%w: pool %s has identical token slots", ErrTokenDictionaryInconsistent, p.Addr())
	}

	poolID, ok := r.poolToID[p.Addr()]
	if !ok {
		poolID = PoolID(len(r.poolAddrs))
		r.poolAddrs = append(r.poolAddrs, p.Addr())
		r.poolToID[p.Addr()] = poolID
	}
	r.pools[poolID] = p

	fromA := r.getOrCreateToken(slots[0].Addr, "", slots[0].Decimals)
	fromB := r.getOrCreateToken(slots[1].Addr, "", slots[1].Decimals)

	r.setDirectedEdge(fromA, fromB, poolID, p, slots[0], slots[1])
	r.setDirectedEdge(fromB, fromA, poolID, p, slots[1], slots[0])

	r.compactToken(fromA)
	r.compactToken(fromB)
	return nil
}

// setDirectedEdge computes (or removes) the from->to edge for one pool, per
// §4.2's validity filters, storing the uncompressed result in rawEdges.
func (r *Registry) setDirectedEdge(from, to TokenID, poolID PoolID, p pool.Pool, fromSlot, toSlot pool.TokenSlot) {
	if _, ok := r.rawEdges[from]; !ok {
		r.rawEdges[from] = make(map[PoolID]Edge)
	}

	if !edgeValid(fromSlot.ReserveRaw, toSlot.ReserveRaw) {
		delete(r.rawEdges[from], poolID)
		return
	}

	fromAddr, toAddr := fromSlot.Addr, toSlot.Addr
	spotPrice := p.SpotPrice(fromAddr, toAddr)
	if spotPrice <= 0 {
		delete(r.rawEdges[from], poolID)
		return
	}
	if !passesShallowPoolCheck(fromSlot.ReserveRaw) {
		delete(r.rawEdges[from], poolID)
		return
	}

	logSpotPrice := math.Log(spotPrice + 1e-9)
	liquidityScore := liquidityScoreOf(fromSlot.ReserveRaw, toSlot.ReserveRaw)
	score := logSpotPrice + math.Log(liquidityScore+1e-9)
	dxCap := dxCapRaw(fromSlot.ReserveRaw, toSlot.ReserveRaw, p.FeeRational())

	r.rawEdges[from][poolID] = Edge{
		To:             to,
		PoolID:         poolID,
		SpotPrice:      spotPrice,
		LogSpotPrice:   logSpotPrice,
		LiquidityScore: liquidityScore,
		Score:          score,
		DxCapRaw:       dxCap,
	}
}

func edgeValid(reserveIn, reserveOut *big.Int) bool {
	return reserveIn != nil && reserveOut != nil &&
		reserveIn.Cmp(minUnit) >= 0 && reserveOut.Cmp(minUnit) >= 0
}

// passesShallowPoolCheck implements §4.2's literal probe-price-impact rule:
// min(0.001*reserveIn, 1e9) / (reserveIn + probe) <= 5%.
func passesShallowPoolCheck(reserveIn *big.Int) bool {
	reserveInF := new(big.Float).SetInt(reserveIn)
	probe := new(big.Float).Mul(reserveInF, big.NewFloat(0.001))
	if probe.Cmp(probeCap) > 0 {
		probe = new(big.Float).Set(probeCap)
	}
	denom := new(big.Float).Add(reserveInF, probe)
	if denom.Sign() <= 0 {
		return false
	}
	impact := new(big.Float).Quo(probe, denom)
	impactF, _ := impact.Float64()
	return impactF <= shallowPoolImpact
}

func liquidityScoreOf(reserveIn, reserveOut *big.Int) float64 {
	inF, _ := new(big.Float).SetInt(reserveIn).Float64()
	outF, _ := new(big.Float).SetInt(reserveOut).Float64()
	if inF <= 0 || outF <= 0 {
		return 0
	}
	return math.Sqrt(inF * outF)
}

// dxCapRaw solves the constant-product closed form for removing 95% of
// reserveOut, irrespective of the pool's actual variant — §4.2 is explicit
// that this is a coarse per-edge cap, not a correctness bound.
func dxCapRaw(reserveIn, reserveOut *big.Int, feeRational float64) *big.Int {
	target := new(big.Int).Mul(reserveOut, big.NewInt(95))
	target.Div(target, big.NewInt(100))

	feeBps := uint16(feeRational * 10000)
	cap, err := constantproduct.GetAmountIn(target, reserveIn, reserveOut, feeBps)
	if err != nil {
		// Large sentinel, per §3's "defaults to a large sentinel if any hop
		// is uncapped".
		return new(big.Int).Lsh(big.NewInt(1), 200)
	}
	return cap
}

// compactToken rebuilds the compressed adjacency for a single `from` token:
// sort by score descending, then keep the best edge per `to`, plus the
// second-best iff within 50bps of spot price (§4.2).
func (r *Registry) compactToken(from TokenID) {
	raw := r.rawEdges[from]
	all := make([]Edge, 0, len(raw))
	for _, e := range raw {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		// Deterministic secondary key (§4.4's determinism requirement).
		return all[i].PoolID < all[j].PoolID
	})

	bestByTo := make(map[TokenID][]Edge, len(all))
	order := make([]TokenID, 0, len(all))
	for _, e := range all {
		if _, seen := bestByTo[e.To]; !seen {
			order = append(order, e.To)
		}
		bestByTo[e.To] = append(bestByTo[e.To], e)
	}

	compressed := make([]Edge, 0, len(all))
	for _, to := range order {
		group := bestByTo[to]
		best := group[0]
		compressed = append(compressed, best)
		if len(group) > 1 {
			second := group[1]
			if best.SpotPrice > 0 {
				diff := math.Abs(second.SpotPrice-best.SpotPrice) / best.SpotPrice
				if diff <= parallelEdgeBpsTol {
					compressed = append(compressed, second)
				}
			}
		}
	}

	sort.Slice(compressed, func(i, j int) bool {
		if compressed[i].Score != compressed[j].Score {
			return compressed[i].Score > compressed[j].Score
		}
		return compressed[i].PoolID < compressed[j].PoolID
	})

	if len(compressed) == 0 {
		delete(r.adjacency, from)
		return
	}
	r.adjacency[from] = compressed
}

// RemovePool drops a pool's contribution to the graph (PoolDisabled, §4.9).
func (r *Registry) RemovePool(addr common.Address) {
	poolID, ok := r.poolToID[addr]
	if !ok {
		return
	}
	delete(r.pools, poolID)
	touched := make(map[TokenID]struct{})
	for from, edges := range r.rawEdges {
		if _, ok := edges[poolID]; ok {
			delete(edges, poolID)
			touched[from] = struct{}{}
		}
	}
	for from := range touched {
		r.compactToken(from)
	}
}

// View returns a deep-copied snapshot for inspection and fixture-building
// (SPEC_FULL §C), mirroring the donor's TokenPoolRegistryView pattern.
func (r *Registry) View() View {
	v := View{
		Tokens:    make([]Token, len(r.tokens)),
		PoolAddrs: make([]common.Address, len(r.poolAddrs)),
		Adjacency: make(map[TokenID][]Edge, len(r.adjacency)),
	}
	copy(v.Tokens, r.tokens)
	copy(v.PoolAddrs, r.poolAddrs)
	for from, edges := range r.adjacency {
		cp := make([]Edge, len(edges))
		copy(cp, edges)
		v.Adjacency[from] = cp
	}
	return v
}

// Build constructs a Registry from a pool set in one pass, per §4.2's
// top-level contract: given an iterable of Pool, return the adjacency plus
// bijections.
func Build(pools []pool.Pool) (*Registry, error) {
	r := NewRegistry()
	for _, p := range pools {
		if err := r.AddPool(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
