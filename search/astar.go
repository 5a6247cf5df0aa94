// Package search implements the A* Top-K Search (spec §4.4): a beam-bounded
// best-first expansion over the graph, admissible under the Reverse-Dijkstra
// heuristic, producing up to K distinct, pool-sequence-deduplicated paths.
//
// Grounded on the donor's other_examples PathFinder.FindBestPaths
// (container/heap priority queue keyed on running output, bestAmountPerToken
// dominance pruning, pathContainsToken cycle prevention) generalized into a
// true A* with a heuristic, a visited-bitset instead of linear scans, a
// beam-bounded frontier, and a parent-pointer arena for O(1) expansion
// instead of copying the path slice on every push.
package search

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/crypto/sha3"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/graph/bitset"
	"github.com/sor/router-core/heuristic"
)

const (
	MaxIterations = 50000
	WallClockBudget = 5 * time.Second
)

var ErrInvalidRequest = errors.New("search: source and target must differ")

// Path is a reconstructed route: an ordered token/pool sequence plus its
// realized score and per-hop capacity bound.
type Path struct {
	Tokens    []graph.TokenID
	Pools     []graph.PoolID
	Score     float64 // realized g at the terminal node
	CapRaw    *big.Int
	Discovery int // insertion order, used as the tie-break (§4.4)
}

// Result is findTopKRoutes's return value, including the budget-exceeded
// flag §5/§7 require every long-running loop to surface instead of erroring.
type Result struct {
	Paths          []Path
	BudgetExceeded bool
}

// arenaState is one A* search state, addressed by its arena index so the
// frontier and candidate heaps hold small integer handles rather than
// pointers into a growing path slice (design note in spec §9).
type arenaState struct {
	node      graph.TokenID
	parent    int // arena index, -1 for the seed state
	poolTaken graph.PoolID
	capTaken  *big.Int // edge.DxCapRaw of the edge taken from parent
	visited   bitset.BitSet
	g         float64
	prio      float64
	hops      int
	prevNode  graph.TokenID
	discovery int
}

type frontierHeap struct {
	arena *[]arenaState
	idx   []int
}

func (h frontierHeap) Len() int { return len(h.idx) }
func (h frontierHeap) Less(i, j int) bool {
	return (*h.arena)[h.idx[i]].prio > (*h.arena)[h.idx[j]].prio
}
func (h frontierHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *frontierHeap) Push(x any)   { h.idx = append(h.idx, x.(int)) }
func (h *frontierHeap) Pop() any {
	old := h.idx
	n := len(old)
	item := old[n-1]
	h.idx = old[:n-1]
	return item
}

type candidateHeap struct{ paths []Path }

func (h candidateHeap) Len() int { return len(h.paths) }
func (h candidateHeap) Less(i, j int) bool {
	return h.paths[i].Score < h.paths[j].Score // min-heap: worst candidate on top
}
func (h candidateHeap) Swap(i, j int) { h.paths[i], h.paths[j] = h.paths[j], h.paths[i] }
func (h *candidateHeap) Push(x any)   { h.paths = append(h.paths, x.(Path)) }
func (h *candidateHeap) Pop() any {
	old := h.paths
	n := len(old)
	item := old[n-1]
	h.paths = old[:n-1]
	return item
}

// routeKey fingerprints a path's exact token/pool sequence into a fixed-size
// hash, used as the seenRoutes dedup key (§4.4). Hashing a compact binary
// encoding avoids the repeated allocation a growing string.Builder would
// need for longer paths.
func routeKey(tokens []graph.TokenID, poolIDs []graph.PoolID) [32]byte {
	buf := make([]byte, 0, 8+12*len(poolIDs))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tokens[0]))
	for i, p := range poolIDs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(tokens[i+1]))
	}
	return sha3.Sum256(buf)
}

// FindTopKRoutes is the public operation named in §4.4.
func FindTopKRoutes(snap *graph.Snapshot, h heuristic.Table, source, target graph.TokenID, maxHops, k, beamWidth int, gasPerHopPenalty float64) Result {
	if source == target {
		return Result{}
	}

	tokenCount := len(snap.Tokens)
	arena := make([]arenaState, 0, 1024)

	seedVisited := bitset.NewBitSet(uint64(tokenCount))
	seedVisited.Set(uint64(source))
	arena = append(arena, arenaState{
		node:     source,
		parent:   -1,
		visited:  seedVisited,
		g:        0,
		prio:     -h.Value(source) - gasPerHopPenalty*float64(maxHops),
		hops:     0,
		prevNode: graph.InvalidTokenID,
	})

	frontier := &frontierHeap{arena: &arena, idx: []int{0}}
	heap.Init(frontier)

	candidates := &candidateHeap{}
	heap.Init(candidates)

	seenRoutes := mapset.NewThreadUnsafeSet[[32]byte]()
	bestAtDepth := make(map[graph.TokenID][]float64, tokenCount)
	discovery := 0
	kthScore := math.Inf(-1)

	maybeSeedDirectEdge := func() {
		for _, e := range snap.Edges(source) {
			if e.To != target {
				continue
			}
			key := routeKey([]graph.TokenID{source, target}, []graph.PoolID{e.PoolID})
			if seenRoutes.Contains(key) {
				continue
			}
			seenRoutes.Add(key)
			discovery++
			candidates.Push(Path{
				Tokens:    []graph.TokenID{source, target},
				Pools:     []graph.PoolID{e.PoolID},
				Score:     e.LogSpotPrice - gasPerHopPenalty,
				CapRaw:    capOrSentinel(e.DxCapRaw),
				Discovery: discovery,
			})
			if candidates.Len() > k {
				heap.Pop(candidates)
			}
			if candidates.Len() == k {
				kthScore = candidates.paths[0].Score
			}
		}
	}
	maybeSeedDirectEdge()

	reconstructPath := func(idx int) ([]graph.TokenID, []graph.PoolID, *big.Int) {
		var tokens []graph.TokenID
		var pools []graph.PoolID
		var capMin *big.Int
		for i := idx; i != -1; i = arena[i].parent {
			tokens = append(tokens, arena[i].node)
			if arena[i].parent != -1 {
				pools = append(pools, arena[i].poolTaken)
				if c := arena[i].capTaken; c != nil && (capMin == nil || c.Cmp(capMin) < 0) {
					capMin = c
				}
			}
		}
		// reverse in place
		for l, r := 0, len(tokens)-1; l < r; l, r = l+1, r-1 {
			tokens[l], tokens[r] = tokens[r], tokens[l]
		}
		for l, r := 0, len(pools)-1; l < r; l, r = l+1, r-1 {
			pools[l], pools[r] = pools[r], pools[l]
		}
		return tokens, pools, capMin
	}

	deadline := time.Now().Add(WallClockBudget)
	iterations := 0
	budgetExceeded := false

	for frontier.Len() > 0 {
		if iterations >= MaxIterations {
			budgetExceeded = true
			break
		}
		if time.Now().After(deadline) {
			budgetExceeded = true
			break
		}

		if candidates.Len() >= k {
			topIdx := frontier.idx[0]
			if arena[topIdx].prio <= kthScore {
				break
			}
		}

		toPop := beamWidth
		if frontier.Len() < toPop {
			toPop = frontier.Len()
		}

		popped := make([]int, 0, toPop)
		for i := 0; i < toPop; i++ {
			popped = append(popped, heap.Pop(frontier).(int))
		}

		for _, stateIdx := range popped {
			iterations++
			st := arena[stateIdx]
			if st.hops >= maxHops {
				continue
			}

			edges := snap.Edges(st.node)
			edgeCap := len(edges)
			if perNodeCap := maxInt(8, beamWidth/2); edgeCap > perNodeCap {
				edgeCap = perNodeCap
			}

			for i := 0; i < edgeCap; i++ {
				e := edges[i]
				if st.visited.IsSet(uint64(e.To)) || e.To == st.prevNode {
					continue
				}

				gPrime := st.g + e.LogSpotPrice - gasPerHopPenalty
				hopsPrime := st.hops + 1
				prioPrime := gPrime - h.Value(e.To) - gasPerHopPenalty*float64(maxHops-hopsPrime)

				if e.To == target {
					tokens, pools, capMin := reconstructPath(stateIdx)
					tokens = append(tokens, e.To)
					pools = append(pools, e.PoolID)
					if e.DxCapRaw != nil && (capMin == nil || e.DxCapRaw.Cmp(capMin) < 0) {
						capMin = e.DxCapRaw
					}
					key := routeKey(tokens, pools)
					if seenRoutes.Contains(key) {
						continue
					}
					if candidates.Len() < k || gPrime > kthScore {
						seenRoutes.Add(key)
						discovery++
						candidates.Push(Path{
							Tokens:    tokens,
							Pools:     pools,
							Score:     gPrime,
							CapRaw:    capOrSentinel(capMin),
							Discovery: discovery,
						})
						if candidates.Len() > k {
							heap.Pop(candidates)
						}
						if candidates.Len() == k {
							kthScore = candidates.paths[0].Score
						}
					}
					continue
				}

				depths := bestAtDepth[e.To]
				if depths == nil {
					depths = make([]float64, maxHops+1)
					for i := range depths {
						depths[i] = math.Inf(-1)
					}
					bestAtDepth[e.To] = depths
				}
				if gPrime <= depths[hopsPrime] {
					continue
				}
				depths[hopsPrime] = gPrime

				childVisited := st.visited.Clone()
				childVisited.Set(uint64(e.To))
				arena = append(arena, arenaState{
					node:      e.To,
					parent:    stateIdx,
					poolTaken: e.PoolID,
					capTaken:  e.DxCapRaw,
					visited:   childVisited,
					g:         gPrime,
					prio:      prioPrime,
					hops:      hopsPrime,
					prevNode:  st.node,
					discovery: discovery,
				})
				heap.Push(frontier, len(arena)-1)
			}
		}

		maxFrontier := maxInt(beamWidth*32, k*128)
		if frontier.Len() > maxFrontier {
			trimWorstTail(frontier, maxFrontier)
		}
	}

	result := make([]Path, len(candidates.paths))
	copy(result, candidates.paths)
	sortPaths(result)

	return Result{Paths: result, BudgetExceeded: budgetExceeded}
}

func capOrSentinel(cap *big.Int) *big.Int {
	if cap == nil {
		return new(big.Int).Lsh(big.NewInt(1), 200)
	}
	return cap
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func trimWorstTail(frontier *frontierHeap, keep int) {
	kept := make([]int, len(frontier.idx))
	copy(kept, frontier.idx)
	arena := *frontier.arena
	// Partial selection: sort descending by prio, keep the best `keep`.
	for i := 1; i < len(kept); i++ {
		j := i
		for j > 0 && arena[kept[j-1]].prio < arena[kept[j]].prio {
			kept[j-1], kept[j] = kept[j], kept[j-1]
			j--
		}
	}
	if len(kept) > keep {
		kept = kept[:keep]
	}
	frontier.idx = kept
	heap.Init(frontier)
}

func sortPaths(paths []Path) {
	for i := 1; i < len(paths); i++ {
		j := i
		for j > 0 && less(paths[j], paths[j-1]) {
			paths[j-1], paths[j] = paths[j], paths[j-1]
			j--
		}
	}
}

// less orders by Score descending, ties by discovery order ascending (§4.4).
func less(a, b Path) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Discovery < b.Discovery
}
