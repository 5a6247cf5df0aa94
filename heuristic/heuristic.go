// Package heuristic computes the Reverse-Dijkstra Heuristic (spec §4.3): a
// per-token lower bound on the remaining cost to a chosen target, used by
// the A* search to prune without losing optimality.
//
// Grounded on the donor's chains/base/grapher.Graph relaxation loops
// (findConversionPathState / getExchangeRatesUsingMaxReservePath), but
// upgraded from their Bellman-Ford-style fixed-run relaxation to a true
// container/heap Dijkstra, since the heuristic needs a genuine
// shortest-path distance (not a bounded number of relaxation passes) to
// remain admissible.
package heuristic

import (
	"container/heap"
	"math"

	"github.com/sor/router-core/graph"
)

const (
	// MaxIterations and MaxNodes bound worst-case cost on pathological
	// graphs (§4.3).
	MaxIterations = 50000
	MaxNodes      = 50000
)

// Table is h: tokenId -> real >= 0, the shortest reverse-path distance to
// the target. Missing entries mean "unreachable"; callers substitute 0 — an
// optimistic but still-admissible value (§4.3).
type Table map[graph.TokenID]float64

// Value returns h(id), defaulting to 0 for a missing (unreached) entry.
func (t Table) Value(id graph.TokenID) float64 {
	if v, ok := t[id]; ok {
		return v
	}
	return 0
}

type heapItem struct {
	token graph.TokenID
	dist  float64
	index int
}

type distHeap []*heapItem

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *distHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// reverseAdjacency holds, for every token, the incoming edges — i.e. the
// graph transposed — since the heuristic walks from the target backwards.
type reverseAdjacency map[graph.TokenID][]reverseEdge

type reverseEdge struct {
	from         graph.TokenID
	logSpotPrice float64
}

func buildReverseAdjacency(snap *graph.Snapshot) reverseAdjacency {
	rev := make(reverseAdjacency, len(snap.Tokens))
	for from, edges := range snap.Adjacency {
		for _, e := range edges {
			rev[e.To] = append(rev[e.To], reverseEdge{from: from, logSpotPrice: e.LogSpotPrice})
		}
	}
	return rev
}

// Compute runs Dijkstra over the reversed graph from target, with edge cost
// w = max(0, -logSpotPrice + gasPerHopPenalty), per §4.3's admissibility
// clamp.
func Compute(snap *graph.Snapshot, target graph.TokenID, gasPerHopPenalty float64) Table {
	rev := buildReverseAdjacency(snap)

	dist := make(Table, len(snap.Tokens))
	visited := make(map[graph.TokenID]bool, len(snap.Tokens))

	pq := &distHeap{}
	heap.Init(pq)
	heap.Push(pq, &heapItem{token: target, dist: 0})
	dist[target] = 0

	iterations := 0
	nodesVisited := 0
	for pq.Len() > 0 {
		if iterations >= MaxIterations || nodesVisited >= MaxNodes {
			break
		}
		iterations++

		item := heap.Pop(pq).(*heapItem)
		if visited[item.token] {
			continue
		}
		visited[item.token] = true
		nodesVisited++

		for _, e := range rev[item.token] {
			if visited[e.from] {
				continue
			}
			w := math.Max(0, -e.logSpotPrice+gasPerHopPenalty)
			cand := item.dist + w
			if existing, ok := dist[e.from]; !ok || cand < existing {
				dist[e.from] = cand
				heap.Push(pq, &heapItem{token: e.from, dist: cand})
			}
		}
	}

	return dist
}
