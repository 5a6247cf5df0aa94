// Package evaluator implements the Route Evaluator (spec §4.5): simulating
// a path's output for a given input, and picking the best of several paths
// net of gas.
//
// Grounded on the osmosis-labs-sqs RouteImpl.CalculateTokenOutByTokenIn
// chain-through-hops pattern (charge per hop, feed the prior hop's output as
// the next hop's input, short-circuit on a zero/nil amount) — adapted from
// its panic/recover safety net to an explicit zero-output short-circuit,
// since this module's pool.Pool.Swap contract (§4.1) never errors or
// panics, it simply returns zero on a bad hop.
package evaluator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/search"
)

// SimulateRoute chains pool.Swap through the path's hops, short-circuiting
// to zero output on the first hop that returns zero (§4.5).
func SimulateRoute(snap *graph.Snapshot, path search.Path, amountRaw *big.Int) *big.Int {
	current := amountRaw
	for i, poolID := range path.Pools {
		if current == nil || current.Sign() <= 0 {
			return new(big.Int)
		}
		p, ok := snap.Pool(poolID)
		if !ok {
			return new(big.Int)
		}
		fromTok, ok := tokenAddr(snap, path.Tokens[i])
		if !ok {
			return new(big.Int)
		}
		toTok, ok := tokenAddr(snap, path.Tokens[i+1])
		if !ok {
			return new(big.Int)
		}

		out := p.Swap(current, fromTok, toTok)
		if out == nil || out.Sign() <= 0 {
			return new(big.Int)
		}
		current = out
	}
	return current
}

func tokenAddr(snap *graph.Snapshot, id graph.TokenID) (addr common.Address, ok bool) {
	if id < 0 || int(id) >= len(snap.Tokens) {
		return addr, false
	}
	return snap.Tokens[id].Addr, true
}

// Selection is the outcome of SelectBest: the winning path plus its net
// output after gas.
type Selection struct {
	Path      search.Path
	NetOutput *big.Int
	Index     int
}

// SelectBest computes net = simulate - hops*gasPerHopOutRaw (floored at
// zero) for every candidate path and returns the path with the maximum net,
// ties broken by discovery order (§4.5).
func SelectBest(snap *graph.Snapshot, paths []search.Path, amountRaw *big.Int, gasPerHopOutRaw *big.Int) (Selection, bool) {
	var best Selection
	found := false

	for i, p := range paths {
		out := SimulateRoute(snap, p, amountRaw)
		gasCost := new(big.Int).Mul(gasPerHopOutRaw, big.NewInt(int64(len(p.Pools))))
		net := new(big.Int).Sub(out, gasCost)
		if net.Sign() < 0 {
			net = new(big.Int)
		}

		if !found {
			best = Selection{Path: p, NetOutput: net, Index: i}
			found = true
			continue
		}
		if net.Cmp(best.NetOutput) > 0 {
			best = Selection{Path: p, NetOutput: net, Index: i}
		}
	}

	return best, found
}
