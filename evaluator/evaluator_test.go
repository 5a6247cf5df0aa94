package evaluator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
	"github.com/sor/router-core/search"
)

func buildTwoHopSnapshot(t *testing.T) (*graph.Snapshot, search.Path) {
	t.Helper()
	pools := []pool.Pool{
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xF1"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			FeeBps: 30,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xF2"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xC"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			FeeBps: 30,
		},
	}
	sys, err := graph.NewSystemFromPools(pools)
	require.NoError(t, err)
	snap := sys.Snapshot()

	idA, _ := snap.TokenID(common.HexToAddress("0xA"))
	idB, _ := snap.TokenID(common.HexToAddress("0xB"))
	idC, _ := snap.TokenID(common.HexToAddress("0xC"))

	var poolP1, poolP2 graph.PoolID
	for _, e := range snap.Edges(idA) {
		poolP1 = e.PoolID
	}
	for _, e := range snap.Edges(idB) {
		if e.To == idC {
			poolP2 = e.PoolID
		}
	}

	path := search.Path{
		Tokens: []graph.TokenID{idA, idB, idC},
		Pools:  []graph.PoolID{poolP1, poolP2},
	}
	return snap, path
}

func TestSimulateRoute_ChainsHops(t *testing.T) {
	snap, path := buildTwoHopSnapshot(t)
	out := SimulateRoute(snap, path, big.NewInt(1_000_000))
	assert.True(t, out.Sign() > 0)
}

func TestSimulateRoute_ZeroInputShortCircuits(t *testing.T) {
	snap, path := buildTwoHopSnapshot(t)
	out := SimulateRoute(snap, path, big.NewInt(0))
	assert.Equal(t, big.NewInt(0), out)
}

func TestSelectBest_PicksMaxNetOutput(t *testing.T) {
	pools := []pool.Pool{
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xCHEAP"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			FeeBps: 1,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xEXPENSIVE"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(998_000_000_000), Decimals: 18},
			FeeBps: 100,
		},
	}
	sys, err := graph.NewSystemFromPools(pools)
	require.NoError(t, err)
	snap := sys.Snapshot()

	idA, _ := snap.TokenID(common.HexToAddress("0xA"))
	idB, _ := snap.TokenID(common.HexToAddress("0xB"))

	// Registry assigns PoolIDs in insertion order, so these are stable
	// regardless of whether parallel-edge compression keeps both edges.
	cheapPool := graph.PoolID(0)
	expensivePool := graph.PoolID(1)

	cheap := search.Path{Tokens: []graph.TokenID{idA, idB}, Pools: []graph.PoolID{cheapPool}}
	expensive := search.Path{Tokens: []graph.TokenID{idA, idB}, Pools: []graph.PoolID{expensivePool}}

	selection, found := SelectBest(snap, []search.Path{expensive, cheap}, big.NewInt(1_000_000), big.NewInt(0))
	require.True(t, found)
	assert.Equal(t, cheapPool, selection.Path.Pools[0])
}
