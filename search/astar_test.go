package search

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/heuristic"
	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
)

func buildDiamondGraph(t *testing.T) (*graph.Snapshot, graph.TokenID, graph.TokenID) {
	t.Helper()
	// A --direct--> U (1% effective rate)
	// A --mid1--> W --mid2--> U (slightly better composed rate)
	// U and W are the tokens at 0xE and 0xF.
	pools := []pool.Pool{
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD1"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xE"), ReserveRaw: big.NewInt(1_010_000_000_000), Decimals: 18},
			FeeBps: 30,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD2"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xF"), ReserveRaw: big.NewInt(1_030_000_000_000), Decimals: 18},
			FeeBps: 5,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD3"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xF"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xE"), ReserveRaw: big.NewInt(1_020_000_000_000), Decimals: 18},
			FeeBps: 5,
		},
	}
	sys, err := graph.NewSystemFromPools(pools)
	require.NoError(t, err)
	snap := sys.Snapshot()

	idA, ok := snap.TokenID(common.HexToAddress("0xA"))
	require.True(t, ok)
	idU, ok := snap.TokenID(common.HexToAddress("0xE"))
	require.True(t, ok)
	return snap, idA, idU
}

func TestFindTopKRoutes_ReturnsBothDirectAndMultiHop(t *testing.T) {
	snap, source, target := buildDiamondGraph(t)
	h := heuristic.Compute(snap, target, 0.0001)

	result := FindTopKRoutes(snap, h, source, target, 3, 5, 16, 0.0001)

	require.NotEmpty(t, result.Paths)
	require.LessOrEqual(t, len(result.Paths), 5)
	assert.Equal(t, source, result.Paths[0].Tokens[0])
	assert.Equal(t, target, result.Paths[0].Tokens[len(result.Paths[0].Tokens)-1])

	// Results must be sorted by Score descending.
	for i := 1; i < len(result.Paths); i++ {
		assert.LessOrEqual(t, result.Paths[i].Score, result.Paths[i-1].Score)
	}
}

func TestFindTopKRoutes_PathsAreUniqueByPoolSequence(t *testing.T) {
	snap, source, target := buildDiamondGraph(t)
	h := heuristic.Compute(snap, target, 0.0001)

	result := FindTopKRoutes(snap, h, source, target, 3, 5, 16, 0.0001)

	seen := make(map[[32]byte]bool)
	for _, p := range result.Paths {
		key := routeKey(p.Tokens, p.Pools)
		assert.False(t, seen[key], "duplicate pool sequence returned")
		seen[key] = true
	}
}

func TestFindTopKRoutes_SourceEqualsTargetReturnsEmpty(t *testing.T) {
	snap, source, _ := buildDiamondGraph(t)
	h := heuristic.Compute(snap, source, 0.0001)

	result := FindTopKRoutes(snap, h, source, source, 3, 5, 16, 0.0001)
	assert.Empty(t, result.Paths)
}
