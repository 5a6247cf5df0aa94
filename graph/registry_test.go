package graph

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
)

func cpPool(addr, addrA, addrB string, reserveA, reserveB int64, feeBps uint16) pool.Pool {
	return &constantproduct.Pool{
		AddrV:  common.HexToAddress(addr),
		Slot0:  pool.TokenSlot{Addr: common.HexToAddress(addrA), ReserveRaw: big.NewInt(reserveA), Decimals: 18},
		Slot1:  pool.TokenSlot{Addr: common.HexToAddress(addrB), ReserveRaw: big.NewInt(reserveB), Decimals: 18},
		FeeBps: feeBps,
	}
}

func TestRegistry_AddPool_CreatesBidirectionalEdges(t *testing.T) {
	r := NewRegistry()
	p := cpPool("0xPOOL1", "0xA", "0xB", 1_000_000_000_000, 1_000_000_000_000, 30)

	require.NoError(t, r.AddPool(p))

	idA, ok := r.TokenID(common.HexToAddress("0xA"))
	require.True(t, ok)
	idB, ok := r.TokenID(common.HexToAddress("0xB"))
	require.True(t, ok)

	edgesA := r.Edges(idA)
	require.Len(t, edgesA, 1)
	assert.Equal(t, idB, edgesA[0].To)
	assert.True(t, edgesA[0].SpotPrice > 0)
	assert.True(t, edgesA[0].DxCapRaw.Sign() > 0)

	edgesB := r.Edges(idB)
	require.Len(t, edgesB, 1)
	assert.Equal(t, idA, edgesB[0].To)
}

func TestRegistry_AddPool_RejectsShallowPool(t *testing.T) {
	r := NewRegistry()
	// An empty reserve on one side leaves the pool below the one-unit
	// minimum, so neither directional edge is kept.
	p := cpPool("0xPOOL2", "0xA", "0xB", 0, 1_000_000_000_000, 30)
	require.NoError(t, r.AddPool(p))

	idA, ok := r.TokenID(common.HexToAddress("0xA"))
	require.True(t, ok)
	assert.Empty(t, r.Edges(idA))
}

func TestRegistry_ParallelEdgeCompression(t *testing.T) {
	r := NewRegistry()
	best := cpPool("0xB1", "0xA", "0xB", 1_000_000_000_000, 2_000_000_000_000, 5)
	withinTol := cpPool("0xB2", "0xA", "0xB", 1_000_000_000_000, 1_998_000_000_000, 5)
	farWorse := cpPool("0xB3", "0xA", "0xB", 1_000_000_000_000, 1_500_000_000_000, 5)

	require.NoError(t, r.AddPool(best))
	require.NoError(t, r.AddPool(withinTol))
	require.NoError(t, r.AddPool(farWorse))

	idA, _ := r.TokenID(common.HexToAddress("0xA"))
	edges := r.Edges(idA)
	// best + the near-tolerance pool survive; the far-worse one is dropped.
	require.Len(t, edges, 2)
	assert.True(t, edges[0].Score >= edges[1].Score)
}

func TestRegistry_RemovePool(t *testing.T) {
	r := NewRegistry()
	p := cpPool("0xPOOL3", "0xA", "0xB", 1_000_000_000_000, 1_000_000_000_000, 30)
	require.NoError(t, r.AddPool(p))

	r.RemovePool(common.HexToAddress("0xPOOL3"))

	idA, _ := r.TokenID(common.HexToAddress("0xA"))
	assert.Empty(t, r.Edges(idA))
}

func TestRegistry_RejectsIdenticalTokenSlots(t *testing.T) {
	r := NewRegistry()
	p := cpPool("0xPOOL4", "0xA", "0xA", 1_000_000_000_000, 1_000_000_000_000, 30)
	err := r.AddPool(p)
	assert.ErrorIs(t, err, ErrTokenDictionaryInconsistent)
}

func TestRegistry_View(t *testing.T) {
	r := NewRegistry()
	p := cpPool("0xPOOL5", "0xA", "0xB", 1_000_000_000_000, 1_000_000_000_000, 30)
	require.NoError(t, r.AddPool(p))

	v := r.View()
	assert.Len(t, v.Tokens, 2)
	assert.Len(t, v.PoolAddrs, 1)
	assert.NotEmpty(t, v.Adjacency)
}
