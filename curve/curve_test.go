package curve

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

func buildCurveFixture(t *testing.T) (*graph.Snapshot, search.Path) {
	t.Helper()
	pools := []pool.Pool{
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xP1"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			FeeBps: 30,
		},
	}
	sys, err := graph.NewSystemFromPools(pools)
	require.NoError(t, err)
	snap := sys.Snapshot()

	idA, _ := snap.TokenID(common.HexToAddress("0xA"))
	idB, _ := snap.TokenID(common.HexToAddress("0xB"))
	path := search.Path{Tokens: []graph.TokenID{idA, idB}, Pools: []graph.PoolID{0}}
	return snap, path
}

func TestBuild_ProducesMonotoneNonDecreasingOutput(t *testing.T) {
	snap, path := buildCurveFixture(t)
	c := Build(snap, path, big.NewInt(100_000_000_000), big.NewInt(0))

	require.NotEmpty(t, c.Samples)
	for i := 1; i < len(c.Samples); i++ {
		assert.True(t, c.Samples[i].OutputRaw.Cmp(c.Samples[i-1].OutputRaw) >= 0)
	}
}

func TestBuild_MarginalDecreasesWithConcavity(t *testing.T) {
	snap, path := buildCurveFixture(t)
	c := Build(snap, path, big.NewInt(100_000_000_000), big.NewInt(0))

	require.GreaterOrEqual(t, len(c.Samples), 2)
	// A concave constant-product curve's marginal rate should trend
	// downward as input grows (design intent per §3).
	assert.True(t, c.Samples[len(c.Samples)-1].MarginalRaw <= c.Samples[0].MarginalRaw)
}

func TestFilterByInitialRate_NoopWhenThresholdZero(t *testing.T) {
	snap, path := buildCurveFixture(t)
	c := Build(snap, path, big.NewInt(100_000_000_000), big.NewInt(0))

	filtered := FilterByInitialRate([]ResponseCurve{c}, 0)
	assert.Len(t, filtered, 1)
}

func TestFilterByInitialRate_DropsBelowThreshold(t *testing.T) {
	snap, path := buildCurveFixture(t)
	good := Build(snap, path, big.NewInt(100_000_000_000), big.NewInt(0))

	bad := good
	bad.Samples = append([]Sample{}, good.Samples...)
	bad.Samples[0] = Sample{InputRaw: big.NewInt(1000), OutputRaw: big.NewInt(1)}

	filtered := FilterByInitialRate([]ResponseCurve{good, bad}, 0.5)
	assert.Len(t, filtered, 1)
}
