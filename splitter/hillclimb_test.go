package splitter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/curve"
)

func TestHillClimb_PreservesTotalInput(t *testing.T) {
	c1 := buildLinearCurve(2.0, 0.0000001, 1_000_000)
	c2 := buildLinearCurve(1.5, 0.0000001, 1_000_000)
	curves := []curve.ResponseCurve{c1, c2}
	caps := []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)}
	total := big.NewInt(500_000)

	refined := HillClimb(curves, caps, total)

	require.Len(t, refined.InputRaw, 2)
	sum := new(big.Int).Add(refined.InputRaw[0], refined.InputRaw[1])
	assert.Equal(t, total, sum)
}

func TestHillClimb_MovesAwayFromTheWorseInitialPath(t *testing.T) {
	// Path 0 is seeded with the full amount per §4.8 but is the worse of the
	// two curves; an independent hill-climb must still discover that moving
	// input onto path 1 raises total output, rather than inheriting an
	// already-good split from elsewhere.
	c1 := buildLinearCurve(1.5, 0.0000001, 1_000_000)
	c2 := buildLinearCurve(2.0, 0.0000001, 1_000_000)
	curves := []curve.ResponseCurve{c1, c2}
	caps := []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)}
	total := big.NewInt(500_000)

	allOnWorst := outputAtFor(c1, total)
	refined := HillClimb(curves, caps, total)

	assert.True(t, refined.TotalOutput.Cmp(allOnWorst) > 0)
}

func TestFoldSmallAllocations_NoopUnderLimit(t *testing.T) {
	x := []*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)}
	folded := foldSmallAllocations(x)
	assert.Len(t, folded, 3)
	assert.Equal(t, big.NewInt(10), folded[0])
}

func TestFoldSmallAllocations_FoldsIntoLargest(t *testing.T) {
	x := make([]*big.Int, 12)
	for i := range x {
		x[i] = big.NewInt(int64(i + 1))
	}
	folded := foldSmallAllocations(x)

	active := 0
	for _, v := range folded {
		if v.Sign() > 0 {
			active++
		}
	}
	assert.LessOrEqual(t, active, MaxActiveRoutes)
}
