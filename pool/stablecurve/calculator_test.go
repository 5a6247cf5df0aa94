package stablecurve

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/pool"
)

func TestGetAmountOut_NearPeg(t *testing.T) {
	reserveIn := big.NewInt(1_000_000_000_000)
	reserveOut := big.NewInt(1_000_000_000_000)
	amp := big.NewInt(100)

	out, err := GetAmountOut(big.NewInt(1_000_000), reserveIn, reserveOut, amp, 4)
	require.NoError(t, err)
	assert.True(t, out.Sign() > 0)
	// Near the peg with deep reserves, a small swap should return close to
	// 1:1 (within the fee), much flatter than a constant-product quote.
	assert.InDelta(t, 1_000_000, out.Int64(), 1000)
}

func TestPool_Swap(t *testing.T) {
	p := &Pool{
		AddrV:  common.HexToAddress("0xSTABLE"),
		Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xUSDC"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 6},
		Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xUSDT"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 6},
		FeeBps: 4,
		Amp:    big.NewInt(100),
	}

	out := p.Swap(big.NewInt(1_000_000), p.Slot0.Addr, p.Slot1.Addr)
	assert.True(t, out.Sign() > 0)

	t.Run("unknown pair returns zero", func(t *testing.T) {
		out := p.Swap(big.NewInt(1_000_000), common.HexToAddress("0xDEAD"), p.Slot1.Addr)
		assert.Equal(t, big.NewInt(0), out)
	})

	t.Run("spot price near one at the peg", func(t *testing.T) {
		sp := p.SpotPrice(p.Slot0.Addr, p.Slot1.Addr)
		assert.InDelta(t, 1.0, sp, 0.01)
	})
}
