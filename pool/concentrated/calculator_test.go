package concentrated

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/concentrated/types"
)

func testState(t *testing.T) *types.State {
	t.Helper()
	sqrtPriceX96, ok := new(big.Int).SetString("79228162514264337593543950336", 10) // price = 1
	require.True(t, ok)
	return &types.State{
		Fee:          3000,
		TickSpacing:  60,
		Tick:         0,
		Liquidity:    big.NewInt(1_000_000_000_000),
		SqrtPriceX96: sqrtPriceX96,
		Ticks: []types.TickInfo{
			{Index: -887220, LiquidityGross: big.NewInt(1_000_000_000_000), LiquidityNet: big.NewInt(1_000_000_000_000)},
			{Index: 887220, LiquidityGross: big.NewInt(1_000_000_000_000), LiquidityNet: big.NewInt(-1_000_000_000_000)},
		},
	}
}

func TestGetAmountOut(t *testing.T) {
	st := testState(t)
	out, err := GetAmountOut(big.NewInt(1_000_000), st, true)
	require.NoError(t, err)
	assert.True(t, out.Sign() > 0)
}

func TestPool_Swap(t *testing.T) {
	p := &Pool{
		AddrV: common.HexToAddress("0xV3POOL"),
		Slot0: pool.TokenSlot{Addr: common.HexToAddress("0xA"), Decimals: 18},
		Slot1: pool.TokenSlot{Addr: common.HexToAddress("0xB"), Decimals: 18},
		State: testState(t),
	}

	t.Run("valid direction produces output", func(t *testing.T) {
		out := p.Swap(big.NewInt(1_000_000), p.Slot0.Addr, p.Slot1.Addr)
		assert.True(t, out.Sign() > 0)
	})

	t.Run("unknown pair returns zero", func(t *testing.T) {
		out := p.Swap(big.NewInt(1_000_000), common.HexToAddress("0xDEAD"), p.Slot1.Addr)
		assert.Equal(t, big.NewInt(0), out)
	})
}
