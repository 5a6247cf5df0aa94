package constantproduct

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/pool"
)

func newBigIntFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return n
}

func testPool(t *testing.T) *Pool {
	t.Helper()
	return &Pool{
		AddrV: common.HexToAddress("0xP1"),
		Slot0: pool.TokenSlot{
			Addr:       common.HexToAddress("0xUSDC"),
			ReserveRaw: big.NewInt(100_000_000),
			Decimals:   6,
		},
		Slot1: pool.TokenSlot{
			Addr:       common.HexToAddress("0xWETH"),
			ReserveRaw: newBigIntFromString(t, "50000000000000000000"),
			Decimals:   18,
		},
		FeeBps: 30,
	}
}

func TestPool_Swap(t *testing.T) {
	t.Run("token0 -> token1", func(t *testing.T) {
		p := testPool(t)
		out := p.Swap(big.NewInt(1_000_000), p.Slot0.Addr, p.Slot1.Addr)
		assert.Equal(t, newBigIntFromString(t, "493579017198530649"), out)
	})

	t.Run("zero amount returns zero not error", func(t *testing.T) {
		p := testPool(t)
		out := p.Swap(big.NewInt(0), p.Slot0.Addr, p.Slot1.Addr)
		assert.Equal(t, big.NewInt(0), out)
	})

	t.Run("mismatched token pair returns zero", func(t *testing.T) {
		p := testPool(t)
		out := p.Swap(big.NewInt(1_000_000), common.HexToAddress("0xDEAD"), p.Slot1.Addr)
		assert.Equal(t, big.NewInt(0), out)
	})

	t.Run("drained reserve returns zero", func(t *testing.T) {
		p := testPool(t)
		p.Slot1.ReserveRaw = big.NewInt(0)
		out := p.Swap(big.NewInt(1_000_000), p.Slot0.Addr, p.Slot1.Addr)
		assert.Equal(t, big.NewInt(0), out)
	})
}

func TestPool_SpotPrice(t *testing.T) {
	p := testPool(t)
	sp := p.SpotPrice(p.Slot0.Addr, p.Slot1.Addr)
	assert.Greater(t, sp, 0.0)

	t.Run("absent edge is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, p.SpotPrice(common.HexToAddress("0xDEAD"), p.Slot1.Addr))
	})
}

func TestGetAmountIn(t *testing.T) {
	reserveIn := big.NewInt(100_000_000)
	reserveOut := newBigIntFromString(t, "50000000000000000000")

	in, err := GetAmountIn(big.NewInt(1_000_000_000_000_000_000), reserveIn, reserveOut, 30)
	require.NoError(t, err)
	assert.True(t, in.Sign() > 0)

	t.Run("amountOut >= reserveOut is insufficient liquidity", func(t *testing.T) {
		_, err := GetAmountIn(reserveOut, reserveIn, reserveOut, 30)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}
