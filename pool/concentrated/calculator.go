// Package concentrated implements the Pool Oracle contract for
// concentrated-liquidity (Uniswap V3 style) AMM pools: Q96 fixed-point
// sqrt-price state with tick-crossing swap simulation.
package concentrated

import (
	"errors"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/concentrated/liquiditymath"
	"github.com/sor/router-core/pool/concentrated/swapmath"
	"github.com/sor/router-core/pool/concentrated/tickbitmap"
	"github.com/sor/router-core/pool/concentrated/tickmath"
	"github.com/sor/router-core/pool/concentrated/types"
)

var (
	ErrInvalidAmountIn    = errors.New("amountIn must be greater than zero")
	ErrTokenMismatch      = errors.New("token mismatch")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")

	Q96, _ = new(big.Int).SetString("79228162514264337593543950336", 10)
	Q64F   = new(big.Float).SetInt(Q96)
)

// swapState holds every temporary used by the tick-crossing loop so a full
// simulation allocates nothing beyond the initial Get() from swapStatePool.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	sqrtPriceX96             *big.Int
	tick                     int64
	liquidity                *big.Int

	sqrtPriceStartX96 *big.Int
	sqrtPriceNextX96  *big.Int
	targetPrice       *big.Int
	stepAmountIn      *big.Int
	stepAmountOut     *big.Int
	stepFeeAmount     *big.Int
	tempAmount        *big.Int
	liquidityNet      *big.Int
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountSpecifiedRemaining: new(big.Int),
			amountCalculated:         new(big.Int),
			sqrtPriceX96:             new(big.Int),
			liquidity:                new(big.Int),
			sqrtPriceStartX96:        new(big.Int),
			sqrtPriceNextX96:         new(big.Int),
			targetPrice:              new(big.Int),
			stepAmountIn:             new(big.Int),
			stepAmountOut:            new(big.Int),
			stepFeeAmount:            new(big.Int),
			tempAmount:               new(big.Int),
			liquidityNet:             new(big.Int),
		}
	},
}

// _swap runs the tick-crossing simulation loop in place on state.
func _swap(state *swapState, ticks []types.TickInfo, fee uint64, sqrtPriceLimitX96 *big.Int, zeroForOne bool) error {
	if sqrtPriceLimitX96 == nil {
		if zeroForOne {
			sqrtPriceLimitX96 = tickmath.MIN_SQRT_RATIO
		} else {
			sqrtPriceLimitX96 = tickmath.MAX_SQRT_RATIO
		}
	}

	exactInput := state.amountSpecifiedRemaining.Sign() > 0

	for state.amountSpecifiedRemaining.Sign() != 0 && state.sqrtPriceX96.Cmp(sqrtPriceLimitX96) != 0 {
		state.sqrtPriceStartX96.Set(state.sqrtPriceX96)

		tickNext, initialized := tickbitmap.NextInitializedTickWithinOneWord(ticks, state.tick, zeroForOne)
		if !initialized {
			break
		}
		if tickNext < tickmath.MIN_TICK {
			tickNext = tickmath.MIN_TICK
		} else if tickNext > tickmath.MAX_TICK {
			tickNext = tickmath.MAX_TICK
		}

		if err := tickmath.GetSqrtRatioAtTick(state.sqrtPriceNextX96, tickNext); err != nil {
			return err
		}

		if (zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) < 0) ||
			(!zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) > 0) {
			state.targetPrice.Set(sqrtPriceLimitX96)
		} else {
			state.targetPrice.Set(state.sqrtPriceNextX96)
		}

		err := swapmath.ComputeSwapStep(
			state.sqrtPriceX96, state.stepAmountIn, state.stepAmountOut, state.stepFeeAmount,
			state.sqrtPriceStartX96,
			state.targetPrice,
			state.liquidity,
			state.amountSpecifiedRemaining,
			state.tempAmount.SetUint64(fee),
		)
		if err != nil {
			break
		}

		if exactInput {
			state.amountSpecifiedRemaining.Sub(state.amountSpecifiedRemaining, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
			state.amountCalculated.Add(state.amountCalculated, state.stepAmountOut)
		} else {
			state.amountSpecifiedRemaining.Add(state.amountSpecifiedRemaining, state.stepAmountOut)
			state.amountCalculated.Add(state.amountCalculated, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
		}

		if state.sqrtPriceX96.Cmp(state.sqrtPriceNextX96) == 0 {
			var foundTick bool
			for _, t := range ticks {
				if t.Index == tickNext {
					state.liquidityNet.Set(t.LiquidityNet)
					foundTick = true
					break
				}
			}
			if foundTick {
				if zeroForOne {
					state.liquidityNet.Neg(state.liquidityNet)
				}
				if err := liquiditymath.AddDelta(state.liquidity, state.liquidity, state.liquidityNet); err != nil {
					if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
						break
					}
					return err
				}
			}
			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX96.Cmp(state.sqrtPriceStartX96) != 0 {
			state.tick, err = tickmath.GetTickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAmountOut simulates an exact-input swap and returns the output only
// (the pool's on-disk state is unaffected — per pool.Pool, Swap is pure with
// respect to the snapshot it was built from).
func GetAmountOut(amountIn *big.Int, st *types.State, zeroForOne bool) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmountIn
	}

	state := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(state)

	state.amountSpecifiedRemaining.Set(amountIn)
	state.amountCalculated.SetInt64(0)
	state.sqrtPriceX96.Set(st.SqrtPriceX96)
	state.tick = st.Tick
	state.liquidity.Set(st.Liquidity)

	if err := _swap(state, st.Ticks, st.Fee, nil, zeroForOne); err != nil {
		return nil, err
	}
	return new(big.Int).Set(state.amountCalculated), nil
}

// GetSpotPrice derives the instantaneous price of token0 in terms of token1
// (or its reciprocal) from sqrtPriceX96, per the Q64.96 fixed-point
// convention: sqrtPriceX96 = sqrt(token1/token0) * 2^96.
func GetSpotPrice(st *types.State, zeroForOne bool) float64 {
	if st.SqrtPriceX96 == nil || st.SqrtPriceX96.Sign() == 0 {
		return 0
	}
	ratioF := new(big.Float).SetInt(st.SqrtPriceX96)
	ratioF.Quo(ratioF, Q64F)
	price, _ := new(big.Float).Mul(ratioF, ratioF).Float64()
	if price == 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0
	}
	if zeroForOne {
		return price
	}
	return 1.0 / price
}

// Pool wraps a raw concentrated-liquidity State behind the pool.Pool oracle
// contract, pairing it with token addresses/decimals/reserve-equivalents for
// the Graph Builder.
type Pool struct {
	AddrV common.Address
	Slot0 pool.TokenSlot
	Slot1 pool.TokenSlot
	State *types.State
}

var _ pool.Pool = (*Pool)(nil)

func (p *Pool) Addr() common.Address      { return p.AddrV }
func (p *Pool) Variant() pool.Variant     { return pool.Concentrated }
func (p *Pool) FeeRational() float64      { return float64(p.State.Fee) / 1_000_000.0 }
func (p *Pool) Tokens() [2]pool.TokenSlot { return [2]pool.TokenSlot{p.Slot0, p.Slot1} }

func (p *Pool) TokenSlot(addr common.Address) (pool.TokenSlot, bool) {
	if addr == p.Slot0.Addr {
		return p.Slot0, true
	}
	if addr == p.Slot1.Addr {
		return p.Slot1, true
	}
	return pool.TokenSlot{}, false
}

func (p *Pool) zeroForOne(from, to common.Address) (bool, bool) {
	switch {
	case from == p.Slot0.Addr && to == p.Slot1.Addr:
		return true, true
	case from == p.Slot1.Addr && to == p.Slot0.Addr:
		return false, true
	default:
		return false, false
	}
}

func (p *Pool) SpotPrice(from, to common.Address) float64 {
	zeroForOne, ok := p.zeroForOne(from, to)
	if !ok || p.State == nil {
		return 0
	}
	return GetSpotPrice(p.State, zeroForOne)
}

func (p *Pool) Swap(amountInRaw *big.Int, from, to common.Address) *big.Int {
	zeroForOne, ok := p.zeroForOne(from, to)
	if !ok || p.State == nil {
		return new(big.Int)
	}
	out, err := GetAmountOut(amountInRaw, p.State, zeroForOne)
	if err != nil || out == nil {
		return new(big.Int)
	}
	return out
}
