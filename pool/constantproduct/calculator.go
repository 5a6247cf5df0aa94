// Package constantproduct implements the Pool Oracle contract for
// constant-product (Uniswap V2 style) AMM pools.
package constantproduct

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sor/router-core/pool"
)

var (
	basisPointDivisor = big.NewInt(10000)

	precomputedScales [19]*big.Int

	// ErrInvalidAmount is returned when an input/output amount is nil or negative.
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
	// ErrTokenMismatch is returned when the specified input/output tokens do not match the pool's tokens.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInvalidState is returned for internal calculation errors, like division by zero.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrInsufficientLiquidity is returned when an amountOut is requested that is >= the available reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
)

func init() {
	precomputedScales[0] = big.NewInt(1)
	ten := big.NewInt(10)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(big.Int).Mul(precomputedScales[i-1], ten)
	}
}

// Calculator holds reusable big.Int objects to avoid allocation on the swap
// hot path. Instances are not safe for concurrent use by themselves; they
// are managed by calculatorPool.
type Calculator struct {
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &Calculator{
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
		}
	},
}

// Pool is a constant-product AMM pool: two token legs, raw integer reserves,
// and a basis-point fee. It implements pool.Pool.
type Pool struct {
	AddrV  common.Address
	Slot0  pool.TokenSlot
	Slot1  pool.TokenSlot
	FeeBps uint16
}

var _ pool.Pool = (*Pool)(nil)

func (p *Pool) Addr() common.Address    { return p.AddrV }
func (p *Pool) Variant() pool.Variant   { return pool.ConstantProduct }
func (p *Pool) FeeRational() float64    { return float64(p.FeeBps) / 10000.0 }
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

func (p *Pool) reserves(from, to common.Address) (reserveIn, reserveOut *big.Int, decIn, decOut uint8, err error) {
	switch {
	case from == p.Slot0.Addr && to == p.Slot1.Addr:
		return p.Slot0.ReserveRaw, p.Slot1.ReserveRaw, p.Slot0.Decimals, p.Slot1.Decimals, nil
	case from == p.Slot1.Addr && to == p.Slot0.Addr:
		return p.Slot1.ReserveRaw, p.Slot0.ReserveRaw, p.Slot1.Decimals, p.Slot0.Decimals, nil
	default:
		return nil, nil, 0, 0, fmt.Errorf("%w: pool %s does not contain the pair %s -> %s", ErrTokenMismatch, p.AddrV, from, to)
	}
}

// SpotPrice returns the instantaneous marginal rate of `to` per unit `from`,
// after fee. Returns 0 if either reserve is 0 (edge absent, per §4.1).
func (p *Pool) SpotPrice(from, to common.Address) float64 {
	reserveIn, reserveOut, _, _, err := p.reserves(from, to)
	if err != nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return 0
	}
	feeMult := 1.0 - p.FeeRational()
	rIn, _ := new(big.Float).SetInt(reserveIn).Float64()
	rOut, _ := new(big.Float).SetInt(reserveOut).Float64()
	if rIn == 0 {
		return 0
	}
	return (rOut / rIn) * feeMult
}

// Swap computes the discrete output for a raw input, per the standard
// constant-product formula with a basis-point fee. Returns 0 (not an error)
// when the pair is absent or reserves are exhausted, per §4.1's failure
// model.
func (p *Pool) Swap(amountInRaw *big.Int, from, to common.Address) *big.Int {
	if amountInRaw == nil || amountInRaw.Sign() <= 0 {
		return new(big.Int)
	}
	reserveIn, reserveOut, _, _, err := p.reserves(from, to)
	if err != nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}

	c := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(c)

	c.feeMultiplier.Sub(basisPointDivisor, big.NewInt(int64(p.FeeBps)))
	c.amountInWithFee.Mul(amountInRaw, c.feeMultiplier)
	c.numerator.Mul(reserveOut, c.amountInWithFee)
	c.denominator.Mul(reserveIn, basisPointDivisor)
	c.denominator.Add(c.denominator, c.amountInWithFee)

	if c.denominator.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(c.numerator, c.denominator)
}

// GetAmountIn computes the input required for a desired output; used by the
// Graph Builder's dxCapRaw derivation (§4.2: solved for removing 95% of
// reserveOut).
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut.String(), reserveOut.String())
	}

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, basisPointDivisor)

	feeMultiplier := new(big.Int).Sub(basisPointDivisor, big.NewInt(int64(feeBps)))
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeMultiplier)

	if denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}

	amountIn := new(big.Int).Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

// GetScaledDecimal returns 10^dec, read-only for dec <= 18.
func GetScaledDecimal(dec uint8) *big.Int {
	if int(dec) < len(precomputedScales) {
		return precomputedScales[dec]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
}
