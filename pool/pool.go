// Package pool defines the Pool Oracle contract: the capability set the
// graph, search, and splitter components rely on without caring which AMM
// variant backs a given pool.
package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Variant names the swap-math family a Pool implements. The core never
// branches on Variant itself; it is metadata carried for diagnostics (the
// Graph Builder does not read it).
type Variant uint8

const (
	ConstantProduct Variant = iota
	Concentrated
	Stable
)

func (v Variant) String() string {
	switch v {
	case ConstantProduct:
		return "constant-product"
	case Concentrated:
		return "concentrated"
	case Stable:
		return "stable"
	default:
		return "unknown"
	}
}

// TokenSlot is one of a pool's two token legs: its address, raw reserve, and
// decimals.
type TokenSlot struct {
	Addr       common.Address
	ReserveRaw *big.Int
	Decimals   uint8
}

// Pool is the oracle contract every AMM variant implements. Implementations
// must be deterministic and pure with respect to the reserve snapshot they
// were built from; the core never mutates a pool through this interface —
// mutation happens externally and is reflected by constructing a new Pool
// value (see dispatcher.Dispatcher).
//
// Failure modes: SpotPrice returns 0 when either reserve is 0 ("edge
// absent"); Swap returns 0 on the same condition ("path broken"). Swap with
// an amount exceeding available liquidity is not an error — the result must
// stay non-negative and finite, saturating arithmetically if needed.
type Pool interface {
	Addr() common.Address
	Variant() Variant
	// FeeRational returns the fee as a rational in [0,1).
	FeeRational() float64
	Tokens() [2]TokenSlot
	// TokenSlot looks up one leg by address.
	TokenSlot(addr common.Address) (TokenSlot, bool)
	SpotPrice(from, to common.Address) float64
	Swap(amountInRaw *big.Int, from, to common.Address) *big.Int
}
