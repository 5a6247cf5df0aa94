package graph

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenID and PoolID are the small dense integer handles the Graph Builder
// assigns, enabling flat-array indexing in the search hot loop instead of
// map lookups keyed by address (the donor's TokenPoolRegistry does the same
// translation for the same reason).
type TokenID int32
type PoolID int32

const InvalidTokenID TokenID = -1

// Token mirrors spec §3: an immutable entity for the lifetime of the graph.
type Token struct {
	Addr     common.Address
	Symbol   string
	Decimals uint8
}

// Edge is a directed GraphEdge per spec §3.
type Edge struct {
	To             TokenID
	PoolID         PoolID
	SpotPrice      float64
	LogSpotPrice   float64
	LiquidityScore float64
	Score          float64
	// DxCapRaw is the largest input, in the `from` token's smallest unit,
	// that leaves at least 5% of reserveOut in the pool.
	DxCapRaw *big.Int
}

// View is a deep-copied, JSON-serializable snapshot of a Registry, the
// supplemented "graph snapshot" feature (SPEC_FULL §C) grounded on the
// donor's TokenPoolRegistryView/TokenPoolSystem.View() pair.
type View struct {
	Tokens    []Token           `json:"tokens"`
	PoolAddrs []common.Address  `json:"poolAddrs"`
	Adjacency map[TokenID][]Edge `json:"adjacency"`
}
