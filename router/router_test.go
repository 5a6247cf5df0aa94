package router

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/metrics"
	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
)

func buildRouterFixture(t *testing.T) *graph.System {
	t.Helper()
	pools := []pool.Pool{
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD1"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xE"), ReserveRaw: big.NewInt(1_010_000_000_000), Decimals: 18},
			FeeBps: 30,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD2"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xF"), ReserveRaw: big.NewInt(1_030_000_000_000), Decimals: 18},
			FeeBps: 5,
		},
		&constantproduct.Pool{
			AddrV:  common.HexToAddress("0xD3"),
			Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xF"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
			Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xE"), ReserveRaw: big.NewInt(1_020_000_000_000), Decimals: 18},
			FeeBps: 5,
		},
	}
	sys, err := graph.NewSystemFromPools(pools)
	require.NoError(t, err)
	return sys
}

func TestQuote_ReturnsBestSingleRoute(t *testing.T) {
	sys := buildRouterFixture(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	rt := New(sys, nil, m, nil)

	cfg := DefaultConfig()
	req := Request{
		SourceAddr:      common.HexToAddress("0xA"),
		TargetAddr:      common.HexToAddress("0xE"),
		SwapAmountHuman: 1.0,
		SourceDecimals:  18,
		Config:          cfg,
	}

	resp, err := rt.Quote(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Diagnostics.NoRouteFound)
	assert.NotEmpty(t, resp.Paths)
	assert.True(t, resp.BestSingle.OutputRaw.Sign() > 0)
}

func TestQuote_EnablesSplittingAcrossMultiplePaths(t *testing.T) {
	sys := buildRouterFixture(t)
	rt := New(sys, nil, nil, nil)

	cfg := DefaultConfig()
	cfg.EnableSplitting = true
	cfg.TopK = 10
	req := Request{
		SourceAddr:      common.HexToAddress("0xA"),
		TargetAddr:      common.HexToAddress("0xE"),
		SwapAmountHuman: 10.0,
		SourceDecimals:  18,
		Config:          cfg,
	}

	resp, err := rt.Quote(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	if resp.Split != nil {
		assert.GreaterOrEqual(t, resp.Split.TotalOutputHuman, resp.BestSingle.NetOutputHuman)
	}
}

func TestQuote_RejectsUnknownSourceToken(t *testing.T) {
	sys := buildRouterFixture(t)
	rt := New(sys, nil, nil, nil)

	req := Request{
		SourceAddr:      common.HexToAddress("0xDEADBEEF"),
		TargetAddr:      common.HexToAddress("0xE"),
		SwapAmountHuman: 1.0,
		SourceDecimals:  18,
		Config:          DefaultConfig(),
	}

	_, err := rt.Quote(context.Background(), req)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestQuote_RejectsNonPositiveAmount(t *testing.T) {
	sys := buildRouterFixture(t)
	rt := New(sys, nil, nil, nil)

	req := Request{
		SourceAddr:      common.HexToAddress("0xA"),
		TargetAddr:      common.HexToAddress("0xE"),
		SwapAmountHuman: 0,
		SourceDecimals:  18,
		Config:          DefaultConfig(),
	}

	_, err := rt.Quote(context.Background(), req)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestQuote_RejectsInvalidConfig(t *testing.T) {
	sys := buildRouterFixture(t)
	rt := New(sys, nil, nil, nil)

	cfg := DefaultConfig()
	cfg.MaxHops = 0
	req := Request{
		SourceAddr:      common.HexToAddress("0xA"),
		TargetAddr:      common.HexToAddress("0xE"),
		SwapAmountHuman: 1.0,
		SourceDecimals:  18,
		Config:          cfg,
	}

	_, err := rt.Quote(context.Background(), req)
	assert.ErrorIs(t, err, ErrInputInvalid)
}
