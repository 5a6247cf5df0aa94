package graph

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
)

func TestSystem_AddPoolPublishesSnapshot(t *testing.T) {
	s := NewSystem()

	empty := s.Snapshot()
	assert.Empty(t, empty.Tokens)

	p := &constantproduct.Pool{
		AddrV:  common.HexToAddress("0xPOOL"),
		Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xA"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
		Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xB"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
		FeeBps: 30,
	}
	require.NoError(t, s.AddPool(p))

	snap := s.Snapshot()
	require.Len(t, snap.Tokens, 2)
	idA, ok := snap.TokenID(common.HexToAddress("0xA"))
	require.True(t, ok)
	assert.Len(t, snap.Edges(idA), 1)

	// The previously loaded empty snapshot must remain untouched.
	assert.Empty(t, empty.Tokens)
}

func TestSystem_ConcurrentReadsDuringWrite(t *testing.T) {
	s := NewSystem()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	p := &constantproduct.Pool{
		AddrV:  common.HexToAddress("0xPOOL2"),
		Slot0:  pool.TokenSlot{Addr: common.HexToAddress("0xC"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
		Slot1:  pool.TokenSlot{Addr: common.HexToAddress("0xD"), ReserveRaw: big.NewInt(1_000_000_000_000), Decimals: 18},
		FeeBps: 30,
	}
	require.NoError(t, s.AddPool(p))
	wg.Wait()
}
