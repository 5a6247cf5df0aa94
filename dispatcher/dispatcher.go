// Package dispatcher implements the Graph Update Dispatcher (spec §4.9): it
// consumes a stream of external pool-lifecycle events and applies selective
// edge-weight or topology updates to the shared graph.System, invalidating
// the heuristic cache when the update changes its keying shape.
//
// Event classification and the additions/updates/deletions split are
// adapted from protocols/uniswapv2/differ.go's UniswapV2SystemDiff pattern
// (map-based lookup, Cmp-based change detection instead of reflect.DeepEqual)
// and protocols/uniswapv2/patcher.go's deep-copy-before-mutate discipline —
// generalized here from "whole-state diff/patch" to "one event, one
// in-place graph mutation", since the Graph Builder already exposes
// per-pool AddPool/RemovePool rather than requiring a full state replace.
package dispatcher

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"log/slog"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/heuristic"
	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/concentrated"
	"github.com/sor/router-core/pool/constantproduct"
	"github.com/sor/router-core/pool/stablecurve"
)

// Epsilon is the minimum relative reserve-ratio change (§4.9) below which a
// LiquidityAdded/LiquidityRemoved event is considered balanced and skipped.
const Epsilon = 1e-6

// SwapBatchWindow bounds how long Swapped events for one pool are coalesced
// before a single weight recomputation is applied, per §4.9's "order of
// seconds" guidance.
const SwapBatchWindow = 2 * time.Second

// Kind classifies an incoming event per §4.9's six event kinds.
type Kind int

const (
	PoolCreated Kind = iota
	PoolDisabled
	LiquidityAdded
	LiquidityRemoved
	Swapped
	FeeUpdated
)

func (k Kind) String() string {
	switch k {
	case PoolCreated:
		return "pool_created"
	case PoolDisabled:
		return "pool_disabled"
	case LiquidityAdded:
		return "liquidity_added"
	case LiquidityRemoved:
		return "liquidity_removed"
	case Swapped:
		return "swapped"
	case FeeUpdated:
		return "fee_updated"
	default:
		return "unknown"
	}
}

// Event carries one pool-lifecycle notification, per §4.9's event stream
// interface contract: {kind, poolAddr, oldReservesRaw, newReservesRaw, fee?}.
type Event struct {
	Kind     Kind
	PoolAddr common.Address

	// Pool is the full pool definition, required for PoolCreated (the
	// dispatcher has no other way to learn a brand-new pool's variant/fee).
	Pool pool.Pool

	OldReserve0, OldReserve1 *big.Int
	NewReserve0, NewReserve1 *big.Int

	// FeeBps is set for FeeUpdated events.
	FeeBps uint16
}

// MetricsRecorder is the minimal surface the dispatcher needs from the
// metrics package; defined locally so this package does not import metrics.
type MetricsRecorder interface {
	RecordEventProcessed(kind string)
	RecordCacheInvalidation()
}

type noopMetrics struct{}

func (noopMetrics) RecordEventProcessed(string) {}
func (noopMetrics) RecordCacheInvalidation()     {}

// Dispatcher applies events to a graph.System and keeps the heuristic cache
// coherent, per §4.9 and §5's single-writer discipline (the System itself
// serializes concurrent AddPool/RemovePool calls under its own mutex; the
// dispatcher's own mutex here only protects the Swapped batching state).
type Dispatcher struct {
	system *graph.System
	cache  heuristic.Cache
	log    *slog.Logger
	metrics MetricsRecorder

	batchWindow time.Duration

	mu      sync.Mutex
	pending map[common.Address]*pendingSwap
}

type pendingSwap struct {
	latest       Event
	timer        *time.Timer
}

// New builds a Dispatcher wired to the given graph and heuristic cache. A
// nil cache disables invalidation (useful in tests); a nil metrics disables
// metrics recording.
func New(system *graph.System, cache heuristic.Cache, metrics MetricsRecorder, log *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		system:      system,
		cache:       cache,
		metrics:     metrics,
		log:         log,
		batchWindow: SwapBatchWindow,
		pending:     make(map[common.Address]*pendingSwap),
	}
}

// Dispatch classifies and applies one event per §4.9's rules.
func (d *Dispatcher) Dispatch(ev Event) {
	d.metrics.RecordEventProcessed(ev.Kind.String())

	switch ev.Kind {
	case PoolCreated:
		d.applyPoolCreated(ev)
	case PoolDisabled:
		d.applyPoolDisabled(ev)
	case LiquidityAdded, LiquidityRemoved:
		d.applyLiquidityChange(ev)
	case Swapped:
		d.applySwappedBatched(ev)
	case FeeUpdated:
		d.applyFeeUpdate(ev)
	default:
		d.log.Warn("dispatcher: unknown event kind", "kind", int(ev.Kind), "pool", ev.PoolAddr)
	}
}

// applyPoolCreated always updates topology (§4.9) and invalidates the
// heuristic cache for the pre-mutation (tokenCount, edgeCount) shape, since
// a new pool can introduce a new token or a new edge.
func (d *Dispatcher) applyPoolCreated(ev Event) {
	if ev.Pool == nil {
		d.log.Error("dispatcher: PoolCreated event missing pool definition", "pool", ev.PoolAddr)
		return
	}
	preTokens, preEdges := d.shape()
	if err := d.system.AddPool(ev.Pool); err != nil {
		d.log.Error("dispatcher: AddPool failed", "pool", ev.PoolAddr, "err", err)
		return
	}
	d.invalidate(preTokens, preEdges)
}

// applyPoolDisabled always removes topology, per §4.9.
func (d *Dispatcher) applyPoolDisabled(ev Event) {
	preTokens, preEdges := d.shape()
	d.system.RemovePool(ev.PoolAddr)
	d.invalidate(preTokens, preEdges)
}

// applyLiquidityChange updates iff the reserve ratio moves beyond Epsilon
// (§4.9) — balanced liquidity ops leave spot price, and therefore every
// directional edge's logSpotPrice, unchanged.
func (d *Dispatcher) applyLiquidityChange(ev Event) {
	if !ratioChanged(ev.OldReserve0, ev.OldReserve1, ev.NewReserve0, ev.NewReserve1, Epsilon) {
		return
	}
	d.recomputeReserves(ev.PoolAddr, ev.NewReserve0, ev.NewReserve1)
}

// applySwappedBatched coalesces Swapped events per pool over batchWindow
// (§4.9's "order of seconds" guidance) so that a burst of trades against
// one pool triggers one weight recomputation, not one per trade.
func (d *Dispatcher) applySwappedBatched(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[ev.PoolAddr]
	if ok {
		p.latest = ev
		return
	}

	p = &pendingSwap{latest: ev}
	p.timer = time.AfterFunc(d.batchWindow, func() { d.flushSwap(ev.PoolAddr) })
	d.pending[ev.PoolAddr] = p
}

func (d *Dispatcher) flushSwap(addr common.Address) {
	d.mu.Lock()
	p, ok := d.pending[addr]
	if ok {
		delete(d.pending, addr)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.recomputeReserves(addr, p.latest.NewReserve0, p.latest.NewReserve1)
}

// applyFeeUpdate updates weights iff the score formula includes fee; this
// build's score (§4.2) is logSpotPrice + log(liquidityScore), where
// logSpotPrice comes from the pool's after-fee SpotPrice, and dxCapRaw also
// depends on fee (via the swap-math fee term), so a FeeUpdated event is
// applied as a full edge recompute.
func (d *Dispatcher) applyFeeUpdate(ev Event) {
	existing := d.findPool(ev.PoolAddr)
	if existing == nil {
		d.log.Warn("dispatcher: FeeUpdated for unknown pool", "pool", ev.PoolAddr)
		return
	}
	updated := withFee(existing, ev.FeeBps)
	if updated == nil {
		return
	}
	if err := d.system.AddPool(updated); err != nil {
		d.log.Error("dispatcher: AddPool (fee update) failed", "pool", ev.PoolAddr, "err", err)
	}
}

func (d *Dispatcher) findPool(addr common.Address) pool.Pool {
	snap := d.system.Snapshot()
	for _, p := range snap.Pools {
		if p.Addr() == addr {
			return p
		}
	}
	return nil
}

func (d *Dispatcher) recomputeReserves(addr common.Address, reserve0, reserve1 *big.Int) {
	existing := d.findPool(addr)
	if existing == nil {
		d.log.Warn("dispatcher: liquidity/swap event for unknown pool", "pool", addr)
		return
	}
	updated := withReserves(existing, reserve0, reserve1)
	if updated == nil {
		d.log.Warn("dispatcher: unsupported pool variant for reserve update", "pool", addr, "variant", existing.Variant())
		return
	}
	if err := d.system.AddPool(updated); err != nil {
		d.log.Error("dispatcher: AddPool (reserve update) failed", "pool", addr, "err", err)
	}
}

func (d *Dispatcher) shape() (tokenCount, edgeCount int) {
	snap := d.system.Snapshot()
	return len(snap.Tokens), edgeCountOf(snap)
}

func edgeCountOf(snap *graph.Snapshot) int {
	n := 0
	for _, edges := range snap.Adjacency {
		n += len(edges)
	}
	return n
}

func (d *Dispatcher) invalidate(tokenCount, edgeCount int) {
	if d.cache == nil {
		return
	}
	d.cache.Invalidate(tokenCount, edgeCount)
	d.metrics.RecordCacheInvalidation()
}

// ratioChanged reports whether reserve0/reserve1 moved by more than epsilon
// in relative terms.
func ratioChanged(oldR0, oldR1, newR0, newR1 *big.Int, epsilon float64) bool {
	if oldR0 == nil || oldR1 == nil || newR0 == nil || newR1 == nil {
		return true
	}
	if oldR1.Sign() == 0 || newR1.Sign() == 0 {
		return true
	}
	oldRatio := new(big.Float).Quo(new(big.Float).SetInt(oldR0), new(big.Float).SetInt(oldR1))
	newRatio := new(big.Float).Quo(new(big.Float).SetInt(newR0), new(big.Float).SetInt(newR1))

	oldF, _ := oldRatio.Float64()
	newF, _ := newRatio.Float64()
	if oldF == 0 {
		return newF != 0
	}
	relDiff := (newF - oldF) / oldF
	if relDiff < 0 {
		relDiff = -relDiff
	}
	return relDiff > epsilon
}

// withReserves reconstructs a pool value of the same concrete variant with
// updated reserves, mirroring patcher.go's deepCopyPool — the Pool Oracle
// contract (pool.go) requires mutation to happen by constructing a new
// value, never in place.
func withReserves(p pool.Pool, reserve0, reserve1 *big.Int) pool.Pool {
	switch v := p.(type) {
	case *constantproduct.Pool:
		cp := *v
		cp.Slot0.ReserveRaw = new(big.Int).Set(reserve0)
		cp.Slot1.ReserveRaw = new(big.Int).Set(reserve1)
		return &cp
	case *concentrated.Pool:
		cp := *v
		cp.Slot0.ReserveRaw = new(big.Int).Set(reserve0)
		cp.Slot1.ReserveRaw = new(big.Int).Set(reserve1)
		return &cp
	case *stablecurve.Pool:
		cp := *v
		cp.Slot0.ReserveRaw = new(big.Int).Set(reserve0)
		cp.Slot1.ReserveRaw = new(big.Int).Set(reserve1)
		return &cp
	default:
		return nil
	}
}

// withFee reconstructs a pool value with an updated fee, for variants that
// carry a fee field. Concentrated pools carry fee inside State and are left
// unsupported here — the core treats that as "no FeeUpdated support for this
// variant" per §4.9's implementation-choice language.
func withFee(p pool.Pool, feeBps uint16) pool.Pool {
	switch v := p.(type) {
	case *constantproduct.Pool:
		cp := *v
		cp.FeeBps = feeBps
		return &cp
	case *stablecurve.Pool:
		cp := *v
		cp.FeeBps = feeBps
		return &cp
	default:
		return nil
	}
}
