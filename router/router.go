// Package router implements the top-level orchestrator (spec §2's data-flow
// diagram, §6's external interfaces): Graph Builder snapshot in, quote
// request in, A* candidates through the Route Evaluator and optionally the
// Water-Fill/Hill-Climb Splitter, quote response out.
//
// Wiring style grounded on cmd/client/main.go's construct-config →
// construct-dependencies → run shape, and the config-struct-with-validate()
// idiom from differ.StateDifferConfig/NewStateDiffer (config.go's
// Config.validate returns ErrInputInvalid per §7's error taxonomy, the one
// hard-failure kind this core surfaces).
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sor/router-core/curve"
	"github.com/sor/router-core/evaluator"
	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/heuristic"
	"github.com/sor/router-core/metrics"
	"github.com/sor/router-core/search"
	"github.com/sor/router-core/splitter"
)

const tracerName = "sor/router-core"

// Request is a quote request, per §6's inputs contract. SwapAmountHuman is
// in human-readable units of the source token; Router converts it to raw
// using SourceDecimals.
type Request struct {
	SourceAddr      common.Address
	TargetAddr      common.Address
	SwapAmountHuman float64
	SourceDecimals  uint8

	Config Config
}

// Hop is one leg of a returned path, per §6's output contract.
type Hop struct {
	PoolAddr common.Address
	FromAddr common.Address
	ToAddr   common.Address
}

// BestSingle describes the single best unsplit path, per §6.
type BestSingle struct {
	PathIndex      int
	OutputRaw      *big.Int
	OutputHuman    float64
	GasCostRaw     *big.Int
	NetOutputHuman float64
}

// AllocationView is one path's share of a split quote, per §6.
type AllocationView struct {
	PathIndex       int
	InputHuman      float64
	OutputHuman     float64
	InitialMarginal float64
	FinalMarginal   float64
}

// SplitView describes a completed split quote, per §6.
type SplitView struct {
	TotalInputHuman  float64
	TotalOutputHuman float64
	Allocations      []AllocationView
	Iterations       int
	Algorithm        string
}

// Diagnostics carries per-phase timing and search introspection, per §6.
type Diagnostics struct {
	RequestID       string
	SearchDuration  time.Duration
	SplitDuration   time.Duration
	TotalDuration   time.Duration
	NodesExplored   int
	BudgetExceeded  bool
	NoRouteFound    bool
	PathsConsidered int
}

// Response is the full quote response, per §6.
type Response struct {
	Paths       [][]Hop
	BestSingle  BestSingle
	Split       *SplitView
	Diagnostics Diagnostics
}

// Router wires the Graph Builder's live System, the heuristic cache, and
// metrics into one Quote entry point.
type Router struct {
	system *graph.System
	cache  heuristic.Cache
	metrics *metrics.Metrics
	log    *slog.Logger
	tracer trace.Tracer
}

// New constructs a Router. A nil cache falls back to an in-process
// heuristic.MemCache; a nil metrics disables recording.
func New(system *graph.System, cache heuristic.Cache, m *metrics.Metrics, log *slog.Logger) *Router {
	if cache == nil {
		cache = heuristic.NewMemCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		system:  system,
		cache:   cache,
		metrics: m,
		log:     log,
		tracer:  otel.Tracer(tracerName),
	}
}

// DefaultBeamWidth scales the default beam width to the host's CPU count, a
// convenience for deployments that don't set Config.BeamWidth explicitly.
// Grounded on the donor pack's gopsutil-derived capacity sizing idiom (the
// donor's own go.mod pulls gopsutil only as an indirect transitive
// dependency with no direct call site in the retrieved files, so this is
// the first direct use of cpu.Counts in this codebase).
func DefaultBeamWidth() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 32
	}
	beam := n * 8
	if beam < 16 {
		return 16
	}
	if beam > 256 {
		return 256
	}
	return beam
}

// Quote is the core entry point: §2's full data-flow, start to finish.
func (rt *Router) Quote(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()
	ctx, span := rt.tracer.Start(ctx, "router.Quote", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("source", req.SourceAddr.Hex()),
		attribute.String("target", req.TargetAddr.Hex()),
	))
	defer span.End()

	start := time.Now()
	if rt.metrics != nil {
		defer func() { rt.metrics.ObserveQuoteDuration(time.Since(start)) }()
	}

	if err := req.Config.validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if req.SwapAmountHuman <= 0 {
		err := fmt.Errorf("%w: swap_amount must be positive, got %f", ErrInputInvalid, req.SwapAmountHuman)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snap := rt.system.Snapshot()
	sourceID, ok := snap.TokenID(req.SourceAddr)
	if !ok {
		err := fmt.Errorf("%w: unknown source token %s", ErrInputInvalid, req.SourceAddr.Hex())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	targetID, ok := snap.TokenID(req.TargetAddr)
	if !ok {
		err := fmt.Errorf("%w: unknown target token %s", ErrInputInvalid, req.TargetAddr.Hex())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	gasPerHopPenalty := gasPenaltyOf(req.Config.GasPerHopUSD, req.Config.TargetUSDPrice)

	key := heuristic.Key{
		TokenCount:       len(snap.Tokens),
		EdgeCount:        edgeCountOf(snap),
		Target:           req.TargetAddr,
		GasPerHopPenalty: gasPerHopPenalty,
	}
	var cacheMetrics heuristic.CacheMetricsRecorder
	if rt.metrics != nil {
		cacheMetrics = rt.metrics
	}
	h := heuristic.GetOrCompute(rt.cache, key, cacheMetrics, func() heuristic.Table {
		return heuristic.Compute(snap, targetID, gasPerHopPenalty)
	})

	searchStart := time.Now()
	result := search.FindTopKRoutes(snap, h, sourceID, targetID, req.Config.MaxHops, req.Config.TopK, req.Config.BeamWidth, gasPerHopPenalty)
	searchDuration := time.Since(searchStart)
	if rt.metrics != nil {
		rt.metrics.ObserveSearchDuration(searchDuration)
		rt.metrics.ObservePathsFound(len(result.Paths))
		if result.BudgetExceeded {
			rt.metrics.IncBudgetExceeded()
		}
	}

	diag := Diagnostics{
		RequestID:       requestID,
		SearchDuration:  searchDuration,
		BudgetExceeded:  result.BudgetExceeded,
		PathsConsidered: len(result.Paths),
	}

	if len(result.Paths) == 0 {
		diag.NoRouteFound = true
		diag.TotalDuration = time.Since(start)
		span.SetAttributes(attribute.Bool("no_route_found", true))
		return &Response{Diagnostics: diag}, nil
	}

	amountRaw := humanToRaw(req.SwapAmountHuman, req.SourceDecimals)
	gasPerHopOutRaw := humanToRaw(req.Config.GasPerHopUSD/req.Config.TargetUSDPrice, targetDecimals(snap, targetID))

	selection, found := evaluator.SelectBest(snap, result.Paths, amountRaw, gasPerHopOutRaw)
	if !found {
		diag.NoRouteFound = true
		diag.TotalDuration = time.Since(start)
		return &Response{Diagnostics: diag}, nil
	}

	targetDec := targetDecimals(snap, targetID)
	bestOutputRaw := evaluator.SimulateRoute(snap, selection.Path, amountRaw)
	resp := &Response{
		Paths: pathsToHops(snap, result.Paths),
		BestSingle: BestSingle{
			PathIndex:      selection.Index,
			OutputRaw:      bestOutputRaw,
			OutputHuman:    rawToHuman(bestOutputRaw, targetDec),
			GasCostRaw:     new(big.Int).Mul(gasPerHopOutRaw, big.NewInt(int64(len(selection.Path.Pools)))),
			NetOutputHuman: rawToHuman(selection.NetOutput, targetDec),
		},
	}

	if req.Config.EnableSplitting && len(result.Paths) > 1 {
		splitStart := time.Now()
		split := rt.split(snap, result.Paths, amountRaw, gasPerHopOutRaw, req.Config, req.SourceDecimals, targetDec)
		splitDuration := time.Since(splitStart)
		diag.SplitDuration = splitDuration
		if rt.metrics != nil {
			rt.metrics.ObserveSplitIterations(split.Iterations)
		}
		if split.TotalOutputHuman >= resp.BestSingle.NetOutputHuman {
			resp.Split = split
		}
	}

	diag.TotalDuration = time.Since(start)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// split builds response curves per candidate path, runs WaterFill then
// HillClimb as a cross-check (§4.7/§4.8), and keeps whichever produced the
// higher TotalOutput, per §8 property 7's no-splitting-dominance invariant.
func (rt *Router) split(snap *graph.Snapshot, paths []search.Path, amountRaw, gasPerHopOutRaw *big.Int, cfg Config, sourceDec, targetDec uint8) *SplitView {
	curves := make([]curve.ResponseCurve, len(paths))
	caps := make([]*big.Int, len(paths))
	for i, p := range paths {
		curves[i] = curve.Build(snap, p, amountRaw, gasPerHopOutRaw)
		caps[i] = pathCap(snap, p)
	}
	curves, caps = filterPairedByInitialRate(curves, caps, cfg.MinInitialEffRatio)

	var splitMetrics splitter.MetricsRecorder
	if rt.metrics != nil {
		splitMetrics = rt.metrics
	}
	wf := splitter.WaterFill(curves, caps, amountRaw, cfg.MinAllocationPct, splitMetrics)
	hc := splitter.HillClimb(curves, caps, amountRaw)

	best := wf
	algorithm := "waterfill"
	if hc.TotalOutput.Cmp(wf.TotalOutput) > 0 {
		best = hc
		algorithm = "hillclimb"
	}

	view := &SplitView{
		TotalInputHuman:  rawToHuman(amountRaw, sourceDec),
		TotalOutputHuman: rawToHuman(best.TotalOutput, targetDec),
		Algorithm:        algorithm,
		Allocations:      make([]AllocationView, 0, len(best.InputRaw)),
	}
	for i, in := range best.InputRaw {
		if in.Sign() == 0 {
			continue
		}
		view.Allocations = append(view.Allocations, AllocationView{
			PathIndex:       i,
			InputHuman:      rawToHuman(in, sourceDec),
			OutputHuman:     rawToHuman(best.OutputRaw[i], targetDec),
			InitialMarginal: best.StartMarginal[i],
			FinalMarginal:   best.FinalMarginal[i],
		})
	}
	view.Iterations = best.Iterations
	return view
}

// filterPairedByInitialRate applies curve.FilterByInitialRate's threshold
// rule to curves and caps together, keeping the two slices index-aligned.
func filterPairedByInitialRate(curves []curve.ResponseCurve, caps []*big.Int, minInitialEffRatio float64) ([]curve.ResponseCurve, []*big.Int) {
	kept, _ := curve.FilterIndicesByInitialRate(curves, minInitialEffRatio)
	outCurves := make([]curve.ResponseCurve, len(kept))
	outCaps := make([]*big.Int, len(kept))
	for i, idx := range kept {
		outCurves[i] = curves[idx]
		outCaps[i] = caps[idx]
	}
	return outCurves, outCaps
}

func pathCap(snap *graph.Snapshot, p search.Path) *big.Int {
	capRaw := new(big.Int).Lsh(big.NewInt(1), 200)
	for i := range p.Pools {
		edges := snap.Edges(p.Tokens[i])
		for _, e := range edges {
			if e.PoolID == p.Pools[i] && e.DxCapRaw.Cmp(capRaw) < 0 {
				capRaw = e.DxCapRaw
			}
		}
	}
	return capRaw
}

func pathsToHops(snap *graph.Snapshot, paths []search.Path) [][]Hop {
	out := make([][]Hop, len(paths))
	for i, p := range paths {
		hops := make([]Hop, len(p.Pools))
		for j, poolID := range p.Pools {
			pl, _ := snap.Pool(poolID)
			var addr common.Address
			if pl != nil {
				addr = pl.Addr()
			}
			hops[j] = Hop{
				PoolAddr: addr,
				FromAddr: tokenAddrOf(snap, p.Tokens[j]),
				ToAddr:   tokenAddrOf(snap, p.Tokens[j+1]),
			}
		}
		out[i] = hops
	}
	return out
}

func tokenAddrOf(snap *graph.Snapshot, id graph.TokenID) common.Address {
	if int(id) < 0 || int(id) >= len(snap.Tokens) {
		return common.Address{}
	}
	return snap.Tokens[id].Addr
}

func targetDecimals(snap *graph.Snapshot, id graph.TokenID) uint8 {
	if int(id) < 0 || int(id) >= len(snap.Tokens) {
		return 18
	}
	return snap.Tokens[id].Decimals
}

func edgeCountOf(snap *graph.Snapshot) int {
	n := 0
	for _, edges := range snap.Adjacency {
		n += len(edges)
	}
	return n
}

// gasPenaltyOf converts a USD gas cost into the dimensionless log-price
// penalty units used by §4.2/§4.3's edge weights.
func gasPenaltyOf(gasPerHopUSD, targetUSDPrice float64) float64 {
	if targetUSDPrice <= 0 {
		return 0
	}
	return gasPerHopUSD / targetUSDPrice
}

func humanToRaw(amount float64, decimals uint8) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), pow10(decimals))
	out, _ := scaled.Int(nil)
	return out
}

func rawToHuman(amountRaw *big.Int, decimals uint8) float64 {
	if amountRaw == nil {
		return 0
	}
	f := new(big.Float).SetInt(amountRaw)
	f.Quo(f, pow10(decimals))
	v, _ := f.Float64()
	return v
}

func pow10(decimals uint8) *big.Float {
	out := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := uint8(0); i < decimals; i++ {
		out.Mul(out, ten)
	}
	return out
}
