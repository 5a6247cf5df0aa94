// Command sorctl is a one-shot quoting CLI over the router core: load a
// bootstrap pool set, build the graph, run Router.Quote for one request, and
// print the result. Wiring grounded on cmd/client/main.go's
// construct-config → construct-dependencies → run shape and
// cmd/console/main.go's tabwriter-based result rendering (printRouteResult);
// log rotation via lumberjack mirrors the donor's file-logging setup in
// cmd/console/main.go, generalized from a flat append-only file to rotation
// since sorctl is meant to run repeatedly, not once per session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/metrics"
	"github.com/sor/router-core/pool"
	"github.com/sor/router-core/pool/constantproduct"
	"github.com/sor/router-core/pool/stablecurve"
	"github.com/sor/router-core/router"
)

// setupTracing installs a process-wide TracerProvider, grounded on the
// logistics example's pkg/telemetry.Init (resource + sampler + provider
// construction) with the OTLP gRPC exporter stage omitted: that exporter
// package is not part of this module's dependency set, so spans are
// recorded and sampled but not shipped anywhere by default. A deployment
// wanting real export swaps in a batcher the same way telemetry.Init does.
func setupTracing(serviceVersion string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", "sorctl"),
		attribute.String("service.version", serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("sorctl: build resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// bootstrapPool is the on-disk JSON shape for a single pool entry in the
// file passed via -pools. Only constant-product and stable-curve pools are
// representable this way; concentrated pools carry tick state too large for
// a hand-authored bootstrap file and are expected to arrive via a live feed
// instead (§4.9's PoolCreated event), not this CLI.
type bootstrapPool struct {
	Variant    string `json:"variant"`
	Address    string `json:"address"`
	Token0     string `json:"token0"`
	Token1     string `json:"token1"`
	Reserve0   string `json:"reserve0"`
	Reserve1   string `json:"reserve1"`
	Decimals0  uint8  `json:"decimals0"`
	Decimals1  uint8  `json:"decimals1"`
	FeeBps     uint16 `json:"feeBps"`
	Amp        string `json:"amp,omitempty"`
}

func main() {
	poolsPath := flag.String("pools", "", "path to a JSON bootstrap pool set")
	logPath := flag.String("log", "sorctl.log", "path to the log file (rotated via lumberjack)")
	sourceAddr := flag.String("from", "", "source token address")
	targetAddr := flag.String("to", "", "target token address")
	amount := flag.String("amount", "1.0", "swap amount, in human units of the source token")
	sourceDecimals := flag.Int("from-decimals", 18, "source token decimals")
	enableSplitting := flag.Bool("split", false, "enable route splitting")
	maxHops := flag.Int("max-hops", 0, "override Config.MaxHops (0 keeps the default)")
	topK := flag.Int("top-k", 0, "override Config.TopK (0 keeps the default)")
	watch := flag.Duration("watch", 0, "re-run the quote on this interval instead of once (0 disables)")
	flag.Parse()

	logHandler := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   *logPath,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     28,
	}, nil)
	log := slog.New(logHandler)

	if *poolsPath == "" || *sourceAddr == "" || *targetAddr == "" {
		fmt.Fprintln(os.Stderr, "usage: sorctl -pools pools.json -from 0x... -to 0x... -amount 1.5")
		os.Exit(2)
	}

	tp, err := setupTracing("dev")
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if tp != nil {
		defer tp.Shutdown(context.Background())
	}

	pools, err := loadBootstrapPools(*poolsPath)
	if err != nil {
		log.Error("failed to load bootstrap pool set", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	system, err := graph.NewSystemFromPools(pools)
	if err != nil {
		log.Error("failed to build graph", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	rt := router.New(system, nil, m, log)

	overrides := map[string]any{"beam_width": router.DefaultBeamWidth()}
	if *enableSplitting {
		overrides["enable_splitting"] = true
	}
	if *maxHops > 0 {
		overrides["max_hops"] = *maxHops
	}
	if *topK > 0 {
		overrides["top_k"] = *topK
	}
	cfg, err := router.LoadConfig(overrides)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	amountFloat, ok := new(big.Float).SetString(*amount)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: invalid amount %q\n", *amount)
		os.Exit(2)
	}
	amountHuman, _ := amountFloat.Float64()

	req := router.Request{
		SourceAddr:      common.HexToAddress(*sourceAddr),
		TargetAddr:      common.HexToAddress(*targetAddr),
		SwapAmountHuman: amountHuman,
		SourceDecimals:  uint8(*sourceDecimals),
		Config:          cfg,
	}

	if *watch <= 0 {
		resp, err := rt.Quote(ctx, req)
		if err != nil {
			log.Error("quote failed", "error", err)
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		printQuote(resp)
		return
	}

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		resp, err := rt.Quote(ctx, req)
		if err != nil {
			log.Error("quote failed", "error", err)
		} else {
			fmt.Print("\033[H\033[2J")
			printQuote(resp)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loadBootstrapPools(path string) ([]pool.Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}

	var entries []bootstrapPool
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}

	out := make([]pool.Pool, 0, len(entries))
	for i, e := range entries {
		p, err := e.toPool()
		if err != nil {
			return nil, fmt.Errorf("pool entry %d (%s): %w", i, e.Address, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (e bootstrapPool) toPool() (pool.Pool, error) {
	reserve0, ok := new(big.Int).SetString(e.Reserve0, 10)
	if !ok {
		return nil, fmt.Errorf("invalid reserve0 %q", e.Reserve0)
	}
	reserve1, ok := new(big.Int).SetString(e.Reserve1, 10)
	if !ok {
		return nil, fmt.Errorf("invalid reserve1 %q", e.Reserve1)
	}

	slot0 := pool.TokenSlot{Addr: common.HexToAddress(e.Token0), ReserveRaw: reserve0, Decimals: e.Decimals0}
	slot1 := pool.TokenSlot{Addr: common.HexToAddress(e.Token1), ReserveRaw: reserve1, Decimals: e.Decimals1}
	addr := common.HexToAddress(e.Address)

	switch e.Variant {
	case "constant-product", "":
		return &constantproduct.Pool{AddrV: addr, Slot0: slot0, Slot1: slot1, FeeBps: e.FeeBps}, nil
	case "stable":
		amp, ok := new(big.Int).SetString(e.Amp, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amp %q", e.Amp)
		}
		return &stablecurve.Pool{AddrV: addr, Slot0: slot0, Slot1: slot1, FeeBps: e.FeeBps, Amp: amp}, nil
	case "concentrated":
		return nil, fmt.Errorf("concentrated pools are not representable in a bootstrap file; use a live feed")
	default:
		return nil, fmt.Errorf("unknown variant %q", e.Variant)
	}
}

func printQuote(resp *router.Response) {
	if resp.Diagnostics.NoRouteFound {
		fmt.Println("no route found")
		return
	}

	fmt.Printf("request %s | %d paths considered | search %s | total %s\n",
		resp.Diagnostics.RequestID, resp.Diagnostics.PathsConsidered,
		resp.Diagnostics.SearchDuration.Round(time.Microsecond),
		resp.Diagnostics.TotalDuration.Round(time.Microsecond))

	fmt.Println("\nbest single route:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "path\toutput\tgas cost (raw)\tnet output")
	fmt.Fprintf(w, "%d\t%.6f\t%s\t%.6f\n",
		resp.BestSingle.PathIndex, resp.BestSingle.OutputHuman,
		resp.BestSingle.GasCostRaw.String(), resp.BestSingle.NetOutputHuman)
	w.Flush()

	if resp.Split == nil {
		return
	}

	fmt.Printf("\nsplit quote (%s, %d iterations):\n", resp.Split.Algorithm, resp.Split.Iterations)
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "path\tinput\toutput\tstart marginal\tfinal marginal")
	for _, a := range resp.Split.Allocations {
		fmt.Fprintf(w, "%d\t%.6f\t%.6f\t%.8f\t%.8f\n",
			a.PathIndex, a.InputHuman, a.OutputHuman, a.InitialMarginal, a.FinalMarginal)
	}
	w.Flush()
	fmt.Printf("total: %.6f -> %.6f\n", resp.Split.TotalInputHuman, resp.Split.TotalOutputHuman)
}
