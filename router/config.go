package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ErrInputInvalid is the one hard-failure kind the core surfaces (§7):
// unknown source/target address, non-positive amount, or a non-sensical
// config. Everything else degrades silently onto the response's
// diagnostics.
var ErrInputInvalid = errors.New("router: input invalid")

// Config holds the per-deployment defaults for quote requests, per §6's
// config field list. Loaded the way the Hola-to-network_logistics_problem
// pack repo's pkg/config/loader.go layers sources: defaults via
// confmap.Provider, then environment overrides via env.Provider — using
// only the two koanf providers this module's go.mod actually declares
// (confmap, env; no yaml/file provider, since this core takes no config
// file path of its own — the embedding service owns file loading and hands
// this package a flat map).
type Config struct {
	MaxHops             int     `koanf:"max_hops"`
	TopK                int     `koanf:"top_k"`
	BeamWidth           int     `koanf:"beam_width"`
	GasPerHopUSD        float64 `koanf:"gas_per_hop_usd"`
	TargetUSDPrice      float64 `koanf:"target_usd_price"`
	EnableSplitting     bool    `koanf:"enable_splitting"`
	MinInitialEffRatio  float64 `koanf:"min_initial_eff_ratio"`
	StepCount           int     `koanf:"step_count"`
	MinAllocationPct    float64 `koanf:"min_allocation_pct"`
	EnvPrefix           string  `koanf:"-"`
}

// DefaultConfig returns §6's documented per-field defaults.
func DefaultConfig() Config {
	return Config{
		MaxHops:            3,
		TopK:               40,
		BeamWidth:          32,
		GasPerHopUSD:       0.01,
		TargetUSDPrice:     1.0,
		EnableSplitting:    false,
		MinInitialEffRatio: 0,
		StepCount:          18,
		MinAllocationPct:   0.001,
		EnvPrefix:          "SOR_",
	}
}

// LoadConfig layers overrides onto DefaultConfig: first a flat map of
// overrides (e.g. parsed from the embedding service's own file config),
// then environment variables prefixed with cfg.EnvPrefix.
func LoadConfig(overrides map[string]any) (Config, error) {
	cfg := DefaultConfig()

	k := koanf.New(".")
	defaults := map[string]any{
		"max_hops":              cfg.MaxHops,
		"top_k":                 cfg.TopK,
		"beam_width":            cfg.BeamWidth,
		"gas_per_hop_usd":       cfg.GasPerHopUSD,
		"target_usd_price":      cfg.TargetUSDPrice,
		"enable_splitting":      cfg.EnableSplitting,
		"min_initial_eff_ratio": cfg.MinInitialEffRatio,
		"step_count":            cfg.StepCount,
		"min_allocation_pct":    cfg.MinAllocationPct,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return cfg, fmt.Errorf("router: load defaults: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return cfg, fmt.Errorf("router: load overrides: %w", err)
		}
	}
	envKey := func(s string) string { return strings.ToLower(strings.TrimPrefix(s, cfg.EnvPrefix)) }
	if err := k.Load(env.Provider(cfg.EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("router: load env: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("router: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate mirrors differ.StateDifferConfig.validate's fail-fast idiom,
// generalized to §6's numeric-field sanity checks, including §6's cap of 63
// on maxHops (the visited bitset is sized by token count and does not
// itself bound maxHops).
func (c Config) validate() error {
	if c.MaxHops <= 0 {
		return fmt.Errorf("%w: max_hops must be positive, got %d", ErrInputInvalid, c.MaxHops)
	}
	if c.MaxHops > 63 {
		return fmt.Errorf("%w: max_hops must be <= 63, got %d", ErrInputInvalid, c.MaxHops)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInputInvalid, c.TopK)
	}
	if c.BeamWidth <= 0 {
		return fmt.Errorf("%w: beam_width must be positive, got %d", ErrInputInvalid, c.BeamWidth)
	}
	if c.GasPerHopUSD < 0 {
		return fmt.Errorf("%w: gas_per_hop_usd must be non-negative, got %f", ErrInputInvalid, c.GasPerHopUSD)
	}
	if c.TargetUSDPrice <= 0 {
		return fmt.Errorf("%w: target_usd_price must be positive, got %f", ErrInputInvalid, c.TargetUSDPrice)
	}
	if c.MinInitialEffRatio < 0 || c.MinInitialEffRatio > 1 {
		return fmt.Errorf("%w: min_initial_eff_ratio must be in [0,1], got %f", ErrInputInvalid, c.MinInitialEffRatio)
	}
	if c.StepCount <= 0 {
		return fmt.Errorf("%w: step_count must be positive, got %d", ErrInputInvalid, c.StepCount)
	}
	return nil
}
