// Package curve implements the Response-Curve Builder (spec §4.6): for a
// path, a piecewise-linear sampling of output (and marginal rate) vs input
// at 18 fixed fractional points, monotonized against compound-rounding
// regressions in the underlying pool math.
//
// No single donor file builds a sampled response curve; this package is new
// code structured the way the pack's small, pure, allocation-light numeric
// packages are structured; each sample is simulated with
// evaluator.SimulateRoute, which chains the path's pool Swap calls. No
// sync.Pool here — curves are built once per quote request and
// are already request-scoped (§5 classifies this as per-request state, not
// a hot shared path).
package curve

import (
	"math/big"

	"github.com/sor/router-core/evaluator"
	"github.com/sor/router-core/graph"
	"github.com/sor/router-core/search"
)

// Fractions is the canonical 18-point fraction set from spec §3.
var Fractions = []float64{
	0.001, 0.0025, 0.005, 0.0075, 0.01, 0.015, 0.02, 0.03, 0.05,
	0.075, 0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.75, 1.0,
}

// Sample is one (inputRaw, outputRaw, marginalRaw) point.
type Sample struct {
	InputRaw    *big.Int
	OutputRaw   *big.Int
	MarginalRaw float64
}

// ResponseCurve is the up-to-18-point curve for a single path.
type ResponseCurve struct {
	Path    search.Path
	Samples []Sample
	// CapacityHit is true if a regression forced early termination (§4.6
	// step 2): the curve's last sample is the capacity point, not
	// necessarily the 100% fraction.
	CapacityHit bool
}

// Build produces the response curve for one path, per §4.6's contract.
func Build(snap *graph.Snapshot, path search.Path, totalInputRaw *big.Int, gasPerHopOutRaw *big.Int) ResponseCurve {
	curve := ResponseCurve{Path: path, Samples: make([]Sample, 0, len(Fractions))}
	hops := big.NewInt(int64(len(path.Pools)))
	gasCost := new(big.Int).Mul(gasPerHopOutRaw, hops)

	var prevInput *big.Int
	var prevOutput *big.Int

	for _, frac := range Fractions {
		inputRaw := fractionOf(totalInputRaw, frac)
		if inputRaw.Sign() <= 0 {
			continue
		}

		rawOut := evaluator.SimulateRoute(snap, path, inputRaw)
		outputRaw := new(big.Int).Sub(rawOut, gasCost)
		if outputRaw.Sign() < 0 {
			outputRaw = new(big.Int)
		}

		if prevOutput != nil && outputRaw.Cmp(prevOutput) < 0 {
			// §4.6 step 2: monotonicity is enforced by flatlining, not by
			// trusting the pool math to be strictly monotone under
			// compound rounding. This is a conservative approximation —
			// the true capacity point may lie strictly between the two
			// samples, but the curve never reports a higher input at a
			// lower output.
			curve.Samples = append(curve.Samples, Sample{
				InputRaw:    inputRaw,
				OutputRaw:   new(big.Int).Set(prevOutput),
				MarginalRaw: 0,
			})
			curve.CapacityHit = true
			break
		}

		marginal := marginalOf(prevInput, prevOutput, inputRaw, outputRaw)
		curve.Samples = append(curve.Samples, Sample{
			InputRaw:    inputRaw,
			OutputRaw:   outputRaw,
			MarginalRaw: marginal,
		})
		prevInput, prevOutput = inputRaw, outputRaw
	}

	return curve
}

func fractionOf(total *big.Int, frac float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(total), big.NewFloat(frac))
	out, _ := scaled.Int(nil)
	return out
}

// marginalOf is the finite-difference derivative vs the previous sample, or
// the average rate for the first sample. Non-finite results become 0.
func marginalOf(prevInput, prevOutput, inputRaw, outputRaw *big.Int) float64 {
	inF, _ := new(big.Float).SetInt(inputRaw).Float64()
	outF, _ := new(big.Float).SetInt(outputRaw).Float64()

	if prevInput == nil {
		if inF == 0 {
			return 0
		}
		return outF / inF
	}

	prevInF, _ := new(big.Float).SetInt(prevInput).Float64()
	prevOutF, _ := new(big.Float).SetInt(prevOutput).Float64()

	dIn := inF - prevInF
	if dIn == 0 {
		return 0
	}
	m := (outF - prevOutF) / dIn
	if isNonFinite(m) {
		return 0
	}
	return m
}

func isNonFinite(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

// FilterByInitialRate implements §4.6's optional quality gate: drop curves
// whose first-sample effective rate falls below minInitialEffRatio of the
// best such rate across all curves. A ratio of 0 (the default) disables
// filtering.
func FilterByInitialRate(curves []ResponseCurve, minInitialEffRatio float64) []ResponseCurve {
	kept, _ := FilterIndicesByInitialRate(curves, minInitialEffRatio)
	out := make([]ResponseCurve, len(kept))
	for i, idx := range kept {
		out[i] = curves[idx]
	}
	return out
}

// FilterIndicesByInitialRate is FilterByInitialRate's index-returning form,
// for callers (e.g. router.split) that must keep a parallel slice — such as
// per-path caps — aligned with the surviving curves.
func FilterIndicesByInitialRate(curves []ResponseCurve, minInitialEffRatio float64) (kept []int, allIndices []int) {
	allIndices = make([]int, len(curves))
	for i := range curves {
		allIndices[i] = i
	}
	if minInitialEffRatio <= 0 || len(curves) == 0 {
		return allIndices, allIndices
	}

	best := 0.0
	rates := make([]float64, len(curves))
	for i, c := range curves {
		rates[i] = initialEffRate(c)
		if rates[i] > best {
			best = rates[i]
		}
	}
	if best == 0 {
		return allIndices, allIndices
	}

	threshold := best * minInitialEffRatio
	kept = make([]int, 0, len(curves))
	for i, r := range rates {
		if r >= threshold {
			kept = append(kept, i)
		}
	}
	return kept, allIndices
}

func initialEffRate(c ResponseCurve) float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	s := c.Samples[0]
	inF, _ := new(big.Float).SetInt(s.InputRaw).Float64()
	outF, _ := new(big.Float).SetInt(s.OutputRaw).Float64()
	if inF == 0 {
		return 0
	}
	return outF / inF
}
