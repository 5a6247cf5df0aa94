// Package splitter implements the Water-Fill Splitter (spec §4.7) and the
// Hill-Climb Splitter (spec §4.8): two independent algorithms for dividing
// one input amount across several candidate routes.
//
// waterfill.go's priority-queue equilibration is grounded on the same
// other_examples path_finder.go priorityQueue idiom used a second time in
// search/astar.go — here generalized from "best amountOut wins" to
// "marginal-rate equilibration across active paths", the textbook
// water-filling algorithm for concave allocation problems.
package splitter

import (
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sor/router-core/curve"
)

const (
	MaxIterations  = 5000
	BinarySearchIterations = 60
	DefaultMinPct  = 0.001 // 0.1%
)

// MetricsRecorder is the minimal surface WaterFill needs from the metrics
// package; defined locally so this package does not import metrics.
type MetricsRecorder interface {
	IncDustDropped()
}

type noopMetrics struct{}

func (noopMetrics) IncDustDropped() {}

// Allocation is the water-fill (or hill-climb) output: per-path input/output
// and the equilibrium marginal rates, per §4.7's "Output" contract.
type Allocation struct {
	InputRaw      []*big.Int
	OutputRaw     []*big.Int
	StartMarginal []float64
	FinalMarginal []float64
	TotalOutput   *big.Int
	Iterations    int
}

type pathCurve struct {
	c         curve.ResponseCurve
	capRaw    *big.Int
	x         *big.Int // current allocation
	start     float64  // marginal at x=0
	saturated bool
	origIndex int
}

// WaterFill runs the priority-queue marginal-equilibration algorithm over a
// set of curves for a total input T, per §4.7's numbered algorithm. The
// returned Allocation's slices are indexed identically to curves/capsRaw,
// with skipped paths (zero cap, zero initial marginal, no samples)
// reported as a zero allocation rather than omitted.
func WaterFill(curves []curve.ResponseCurve, capsRaw []*big.Int, totalRaw *big.Int, minPct float64, m MetricsRecorder) Allocation {
	if m == nil {
		m = noopMetrics{}
	}
	n := len(curves)
	paths := make([]*pathCurve, 0, n)
	for i, c := range curves {
		if len(c.Samples) == 0 || capsRaw[i] == nil || capsRaw[i].Sign() <= 0 {
			continue
		}
		startMarginal := c.Samples[0].MarginalRaw
		if startMarginal <= 0 {
			continue
		}
		paths = append(paths, &pathCurve{c: c, capRaw: capsRaw[i], x: new(big.Int), start: startMarginal, origIndex: i})
	}

	if len(paths) == 0 {
		return emptyAllocation(n)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i].start > paths[j].start })

	if minPct <= 0 {
		minPct = DefaultMinPct
	}
	tolFloat, _ := new(big.Float).Mul(new(big.Float).SetInt(totalRaw), big.NewFloat(1e-12)).Float64()
	tol := tolFloat
	if tol < 1e-9 {
		tol = 1e-9
	}

	remaining := new(big.Int).Set(totalRaw)
	active := make([]*pathCurve, 0, len(paths))
	pointer := 0
	remainingBelowTol := func() bool {
		f, _ := new(big.Float).SetInt(remaining).Float64()
		return f <= tol
	}

	activateNext := func() bool {
		if pointer >= len(paths) {
			return false
		}
		active = append(active, paths[pointer])
		pointer++
		return true
	}

	iterationsUsed := 0
	for iter := 0; iter < MaxIterations && remaining.Sign() > 0 && !remainingBelowTol(); iter++ {
		iterationsUsed = iter + 1
		if len(active) == 0 {
			if !activateNext() {
				break
			}
			continue
		}

		currentLevel := maxMarginal(active)
		targetLevel := 0.0
		if pointer < len(paths) {
			targetLevel = paths[pointer].start
		}

		deltas := make([]*big.Int, len(active))
		totalDelta := new(big.Int)
		anyCapBindsBelowTarget := false

		for i, p := range active {
			target := targetLevel
			xPrime := solveForMarginal(p, target)
			if xPrime.Cmp(p.capRaw) >= 0 {
				xPrime = new(big.Int).Set(p.capRaw)
				anyCapBindsBelowTarget = anyCapBindsBelowTarget || marginalAt(p, xPrime) > targetLevel
			}
			delta := new(big.Int).Sub(xPrime, p.x)
			if delta.Sign() < 0 {
				delta = new(big.Int)
			}
			deltas[i] = delta
			totalDelta.Add(totalDelta, delta)
		}

		if totalDelta.Cmp(remaining) <= 0 && !anyCapBindsBelowTarget {
			for i, p := range active {
				p.x.Add(p.x, deltas[i])
				remaining.Sub(remaining, deltas[i])
			}
			if pointer < len(paths) && remaining.Sign() > 0 {
				activateNext()
			}
		} else {
			level := binarySearchLevel(active, targetLevel, currentLevel, remaining)
			for _, p := range active {
				xPrime := solveForMarginal(p, level)
				if xPrime.Cmp(p.capRaw) > 0 {
					xPrime = new(big.Int).Set(p.capRaw)
				}
				delta := new(big.Int).Sub(xPrime, p.x)
				if delta.Sign() < 0 {
					delta = new(big.Int)
				}
				if delta.Cmp(remaining) > 0 {
					delta = new(big.Int).Set(remaining)
				}
				p.x.Add(p.x, delta)
				remaining.Sub(remaining, delta)
			}
		}

		newActive := active[:0]
		for _, p := range active {
			if p.x.Cmp(p.capRaw) >= 0 {
				p.saturated = true
				continue
			}
			if marginalAt(p, p.x) <= 0 {
				continue
			}
			newActive = append(newActive, p)
		}
		active = newActive
	}

	alloc := normalize(paths, n, totalRaw, minPct, m)
	alloc.Iterations = iterationsUsed
	return alloc
}

func emptyAllocation(n int) Allocation {
	alloc := Allocation{
		InputRaw:      make([]*big.Int, n),
		OutputRaw:     make([]*big.Int, n),
		StartMarginal: make([]float64, n),
		FinalMarginal: make([]float64, n),
		TotalOutput:   new(big.Int),
	}
	for i := 0; i < n; i++ {
		alloc.InputRaw[i] = new(big.Int)
		alloc.OutputRaw[i] = new(big.Int)
	}
	return alloc
}

func maxMarginal(active []*pathCurve) float64 {
	m := 0.0
	for i, p := range active {
		v := marginalAt(p, p.x)
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

// marginalAt returns the curve's marginal rate at a given raw input via
// linear interpolation between the nearest bracketing samples.
func marginalAt(p *pathCurve, xRaw *big.Int) float64 {
	samples := p.c.Samples
	if len(samples) == 0 {
		return 0
	}
	xF, _ := new(big.Float).SetInt(xRaw).Float64()
	if xF <= 0 {
		return samples[0].MarginalRaw
	}
	for i, s := range samples {
		sF, _ := new(big.Float).SetInt(s.InputRaw).Float64()
		if xF <= sF {
			if i == 0 {
				return s.MarginalRaw
			}
			prevF, _ := new(big.Float).SetInt(samples[i-1].InputRaw).Float64()
			if sF == prevF {
				return s.MarginalRaw
			}
			t := (xF - prevF) / (sF - prevF)
			return samples[i-1].MarginalRaw + t*(s.MarginalRaw-samples[i-1].MarginalRaw)
		}
	}
	return samples[len(samples)-1].MarginalRaw
}

// solveForMarginal binary-searches the input at which the path's marginal
// rate drops to `target`, capped at the path's cap (§4.7 step 3).
func solveForMarginal(p *pathCurve, target float64) *big.Int {
	lo := new(big.Int).Set(p.x)
	hi := new(big.Int).Set(p.capRaw)
	if lo.Cmp(hi) >= 0 {
		return new(big.Int).Set(hi)
	}
	if marginalAt(p, hi) >= target {
		return hi
	}

	for i := 0; i < BinarySearchIterations; i++ {
		mid := new(big.Int).Add(lo, hi)
		mid.Div(mid, big.NewInt(2))
		if mid.Cmp(lo) == 0 {
			break
		}
		if marginalAt(p, mid) >= target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// binarySearchLevel finds the largest level in [targetLevel, currentLevel]
// such that the total delta required does not exceed remaining.
func binarySearchLevel(active []*pathCurve, targetLevel, currentLevel float64, remaining *big.Int) float64 {
	lo, hi := targetLevel, currentLevel
	for i := 0; i < BinarySearchIterations; i++ {
		mid := (lo + hi) / 2
		total := new(big.Int)
		for _, p := range active {
			xPrime := solveForMarginal(p, mid)
			if xPrime.Cmp(p.capRaw) > 0 {
				xPrime = p.capRaw
			}
			delta := new(big.Int).Sub(xPrime, p.x)
			if delta.Sign() > 0 {
				total.Add(total, delta)
			}
		}
		if total.Cmp(remaining) <= 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}

// normalize applies §4.7 step 4: drop dust below minPct*T, redistribute to
// the largest allocation, then rescale proportionally (integer remainder to
// the largest allocation) so the sum equals T exactly. n is
// the original curves/capsRaw length; paths carries origIndex to scatter
// results back into n-length output slices.
func normalize(paths []*pathCurve, n int, totalRaw *big.Int, minPct float64, m MetricsRecorder) Allocation {
	alloc := emptyAllocation(n)

	dustThreshold := new(big.Float).Mul(new(big.Float).SetInt(totalRaw), big.NewFloat(minPct))

	largestIdx := -1
	var largestVal *big.Int
	dust := new(big.Int)

	for _, p := range paths {
		i := p.origIndex
		alloc.InputRaw[i] = new(big.Int).Set(p.x)
		alloc.StartMarginal[i] = p.start
		alloc.FinalMarginal[i] = marginalAt(p, p.x)

		xF := new(big.Float).SetInt(p.x)
		if xF.Cmp(dustThreshold) < 0 && p.x.Sign() > 0 {
			dust.Add(dust, p.x)
			alloc.InputRaw[i] = new(big.Int)
			m.IncDustDropped()
		}
		if largestVal == nil || p.x.Cmp(largestVal) > 0 {
			largestVal = p.x
			largestIdx = i
		}
	}

	if dust.Sign() > 0 && largestIdx >= 0 {
		alloc.InputRaw[largestIdx].Add(alloc.InputRaw[largestIdx], dust)
	}

	sum := new(big.Int)
	for _, x := range alloc.InputRaw {
		sum.Add(sum, x)
	}
	if sum.Sign() > 0 && sum.Cmp(totalRaw) != 0 && largestIdx >= 0 {
		scaled := new(big.Int)
		for _, x := range alloc.InputRaw {
			x.Mul(x, totalRaw).Quo(x, sum)
			scaled.Add(scaled, x)
		}
		alloc.InputRaw[largestIdx].Add(alloc.InputRaw[largestIdx], new(big.Int).Sub(totalRaw, scaled))
	}

	total := new(big.Int)
	for _, p := range paths {
		i := p.origIndex
		alloc.OutputRaw[i] = outputAt(p, alloc.InputRaw[i])
	}
	for _, v := range alloc.OutputRaw {
		total.Add(total, v)
	}
	alloc.TotalOutput = total
	return alloc
}

func outputAt(p *pathCurve, xRaw *big.Int) *big.Int {
	samples := p.c.Samples
	if len(samples) == 0 || xRaw.Sign() <= 0 {
		return new(big.Int)
	}
	xF, _ := new(big.Float).SetInt(xRaw).Float64()
	for i, s := range samples {
		sF, _ := new(big.Float).SetInt(s.InputRaw).Float64()
		if xF <= sF {
			if i == 0 {
				return new(big.Int).Set(s.OutputRaw)
			}
			prevInF, _ := new(big.Float).SetInt(samples[i-1].InputRaw).Float64()
			prevOutF, _ := new(big.Float).SetInt(samples[i-1].OutputRaw).Float64()
			outF, _ := new(big.Float).SetInt(s.OutputRaw).Float64()
			if sF == prevInF {
				return new(big.Int).Set(s.OutputRaw)
			}
			t := (xF - prevInF) / (sF - prevInF)
			interpolated := prevOutF + t*(outF-prevOutF)
			out, _ := big.NewFloat(interpolated).Int(nil)
			return out
		}
	}
	return new(big.Int).Set(samples[len(samples)-1].OutputRaw)
}

// dustPaths returns the indices whose final allocation is zero (folded as
// dust or never allocated). Nothing outside this file calls it.
func dustPaths(alloc Allocation) mapset.Set[int] {
	dropped := mapset.NewThreadUnsafeSet[int]()
	for i, x := range alloc.InputRaw {
		if x.Sign() == 0 {
			dropped.Add(i)
		}
	}
	return dropped
}
