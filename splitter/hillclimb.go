package splitter

import (
	"math/big"

	"github.com/sor/router-core/curve"
)

const (
	HillClimbMaxIterations = 200
	MaxActiveRoutes        = 10
)

// HillClimb starts with all of totalRaw on path 0 and repeatedly moves a
// small fixed delta from the path with the least marginal gain from losing
// it to the path with the largest marginal gain from receiving it, per
// §4.8's algorithm. It takes the same inputs as WaterFill and runs fully
// independently of it — router.go runs both from scratch and prefers
// whichever reaches the higher TotalOutput, so this cannot just converge
// to WaterFill's own answer by construction.
func HillClimb(curves []curve.ResponseCurve, capsRaw []*big.Int, totalRaw *big.Int) Allocation {
	n := len(curves)
	if n == 0 || totalRaw == nil || totalRaw.Sign() <= 0 {
		return emptyAllocation(n)
	}

	x := make([]*big.Int, n)
	x[0] = new(big.Int).Set(totalRaw)
	for i := 1; i < n; i++ {
		x[i] = new(big.Int)
	}

	startMarginal := make([]float64, n)
	for i, c := range curves {
		startMarginal[i] = marginalAtCurve(c, new(big.Int))
	}

	delta := new(big.Int).Div(totalRaw, big.NewInt(1000))
	if delta.Sign() == 0 {
		delta = big.NewInt(1)
	}

	iterationsUsed := 0
	for iter := 0; iter < HillClimbMaxIterations; iter++ {
		iterationsUsed = iter + 1
		donor := -1
		receiver := -1
		bestGain := 0.0

		for i := 0; i < n; i++ {
			if x[i].Sign() <= 0 {
				continue
			}
			lossOut := outputAtFor(curves[i], x[i])
			afterDonor := new(big.Int).Sub(x[i], delta)
			if afterDonor.Sign() < 0 {
				afterDonor = new(big.Int)
			}
			donorLoss := new(big.Int).Sub(lossOut, outputAtFor(curves[i], afterDonor))
			donorLossF, _ := new(big.Float).SetInt(donorLoss).Float64()

			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				if capsRaw[j] != nil && x[j].Cmp(capsRaw[j]) >= 0 {
					continue
				}
				afterReceiver := new(big.Int).Add(x[j], delta)
				if capsRaw[j] != nil && afterReceiver.Cmp(capsRaw[j]) > 0 {
					afterReceiver = new(big.Int).Set(capsRaw[j])
				}
				receiverGain := new(big.Int).Sub(outputAtFor(curves[j], afterReceiver), outputAtFor(curves[j], x[j]))
				receiverGainF, _ := new(big.Float).SetInt(receiverGain).Float64()

				netGain := receiverGainF - donorLossF
				if netGain > bestGain {
					bestGain = netGain
					donor = i
					receiver = j
				}
			}
		}

		if donor < 0 || receiver < 0 {
			break
		}

		moved := delta
		if moved.Cmp(x[donor]) > 0 {
			moved = new(big.Int).Set(x[donor])
		}
		x[donor] = new(big.Int).Sub(x[donor], moved)
		x[receiver] = new(big.Int).Add(x[receiver], moved)
	}

	x = foldSmallAllocations(x)

	result := Allocation{
		InputRaw:      x,
		OutputRaw:     make([]*big.Int, n),
		StartMarginal: startMarginal,
		FinalMarginal: make([]float64, n),
		Iterations:    iterationsUsed,
	}
	totalOut := new(big.Int)
	for i := range x {
		result.OutputRaw[i] = outputAtFor(curves[i], x[i])
		result.FinalMarginal[i] = marginalAtCurve(curves[i], x[i])
		totalOut.Add(totalOut, result.OutputRaw[i])
	}
	result.TotalOutput = totalOut
	return result
}

// foldSmallAllocations enforces §4.8's maxActiveRoutes=10 rule: if more than
// 10 paths hold a non-zero allocation, fold the smallest ones' inputs into
// the largest, keeping at most 10 active.
func foldSmallAllocations(x []*big.Int) []*big.Int {
	active := 0
	for _, v := range x {
		if v.Sign() > 0 {
			active++
		}
	}
	if active <= MaxActiveRoutes {
		return x
	}

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && x[order[j]].Cmp(x[order[j-1]]) < 0; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	largest := order[len(order)-1]
	toFold := active - MaxActiveRoutes
	folded := 0
	for _, idx := range order {
		if folded >= toFold {
			break
		}
		if x[idx].Sign() <= 0 {
			continue
		}
		x[largest].Add(x[largest], x[idx])
		x[idx] = new(big.Int)
		folded++
	}
	return x
}

func outputAtFor(c curve.ResponseCurve, xRaw *big.Int) *big.Int {
	p := &pathCurve{c: c}
	return outputAt(p, xRaw)
}

func marginalAtCurve(c curve.ResponseCurve, xRaw *big.Int) float64 {
	p := &pathCurve{c: c}
	return marginalAt(p, xRaw)
}
