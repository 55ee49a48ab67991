package cvopt

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

// smboDriver is the sequential model-based driver. Past trials are split by
// score into a good and a bad set at the gamma quantile; candidates are
// drawn around good observations and ranked by the ratio of the two kernel
// density estimates, so search concentrates where good trials cluster while
// the density ratio still penalizes well-explored bad regions.
type smboDriver struct {
	maxIter        int
	initialSamples int
	numCandidates  int
	gamma          float64
	rng            *rand.Rand
}

type smboObservation struct {
	vec   []float64
	score float64
}

func (d *smboDriver) run(ctx context.Context, obj *objective, space SearchSpace) error {
	enc, err := newSpaceEncoder(space, MethodSMBO)
	if err != nil {
		return err
	}

	var history []smboObservation

	evaluate := func(iteration int, params ParamSet) {
		obj.setGeneration(iteration)
		score := obj.Evaluate(ctx, params)
		history = append(history, smboObservation{vec: enc.vector(params), score: score})
	}

	evaluated := 0
	for ; evaluated < d.initialSamples && evaluated < d.maxIter; evaluated++ {
		if ctx.Err() != nil {
			return nil
		}
		evaluate(evaluated, enc.sample(space, d.rng))
	}

	for ; evaluated < d.maxIter; evaluated++ {
		if ctx.Err() != nil {
			return nil
		}

		good, bad := d.partition(history)
		if len(good) == 0 {
			evaluate(evaluated, enc.sample(space, d.rng))
			continue
		}

		bandwidth := densityBandwidth(len(good))
		var next []float64
		bestRatio := math.Inf(-1)
		for c := 0; c < d.numCandidates; c++ {
			candidate := d.propose(enc, good, bandwidth)
			ratio := kernelDensity(candidate, good, bandwidth) /
				(kernelDensity(candidate, bad, bandwidth) + 1e-12)
			if ratio > bestRatio || next == nil {
				bestRatio = ratio
				next = candidate
			}
		}

		evaluate(evaluated, enc.paramSet(next))
	}
	return nil
}

// partition splits observations at the gamma quantile of the minimized
// score. Failure sentinels (NaN) always land in the bad set.
func (d *smboDriver) partition(history []smboObservation) (good, bad [][]float64) {
	order := make([]int, len(history))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := history[order[a]].score, history[order[b]].score
		if math.IsNaN(sa) {
			return false
		}
		if math.IsNaN(sb) {
			return true
		}
		return sa < sb
	})

	nGood := int(math.Ceil(d.gamma * float64(len(history))))
	if nGood < 1 {
		nGood = 1
	}
	for rank, idx := range order {
		o := history[idx]
		if rank < nGood && !math.IsNaN(o.score) {
			good = append(good, o.vec)
		} else {
			bad = append(bad, o.vec)
		}
	}
	return good, bad
}

// propose jitters a randomly chosen good observation per dimension,
// clamping to the normalized cube. A small fraction of proposals is drawn
// uniformly to keep the whole space reachable.
func (d *smboDriver) propose(enc *spaceEncoder, good [][]float64, bandwidth float64) []float64 {
	if d.rng.Float64() < 0.1 {
		v := make([]float64, enc.dim())
		for i := range v {
			v[i] = d.rng.Float64()
		}
		return v
	}
	center := good[d.rng.Intn(len(good))]
	v := make([]float64, len(center))
	for i := range v {
		v[i] = clamp01(center[i] + d.rng.NormFloat64()*bandwidth)
	}
	return v
}

// densityBandwidth shrinks the kernel width as the good set grows.
func densityBandwidth(n int) float64 {
	return math.Max(0.05, 0.3/math.Sqrt(float64(n)))
}

// kernelDensity is a Parzen estimate with Gaussian kernels over normalized
// vectors. An empty set has uniform density one.
func kernelDensity(x []float64, points [][]float64, bandwidth float64) float64 {
	if len(points) == 0 {
		return 1
	}
	var sum float64
	for _, p := range points {
		var dist2 float64
		for i := range x {
			diff := x[i] - p[i]
			dist2 += diff * diff
		}
		sum += normalPDF(math.Sqrt(dist2) / bandwidth)
	}
	return sum / (float64(len(points)) * bandwidth)
}
