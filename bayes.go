package cvopt

import (
	"context"
	"math"
	"math/rand"
)

// bayesDriver runs Bayesian optimization over the encoded search space: an
// initial random design, then per iteration a batch of random candidates
// ranked by the acquisition function against the Gaussian Process
// posterior, of which the most promising one is evaluated.
type bayesDriver struct {
	maxIter        int
	initialSamples int
	numCandidates  int
	acquisition    AcquisitionFunc
	acqParams      AcquisitionParams
	rng            *rand.Rand
}

func (d *bayesDriver) run(ctx context.Context, obj *objective, space SearchSpace) error {
	enc, err := newSpaceEncoder(space, MethodBayes)
	if err != nil {
		return err
	}

	gp := newGaussianProcess()
	best := math.Inf(1)

	evaluate := func(iteration int, params ParamSet) {
		obj.setGeneration(iteration)
		score := obj.Evaluate(ctx, params)
		if math.IsNaN(score) {
			// The Bayesian failure policy keeps scores finite; this only
			// guards a custom aggregator returning NaN.
			return
		}
		gp.Update(enc.vector(params), score)
		if score < best {
			best = score
		}
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

		params := d.acqParams
		params.BestSoFar = best
		if params.RandomState == nil {
			params.RandomState = d.rng
		}

		var next ParamSet
		bestAcq := math.Inf(1)
		for c := 0; c < d.numCandidates; c++ {
			candidate := enc.sample(space, d.rng)
			mean, variance := gp.Predict(enc.vector(candidate))
			if acq := d.acquisition(mean, variance, params); acq < bestAcq || next == nil {
				bestAcq = acq
				next = candidate
			}
		}

		evaluate(evaluated, next)
	}
	return nil
}
