package cvopt

import (
	"math"
	"math/rand"
)

//////
// Acquisition functions for the Bayesian driver.
// Lower values mark more promising points; the driver minimizes.
//////

// AcquisitionFunc ranks a Gaussian Process prediction. mean and variance
// come from the surrogate at a candidate point; params carries the
// function-specific knobs. Lower return values are more promising, matching
// the driver's minimize convention.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds the knobs shared by the built-in acquisition
// functions.
type AcquisitionParams struct {
	// Beta weighs exploration in UCB. Higher values favor uncertain
	// regions; typical values are 0.1 to 5.0.
	Beta float64

	// Xi is the minimum-improvement margin used by PI and EI. Typical
	// values are 0.01 to 0.1.
	Xi float64

	// BestSoFar is the best (lowest) driver-convention score observed so
	// far. The driver keeps it current between iterations.
	BestSoFar float64

	// RandomState is the generator Thompson sampling draws from. The
	// searcher fills it from its own random source when unset.
	RandomState *rand.Rand
}

// UCB is the lower confidence bound: predicted mean minus Beta weighted
// uncertainty. A robust general-purpose default.
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement ranks candidates by how likely they are to beat
// BestSoFar by at least Xi, under a normal posterior. Conservative; prefers
// probable small wins over uncertain large ones.
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if mean < params.BestSoFar-params.Xi {
			return -1
		}
		return 0
	}
	z := (params.BestSoFar - params.Xi - mean) / sigma
	// Negated so that higher improvement probability ranks lower.
	return -normalCDF(z)
}

// ExpectedImprovement weighs both the probability and the magnitude of
// improving on BestSoFar. The most common default choice.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	improvement := params.BestSoFar - params.Xi - mean
	if sigma == 0 {
		return -math.Max(improvement, 0)
	}
	z := improvement / sigma
	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws one posterior sample per candidate, balancing
// exploration and exploitation through randomness alone. RandomState must
// be set.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}
