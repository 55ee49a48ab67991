package cvopt

import (
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"golang.org/x/exp/constraints"
)

//////
// Search space.
//////

// ParamSet is one concrete assignment of the search space: parameter name to
// sampled value. It may contain reserved feature-group flags (see
// FeatureGroupKey) alongside ordinary estimator hyperparameters.
type ParamSet map[string]any

// clone returns a shallow copy. Values are sampled scalars and are treated
// as immutable once drawn.
func (p ParamSet) clone() ParamSet {
	c := make(ParamSet, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Distribution is a sampling rule for a single parameter. All randomness is
// drawn from the explicit generator passed in; implementations must not keep
// hidden random state.
type Distribution interface {
	Sample(rng *rand.Rand) any
}

// numericDistribution is implemented by distributions that can be embedded
// in a continuous vector space. The model-based drivers (SMBO, Bayes)
// require every distribution in the space to support it.
type numericDistribution interface {
	Distribution

	// encode maps a sampled value onto the real line.
	encode(v any) float64
	// decode maps a real value back to a valid sample, clamping to bounds.
	decode(x float64) any
	// bounds returns the inclusive numeric range of encoded values.
	bounds() (lo, hi float64)
}

// validator is implemented by distributions that can reject a degenerate
// configuration at construction time.
type validator interface {
	validate(name string) error
}

// Range samples uniformly from the inclusive interval [Min, Max]. Integer
// instantiations sample whole values; float instantiations sample
// continuously.
//
// Usage:
//
//	cvopt.Range[int]{Min: 1, Max: 64}        // tree depth, worker count, ...
//	cvopt.Range[float64]{Min: 1e-4, Max: 1}  // learning rate, alpha, ...
type Range[T constraints.Integer | constraints.Float] struct {
	Min T
	Max T
}

// Sample draws a uniform value from the range.
func (r Range[T]) Sample(rng *rand.Rand) any {
	switch any(r.Min).(type) {
	case float32, float64:
		lo := float64(r.Min)
		hi := float64(r.Max)
		return T(lo + rng.Float64()*(hi-lo))
	default:
		lo := int64(r.Min)
		hi := int64(r.Max)
		return T(lo + rng.Int63n(hi-lo+1))
	}
}

func (r Range[T]) encode(v any) float64 {
	if tv, ok := v.(T); ok {
		return float64(tv)
	}
	return float64(r.Min)
}

func (r Range[T]) decode(x float64) any {
	lo := float64(r.Min)
	hi := float64(r.Max)
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	switch any(r.Min).(type) {
	case float32, float64:
		return T(x)
	default:
		return T(math.Round(x))
	}
}

func (r Range[T]) bounds() (float64, float64) {
	return float64(r.Min), float64(r.Max)
}

func (r Range[T]) validate(name string) error {
	if r.Min > r.Max {
		return configErrorf("parameter %q: range min is greater than max", name)
	}
	return nil
}

// Choice samples uniformly from a fixed set of values. For the model-based
// drivers the choice is encoded by its index.
type Choice struct {
	Values []any
}

// Sample draws one of the listed values.
func (c Choice) Sample(rng *rand.Rand) any {
	return c.Values[rng.Intn(len(c.Values))]
}

func (c Choice) encode(v any) float64 {
	for i, cand := range c.Values {
		if cand == v {
			return float64(i)
		}
	}
	return 0
}

func (c Choice) decode(x float64) any {
	i := int(math.Round(x))
	if i < 0 {
		i = 0
	}
	if i >= len(c.Values) {
		i = len(c.Values) - 1
	}
	return c.Values[i]
}

func (c Choice) bounds() (float64, float64) {
	return 0, float64(len(c.Values) - 1)
}

func (c Choice) validate(name string) error {
	if len(c.Values) == 0 {
		return configErrorf("parameter %q: choice has no values", name)
	}
	return nil
}

// Flag samples a boolean. It is the natural distribution for feature-group
// inclusion parameters.
type Flag struct{}

// Sample draws true or false with equal probability.
func (Flag) Sample(rng *rand.Rand) any {
	return rng.Intn(2) == 1
}

func (Flag) encode(v any) float64 {
	if b, ok := v.(bool); ok && b {
		return 1
	}
	return 0
}

func (Flag) decode(x float64) any {
	return x >= 0.5
}

func (Flag) bounds() (float64, float64) {
	return 0, 1
}

// SearchSpace maps parameter names to their sampling distributions.
type SearchSpace map[string]Distribution

//////
// Schedules.
//////

// Schedule maps a generation index to a probability. The genetic driver
// evaluates crossover, mutation and random-injection schedules with the
// current generation before breeding it.
type Schedule func(generation int) float64

// Const returns a schedule that ignores the generation index.
func Const(p float64) Schedule {
	return func(int) float64 { return p }
}

//////
// Estimator contract.
//////

// Estimator is the model interface the searcher drives. Clone must return
// an untrained copy; the searcher never fits the template it was given, so
// no fitted state is shared across folds or trials.
type Estimator interface {
	// SetParams applies hyperparameters before fitting. Unknown keys are
	// the implementation's concern: it may reject or ignore them.
	SetParams(params map[string]any) error

	// Fit trains on the given rows. X is row-major with one sample per row.
	Fit(X [][]float64, y []float64) error

	// Predict returns one prediction per row of X.
	Predict(X [][]float64) ([]float64, error)

	// Clone returns a fresh, untrained estimator with the same construction
	// arguments.
	Clone() Estimator
}

// selfScorer is the optional estimator-default scoring hook, used when no
// Scorer is configured. The returned score is greater-is-better.
type selfScorer interface {
	Score(X [][]float64, y []float64) (float64, error)
}

// Scorer evaluates a fitted estimator against a labelled dataset. Higher is
// better by convention; set Options.GreaterIsBetter to false to invert.
type Scorer func(est Estimator, X [][]float64, y []float64) (float64, error)

// Aggregator reduces the successful per-fold scores of one trial to a
// single trial score. It is never called with an empty slice.
type Aggregator func(scores []float64) float64

//////
// Search method and options.
//////

// Method selects the driver that proposes parameter sets.
type Method string

const (
	// MethodSMBO is sequential model-based optimization.
	MethodSMBO Method = "smbo"
	// MethodBayes is Bayesian optimization with a Gaussian Process.
	MethodBayes Method = "bayes"
	// MethodGenetic is the generational genetic algorithm.
	MethodGenetic Method = "genetic"
	// MethodRandom is pure random search.
	MethodRandom Method = "random"
)

// Options configures a Searcher. Start from DefaultOptions and override:
// numeric zero values and nil funcs fall back to the documented defaults,
// but boolean fields are taken literally.
type Options struct {
	// Scoring evaluates fitted estimators. When nil the estimator must
	// implement Score(X, y) (float64, error) itself.
	Scoring Scorer

	// GreaterIsBetter is the direction of the scoring convention. It also
	// fixes the direction BestScore improves in.
	GreaterIsBetter bool

	// CV is the number of cross-validation folds when Splitter is nil.
	// Must be at least 2.
	CV int

	// Splitter overrides the fold construction. When nil, KFold is used,
	// or GroupKFold if Fit receives group labels.
	Splitter Splitter

	// MaxIter is the total number of trials across the whole search.
	MaxIter int

	// RandomState seeds the search's random source. Zero means seed from
	// the clock.
	RandomState int64

	// NJobs bounds concurrent fold evaluations within one trial. Values
	// below zero mean one worker per CPU.
	NJobs int

	// PreDispatch bounds how many fold tasks may be queued ahead of
	// completion. Zero means 2*NJobs.
	PreDispatch int

	// Aggregator reduces successful fold scores to the trial score.
	// Nil means arithmetic mean.
	Aggregator Aggregator

	// Logger receives per-trial progress. Defaults to a disabled logger.
	Logger zerolog.Logger

	// LogDir, when non-empty, enables the artifact store: trial records
	// and estimator snapshots are persisted under this directory, keyed by
	// ModelID.
	LogDir string

	// SaveEstimator controls snapshot persistence when LogDir is set:
	// 0 saves nothing, 1 saves the per-fold fitted estimators, 2 also
	// saves an estimator fitted on the whole training set per trial.
	SaveEstimator int

	// ModelID names the run in logs and artifact keys. Empty means a
	// timestamp-derived identifier.
	ModelID string

	// Refit controls whether the best parameters are refitted on the full
	// training data after the search.
	Refit bool

	// IterPerGeneration is the genetic population size.
	IterPerGeneration int

	// CrossoverProba is the per-parameter probability that an offspring
	// inherits the second parent's value. Exactly 0 and 1 degrade
	// deterministically.
	CrossoverProba Schedule

	// MutationProba is the per-parameter probability of resampling an
	// offspring parameter from its distribution.
	MutationProba Schedule

	// RandomProba is the per-individual probability of discarding the
	// bred offspring for a fresh random sample.
	RandomProba Schedule

	// InitialSamples is the number of random trials the model-based
	// drivers run before consulting their surrogate.
	InitialSamples int

	// NumCandidates is the number of candidate points the model-based
	// drivers rank per iteration.
	NumCandidates int

	// Acquisition ranks Gaussian Process predictions for MethodBayes.
	// Nil means ExpectedImprovement.
	Acquisition AcquisitionFunc

	// AcqParams parameterizes the acquisition function.
	AcqParams AcquisitionParams

	// Gamma is the fraction of past trials MethodSMBO treats as "good"
	// when building its density ratio. Must be in (0, 1).
	Gamma float64
}

// DefaultOptions returns the configuration used when a field is left at its
// zero value: 5-fold CV, 32 trials, mean aggregation, sequential folds,
// refit enabled, and the stock genetic and model-based settings.
func DefaultOptions() Options {
	return Options{
		GreaterIsBetter:   true,
		CV:                5,
		MaxIter:           32,
		NJobs:             1,
		Refit:             true,
		IterPerGeneration: 8,
		CrossoverProba:    Const(0.5),
		MutationProba:     Const(0.01),
		RandomProba:       Const(0.01),
		InitialSamples:    5,
		NumCandidates:     50,
		Acquisition:       ExpectedImprovement,
		AcqParams: AcquisitionParams{
			BestSoFar: math.MaxFloat64,
			Beta:      2.0,
			Xi:        0.01,
		},
		Gamma:  0.25,
		Logger: zerolog.Nop(),
	}
}
