package cvopt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"
)

//////
// Search coordinator.
//////

// FitParams carries the optional per-fit inputs. A nil *FitParams means no
// validation data, no group labels and no feature selection.
type FitParams struct {
	// ValidationX and ValidationY form an externally supplied validation
	// set, scored per fold alongside the fold score. Both must be set
	// together.
	ValidationX [][]float64
	ValidationY []float64

	// Groups are per-sample group labels. When set and no explicit
	// Splitter is configured, folds are built group-wise so no group
	// straddles a train/test boundary.
	Groups []int

	// FeatureGroups are per-column group labels matched against the
	// feature-group flags of the search space. Empty means feature
	// selection is off.
	FeatureGroups []int

	// MinFeatures is the smallest usable column count after selection;
	// selections below it fail the trial. Zero means 2.
	MinFeatures int
}

// Searcher runs one of the search methods over a search space with
// cross-validated scoring. Build it with NewSearcher, run Fit, then read
// the best parameters, score, refit estimator and trial history.
type Searcher struct {
	method    Method
	estimator Estimator
	space     SearchSpace
	opts      Options
	rng       *rand.Rand

	// bayesFailure is the Bayesian failure sentinel, sampled once on the
	// first fit so repeated fits stay comparable.
	bayesFailure *float64

	fitted        bool
	history       *History
	bestEstimator Estimator
	bestFeatures  []int
}

// NewSearcher validates the configuration and returns a ready searcher.
// The estimator is used as a template only: it is cloned for every fit, so
// the instance passed in is never trained.
func NewSearcher(method Method, estimator Estimator, space SearchSpace, opts Options) (*Searcher, error) {
	switch method {
	case MethodSMBO, MethodBayes, MethodGenetic, MethodRandom:
	default:
		return nil, configErrorf("unknown search method %q", method)
	}
	if estimator == nil {
		return nil, configErrorf("estimator is nil")
	}
	if len(space) == 0 {
		return nil, configErrorf("search space is empty")
	}
	for name, dist := range space {
		if v, ok := dist.(validator); ok {
			if err := v.validate(name); err != nil {
				return nil, err
			}
		}
	}
	if opts.Scoring == nil {
		if _, ok := estimator.(selfScorer); !ok {
			return nil, configErrorf("no Scoring configured and %T does not implement Score", estimator)
		}
	}

	opts = normalizeOptions(opts)

	seed := opts.RandomState
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Searcher{
		method:    method,
		estimator: estimator,
		space:     space,
		opts:      opts,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// normalizeOptions fills zero values with the documented defaults.
func normalizeOptions(opts Options) Options {
	def := DefaultOptions()
	if opts.CV == 0 {
		opts.CV = def.CV
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.NJobs == 0 {
		opts.NJobs = 1
	}
	if opts.NJobs < 0 {
		opts.NJobs = runtime.NumCPU()
	}
	if opts.PreDispatch <= 0 {
		opts.PreDispatch = 2 * opts.NJobs
	}
	if opts.Aggregator == nil {
		opts.Aggregator = meanScore
	}
	if opts.IterPerGeneration <= 0 {
		opts.IterPerGeneration = def.IterPerGeneration
	}
	if opts.CrossoverProba == nil {
		opts.CrossoverProba = def.CrossoverProba
	}
	if opts.MutationProba == nil {
		opts.MutationProba = def.MutationProba
	}
	if opts.RandomProba == nil {
		opts.RandomProba = def.RandomProba
	}
	if opts.InitialSamples <= 0 {
		opts.InitialSamples = def.InitialSamples
	}
	if opts.NumCandidates <= 0 {
		opts.NumCandidates = def.NumCandidates
	}
	if opts.Acquisition == nil {
		opts.Acquisition = def.Acquisition
		opts.AcqParams = def.AcqParams
	}
	if opts.Gamma <= 0 || opts.Gamma >= 1 {
		opts.Gamma = def.Gamma
	}
	if opts.ModelID == "" {
		opts.ModelID = time.Now().Format("20060102_150405")
	}
	return opts
}

// Fit runs the search. See FitContext.
func (s *Searcher) Fit(X [][]float64, y []float64, p *FitParams) error {
	return s.FitContext(context.Background(), X, y, p)
}

// FitContext validates the inputs, runs the configured search method for
// MaxIter trials and, unless Refit is disabled, refits a clone of the
// estimator on the full training data with the best found parameters and
// feature selection applied.
//
// Cancelling the context is a graceful stop, not a failure: no new trials
// start, finished trials are kept, the best-so-far result is retained and
// nil is returned.
func (s *Searcher) FitContext(ctx context.Context, X [][]float64, y []float64, p *FitParams) error {
	if p == nil {
		p = &FitParams{}
	}
	minFeatures := p.MinFeatures
	if minFeatures <= 0 {
		minFeatures = 2
	}
	if err := validateFitInputs(X, y, p); err != nil {
		return err
	}
	if err := knownGroups(s.space, p.FeatureGroups); err != nil {
		return err
	}

	splitter := s.opts.Splitter
	if splitter == nil {
		if p.Groups != nil {
			splitter = GroupKFold{NSplits: s.opts.CV}
		} else {
			splitter = KFold{NSplits: s.opts.CV, Shuffle: true, Seed: s.rng.Int63()}
		}
	}
	folds, err := splitter.Split(len(X), p.Groups)
	if err != nil {
		return err
	}

	scoring := s.opts.Scoring
	if scoring == nil {
		scoring = selfScoring
	}

	var store *artifactStore
	if s.opts.LogDir != "" {
		store, err = openArtifactStore(s.opts.LogDir, s.opts.ModelID)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	failureScore := math.NaN()
	if s.method == MethodBayes {
		// The Bayesian surrogate needs finite scores, so failed trials get
		// a baseline score sampled once: the configured metric applied to
		// a random permutation of the targets.
		if s.bayesFailure == nil {
			fs := s.permutationScore(X, y, scoring)
			s.bayesFailure = &fs
		}
		failureScore = *s.bayesFailure
	}

	s.history = newHistory(s.opts.GreaterIsBetter)
	obj := &objective{
		estimator:       s.estimator,
		scoring:         scoring,
		aggregate:       s.opts.Aggregator,
		greaterIsBetter: s.opts.GreaterIsBetter,
		failureScore:    failureScore,
		X:               X,
		y:               y,
		xValid:          p.ValidationX,
		yValid:          p.ValidationY,
		folds:           folds,
		featureGroups:   p.FeatureGroups,
		minFeatures:     minFeatures,
		nJobs:           s.opts.NJobs,
		preDispatch:     s.opts.PreDispatch,
		saveEstimator:   s.opts.SaveEstimator,
		store:           store,
		hist:            s.history,
		logger:          s.opts.Logger.With().Str("model_id", s.opts.ModelID).Logger(),
	}

	s.opts.Logger.Info().
		Str("model_id", s.opts.ModelID).
		Str("method", string(s.method)).
		Int("max_iter", s.opts.MaxIter).
		Int("folds", len(folds)).
		Msg("search started")

	if err := s.buildDriver().run(ctx, obj, s.space); err != nil {
		return err
	}

	best, bestScore, ok := s.history.Best()
	s.bestEstimator = nil
	s.bestFeatures = nil
	if ok && s.opts.Refit {
		estParams, flags, perr := splitParamSet(best)
		if perr != nil {
			return perr
		}
		cols, serr := selectFeatures(len(X[0]), p.FeatureGroups, flags, minFeatures)
		if serr != nil {
			return fmt.Errorf("cvopt: refit with best parameters: %w", serr)
		}
		refit, ferr := fitWhole(s.estimator, estParams, cols, X, y)
		if ferr != nil {
			return fmt.Errorf("cvopt: refit with best parameters: %w", ferr)
		}
		s.bestEstimator = refit
		s.bestFeatures = cols
	}
	s.fitted = true

	s.opts.Logger.Info().
		Str("model_id", s.opts.ModelID).
		Int("trials", s.history.Len()).
		Float64("best_score", bestScore).
		Msg("search finished")
	return nil
}

func validateFitInputs(X [][]float64, y []float64, p *FitParams) error {
	if len(X) == 0 {
		return configErrorf("X is empty")
	}
	width := len(X[0])
	if width == 0 {
		return configErrorf("X has no columns")
	}
	for i, row := range X {
		if len(row) != width {
			return configErrorf("X row %d has %d columns, want %d", i, len(row), width)
		}
	}
	if len(y) != len(X) {
		return configErrorf("X and y disagree on sample count: %d != %d", len(X), len(y))
	}
	if p.Groups != nil && len(p.Groups) != len(X) {
		return configErrorf("groups must have one label per sample: %d != %d", len(p.Groups), len(X))
	}
	if p.FeatureGroups != nil && len(p.FeatureGroups) != width {
		return configErrorf("feature groups must have one label per column: %d != %d", len(p.FeatureGroups), width)
	}
	if (p.ValidationX == nil) != (p.ValidationY == nil) {
		return configErrorf("validation data needs both X and y")
	}
	if p.ValidationX != nil {
		if len(p.ValidationX) != len(p.ValidationY) {
			return configErrorf("validation X and y disagree on sample count: %d != %d",
				len(p.ValidationX), len(p.ValidationY))
		}
		for i, row := range p.ValidationX {
			if len(row) != width {
				return configErrorf("validation X row %d has %d columns, want %d", i, len(row), width)
			}
		}
	}
	return nil
}

func (s *Searcher) buildDriver() searchDriver {
	switch s.method {
	case MethodGenetic:
		return &geneticDriver{
			maxIter:       s.opts.MaxIter,
			perGeneration: s.opts.IterPerGeneration,
			crossover:     s.opts.CrossoverProba,
			mutation:      s.opts.MutationProba,
			random:        s.opts.RandomProba,
			rng:           s.rng,
		}
	case MethodRandom:
		// Random search is the degenerate genetic configuration.
		return &geneticDriver{
			maxIter:       s.opts.MaxIter,
			perGeneration: 1,
			crossover:     Const(0),
			mutation:      Const(0),
			random:        Const(1),
			rng:           s.rng,
		}
	case MethodBayes:
		return &bayesDriver{
			maxIter:        s.opts.MaxIter,
			initialSamples: s.opts.InitialSamples,
			numCandidates:  s.opts.NumCandidates,
			acquisition:    s.opts.Acquisition,
			acqParams:      s.opts.AcqParams,
			rng:            s.rng,
		}
	default:
		return &smboDriver{
			maxIter:        s.opts.MaxIter,
			initialSamples: s.opts.InitialSamples,
			numCandidates:  s.opts.NumCandidates,
			gamma:          s.opts.Gamma,
			rng:            s.rng,
		}
	}
}

// permutationScore scores a random permutation of the targets as if it were
// a prediction. It gives the Bayesian driver a finite failure baseline on
// the metric's own scale. Falls back to zero if the metric cannot score a
// bare prediction.
func (s *Searcher) permutationScore(X [][]float64, y []float64, scoring Scorer) float64 {
	preds := make([]float64, len(y))
	for i, j := range s.rng.Perm(len(y)) {
		preds[i] = y[j]
	}
	score, err := scoring(&presetPredictor{preds: preds}, X, y)
	if err != nil || math.IsNaN(score) {
		s.opts.Logger.Warn().Err(err).Msg("metric cannot score the failure baseline, using 0")
		return 0
	}
	return score
}

// presetPredictor replays fixed predictions; used only to price the
// Bayesian failure baseline.
type presetPredictor struct {
	preds []float64
}

func (p *presetPredictor) SetParams(map[string]any) error { return nil }

func (p *presetPredictor) Fit([][]float64, []float64) error { return nil }

func (p *presetPredictor) Predict(X [][]float64) ([]float64, error) {
	if len(X) > len(p.preds) {
		return nil, fmt.Errorf("cvopt: preset predictor has %d predictions, need %d", len(p.preds), len(X))
	}
	return p.preds[:len(X)], nil
}

func (p *presetPredictor) Clone() Estimator {
	return &presetPredictor{preds: p.preds}
}

// selfScoring delegates to the estimator's own Score method.
func selfScoring(est Estimator, X [][]float64, y []float64) (float64, error) {
	ss, ok := est.(selfScorer)
	if !ok {
		return 0, fmt.Errorf("cvopt: %T does not implement Score", est)
	}
	return ss.Score(X, y)
}

//////
// Post-fit accessors.
//////

// Fitted reports whether Fit has completed.
func (s *Searcher) Fitted() bool {
	return s.fitted
}

// BestParams returns the best parameter set found, or nil when no trial
// produced a comparable score.
func (s *Searcher) BestParams() ParamSet {
	if s.history == nil {
		return nil
	}
	params, _, _ := s.history.Best()
	return params
}

// BestScore returns the best aggregated score in the scoring convention's
// own direction, or NaN when no trial succeeded.
func (s *Searcher) BestScore() float64 {
	if s.history == nil {
		return math.NaN()
	}
	_, score, _ := s.history.Best()
	return score
}

// BestEstimator returns the estimator refitted on the full training data
// with the best parameters. It is nil when Refit is disabled or no trial
// succeeded; ErrNotFitted is returned before Fit has run.
func (s *Searcher) BestEstimator() (Estimator, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	return s.bestEstimator, nil
}

// SelectedFeatures returns the column index set the best parameters select,
// populated by the refit step.
func (s *Searcher) SelectedFeatures() []int {
	return s.bestFeatures
}

// History returns the trial history of the last fit, nil before Fit.
func (s *Searcher) History() *History {
	return s.history
}
