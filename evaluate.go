package cvopt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

//////
// Fold evaluation.
//////

// evaluateFold clones the estimator, fits it on the fold's training rows
// restricted to the selected columns, and scores it on the fold's
// validation rows. When an external validation set is present its score is
// computed as well, without affecting fold aggregation.
//
// A panic inside the estimator is treated like any other fit/score failure:
// the fold fails, the trial survives.
func evaluateFold(
	template Estimator,
	params map[string]any,
	cols []int,
	X [][]float64, y []float64,
	xValid [][]float64, yValid []float64,
	fold Fold, foldIndex int,
	scoring Scorer,
) (foldScore, validScore float64, fitted Estimator, err error) {
	foldScore = math.NaN()
	validScore = math.NaN()
	defer func() {
		if r := recover(); r != nil {
			err = &FoldError{Fold: foldIndex, Err: fmt.Errorf("panic during fit/score: %v", r)}
		}
	}()

	est := template.Clone()
	if serr := est.SetParams(params); serr != nil {
		return foldScore, validScore, nil, &FoldError{Fold: foldIndex, Err: serr}
	}

	xTrain := takeRows(X, fold.Train, cols)
	yTrain := takeValues(y, fold.Train)
	if ferr := est.Fit(xTrain, yTrain); ferr != nil {
		return foldScore, validScore, nil, &FoldError{Fold: foldIndex, Err: ferr}
	}

	xTest := takeRows(X, fold.Test, cols)
	yTest := takeValues(y, fold.Test)
	score, serr := scoring(est, xTest, yTest)
	if serr != nil {
		return foldScore, validScore, nil, &FoldError{Fold: foldIndex, Err: serr}
	}
	foldScore = score

	if xValid != nil {
		vs, verr := scoring(est, restrictMatrix(xValid, cols), yValid)
		if verr != nil {
			return foldScore, validScore, nil, &FoldError{Fold: foldIndex, Err: verr}
		}
		validScore = vs
	}
	return foldScore, validScore, est, nil
}

//////
// Objective function.
//////

// objective is the shared evaluation harness every driver calls into. One
// instance is built per fit call; Evaluate runs one trial for one candidate
// parameter set and returns its score in the driver convention (lower is
// better).
type objective struct {
	estimator Estimator
	scoring   Scorer
	aggregate Aggregator

	greaterIsBetter bool
	failureScore    float64

	X      [][]float64
	y      []float64
	xValid [][]float64
	yValid []float64
	folds  []Fold

	featureGroups []int
	minFeatures   int

	nJobs       int
	preDispatch int

	saveEstimator int
	store         *artifactStore
	hist          *History
	logger        zerolog.Logger

	mu         sync.Mutex
	generation int
	trials     int
}

// setGeneration tags subsequent trials with the driver's iteration number.
func (o *objective) setGeneration(gen int) {
	o.mu.Lock()
	o.generation = gen
	o.mu.Unlock()
}

// nextTrial reserves the next trial index.
func (o *objective) nextTrial() (index, generation int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	index = o.trials
	o.trials++
	return index, o.generation
}

// signAdjusted converts a raw score to the driver convention. Drivers
// minimize; a greater-is-better scoring convention is negated.
func (o *objective) signAdjusted(score float64) float64 {
	if o.greaterIsBetter {
		return -score
	}
	return score
}

// Evaluate runs one cross-validated trial of the candidate.
//
// An infeasible feature selection exits early: the trial is recorded as
// failed and no fold is evaluated. A fold failure contributes the sentinel
// for that fold only; the aggregator reduces the surviving scores. The
// aggregated score is recorded raw and returned sign-adjusted for the
// minimizing driver.
func (o *objective) Evaluate(ctx context.Context, params ParamSet) float64 {
	start := time.Now()
	index, generation := o.nextTrial()

	trial := Trial{
		Index:      index,
		Generation: generation,
		Params:     params.clone(),
		Score:      o.failureScore,
		Failed:     true,
	}

	estParams, flags, err := splitParamSet(params)
	if err == nil {
		var cols []int
		cols, err = selectFeatures(len(o.X[0]), o.featureGroups, flags, o.minFeatures)
		if err == nil {
			trial.Features = cols
			o.runFolds(ctx, &trial, estParams, cols)
		}
	}

	trial.Duration = time.Since(start)
	newBest := o.hist.append(trial)
	if o.store != nil {
		if serr := o.store.SaveTrial(trial); serr != nil {
			o.logger.Warn().Err(serr).Int("trial", trial.Index).Msg("failed to persist trial record")
		}
	}

	evt := o.logger.Info().
		Int("trial", trial.Index).
		Int("generation", trial.Generation).
		Bool("failed", trial.Failed).
		Float64("score", trial.Score).
		Dur("duration", trial.Duration)
	if err != nil {
		evt = evt.Str("reason", err.Error())
	}
	evt.Bool("new_best", newBest).Msg("trial evaluated")

	return o.signAdjusted(trial.Score)
}

// runFolds evaluates every fold for the candidate, bounded by the worker
// count and the dispatch limit, then aggregates. Trial-record fields are
// filled in submission order regardless of completion order.
func (o *objective) runFolds(ctx context.Context, trial *Trial, estParams map[string]any, cols []int) {
	n := len(o.folds)
	foldScores := make([]float64, n)
	fitted := make([]Estimator, n)
	errs := make([]error, n)
	var validScores []float64
	if o.xValid != nil {
		validScores = make([]float64, n)
		for i := range validScores {
			validScores[i] = math.NaN()
		}
	}
	// Folds never submitted (cancellation) keep this error and count as
	// failed contributions.
	errNotRun := errors.New("fold not evaluated")
	for i := range foldScores {
		foldScores[i] = math.NaN()
		errs[i] = errNotRun
	}

	run := func(i int) {
		fs, vs, est, err := evaluateFold(
			o.estimator, estParams, cols,
			o.X, o.y, o.xValid, o.yValid,
			o.folds[i], i, o.scoring,
		)
		foldScores[i] = fs
		fitted[i] = est
		errs[i] = err
		if validScores != nil {
			validScores[i] = vs
		}
	}

	if o.nJobs <= 1 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			run(i)
		}
	} else {
		// Fixed worker pool; the channel buffer is the dispatch limit, so
		// submission blocks once that many folds are pending.
		jobs := make(chan int, o.preDispatch)
		var wg sync.WaitGroup
		for w := 0; w < o.nJobs; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					run(i)
				}
			}()
		}
	submit:
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				break submit
			case jobs <- i:
			}
		}
		close(jobs)
		wg.Wait()
	}

	trial.FoldScores = foldScores
	trial.ValidScores = validScores

	trial.Failed = false
	succeeded := make([]float64, 0, n)
	for i := range errs {
		if errs[i] != nil {
			trial.Failed = true
			continue
		}
		succeeded = append(succeeded, foldScores[i])
	}
	if len(succeeded) > 0 {
		trial.Score = o.aggregate(succeeded)
	} else {
		trial.Score = o.failureScore
		trial.Failed = true
	}

	o.persistEstimators(trial, fitted, estParams, cols)
}

// persistEstimators writes the configured snapshot levels to the artifact
// store: per-fold fitted estimators at level 1, plus a whole-train fit at
// level 2.
func (o *objective) persistEstimators(trial *Trial, fitted []Estimator, estParams map[string]any, cols []int) {
	if o.store == nil || o.saveEstimator < 1 {
		return
	}
	for i, est := range fitted {
		if est == nil {
			continue
		}
		if err := o.store.SaveFoldEstimator(trial.Index, i, est); err != nil {
			o.logger.Warn().Err(err).Int("trial", trial.Index).Int("fold", i).Msg("failed to persist fold estimator")
		}
	}
	if o.saveEstimator < 2 || trial.Failed {
		return
	}
	est, err := fitWhole(o.estimator, estParams, cols, o.X, o.y)
	if err != nil {
		o.logger.Warn().Err(err).Int("trial", trial.Index).Msg("whole-train fit for snapshot failed")
		return
	}
	if err := o.store.SaveTestEstimator(trial.Index, est); err != nil {
		o.logger.Warn().Err(err).Int("trial", trial.Index).Msg("failed to persist whole-train estimator")
	}
}

// fitWhole fits a fresh clone on the entire training set with the selected
// columns applied.
func fitWhole(template Estimator, params map[string]any, cols []int, X [][]float64, y []float64) (Estimator, error) {
	est := template.Clone()
	if err := est.SetParams(params); err != nil {
		return nil, err
	}
	if err := est.Fit(restrictMatrix(X, cols), y); err != nil {
		return nil, err
	}
	return est, nil
}
