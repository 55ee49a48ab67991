package cvopt

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAggregatesFoldScores(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)
	score := obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	require.Equal(t, 1, obj.hist.Len())
	trial := obj.hist.Trials()[0]

	assert.False(t, trial.Failed)
	assert.Len(t, trial.FoldScores, 3)
	assert.Equal(t, meanScore(trial.FoldScores), trial.Score)
	assert.Equal(t, []int{0, 1}, trial.Features)

	// Greater-is-better scores come back negated for the minimizing driver.
	assert.Equal(t, -trial.Score, score)

	// Constant prediction at 3 against targets within 0.2 of 3.
	assert.Greater(t, trial.Score, -0.05)
	assert.LessOrEqual(t, trial.Score, 0.0)
}

func TestEvaluateInfeasibleSelectionSkipsFolds(t *testing.T) {
	X, y := makeRegression(12, 4)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	var fits int32
	obj := newTestObjective(&constModel{fits: &fits}, negMSE, X, y, folds)
	obj.featureGroups = []int{0, 0, 1, 1}

	score := obj.Evaluate(context.Background(), ParamSet{
		"level":           3.0,
		FeatureGroupKey(0): false,
		FeatureGroupKey(1): false,
	})

	// No estimator is fitted when the selection is infeasible.
	assert.Equal(t, int32(0), atomic.LoadInt32(&fits))
	assert.True(t, math.IsNaN(score))

	trial := obj.hist.Trials()[0]
	assert.True(t, trial.Failed)
	assert.Nil(t, trial.Features)
	assert.Nil(t, trial.FoldScores)
}

func TestEvaluateFeatureSelection(t *testing.T) {
	X, y := makeRegression(12, 4)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)
	obj.featureGroups = []int{0, 0, 1, 1}

	obj.Evaluate(context.Background(), ParamSet{
		"level":           3.0,
		FeatureGroupKey(0): true,
		FeatureGroupKey(1): false,
	})

	trial := obj.hist.Trials()[0]
	assert.False(t, trial.Failed)
	assert.Equal(t, []int{0, 1}, trial.Features)
}

func TestEvaluatePartialFoldFailure(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	// The first scoring call fails; later folds succeed.
	var calls int32
	scoring := func(est Estimator, X [][]float64, y []float64) (float64, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, errors.New("scorer rejected the fold")
		}
		return negMSE(est, X, y)
	}

	obj := newTestObjective(&constModel{}, scoring, X, y, folds)
	score := obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	trial := obj.hist.Trials()[0]
	assert.True(t, trial.Failed)
	assert.True(t, math.IsNaN(trial.FoldScores[0]))
	assert.False(t, math.IsNaN(trial.FoldScores[1]))
	assert.False(t, math.IsNaN(trial.FoldScores[2]))

	// The surviving folds still aggregate into a usable score.
	want := meanScore([]float64{trial.FoldScores[1], trial.FoldScores[2]})
	assert.Equal(t, want, trial.Score)
	assert.Equal(t, -want, score)
}

func TestEvaluateAllFoldsFailed(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{failFit: true}, negMSE, X, y, folds)
	score := obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	trial := obj.hist.Trials()[0]
	assert.True(t, trial.Failed)
	assert.True(t, math.IsNaN(trial.Score))
	assert.True(t, math.IsNaN(score))
}

func TestEvaluateFiniteFailureSentinel(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{failFit: true}, negMSE, X, y, folds)
	obj.failureScore = -7.5

	score := obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	trial := obj.hist.Trials()[0]
	assert.True(t, trial.Failed)
	assert.Equal(t, -7.5, trial.Score)
	assert.Equal(t, 7.5, score)
}

func TestEvaluatePanicBecomesFoldFailure(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{panicFit: true}, negMSE, X, y, folds)

	assert.NotPanics(t, func() {
		obj.Evaluate(context.Background(), ParamSet{"level": 3.0})
	})
	assert.True(t, obj.hist.Trials()[0].Failed)
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	X, y := makeRegression(20, 2)
	folds := mustSplit(KFold{NSplits: 4}, len(X), nil)
	params := ParamSet{"level": 2.0}

	seq := newTestObjective(&constModel{}, negMSE, X, y, folds)
	seqScore := seq.Evaluate(context.Background(), params)

	par := newTestObjective(&constModel{}, negMSE, X, y, folds)
	par.nJobs = 4
	par.preDispatch = 8
	parScore := par.Evaluate(context.Background(), params)

	assert.Equal(t, seqScore, parScore)
	assert.Equal(t, seq.hist.Trials()[0].FoldScores, par.hist.Trials()[0].FoldScores)
}

func TestEvaluateValidationScores(t *testing.T) {
	X, y := makeRegression(12, 2)
	xValid, yValid := makeRegression(6, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)
	obj.xValid = xValid
	obj.yValid = yValid

	obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	trial := obj.hist.Trials()[0]
	require.Len(t, trial.ValidScores, 3)
	for i, vs := range trial.ValidScores {
		assert.False(t, math.IsNaN(vs), "validation score of fold %d", i)
	}
	// Validation scores never feed the aggregated trial score.
	assert.Equal(t, meanScore(trial.FoldScores), trial.Score)
}

func TestEvaluateCandidateBatch(t *testing.T) {
	X, y := makeRegression(12, 4)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)
	obj.featureGroups = []int{0, 0, 1, 1}

	candidates := []ParamSet{
		{"level": 1.0, FeatureGroupKey(0): true, FeatureGroupKey(1): true},
		{"level": 2.0, FeatureGroupKey(0): true, FeatureGroupKey(1): false},
		{"level": 3.0, FeatureGroupKey(0): false, FeatureGroupKey(1): false},
		{"level": 4.0, FeatureGroupKey(0): false, FeatureGroupKey(1): true},
	}
	for _, c := range candidates {
		obj.Evaluate(context.Background(), c)
	}

	trials := obj.hist.Trials()
	require.Len(t, trials, 4)

	failed := 0
	for _, trial := range trials {
		if trial.Failed {
			failed++
			assert.True(t, math.IsNaN(trial.Score))
			assert.Nil(t, trial.FoldScores)
			continue
		}
		assert.Len(t, trial.FoldScores, 3)
	}
	assert.Equal(t, 1, failed, "only the zero-column candidate fails")
}

func TestEvaluateTrialNumbering(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)
	obj.setGeneration(0)
	obj.Evaluate(context.Background(), ParamSet{"level": 1.0})
	obj.Evaluate(context.Background(), ParamSet{"level": 2.0})
	obj.setGeneration(1)
	obj.Evaluate(context.Background(), ParamSet{"level": 3.0})

	trials := obj.hist.Trials()
	require.Len(t, trials, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{trials[0].Index, trials[1].Index, trials[2].Index})
	assert.Equal(t, []int{0, 0, 1}, []int{trials[0].Generation, trials[1].Generation, trials[2].Generation})
}

func TestFoldErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &FoldError{Fold: 2, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fold 2")
}
