package cvopt

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankWeightedPickerPrefersBest(t *testing.T) {
	// Lower minimized scores rank higher; NaN ranks worst.
	scores := []float64{5.0, 1.0, math.NaN()}
	pick := rankWeightedPicker(scores, rand.New(rand.NewSource(1)))

	counts := make([]int, len(scores))
	for i := 0; i < 6000; i++ {
		counts[pick()]++
	}

	// Weights are 2:3:1 for indices 0,1,2.
	assert.Greater(t, counts[1], counts[0])
	assert.Greater(t, counts[0], counts[2])
	for i, c := range counts {
		assert.Greater(t, c, 0, "index %d never picked", i)
	}
}

func TestBreedCrossoverExtremesKeepParentValues(t *testing.T) {
	space := SearchSpace{
		"a": Range[int]{Min: 0, Max: 100},
		"b": Range[float64]{Min: 0, Max: 1},
	}
	names := sortedNames(space)
	population := []ParamSet{
		{"a": 1, "b": 0.1},
		{"a": 2, "b": 0.2},
	}
	scores := []float64{1.0, 2.0}

	for _, pCross := range []float64{0, 1} {
		d := &geneticDriver{
			crossover: Const(pCross),
			mutation:  Const(0),
			random:    Const(0),
			rng:       rand.New(rand.NewSource(3)),
		}
		next := d.breed(1, names, space, population, scores)

		// With mutation and injection off, exact crossover probabilities
		// reproduce whole parents.
		for _, child := range next {
			assert.Contains(t, population, child, "pCross=%v", pCross)
		}
	}
}

func TestBreedMutationOneResamplesEveryParameter(t *testing.T) {
	// The only legal sample differs from every parent value, so any child
	// value equal to it must come from resampling.
	space := SearchSpace{"a": Choice{Values: []any{"fresh"}}}
	names := sortedNames(space)
	population := []ParamSet{{"a": "stale"}, {"a": "stale"}}

	d := &geneticDriver{
		crossover: Const(0),
		mutation:  Const(1),
		random:    Const(0),
		rng:       rand.New(rand.NewSource(4)),
	}
	next := d.breed(1, names, space, population, []float64{1, 2})

	for _, child := range next {
		assert.Equal(t, "fresh", child["a"])
	}
}

func TestBreedRandomOneReplacesWholeIndividuals(t *testing.T) {
	space := SearchSpace{"a": Choice{Values: []any{"fresh"}}}
	names := sortedNames(space)
	population := []ParamSet{{"a": "stale"}, {"a": "stale"}, {"a": "stale"}}

	d := &geneticDriver{
		crossover: Const(0.5),
		mutation:  Const(0),
		random:    Const(1),
		rng:       rand.New(rand.NewSource(5)),
	}
	// Injection probability one never consults the parent scores, so even
	// an all-failed generation breeds.
	next := d.breed(1, names, space, population, []float64{math.NaN(), math.NaN(), math.NaN()})

	for _, child := range next {
		assert.Equal(t, "fresh", child["a"])
	}
}

func TestGeneticDriverStopsAtMaxIter(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)
	obj := newTestObjective(&constModel{}, negMSE, X, y, folds)

	d := &geneticDriver{
		maxIter:       10,
		perGeneration: 4,
		crossover:     Const(0.5),
		mutation:      Const(0.1),
		random:        Const(0.1),
		rng:           rand.New(rand.NewSource(6)),
	}
	space := SearchSpace{"level": Range[float64]{Min: 0, Max: 10}}

	require.NoError(t, d.run(context.Background(), obj, space))
	assert.Equal(t, 10, obj.hist.Len())

	// Trials are tagged with their generation: 4 per full generation.
	trials := obj.hist.Trials()
	assert.Equal(t, 0, trials[0].Generation)
	assert.Equal(t, 1, trials[4].Generation)
	assert.Equal(t, 2, trials[8].Generation)
}

func TestGeneticDriverStopsOnCancel(t *testing.T) {
	X, y := makeRegression(12, 2)
	folds := mustSplit(KFold{NSplits: 3}, len(X), nil)

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel from inside the fifth trial's scoring; the driver must stop
	// without error and keep the finished trials.
	var calls int
	scoring := func(est Estimator, X [][]float64, y []float64) (float64, error) {
		calls++
		if calls == 13 { // 3 folds per trial, first fold of trial 5
			cancel()
		}
		return negMSE(est, X, y)
	}
	obj := newTestObjective(&constModel{}, scoring, X, y, folds)

	d := &geneticDriver{
		maxIter:       50,
		perGeneration: 4,
		crossover:     Const(0.5),
		mutation:      Const(0.1),
		random:        Const(0.1),
		rng:           rand.New(rand.NewSource(7)),
	}
	space := SearchSpace{"level": Range[float64]{Min: 0, Max: 10}}

	require.NoError(t, d.run(ctx, obj, space))
	assert.Less(t, obj.hist.Len(), 50)
	assert.GreaterOrEqual(t, obj.hist.Len(), 5)

	_, _, ok := obj.hist.Best()
	assert.True(t, ok, "best-so-far survives cancellation")
}
