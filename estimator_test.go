package cvopt

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// constModel predicts the constant "level" hyperparameter for every sample.
// Under negMSE scoring the best level is the mean of the targets, which
// gives the searches a smooth signal to find. Exported fields keep it
// gob-encodable for the artifact store.
type constModel struct {
	Level  float64
	Fitted bool

	failFit  bool
	panicFit bool
	fits     *int32
}

func (m *constModel) SetParams(params map[string]any) error {
	if v, ok := params["level"]; ok {
		switch x := v.(type) {
		case float64:
			m.Level = x
		case int:
			m.Level = float64(x)
		default:
			return fmt.Errorf("level is %T, want a number", v)
		}
	}
	return nil
}

func (m *constModel) Fit(X [][]float64, y []float64) error {
	if m.fits != nil {
		atomic.AddInt32(m.fits, 1)
	}
	if m.panicFit {
		panic("estimator blew up")
	}
	if m.failFit {
		return errors.New("fit failed")
	}
	m.Fitted = true
	return nil
}

func (m *constModel) Predict(X [][]float64) ([]float64, error) {
	if !m.Fitted {
		return nil, errors.New("predict before fit")
	}
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.Level
	}
	return out, nil
}

func (m *constModel) Clone() Estimator {
	return &constModel{
		Level:    m.Level,
		failFit:  m.failFit,
		panicFit: m.panicFit,
		fits:     m.fits,
	}
}

// Score makes constModel usable without a configured Scorer.
func (m *constModel) Score(X [][]float64, y []float64) (float64, error) {
	return negMSE(m, X, y)
}

// negMSE is the negative mean squared error, so greater is better.
func negMSE(est Estimator, X [][]float64, y []float64) (float64, error) {
	preds, err := est.Predict(X)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := range y {
		d := preds[i] - y[i]
		sum += d * d
	}
	return -sum / float64(len(y)), nil
}

// makeRegression builds a small deterministic dataset with the given column
// count. Targets hover around 3 so the best constant level is near 3.
func makeRegression(n, cols int) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		row := make([]float64, cols)
		for j := range row {
			row[j] = float64(i*cols + j)
		}
		X[i] = row
		y[i] = 3 + 0.1*float64(i%5-2)
	}
	return X, y
}

func newTestObjective(est Estimator, scoring Scorer, X [][]float64, y []float64, folds []Fold) *objective {
	return &objective{
		estimator:       est,
		scoring:         scoring,
		aggregate:       meanScore,
		greaterIsBetter: true,
		failureScore:    math.NaN(),
		X:               X,
		y:               y,
		folds:           folds,
		minFeatures:     2,
		nJobs:           1,
		preDispatch:     2,
		hist:            newHistory(true),
		logger:          zerolog.Nop(),
	}
}

func mustSplit(s Splitter, n int, groups []int) []Fold {
	folds, err := s.Split(n, groups)
	if err != nil {
		panic(err)
	}
	return folds
}
