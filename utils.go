package cvopt

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal
// distribution. Used by the PI and EI acquisition functions.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the density of the standard normal distribution. Used by EI
// and by the SMBO density ratio.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// meanScore is the default trial aggregator.
func meanScore(scores []float64) float64 {
	return stat.Mean(scores, nil)
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// sortedNames returns the space's parameter names in a stable order, so
// vector encodings and breeding visit parameters deterministically.
func sortedNames(space SearchSpace) []string {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sampleSet draws one independent random value per parameter.
func sampleSet(space SearchSpace, names []string, rng *rand.Rand) ParamSet {
	p := make(ParamSet, len(names))
	for _, name := range names {
		p[name] = space[name].Sample(rng)
	}
	return p
}

// takeRows gathers the given sample rows, restricted to the given columns.
// A nil column set means all columns.
func takeRows(X [][]float64, rows []int, cols []int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = takeColumns(X[r], cols)
	}
	return out
}

// takeColumns copies the selected columns of one row.
func takeColumns(row []float64, cols []int) []float64 {
	if cols == nil {
		out := make([]float64, len(row))
		copy(out, row)
		return out
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}

// takeValues gathers target values for the given sample rows.
func takeValues(y []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}

// restrictMatrix applies a column selection to every row.
func restrictMatrix(X [][]float64, cols []int) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = takeColumns(row, cols)
	}
	return out
}
