package cvopt

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

//////
// Trial records.
//////

// Trial is one full cross-validated evaluation of a single parameter set.
// It is immutable once appended to the history.
type Trial struct {
	// Index is the zero-based submission order of the trial.
	Index int
	// Generation is the driver iteration the trial belongs to. For the
	// genetic driver it is the generation number; for the others it is the
	// proposal index.
	Generation int
	// Params is the evaluated parameter set, feature flags included.
	Params ParamSet
	// FoldScores holds one score per fold; failed folds are NaN.
	FoldScores []float64
	// ValidScores holds the external validation-set score per fold when
	// validation data was supplied. Nil otherwise.
	ValidScores []float64
	// Score is the aggregated trial score, or the failure sentinel.
	Score float64
	// Duration is the wall-clock time of the whole trial.
	Duration time.Duration
	// Features is the selected column index set, nil for infeasible trials.
	Features []int
	// Failed marks trials with an infeasible selection or at least one
	// failed fold.
	Failed bool
}

// trialJSON mirrors Trial with NaN-safe score fields so records survive
// JSON round trips in the artifact store.
type trialJSON struct {
	Index       int        `json:"index"`
	Generation  int        `json:"generation"`
	Params      ParamSet   `json:"params"`
	FoldScores  []*float64 `json:"fold_scores"`
	ValidScores []*float64 `json:"validation_scores,omitempty"`
	Score       *float64   `json:"score"`
	DurationNS  int64      `json:"duration_ns"`
	Features    []int      `json:"features,omitempty"`
	Failed      bool       `json:"failed"`
}

func floatPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func floatVal(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func floatPtrs(vs []float64) []*float64 {
	if vs == nil {
		return nil
	}
	out := make([]*float64, len(vs))
	for i, v := range vs {
		out[i] = floatPtr(v)
	}
	return out
}

func floatVals(ps []*float64) []float64 {
	if ps == nil {
		return nil
	}
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = floatVal(p)
	}
	return out
}

// MarshalJSON encodes the trial with failed scores as null.
func (t Trial) MarshalJSON() ([]byte, error) {
	return json.Marshal(trialJSON{
		Index:       t.Index,
		Generation:  t.Generation,
		Params:      t.Params,
		FoldScores:  floatPtrs(t.FoldScores),
		ValidScores: floatPtrs(t.ValidScores),
		Score:       floatPtr(t.Score),
		DurationNS:  t.Duration.Nanoseconds(),
		Features:    t.Features,
		Failed:      t.Failed,
	})
}

// UnmarshalJSON decodes a trial, mapping null scores back to NaN.
func (t *Trial) UnmarshalJSON(data []byte) error {
	var row trialJSON
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	t.Index = row.Index
	t.Generation = row.Generation
	t.Params = row.Params
	t.FoldScores = floatVals(row.FoldScores)
	t.ValidScores = floatVals(row.ValidScores)
	t.Score = floatVal(row.Score)
	t.Duration = time.Duration(row.DurationNS)
	t.Features = row.Features
	t.Failed = row.Failed
	return nil
}

//////
// History.
//////

// History is the ordered record of every trial in one fit call, together
// with the monotone best-so-far result. Appends are serialized; the best
// score only ever improves in the configured direction.
type History struct {
	mu              sync.Mutex
	greaterIsBetter bool

	trials     []Trial
	bestScore  float64
	bestParams ParamSet
	bestIndex  int
}

func newHistory(greaterIsBetter bool) *History {
	return &History{
		greaterIsBetter: greaterIsBetter,
		bestScore:       math.NaN(),
		bestIndex:       -1,
	}
}

// append records a trial and updates the best result when the trial's
// aggregated score is strictly better. Returns whether a new best was set.
func (h *History) append(t Trial) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trials = append(h.trials, t)
	if !h.better(t.Score, h.bestScore) {
		return false
	}
	h.bestScore = t.Score
	h.bestParams = t.Params.clone()
	h.bestIndex = t.Index
	return true
}

// better reports whether a strictly improves on b in the configured
// direction. NaN never improves and is always improved upon.
func (h *History) better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	if h.greaterIsBetter {
		return a > b
	}
	return a < b
}

// Len returns the number of recorded trials.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trials)
}

// Trials returns a copy of the trial records in submission order.
func (h *History) Trials() []Trial {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Trial, len(h.trials))
	copy(out, h.trials)
	return out
}

// Best returns the best parameter set and score seen so far. ok is false
// while no trial has produced a comparable score.
func (h *History) Best() (params ParamSet, score float64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bestIndex < 0 {
		return nil, math.NaN(), false
	}
	return h.bestParams.clone(), h.bestScore, true
}

// BestIndex returns the trial index of the current best, or -1.
func (h *History) BestIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bestIndex
}

// WriteCSV exports the history as one row per trial: bookkeeping columns,
// one column per parameter (sorted union over all trials), then the
// per-fold scores. Failed values render as NaN.
func (h *History) WriteCSV(w io.Writer) error {
	trials := h.Trials()

	nameSet := make(map[string]struct{})
	maxFolds := 0
	hasValid := false
	for _, t := range trials {
		for name := range t.Params {
			nameSet[name] = struct{}{}
		}
		if len(t.FoldScores) > maxFolds {
			maxFolds = len(t.FoldScores)
		}
		if t.ValidScores != nil {
			hasValid = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	header := []string{"index", "generation", "failed", "score", "duration_sec", "n_features"}
	for _, name := range names {
		header = append(header, "param_"+name)
	}
	for f := 0; f < maxFolds; f++ {
		header = append(header, fmt.Sprintf("split%d_score", f))
	}
	if hasValid {
		for f := 0; f < maxFolds; f++ {
			header = append(header, fmt.Sprintf("split%d_validation_score", f))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trials {
		row := []string{
			strconv.Itoa(t.Index),
			strconv.Itoa(t.Generation),
			strconv.FormatBool(t.Failed),
			formatScore(t.Score),
			strconv.FormatFloat(t.Duration.Seconds(), 'f', 6, 64),
			strconv.Itoa(len(t.Features)),
		}
		for _, name := range names {
			if v, ok := t.Params[name]; ok {
				row = append(row, fmt.Sprint(v))
			} else {
				row = append(row, "")
			}
		}
		for f := 0; f < maxFolds; f++ {
			if f < len(t.FoldScores) {
				row = append(row, formatScore(t.FoldScores[f]))
			} else {
				row = append(row, "")
			}
		}
		if hasValid {
			for f := 0; f < maxFolds; f++ {
				if f < len(t.ValidScores) {
					row = append(row, formatScore(t.ValidScores[f]))
				} else {
					row = append(row, "")
				}
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
