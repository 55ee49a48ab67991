package cvopt

import (
	"errors"
	"fmt"
)

//////
// Error taxonomy.
//////

// ErrInfeasibleSelection is returned by feature selection when the enabled
// feature groups yield fewer columns than the configured minimum. The
// objective function recovers from it locally: the trial is recorded as
// failed with the failure sentinel and the search continues.
var ErrInfeasibleSelection = errors.New("cvopt: feature selection yields fewer columns than the minimum")

// ErrNotFitted is returned by post-fit accessors when Fit has not completed.
var ErrNotFitted = errors.New("cvopt: search has not been run")

// ConfigError reports an invalid searcher or fit configuration: unknown
// method, degenerate cross-validation, mismatched shapes. It is fatal and
// raised at construction or fit entry, never mid-search.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string {
	return "cvopt: invalid configuration: " + e.msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// FoldError wraps an estimator failure (set-params, fit or score) on a
// single cross-validation fold. It is terminal for that fold's contribution
// to the trial; other folds still run.
type FoldError struct {
	Fold int
	Err  error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("cvopt: fold %d failed: %v", e.Fold, e.Err)
}

func (e *FoldError) Unwrap() error {
	return e.Err
}
