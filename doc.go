// Package cvopt provides cross-validated hyperparameter search for
// estimators that follow a fit/predict contract, with optional feature-group
// selection folded into the search space.
//
// A single Searcher front-end drives one of four interchangeable search
// methods behind the same objective function:
//
//   - MethodSMBO: sequential model-based optimization (density-ratio
//     candidate ranking over past trials).
//   - MethodBayes: Bayesian optimization with a Gaussian Process surrogate
//     and a pluggable acquisition function.
//   - MethodGenetic: a generational genetic algorithm with per-parameter
//     crossover, mutation and random injection probabilities, each of which
//     may be a constant or a function of the generation index.
//   - MethodRandom: pure random search, expressed as the degenerate genetic
//     configuration (population of one, crossover and mutation disabled,
//     random injection always on).
//
// Every candidate parameter set is evaluated the same way: feature-group
// flags are resolved to a column subset, the estimator is cloned and fitted
// per cross-validation fold, fold scores are aggregated into one trial
// score, and the trial is appended to an ordered history. Infeasible
// feature selections and fold failures are recovered locally by scoring the
// trial with a failure sentinel, so the surrounding search keeps running.
//
// Basic usage:
//
//	space := cvopt.SearchSpace{
//	    "alpha": cvopt.Range[float64]{Min: 1e-4, Max: 1.0},
//	    "depth": cvopt.Range[int]{Min: 1, Max: 8},
//	}
//
//	s, err := cvopt.NewSearcher(cvopt.MethodGenetic, estimator, space, cvopt.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := s.Fit(X, y, nil); err != nil {
//	    return err
//	}
//
//	best := s.BestParams()
//	score := s.BestScore()
//
// Cancellation is cooperative: FitContext stops proposing new work when the
// context is done, keeps every completed trial, and returns normally with
// the best result found so far.
package cvopt
