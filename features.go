package cvopt

import (
	"fmt"
	"strconv"
	"strings"
)

// featureGroupPrefix marks the reserved search-space keys carrying
// feature-group inclusion flags.
const featureGroupPrefix = "feature_group_"

// FeatureGroupKey returns the reserved parameter name for a feature group's
// inclusion flag. Add one per group to the search space (typically with a
// Flag distribution) and pass matching group labels to Fit, and the search
// will select column subsets alongside hyperparameters:
//
//	space[cvopt.FeatureGroupKey(0)] = cvopt.Flag{}
func FeatureGroupKey(group int) string {
	return featureGroupPrefix + strconv.Itoa(group)
}

// splitParamSet separates a candidate into estimator hyperparameters and
// feature-group inclusion flags.
func splitParamSet(params ParamSet) (map[string]any, map[int]bool, error) {
	est := make(map[string]any, len(params))
	var flags map[int]bool
	for name, value := range params {
		if !strings.HasPrefix(name, featureGroupPrefix) {
			est[name] = value
			continue
		}
		group, err := strconv.Atoi(strings.TrimPrefix(name, featureGroupPrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("cvopt: malformed feature-group key %q: %w", name, err)
		}
		on, ok := value.(bool)
		if !ok {
			return nil, nil, fmt.Errorf("cvopt: feature-group flag %q is %T, want bool", name, value)
		}
		if flags == nil {
			flags = make(map[int]bool)
		}
		flags[group] = on
	}
	return est, flags, nil
}

// selectFeatures resolves per-column group labels and group inclusion flags
// into a sorted column index set.
//
// With no grouping configured the identity set is returned. Groups without
// a flag in the candidate are kept. A result below minFeatures is signalled
// as ErrInfeasibleSelection; the caller decides the fallback.
func selectFeatures(nCols int, featureGroups []int, flags map[int]bool, minFeatures int) ([]int, error) {
	if len(featureGroups) == 0 {
		cols := make([]int, nCols)
		for i := range cols {
			cols[i] = i
		}
		return cols, nil
	}

	cols := make([]int, 0, nCols)
	for i, group := range featureGroups {
		if on, ok := flags[group]; ok && !on {
			continue
		}
		cols = append(cols, i)
	}
	if len(cols) < minFeatures {
		return nil, fmt.Errorf("%w: %d < %d", ErrInfeasibleSelection, len(cols), minFeatures)
	}
	return cols, nil
}

// knownGroups validates that every flag key in the space names a group that
// actually occurs in the per-column labels.
func knownGroups(space SearchSpace, featureGroups []int) error {
	if len(featureGroups) == 0 {
		for name := range space {
			if strings.HasPrefix(name, featureGroupPrefix) {
				return configErrorf("search space flags %q but Fit received no feature groups", name)
			}
		}
		return nil
	}
	present := make(map[int]bool, 8)
	for _, g := range featureGroups {
		present[g] = true
	}
	for name := range space {
		if !strings.HasPrefix(name, featureGroupPrefix) {
			continue
		}
		group, err := strconv.Atoi(strings.TrimPrefix(name, featureGroupPrefix))
		if err != nil {
			return configErrorf("malformed feature-group key %q", name)
		}
		if !present[group] {
			return configErrorf("feature-group key %q names an unknown group", name)
		}
	}
	return nil
}
