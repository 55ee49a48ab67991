package cvopt

import (
	"math/rand"
	"sort"
)

//////
// Cross-validation splitting.
//////

// Fold is one train/validation split over the sample axis. The index
// sequences are disjoint and consumed read-only.
type Fold struct {
	Train []int
	Test  []int
}

// Splitter produces a finite sequence of folds for n samples. Splitters
// that do not use group labels ignore the groups argument.
type Splitter interface {
	Split(n int, groups []int) ([]Fold, error)
}

// KFold splits samples into NSplits consecutive folds, optionally shuffling
// the sample order first with the given seed.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    int64
}

// Split implements Splitter.
func (k KFold) Split(n int, _ []int) ([]Fold, error) {
	if k.NSplits < 2 {
		return nil, configErrorf("KFold needs at least 2 splits, got %d", k.NSplits)
	}
	if n < k.NSplits {
		return nil, configErrorf("cannot split %d samples into %d folds", n, k.NSplits)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if k.Shuffle {
		rand.New(rand.NewSource(k.Seed)).Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	folds := make([]Fold, k.NSplits)
	start := 0
	for f := 0; f < k.NSplits; f++ {
		size := n / k.NSplits
		if f < n%k.NSplits {
			size++
		}
		test := order[start : start+size]
		train := make([]int, 0, n-size)
		train = append(train, order[:start]...)
		train = append(train, order[start+size:]...)
		folds[f] = Fold{Train: train, Test: sortedCopy(test)}
		start += size
	}
	return folds, nil
}

// GroupKFold splits samples so that no group appears in both the train and
// test side of a fold. Groups are assigned to the currently smallest fold,
// largest group first, to balance fold sizes.
type GroupKFold struct {
	NSplits int
}

// Split implements Splitter.
func (g GroupKFold) Split(n int, groups []int) ([]Fold, error) {
	if g.NSplits < 2 {
		return nil, configErrorf("GroupKFold needs at least 2 splits, got %d", g.NSplits)
	}
	if len(groups) != n {
		return nil, configErrorf("GroupKFold needs one group label per sample: %d != %d", len(groups), n)
	}

	byGroup := make(map[int][]int)
	for i, grp := range groups {
		byGroup[grp] = append(byGroup[grp], i)
	}
	if len(byGroup) < g.NSplits {
		return nil, configErrorf("cannot split %d groups into %d folds", len(byGroup), g.NSplits)
	}

	labels := make([]int, 0, len(byGroup))
	for grp := range byGroup {
		labels = append(labels, grp)
	}
	// Largest groups first; label order breaks ties deterministically.
	sort.Slice(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if len(byGroup[a]) != len(byGroup[b]) {
			return len(byGroup[a]) > len(byGroup[b])
		}
		return a < b
	})

	assignment := make(map[int]int, len(labels))
	sizes := make([]int, g.NSplits)
	for _, grp := range labels {
		smallest := 0
		for f := 1; f < g.NSplits; f++ {
			if sizes[f] < sizes[smallest] {
				smallest = f
			}
		}
		assignment[grp] = smallest
		sizes[smallest] += len(byGroup[grp])
	}

	folds := make([]Fold, g.NSplits)
	for i, grp := range groups {
		f := assignment[grp]
		folds[f].Test = append(folds[f].Test, i)
	}
	for f := range folds {
		train := make([]int, 0, n-len(folds[f].Test))
		for i, grp := range groups {
			if assignment[grp] != f {
				train = append(train, i)
			}
		}
		folds[f].Train = train
	}
	return folds, nil
}

func sortedCopy(idx []int) []int {
	out := make([]int, len(idx))
	copy(out, idx)
	sort.Ints(out)
	return out
}
