package cvopt

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

// geneticDriver is the generational genetic search loop.
//
// Generation 0 is built by independent random sampling. Every later
// generation is bred from the previous one: parents are paired with
// fitness-proportional rank weights, each offspring parameter inherits one
// parent's value (switching to the second parent with the crossover
// probability), each parameter is then independently resampled with the
// mutation probability, and finally whole individuals are replaced by fresh
// random samples with the random-injection probability. All three
// probabilities are schedules evaluated with the current generation index,
// and exact 0 and 1 short-circuit without consulting the random source.
//
// Random search is this same loop with a population of one, crossover and
// mutation at zero and random injection at one.
type geneticDriver struct {
	maxIter       int
	perGeneration int
	crossover     Schedule
	mutation      Schedule
	random        Schedule
	rng           *rand.Rand
}

func (d *geneticDriver) run(ctx context.Context, obj *objective, space SearchSpace) error {
	names := sortedNames(space)

	population := make([]ParamSet, d.perGeneration)
	for i := range population {
		population[i] = sampleSet(space, names, d.rng)
	}

	evaluated := 0
	for generation := 0; ; generation++ {
		obj.setGeneration(generation)

		scores := make([]float64, len(population))
		for i := range scores {
			scores[i] = math.NaN()
		}
		for i, individual := range population {
			if evaluated >= d.maxIter || ctx.Err() != nil {
				return nil
			}
			scores[i] = obj.Evaluate(ctx, individual)
			evaluated++
		}
		if evaluated >= d.maxIter {
			return nil
		}

		population = d.breed(generation+1, names, space, population, scores)
	}
}

// breed produces the next generation from the scored current one. The
// schedules are evaluated once per generation with the index of the
// generation being bred.
func (d *geneticDriver) breed(generation int, names []string, space SearchSpace, population []ParamSet, scores []float64) []ParamSet {
	pCross := clamp01(d.crossover(generation))
	pMutate := clamp01(d.mutation(generation))
	pRandom := clamp01(d.random(generation))

	var pick func() int
	if pRandom < 1 {
		pick = rankWeightedPicker(scores, d.rng)
	}

	next := make([]ParamSet, len(population))
	for i := range next {
		if pRandom >= 1 || (pRandom > 0 && d.rng.Float64() < pRandom) {
			next[i] = sampleSet(space, names, d.rng)
			continue
		}

		a := pick()
		b := a
		if len(population) > 1 {
			for b == a {
				b = pick()
			}
		}

		child := make(ParamSet, len(names))
		for _, name := range names {
			value := population[a][name]
			if pCross >= 1 {
				value = population[b][name]
			} else if pCross > 0 && d.rng.Float64() < pCross {
				value = population[b][name]
			}
			if pMutate >= 1 || (pMutate > 0 && d.rng.Float64() < pMutate) {
				value = space[name].Sample(d.rng)
			}
			child[name] = value
		}
		next[i] = child
	}
	return next
}

// rankWeightedPicker returns a parent sampler whose expected pick count is
// non-decreasing in fitness rank: the best individual (lowest minimized
// score) carries weight n, the worst weight 1. Failure sentinels rank
// worst; ties keep population order.
func rankWeightedPicker(scores []float64, rng *rand.Rand) func() int {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if math.IsNaN(sa) {
			return false
		}
		if math.IsNaN(sb) {
			return true
		}
		return sa < sb
	})

	weights := make([]float64, n)
	total := 0.0
	for rank, idx := range order {
		weights[idx] = float64(n - rank)
		total += weights[idx]
	}

	return func() int {
		r := rng.Float64() * total
		for i, w := range weights {
			r -= w
			if r < 0 {
				return i
			}
		}
		return n - 1
	}
}
