package cvopt

import (
	"context"
	"math/rand"
)

// searchDriver proposes parameter sets and feeds them to the shared
// objective. A driver returns nil on context cancellation: the best result
// found so far stands and the coordinator finishes normally.
type searchDriver interface {
	run(ctx context.Context, obj *objective, space SearchSpace) error
}

//////
// Numeric space encoding for the model-based drivers.
//////

// spaceEncoder maps parameter sets onto vectors in [0,1]^d and back, using
// a stable parameter order. Every distribution in the space must be
// numerically encodable.
type spaceEncoder struct {
	names []string
	dists []numericDistribution
	lo    []float64
	hi    []float64
}

func newSpaceEncoder(space SearchSpace, method Method) (*spaceEncoder, error) {
	names := sortedNames(space)
	enc := &spaceEncoder{
		names: names,
		dists: make([]numericDistribution, len(names)),
		lo:    make([]float64, len(names)),
		hi:    make([]float64, len(names)),
	}
	for i, name := range names {
		nd, ok := space[name].(numericDistribution)
		if !ok {
			return nil, configErrorf("method %q requires numeric distributions, parameter %q is %T",
				method, name, space[name])
		}
		enc.dists[i] = nd
		enc.lo[i], enc.hi[i] = nd.bounds()
	}
	return enc, nil
}

func (e *spaceEncoder) dim() int {
	return len(e.names)
}

// vector encodes a parameter set, normalized per dimension.
func (e *spaceEncoder) vector(p ParamSet) []float64 {
	v := make([]float64, len(e.names))
	for i, name := range e.names {
		x := e.dists[i].encode(p[name])
		if span := e.hi[i] - e.lo[i]; span > 0 {
			v[i] = (x - e.lo[i]) / span
		}
	}
	return v
}

// paramSet decodes a normalized vector back into valid parameter values.
func (e *spaceEncoder) paramSet(v []float64) ParamSet {
	p := make(ParamSet, len(e.names))
	for i, name := range e.names {
		x := e.lo[i] + clamp01(v[i])*(e.hi[i]-e.lo[i])
		p[name] = e.dists[i].decode(x)
	}
	return p
}

// sample draws an independent random parameter set.
func (e *spaceEncoder) sample(space SearchSpace, rng *rand.Rand) ParamSet {
	return sampleSet(space, e.names, rng)
}
