package cvopt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// gaussianProcess is the surrogate model behind the Bayesian driver: an RBF
// kernel GP regression over encoded parameter vectors. Observations are
// appended with Update; the kernel factorization is rebuilt lazily on the
// next Predict.
//
// The driver proposes points sequentially, so the model needs no internal
// locking.
type gaussianProcess struct {
	x [][]float64
	y []float64

	// sigma is the RBF kernel width; inputs are normalized to [0,1] per
	// dimension before they reach the model.
	sigma float64
	// noise is the jitter added to the kernel diagonal for numerical
	// stability.
	noise float64

	chol  mat.Cholesky
	alpha *mat.VecDense
	ready bool
}

func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{
		sigma: 0.3,
		noise: 1e-6,
	}
}

// kernel is the RBF (squared exponential) kernel.
func (gp *gaussianProcess) kernel(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Update appends an observation. The input vector is copied.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	cp := make([]float64, len(x))
	copy(cp, x)
	gp.x = append(gp.x, cp)
	gp.y = append(gp.y, y)
	gp.ready = false
}

// refresh rebuilds the Cholesky factorization of the kernel matrix and the
// dual weights. Jitter is escalated if the matrix is not positive definite.
func (gp *gaussianProcess) refresh() bool {
	n := len(gp.x)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, gp.kernel(gp.x[i], gp.x[j]))
		}
	}

	noise := gp.noise
	for attempt := 0; attempt < 6; attempt++ {
		kj := mat.NewSymDense(n, nil)
		kj.CopySym(k)
		for i := 0; i < n; i++ {
			kj.SetSym(i, i, kj.At(i, i)+noise)
		}
		if gp.chol.Factorize(kj) {
			gp.alpha = mat.NewVecDense(n, nil)
			if err := gp.chol.SolveVecTo(gp.alpha, mat.NewVecDense(n, gp.y)); err != nil {
				return false
			}
			gp.ready = true
			return true
		}
		noise *= 100
	}
	return false
}

// Predict returns the posterior mean and variance at x. With no
// observations, or if the factorization cannot be stabilized, it falls back
// to an uninformative prior around the observed mean.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	n := len(gp.x)
	if n == 0 {
		return 0, 1
	}
	if !gp.ready && !gp.refresh() {
		var sum float64
		for _, v := range gp.y {
			sum += v
		}
		return sum / float64(n), 1
	}

	k := mat.NewVecDense(n, nil)
	for i := range gp.x {
		k.SetVec(i, gp.kernel(x, gp.x[i]))
	}

	mean = mat.Dot(k, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, k); err != nil {
		return mean, 1
	}
	variance = gp.kernel(x, x) - mat.Dot(k, v)
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// Len returns the number of observations.
func (gp *gaussianProcess) Len() int {
	return len(gp.x)
}
