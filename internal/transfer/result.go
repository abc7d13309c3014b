package transfer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/units"
)

// Result of one element propagation.
type Result struct {
	Matrices []*mat.Dense
	Gamma    []float64
	Phi      []float64

	// Field is the integrated complex field, nil when the element does not
	// accelerate (drift, magnet or failed cavity).
	Field *complex128

	// Members holds the integrated field of each member of a superposed
	// element.
	Members []complex128
}

func (r Result) NSteps() int { return len(r.Matrices) }

// Exit returns the Lorentz factor and relative phase at the element exit.
func (r Result) Exit() (gamma, phi float64) {
	n := len(r.Gamma)
	return r.Gamma[n-1], r.Phi[n-1]
}

func newResult(nSteps int) Result {
	return Result{
		Matrices: make([]*mat.Dense, nSteps),
		Gamma:    make([]float64, nSteps),
		Phi:      make([]float64, nSteps),
	}
}

func checkDim(dim int) error {
	if dim != 2 && dim != 6 {
		return fmt.Errorf("%w: transfer matrices are 2x2 or 6x6, got %d", dynamo.ErrDimensionMismatch, dim)
	}
	return nil
}

func betaOf(gamma float64) (float64, error) {
	if !(gamma > 1.) {
		return math.NaN(), fmt.Errorf("%w: gamma=%g", dynamo.ErrDomain, gamma)
	}
	return units.BetaFromGamma(gamma)
}

// setBlock writes a 2x2 block at (i, i).
func setBlock(m *mat.Dense, i int, a, b, c, d float64) {
	m.Set(i, i, a)
	m.Set(i, i+1, b)
	m.Set(i+1, i, c)
	m.Set(i+1, i+1, d)
}

func mat2(a, b, c, d float64) *mat.Dense {
	return mat.NewDense(2, 2, []float64{a, b, c, d})
}

// mul22 returns x·y for 2x2 row-major arrays.
func mul22(x, y [4]float64) [4]float64 {
	return [4]float64{
		x[0]*y[0] + x[1]*y[2], x[0]*y[1] + x[1]*y[3],
		x[2]*y[0] + x[3]*y[2], x[2]*y[1] + x[3]*y[3],
	}
}

// Eye returns the identity transfer matrix of dimension dim.
func Eye(dim int) *mat.Dense {
	m := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		m.Set(i, i, 1.)
	}
	return m
}
