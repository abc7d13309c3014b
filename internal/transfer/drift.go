package transfer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/units"
)

// Drift propagates through nSteps drifts of length ds. The energy is
// constant and the phase advances by omegaBunch·ds/(beta·c) per step.
func Drift(dim int, gammaIn, ds, omegaBunch float64, nSteps int) (Result, error) {
	if err := checkDim(dim); err != nil {
		return Result{}, err
	}
	beta, err := betaOf(gammaIn)
	if err != nil {
		return Result{}, err
	}
	if nSteps < 1 {
		nSteps = 1
	}

	res := newResult(nSteps)
	dPhi := omegaBunch * ds / (beta * units.C)
	for i := 0; i < nSteps; i++ {
		res.Matrices[i] = driftMatrix(dim, gammaIn, ds)
		res.Gamma[i] = gammaIn
		res.Phi[i] = float64(i+1) * dPhi
	}
	return res, nil
}

func driftMatrix(dim int, gamma, ds float64) *mat.Dense {
	m := Eye(dim)
	if dim == 6 {
		m.Set(0, 1, ds)
		m.Set(2, 3, ds)
		m.Set(4, 5, ds/(gamma*gamma))
		return m
	}
	m.Set(0, 1, ds/(gamma*gamma))
	return m
}
