package transfer

import (
	"math"

	"github.com/san-kum/linacsim/internal/units"
)

// MagneticRigidity returns B·rho in T·m.
func MagneticRigidity(gamma, beta, qAdim, eRest float64) float64 {
	q := math.Abs(qAdim)
	if q == 0 {
		q = 1.
	}
	return 1e6 * eRest * beta * gamma / (units.C * q)
}

// Quad propagates through a quadrupole of gradient G (T/m). The 1D solver
// only sees a drift. In 3D the plane where q·G > 0 is focusing.
func Quad(dim int, gammaIn, ds, gradient, qAdim, eRest, omegaBunch float64) (Result, error) {
	if dim == 2 {
		return Drift(dim, gammaIn, ds, omegaBunch, 1)
	}
	if err := checkDim(dim); err != nil {
		return Result{}, err
	}
	beta, err := betaOf(gammaIn)
	if err != nil {
		return Result{}, err
	}

	rigidity := MagneticRigidity(gammaIn, beta, qAdim, eRest)
	k := math.Sqrt(math.Abs(gradient / rigidity))

	m := Eye(6)
	focusing := focusingBlock(k, ds)
	defocusing := defocusingBlock(k, ds)
	if qAdim*gradient > 0 {
		setBlock(m, 0, focusing[0], focusing[1], focusing[2], focusing[3])
		setBlock(m, 2, defocusing[0], defocusing[1], defocusing[2], defocusing[3])
	} else {
		setBlock(m, 0, defocusing[0], defocusing[1], defocusing[2], defocusing[3])
		setBlock(m, 2, focusing[0], focusing[1], focusing[2], focusing[3])
	}
	m.Set(4, 5, ds/(gammaIn*gammaIn))

	res := newResult(1)
	res.Matrices[0] = m
	res.Gamma[0] = gammaIn
	res.Phi[0] = omegaBunch * ds / (beta * units.C)
	return res, nil
}

func focusingBlock(k, ds float64) [4]float64 {
	if k == 0 {
		return [4]float64{1, ds, 0, 1}
	}
	s, c := math.Sincos(k * ds)
	return [4]float64{c, s / k, -k * s, c}
}

func defocusingBlock(k, ds float64) [4]float64 {
	if k == 0 {
		return [4]float64{1, ds, 0, 1}
	}
	sh, ch := math.Sinh(k*ds), math.Cosh(k*ds)
	return [4]float64{ch, sh / k, k * sh, ch}
}

