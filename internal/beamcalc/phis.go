package beamcalc

import (
	"fmt"
	"math"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/transfer"
	"github.com/san-kum/linacsim/internal/units"
)

// Inner synchronous phase solve.
const (
	PhiSTolerance     = 1e-8
	PhiSMaxIterations = 100
	phiSSamples       = 36
)

// SolvePhiS finds the relative phase phi_0_rel for which the cavity fm,
// entered at Lorentz factor gamma with amplitude ke, has the synchronous
// phase target. The cavity is integrated alone in 1D, with the field map
// method of the solver.
//
// phi_0_rel is first sampled over [0, 2π) to bracket a root of the wrapped
// difference, then refined by bisection. ErrPhiSNotReached is returned when
// no bracket exists or the bisection does not converge.
func (e *Envelope) SolvePhiS(fm *elements.FieldMap, ke, target, gamma float64, cp transfer.FieldMapParams) (float64, error) {
	diff := func(phi0 float64) (float64, error) {
		p := cp
		p.Field = fieldmap.RF{Field: fm.Field, KE: ke, Phi0Rel: phi0}
		p.Members = nil
		res, err := e.integrateDim(2, gamma, p)
		if err != nil {
			return math.NaN(), err
		}
		_, phiS := elements.CavityParameters(res.Field)
		return units.WrapPi(phiS - target), nil
	}

	step := units.TwoPi / phiSSamples
	lo, hi := math.NaN(), math.NaN()
	var dLo float64
	prev, err := diff(0.)
	if err != nil {
		return math.NaN(), err
	}
	for k := 1; k <= phiSSamples; k++ {
		phi := float64(k) * step
		d, err := diff(phi)
		if err != nil {
			return math.NaN(), err
		}
		if prev == 0 {
			return units.Mod2Pi(phi - step), nil
		}
		// The jump of the wrapped difference also changes sign; skip it.
		if prev*d < 0 && math.Abs(prev-d) < math.Pi {
			lo, hi, dLo = phi-step, phi, prev
			break
		}
		prev = d
	}
	if math.IsNaN(lo) {
		return math.NaN(), fmt.Errorf("%w: %s, target %.2f deg has no bracket", dynamo.ErrPhiSNotReached, fm.Name(), units.Deg(target))
	}

	for i := 0; i < PhiSMaxIterations; i++ {
		mid := 0.5 * (lo + hi)
		d, err := diff(mid)
		if err != nil {
			return math.NaN(), err
		}
		if math.Abs(d) < PhiSTolerance || hi-lo < PhiSTolerance {
			return units.Mod2Pi(mid), nil
		}
		if (d < 0) == (dLo < 0) {
			lo, dLo = mid, d
		} else {
			hi = mid
		}
	}
	return math.NaN(), fmt.Errorf("%w: %s, %d bisections", dynamo.ErrPhiSNotReached, fm.Name(), PhiSMaxIterations)
}
