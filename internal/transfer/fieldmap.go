package transfer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/integrators"
	"github.com/san-kum/linacsim/internal/units"
)

// FieldMapParams gathers the constants of one accelerating element.
type FieldMapParams struct {
	DZ         float64
	NSteps     int
	OmegaRF    float64
	OmegaBunch float64
	BunchToRF  float64
	QAdim      float64
	ERest      float64

	Field fieldmap.Timed

	// Members are the individual fields of a superposed element. When set,
	// one integrated field per member is accumulated.
	Members []fieldmap.Timed
}

func (p FieldMapParams) validate() error {
	if p.NSteps < 1 || !(p.DZ > 0) {
		return fmt.Errorf("%w: field map needs positive steps, got n=%d dz=%g", dynamo.ErrParameterBounds, p.NSteps, p.DZ)
	}
	if p.Field == nil {
		return fmt.Errorf("%w: field map without field", dynamo.ErrParameterBounds)
	}
	if !(p.BunchToRF > 0) || !(p.ERest > 0) {
		return fmt.Errorf("%w: invalid frequency ratio or rest energy", dynamo.ErrParameterBounds)
	}
	return nil
}

// longitudinal is dX/dz for X = (gamma, phi_rf).
type longitudinal struct {
	field     fieldmap.Timed
	gammaNorm float64
	phiNorm   float64
}

func (l longitudinal) Derive(x dynamo.State, z float64) dynamo.State {
	beta := math.Sqrt(1. - 1./(x[dynamo.IdxGamma]*x[dynamo.IdxGamma]))
	return dynamo.State{
		l.gammaNorm * l.field.Real(z, x[dynamo.IdxPhi]),
		l.phiNorm / beta,
	}
}

func (longitudinal) StateDim() int { return 2 }

func newLongitudinal(p FieldMapParams) longitudinal {
	return longitudinal{
		field:     p.Field,
		gammaNorm: p.QAdim / p.ERest,
		phiNorm:   p.OmegaRF / units.C,
	}
}

// FieldMapRK4 integrates (gamma, phi) through the cavity with RK4 and
// builds a drift/thin-lens/drift matrix per step.
func FieldMapRK4(dim int, gammaIn float64, p FieldMapParams) (Result, error) {
	if err := checkDim(dim); err != nil {
		return Result{}, err
	}
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	if _, err := betaOf(gammaIn); err != nil {
		return Result{}, err
	}

	sys := newLongitudinal(p)
	rk := integrators.NewRK4()
	res := newResult(p.NSteps)
	acc := newAccumulator(p)

	halfDZ := 0.5 * p.DZ
	deltaGammaNorm := p.QAdim * p.DZ / p.ERest
	x := dynamo.State{gammaIn, 0.}

	for i := 0; i < p.NSteps; i++ {
		z := float64(i) * p.DZ
		delta := rk.Increment(sys, x, z, p.DZ)
		next := x.Add(delta)
		if err := dynamo.CheckLongitudinal(next); err != nil {
			return Result{}, &dynamo.SimulationError{Step: i, State: next, Wrapped: err}
		}

		acc.add(z, x[dynamo.IdxPhi])

		mid := x.Add(delta.Scale(0.5))
		scaled := complex(deltaGammaNorm, 0) * p.Field.Complex(z+halfDZ, mid[dynamo.IdxPhi])
		m, err := thinLens(dim, scaled, x[dynamo.IdxGamma], next[dynamo.IdxGamma], mid[dynamo.IdxGamma], halfDZ, p.OmegaRF)
		if err != nil {
			return Result{}, &dynamo.SimulationError{Step: i, State: mid, Wrapped: err}
		}

		res.Matrices[i] = m
		res.Gamma[i] = next[dynamo.IdxGamma]
		res.Phi[i] = next[dynamo.IdxPhi] / p.BunchToRF
		x = next
	}

	acc.store(&res)
	return res, nil
}

// FieldMapLeapfrog is the staggered alternative to FieldMapRK4 for the 1D
// solver: energies live on half steps, phases on whole steps. The entry
// energy is rewound by half a kick and the exit energy advanced by half a
// kick so that element boundaries stay synchronised.
func FieldMapLeapfrog(gammaIn float64, p FieldMapParams) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	if _, err := betaOf(gammaIn); err != nil {
		return Result{}, err
	}

	sys := newLongitudinal(p)
	lf := integrators.NewLeapfrog()
	res := newResult(p.NSteps)
	acc := newAccumulator(p)

	halfDZ := 0.5 * p.DZ
	deltaGammaNorm := p.QAdim * p.DZ / p.ERest

	x := dynamo.State{gammaIn, 0.}
	x[dynamo.IdxGamma] -= halfDZ * sys.Derive(x, 0.)[dynamo.IdxGamma]
	gammaWhole := gammaIn

	for i := 0; i < p.NSteps; i++ {
		z := float64(i) * p.DZ
		next := lf.Step(sys, x, z, p.DZ)
		if err := dynamo.CheckLongitudinal(next); err != nil {
			return Result{}, &dynamo.SimulationError{Step: i, State: next, Wrapped: err}
		}

		acc.add(z, x[dynamo.IdxPhi])

		gammaMid := next[dynamo.IdxGamma]
		phiMid := 0.5 * (x[dynamo.IdxPhi] + next[dynamo.IdxPhi])
		gammaOut := gammaMid
		if i == p.NSteps-1 {
			gammaOut += halfDZ * sys.Derive(next, z+p.DZ)[dynamo.IdxGamma]
		}

		scaled := complex(deltaGammaNorm, 0) * p.Field.Complex(z+halfDZ, phiMid)
		m, err := thinLens(2, scaled, gammaWhole, gammaOut, gammaMid, halfDZ, p.OmegaRF)
		if err != nil {
			return Result{}, &dynamo.SimulationError{Step: i, State: next, Wrapped: err}
		}

		res.Matrices[i] = m
		res.Gamma[i] = gammaOut
		res.Phi[i] = next[dynamo.IdxPhi] / p.BunchToRF
		gammaWhole = gammaOut
		x = next
	}

	acc.store(&res)
	return res, nil
}

// thinLens returns drift(gammaOut, dz/2)·K·drift(gammaIn, dz/2) where K
// is the accelerating gap. scaled is the complex field at the middle of the
// step multiplied by Δγ_norm.
func thinLens(dim int, scaled complex128, gammaIn, gammaOut, gammaMid, halfDZ, omegaRF float64) (*mat.Dense, error) {
	betaM, err := betaOf(gammaMid)
	if err != nil {
		return nil, err
	}
	k := scaled / complex(gammaMid*betaM*betaM, 0)
	k1 := imag(k) * omegaRF / (betaM * units.C)
	k2 := 1. - (2.-betaM*betaM)*real(k)
	if k2 == 0 {
		return nil, fmt.Errorf("%w: singular thin lens", dynamo.ErrDomain)
	}
	k3 := (1. - real(k)) / k2

	in := [4]float64{1, halfDZ / (gammaIn * gammaIn), 0, 1}
	out := [4]float64{1, halfDZ / (gammaOut * gammaOut), 0, 1}
	z := mul22(out, mul22([4]float64{k3, 0, k1, k2}, in))

	if dim == 2 {
		return mat2(z[0], z[1], z[2], z[3]), nil
	}

	// Transverse planes: half the longitudinal kick with opposite sign and
	// adiabatic damping of the divergence.
	k1xy := -0.5 * k1
	k2xy := 1. - real(k)
	k3xy := 1.
	tin := [4]float64{1, halfDZ, 0, 1}
	t := mul22(tin, mul22([4]float64{k3xy, 0, k1xy, k2xy}, tin))

	m := Eye(6)
	setBlock(m, 0, t[0], t[1], t[2], t[3])
	setBlock(m, 2, t[0], t[1], t[2], t[3])
	setBlock(m, 4, z[0], z[1], z[2], z[3])
	return m, nil
}

// accumulator integrates the complex field seen by the synchronous
// particle, globally and per superposed member.
type accumulator struct {
	p       FieldMapParams
	total   complex128
	members []complex128
}

func newAccumulator(p FieldMapParams) *accumulator {
	return &accumulator{p: p, members: make([]complex128, len(p.Members))}
}

func (a *accumulator) add(z, phi float64) {
	dz := complex(a.p.DZ, 0)
	a.total += a.p.Field.Complex(z, phi) * dz
	for i, m := range a.p.Members {
		a.members[i] += m.Complex(z, phi) * dz
	}
}

func (a *accumulator) store(res *Result) {
	field := a.total
	res.Field = &field
	if len(a.members) > 0 {
		res.Members = a.members
	}
}
