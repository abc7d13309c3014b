package envelope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
)

// Plane holds per mesh point beam properties in one phase space.
type Plane struct {
	Space          PhaseSpace
	Sigma          []*mat.Dense
	Eps            []float64
	Twiss          []Twiss
	EnvelopePos    []float64
	EnvelopeEnergy []float64
}

// NewPlane derives emittance, Twiss and envelopes from 2x2 sigma matrices.
func NewPlane(space PhaseSpace, sigma []*mat.Dense) *Plane {
	n := len(sigma)
	p := &Plane{
		Space:          space,
		Sigma:          sigma,
		Eps:            make([]float64, n),
		Twiss:          make([]Twiss, n),
		EnvelopePos:    make([]float64, n),
		EnvelopeEnergy: make([]float64, n),
	}
	for i, s := range sigma {
		p.Eps[i] = Emittance(s)
		p.Twiss[i] = TwissFromSigma(s, p.Eps[i], space)
		p.EnvelopePos[i] = math.Sqrt(p.Twiss[i].Beta * p.Eps[i])
		p.EnvelopeEnergy[i] = math.Sqrt(p.Twiss[i].Gamma * p.Eps[i])
	}
	return p
}

func (p *Plane) Len() int { return len(p.Eps) }

func (p *Plane) Alpha() []float64 { return p.column(func(t Twiss) float64 { return t.Alpha }) }
func (p *Plane) Beta() []float64  { return p.column(func(t Twiss) float64 { return t.Beta }) }
func (p *Plane) Gamma() []float64 { return p.column(func(t Twiss) float64 { return t.Gamma }) }

func (p *Plane) column(f func(Twiss) float64) []float64 {
	out := make([]float64, len(p.Twiss))
	for i, t := range p.Twiss {
		out[i] = f(t)
	}
	return out
}

// Scaling returns the diagonal factors (a, b) mapping [z-delta] coordinates
// to the given longitudinal phase space at Lorentz factor gamma.
//
//	z:    z[mm] = 1e3·z,           z'[mrad] = 1e3·delta/gamma²
//	phiw: phi[deg] = -360/(beta·lambda)·z, W[MeV] = E0·gamma·beta²·delta
func Scaling(space PhaseSpace, gamma, lambdaBunch, eRest float64) (a, b float64, err error) {
	switch space {
	case ZDelta:
		return 1., 1., nil
	case Z:
		return 1e3, 1e3 / (gamma * gamma), nil
	case PhiW:
		beta := math.Sqrt(1. - 1./(gamma*gamma))
		return -360. / (beta * lambdaBunch), eRest * gamma * beta * beta, nil
	}
	return 0, 0, fmt.Errorf("%w: no [z-delta] conversion to %q", dynamo.ErrMissingAttribute, space)
}

// Convert builds the sigma matrices of space from the [z-delta] ones.
func Convert(zdelta []*mat.Dense, space PhaseSpace, gamma []float64, lambdaBunch, eRest float64) (*Plane, error) {
	if len(zdelta) != len(gamma) {
		return nil, fmt.Errorf("%w: %d sigma matrices vs %d energies", dynamo.ErrDimensionMismatch, len(zdelta), len(gamma))
	}
	out := make([]*mat.Dense, len(zdelta))
	for i, s := range zdelta {
		a, b, err := Scaling(space, gamma[i], lambdaBunch, eRest)
		if err != nil {
			return nil, err
		}
		out[i] = mat.NewDense(2, 2, []float64{
			a * a * s.At(0, 0), a * b * s.At(0, 1),
			a * b * s.At(1, 0), b * b * s.At(1, 1),
		})
	}
	return NewPlane(space, out), nil
}
