package envelope

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
)

// Beam gathers every phase space computed along a linac.
type Beam struct {
	Planes map[PhaseSpace]*Plane

	// Mismatch is the [z-delta] mismatch factor with respect to a reference
	// beam, nil until ComputeMismatch is called.
	Mismatch []float64
}

// Compute propagates sigmaIn with the cumulated transfer matrices. 2x2
// matrices give the longitudinal planes only; 6x6 matrices add x and y.
func Compute(cumulated []*mat.Dense, sigmaIn mat.Matrix, gamma []float64, lambdaBunch, eRest float64) (*Beam, error) {
	sigma, err := Sigma(cumulated, sigmaIn)
	if err != nil {
		return nil, err
	}
	dim, _ := sigmaIn.Dims()

	b := &Beam{Planes: make(map[PhaseSpace]*Plane)}
	zdelta := sigma
	switch dim {
	case 2:
	case 6:
		zdelta = blocks(sigma, 4)
		b.Planes[X] = NewPlane(X, blocks(sigma, 0))
		b.Planes[Y] = NewPlane(Y, blocks(sigma, 2))
	default:
		return nil, fmt.Errorf("%w: sigma matrix must be 2x2 or 6x6, got %d", dynamo.ErrDimensionMismatch, dim)
	}

	b.Planes[ZDelta] = NewPlane(ZDelta, zdelta)
	for _, space := range []PhaseSpace{Z, PhiW} {
		p, err := Convert(zdelta, space, gamma, lambdaBunch, eRest)
		if err != nil {
			return nil, err
		}
		b.Planes[space] = p
	}
	return b, nil
}

func blocks(sigma []*mat.Dense, i int) []*mat.Dense {
	out := make([]*mat.Dense, len(sigma))
	for k, s := range sigma {
		out[k] = Block(s, i)
	}
	return out
}

func (b *Beam) Plane(space PhaseSpace) (*Plane, error) {
	p, ok := b.Planes[space]
	if !ok {
		return nil, fmt.Errorf("%w: phase space %q", dynamo.ErrNotAvailable, space)
	}
	return p, nil
}

// ComputeMismatch fills Mismatch against the [z-delta] Twiss of ref.
func (b *Beam) ComputeMismatch(ref []Twiss) error {
	m, err := MismatchArray(ref, b.Planes[ZDelta].Twiss)
	if err != nil {
		return err
	}
	b.Mismatch = m
	return nil
}
