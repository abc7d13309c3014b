package envelope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
)

// PhaseSpace names a 2D projection of the beam.
type PhaseSpace string

const (
	ZDelta PhaseSpace = "zdelta" // [m]-[rad], twiss with the x10 convention
	Z      PhaseSpace = "z"      // [mm]-[mrad]
	PhiW   PhaseSpace = "phiw"   // [deg]-[MeV]
	X      PhaseSpace = "x"
	Y      PhaseSpace = "y"
)

// PhaseSpaces lists every known projection in a stable order.
var PhaseSpaces = []PhaseSpace{ZDelta, Z, PhiW, X, Y}

func ParsePhaseSpace(s string) (PhaseSpace, error) {
	for _, ps := range PhaseSpaces {
		if string(ps) == s {
			return ps, nil
		}
	}
	return "", fmt.Errorf("%w: unknown phase space %q", dynamo.ErrMissingAttribute, s)
}

type Twiss struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// Invariant returns beta·gamma - alpha², which is 1 for a consistent triplet.
func (t Twiss) Invariant() float64 {
	return t.Beta*t.Gamma - t.Alpha*t.Alpha
}

func (t Twiss) IsNaN() bool {
	return math.IsNaN(t.Alpha) || math.IsNaN(t.Beta) || math.IsNaN(t.Gamma)
}

func nanTwiss() Twiss { return Twiss{math.NaN(), math.NaN(), math.NaN()} }

// Mismatch returns the mismatch factor between two ellipses. It is zero when
// they coincide and symmetric in its arguments.
func Mismatch(ref, fix Twiss) float64 {
	r := ref.Beta*fix.Gamma + ref.Gamma*fix.Beta - 2.*ref.Alpha*fix.Alpha
	if math.IsNaN(r) {
		return math.NaN()
	}
	if r < 2. {
		r = 2.
	}
	return math.Sqrt(0.5*(r+math.Sqrt(r*r-4.))) - 1.
}

// MismatchArray evaluates Mismatch point by point. Both slices must have the
// same length.
func MismatchArray(ref, fix []Twiss) ([]float64, error) {
	if len(ref) != len(fix) {
		return nil, fmt.Errorf("%w: %d reference points vs %d", dynamo.ErrDimensionMismatch, len(ref), len(fix))
	}
	out := make([]float64, len(ref))
	for i := range ref {
		out[i] = Mismatch(ref[i], fix[i])
	}
	return out, nil
}

// Sigma propagates the input beam matrix: sigma_i = R_i·sigma_0·R_iᵀ.
func Sigma(cumulated []*mat.Dense, sigmaIn mat.Matrix) ([]*mat.Dense, error) {
	r, c := sigmaIn.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: sigma matrix is %dx%d", dynamo.ErrDimensionMismatch, r, c)
	}
	for i, m := range cumulated {
		mr, mc := m.Dims()
		if mr != r || mc != r {
			return nil, fmt.Errorf("%w: transfer matrix %d is %dx%d, sigma is %dx%d", dynamo.ErrDimensionMismatch, i, mr, mc, r, r)
		}
	}
	out := make([]*mat.Dense, len(cumulated))
	dynamo.ParallelFor(len(cumulated), sigmaChunk, func(start, end int) {
		var tmp mat.Dense
		for i := start; i < end; i++ {
			m := cumulated[i]
			tmp.Reset()
			tmp.Mul(m, sigmaIn)
			s := mat.NewDense(r, r, nil)
			s.Mul(&tmp, m.T())
			out[i] = s
		}
	})
	return out, nil
}

// sigmaChunk is the smallest number of mesh points handed to a goroutine.
const sigmaChunk = 512

// Block extracts the 2x2 diagonal block starting at (i, i).
func Block(m mat.Matrix, i int) *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		m.At(i, i), m.At(i, i+1),
		m.At(i+1, i), m.At(i+1, i+1),
	})
}

// Emittance returns sqrt(det(sigma)), NaN when the determinant is negative.
func Emittance(sigma mat.Matrix) float64 {
	d := sigma.At(0, 0)*sigma.At(1, 1) - sigma.At(0, 1)*sigma.At(1, 0)
	if d < 0 {
		return math.NaN()
	}
	return math.Sqrt(d)
}

// TwissFromSigma uses the [z-delta] unit convention when space is ZDelta:
// beta is multiplied and gamma divided by 10.
func TwissFromSigma(sigma mat.Matrix, eps float64, space PhaseSpace) Twiss {
	if !(eps > 0) {
		return nanTwiss()
	}
	factor := 1.
	if space == ZDelta {
		factor = 10.
	}
	return Twiss{
		Alpha: -sigma.At(1, 0) / eps,
		Beta:  sigma.At(0, 0) * factor / eps,
		Gamma: sigma.At(1, 1) / (factor * eps),
	}
}
