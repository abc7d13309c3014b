package transfer

import (
	"fmt"
	"math"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/units"
)

// BendGeometry holds the factors of a sector bend computed once when the
// element parameters are built.
type BendGeometry struct {
	Length     float64
	H          float64
	KX         float64
	KY         float64
	FieldIndex float64

	Factor1 float64
	Factor2 float64
	Factor3 float64
}

// NewBendGeometry builds the geometry from the bending angle (rad), the
// curvature radius (m) and the field index n.
func NewBendGeometry(angle, radius, fieldIndex float64) (BendGeometry, error) {
	if !(radius > 0) {
		return BendGeometry{}, fmt.Errorf("%w: bend radius must be positive, got %g", dynamo.ErrParameterBounds, radius)
	}
	h := 1. / radius
	hSq := h * h
	length := radius * math.Abs(angle)
	kx := math.Sqrt(math.Abs(1.-fieldIndex) * hSq)

	g := BendGeometry{
		Length:     length,
		H:          h,
		KX:         kx,
		KY:         math.Sqrt(math.Abs(fieldIndex) * hSq),
		FieldIndex: fieldIndex,
	}

	if kx*length < 1e-6 {
		// kx -> 0 limit of the general expressions.
		g.Factor1 = 0.
		g.Factor2 = -hSq * length * length * length / 6.
		if fieldIndex > 1. {
			g.Factor2 = -g.Factor2
		}
		g.Factor3 = length
		return g, nil
	}

	g.Factor1 = -hSq * length / (kx * kx)
	if fieldIndex <= 1. {
		g.Factor2 = hSq * math.Sin(kx*length) / (kx * kx * kx)
	} else {
		g.Factor2 = hSq * math.Sinh(kx*length) / (kx * kx * kx)
	}
	g.Factor3 = length * (1. - hSq/(kx*kx))
	return g, nil
}

// Bend propagates through a sector bend. The 1D solver only fills the
// longitudinal block; the 3D solver also fills the transverse blocks and
// the dispersion terms.
func Bend(dim int, gammaIn float64, g BendGeometry, omegaBunch float64) (Result, error) {
	if err := checkDim(dim); err != nil {
		return Result{}, err
	}
	beta, err := betaOf(gammaIn)
	if err != nil {
		return Result{}, err
	}
	gammaMin2 := 1. / (gammaIn * gammaIn)
	topRight := g.Factor1*beta*beta + g.Factor2 + g.Factor3*gammaMin2

	m := Eye(dim)
	if dim == 2 {
		m.Set(0, 1, topRight)
	} else {
		fillBendTransverse(g, m.RawMatrix().Data, dim)
		m.Set(4, 5, topRight)
	}

	res := newResult(1)
	res.Matrices[0] = m
	res.Gamma[0] = gammaIn
	res.Phi[0] = omegaBunch * g.Length / (beta * units.C)
	return res, nil
}

func fillBendTransverse(g BendGeometry, data []float64, stride int) {
	set := func(i, j int, v float64) { data[i*stride+j] = v }
	l := g.Length

	kxSq := (1. - g.FieldIndex) * g.H * g.H
	var x [4]float64
	var cx, sx float64
	switch {
	case kxSq > 0:
		s, c := math.Sincos(g.KX * l)
		x = [4]float64{c, s / g.KX, -g.KX * s, c}
		cx, sx = c, s/g.KX
	case kxSq < 0:
		sh, ch := math.Sinh(g.KX*l), math.Cosh(g.KX*l)
		x = [4]float64{ch, sh / g.KX, g.KX * sh, ch}
		cx, sx = ch, sh/g.KX
	default:
		x = [4]float64{1, l, 0, 1}
		cx, sx = 1., l
	}
	set(0, 0, x[0])
	set(0, 1, x[1])
	set(1, 0, x[2])
	set(1, 1, x[3])

	var y [4]float64
	switch {
	case g.FieldIndex > 0:
		s, c := math.Sincos(g.KY * l)
		y = [4]float64{c, s / g.KY, -g.KY * s, c}
	case g.FieldIndex < 0:
		sh, ch := math.Sinh(g.KY*l), math.Cosh(g.KY*l)
		y = [4]float64{ch, sh / g.KY, g.KY * sh, ch}
	default:
		y = [4]float64{1, l, 0, 1}
	}
	set(2, 2, y[0])
	set(2, 3, y[1])
	set(3, 2, y[2])
	set(3, 3, y[3])

	// Dispersion and its longitudinal counterpart.
	var d float64
	if kxSq != 0 {
		d = g.H * (1. - cx) / kxSq
	} else {
		d = g.H * l * l / 2.
	}
	set(0, 5, d)
	set(1, 5, g.H*sx)
	set(4, 0, -g.H*sx)
	set(4, 1, -d)
}
