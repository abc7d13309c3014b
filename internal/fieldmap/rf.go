package fieldmap

import "math"

// Timed is the field seen by the synchronous particle at RF phase phi and
// position z relative to the element entry.
type Timed interface {
	Real(z, phi float64) float64
	Complex(z, phi float64) complex128
}

// RF is one cavity field for a given amplitude and relative phase. Offset
// shifts the map inside a superposed element.
type RF struct {
	Field   *Field
	KE      float64
	Phi0Rel float64
	Offset  float64
}

func (rf RF) Real(z, phi float64) float64 {
	return rf.KE * rf.Field.E(z-rf.Offset) * math.Cos(phi+rf.Phi0Rel)
}

// Complex returns E·cos(phase)·(1 + j·tan(phase)), written without the
// tangent so that it stays finite at phase = ±π/2.
func (rf RF) Complex(z, phi float64) complex128 {
	e := rf.KE * rf.Field.E(z-rf.Offset)
	s, c := math.Sincos(phi + rf.Phi0Rel)
	return complex(e*c, e*s)
}

// Superposed adds the fields of overlapping cavities.
type Superposed []RF

func (s Superposed) Real(z, phi float64) float64 {
	sum := 0.
	for _, rf := range s {
		sum += rf.Real(z, phi)
	}
	return sum
}

func (s Superposed) Complex(z, phi float64) complex128 {
	var sum complex128
	for _, rf := range s {
		sum += rf.Complex(z, phi)
	}
	return sum
}
