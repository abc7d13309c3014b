package metrics

import (
	"fmt"
	"math"

	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/units"
)

// PhiSViolation is a compensating cavity whose synchronous phase left the
// allowed band.
type PhiSViolation struct {
	Cavity string
	PhiS   float64
	Lower  float64
	Upper  float64
}

func (v PhiSViolation) String() string {
	return fmt.Sprintf("%s: phi_s=%.2f° outside [%.1f°, %.1f°]", v.Cavity, units.Deg(v.PhiS), units.Deg(v.Lower), units.Deg(v.Upper))
}

// PhiSBand checks the synchronous phase of every compensating cavity over
// the whole linac. Constraints are only enforced zone by zone during the
// fix, so this is where cross-zone effects show up. It reports, it does not
// correct. Value is the fraction of compensating cavities inside the band.
type PhiSBand struct {
	name       string
	lower      float64
	upper      float64
	violations []PhiSViolation
	samples    int
}

func NewPhiSBand(lower, upper float64) *PhiSBand {
	return &PhiSBand{
		name:  "phi_s_in_band",
		lower: lower,
		upper: upper,
	}
}

func (s *PhiSBand) Name() string {
	return s.name
}

func (s *PhiSBand) ObserveCavity(_, fix output.CavityParams) {
	if !fix.Status.IsCompensating() {
		return
	}
	s.samples++
	if math.IsNaN(fix.PhiS) || fix.PhiS < s.lower || fix.PhiS > s.upper {
		s.violations = append(s.violations, PhiSViolation{Cavity: fix.Name, PhiS: fix.PhiS, Lower: s.lower, Upper: s.upper})
	}
}

func (s *PhiSBand) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(len(s.violations))/float64(s.samples)
}

func (s *PhiSBand) Violations() []PhiSViolation {
	return append([]PhiSViolation(nil), s.violations...)
}

func (s *PhiSBand) Reset() {
	s.violations = nil
	s.samples = 0
}
