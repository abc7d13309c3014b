package elements

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/units"
)

// Reference is the phase kind kept authoritative in a CavitySettings.
type Reference string

const (
	RefPhi0Abs Reference = "phi_0_abs"
	RefPhi0Rel Reference = "phi_0_rel"
	RefPhiS    Reference = "phi_s"
)

func ParseReference(s string) (Reference, error) {
	switch r := Reference(s); r {
	case RefPhi0Abs, RefPhi0Rel, RefPhiS:
		return r, nil
	case "":
		return RefPhi0Rel, nil
	}
	return "", fmt.Errorf("%w: unknown phase reference %q", dynamo.ErrParameterBounds, s)
}

// CavitySettings is the tunable state of one accelerating field map.
//
// Only the reference phase is stored. phi_0_abs and phi_0_rel differ by the
// RF phase of the synchronous particle at the cavity entry, which is known
// after the cavity has been reached by a propagation. A phi_s reference also
// needs the relative phase found by the synchronous phase solve.
type CavitySettings struct {
	KE        float64
	Reference Reference
	Value     float64

	FreqMHz   float64
	BunchToRF float64

	status Status

	phiRF      float64
	phi0Rel    float64
	hasPhiRF   bool
	hasPhi0Rel bool

	VCav float64
	PhiS float64
}

// NewCavitySettings builds nominal settings. value is in rad.
func NewCavitySettings(ke float64, ref Reference, value, freqMHz, fBunchMHz float64) (*CavitySettings, error) {
	if !(freqMHz > 0) || !(fBunchMHz > 0) {
		return nil, fmt.Errorf("%w: frequencies must be positive", dynamo.ErrParameterBounds)
	}
	if _, err := ParseReference(string(ref)); err != nil {
		return nil, err
	}
	return &CavitySettings{
		KE:        ke,
		Reference: ref,
		Value:     value,
		FreqMHz:   freqMHz,
		BunchToRF: freqMHz / fBunchMHz,
		status:    Nominal,
		VCav:      math.NaN(),
		PhiS:      math.NaN(),
	}, nil
}

// Copy returns an independent copy; trials work on copies only.
func (c *CavitySettings) Copy() *CavitySettings {
	cp := *c
	return &cp
}

func (c *CavitySettings) Status() Status { return c.status }

func (c *CavitySettings) SetStatus(s Status) error {
	if err := checkTransition(c.status, s); err != nil {
		return err
	}
	c.status = s
	return nil
}

func (c *CavitySettings) IsFailed() bool { return c.status == Failed }

// SetEntryPhase records the absolute bunch phase of the synchronous particle
// at the cavity entry.
func (c *CavitySettings) SetEntryPhase(phiBunchAbs float64) {
	c.phiRF = c.BunchToRF * phiBunchAbs
	c.hasPhiRF = true
}

// PhiRF is the RF phase at entry, ErrMissingAttribute before any propagation.
func (c *CavitySettings) PhiRF() (float64, error) {
	if !c.hasPhiRF {
		return math.NaN(), fmt.Errorf("%w: entry phase unknown", dynamo.ErrMissingAttribute)
	}
	return c.phiRF, nil
}

func (c *CavitySettings) Phi0Rel() (float64, error) {
	switch c.Reference {
	case RefPhi0Rel:
		return c.Value, nil
	case RefPhi0Abs:
		phiRF, err := c.PhiRF()
		if err != nil {
			return math.NaN(), err
		}
		return units.Mod2Pi(c.Value + phiRF), nil
	}
	if !c.hasPhi0Rel {
		return math.NaN(), fmt.Errorf("%w: phi_0_rel of a phi_s cavity is unknown before the phi_s solve", dynamo.ErrMissingAttribute)
	}
	return c.phi0Rel, nil
}

func (c *CavitySettings) Phi0Abs() (float64, error) {
	if c.Reference == RefPhi0Abs {
		return c.Value, nil
	}
	rel, err := c.Phi0Rel()
	if err != nil {
		return math.NaN(), err
	}
	phiRF, err := c.PhiRF()
	if err != nil {
		return math.NaN(), err
	}
	return units.Mod2Pi(rel - phiRF), nil
}

// PhiSTarget is the requested synchronous phase of a phi_s cavity.
func (c *CavitySettings) PhiSTarget() (float64, error) {
	if c.Reference != RefPhiS {
		return math.NaN(), fmt.Errorf("%w: cavity is referenced by %s", dynamo.ErrMissingAttribute, c.Reference)
	}
	return c.Value, nil
}

// SetSolvedPhi0Rel stores the relative phase found for a phi_s target.
func (c *CavitySettings) SetSolvedPhi0Rel(phi float64) {
	c.phi0Rel = phi
	c.hasPhi0Rel = true
}

// SetReference changes the authoritative phase, converting the current
// value. Conversions needing unknown phases fail with ErrMissingAttribute.
func (c *CavitySettings) SetReference(ref Reference) error {
	if ref == c.Reference {
		return nil
	}
	var (
		v   float64
		err error
	)
	switch ref {
	case RefPhi0Abs:
		v, err = c.Phi0Abs()
	case RefPhi0Rel:
		v, err = c.Phi0Rel()
	case RefPhiS:
		v = c.PhiS
		if math.IsNaN(v) {
			err = fmt.Errorf("%w: phi_s not computed", dynamo.ErrMissingAttribute)
		}
		if err == nil {
			if rel, relErr := c.Phi0Rel(); relErr == nil {
				c.SetSolvedPhi0Rel(rel)
			}
		}
	default:
		return fmt.Errorf("%w: unknown phase reference %q", dynamo.ErrParameterBounds, ref)
	}
	if err != nil {
		return err
	}
	c.Reference = ref
	c.Value = v
	return nil
}

// SetCavityParameters stores v_cav and phi_s derived from the integrated
// field phasor.
func (c *CavitySettings) SetCavityParameters(phasor *complex128) {
	c.VCav, c.PhiS = CavityParameters(phasor)
}

// CavityParameters returns (v_cav in MV, phi_s in rad), NaN for a nil or NaN
// phasor.
func CavityParameters(phasor *complex128) (vCav, phiS float64) {
	if phasor == nil || cmplx.IsNaN(*phasor) {
		return math.NaN(), math.NaN()
	}
	return cmplx.Abs(*phasor), cmplx.Phase(*phasor)
}

func (c *CavitySettings) String() string {
	return fmt.Sprintf("k_e=%.5f %s=%.2f° [%s]", c.KE, c.Reference, units.Deg(c.Value), c.status)
}

// SetOfCavitySettings maps cavity names to settings overriding the nominal
// ones.
type SetOfCavitySettings map[string]*CavitySettings

// FromIncompleteSet completes partial with copies of the nominal settings of
// every cavity in cavities it does not already hold.
func FromIncompleteSet(partial SetOfCavitySettings, cavities []*FieldMap) SetOfCavitySettings {
	out := make(SetOfCavitySettings, len(cavities))
	for k, v := range partial {
		out[k] = v
	}
	for _, cav := range cavities {
		if _, ok := out[cav.Name()]; !ok {
			out[cav.Name()] = cav.Settings.Copy()
		}
	}
	return out
}

// Resolve returns the override for cav, or its nominal settings.
func (s SetOfCavitySettings) Resolve(cav *FieldMap) *CavitySettings {
	if s != nil {
		if cs, ok := s[cav.Name()]; ok {
			return cs
		}
	}
	return cav.Settings
}

func (s SetOfCavitySettings) Copy() SetOfCavitySettings {
	out := make(SetOfCavitySettings, len(s))
	for k, v := range s {
		out[k] = v.Copy()
	}
	return out
}
