package output

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/units"
)

// Position selects which mesh points of an element Get returns.
type Position int

const (
	PosAll Position = iota
	PosIn
	PosOut
)

// Query narrows a Get call. The zero value returns the whole linac.
type Query struct {
	Elt   string
	Pos   Position
	ToDeg bool
}

// Per mesh point keys. Beam keys are "<quantity>_<phase space>", e.g.
// "eps_zdelta" or "beta_phiw"; see BeamQuantities.
const (
	KeyZAbs     = "z_abs"
	KeyGamma    = "gamma"
	KeyBeta     = "beta"
	KeyWKin     = "w_kin"
	KeyPhiAbs   = "phi_abs"
	KeyMismatch = "mismatch_factor"

	// Longitudinal block of the cumulated transfer matrix.
	KeyRZZ         = "r_zz"
	KeyRZDelta     = "r_zdelta"
	KeyRDeltaZ     = "r_deltaz"
	KeyRDeltaDelta = "r_deltadelta"
)

// Per cavity keys, one value per cavity.
const (
	KeyVCav    = "v_cav_mv"
	KeyPhiS    = "phi_s"
	KeyKE      = "k_e"
	KeyPhi0Abs = "phi_0_abs"
	KeyPhi0Rel = "phi_0_rel"
)

var BeamQuantities = []string{"eps", "alpha", "beta", "gamma", "envelope_pos", "envelope_energy"}

var phaseKeys = map[string]bool{
	KeyPhiAbs: true, KeyPhiS: true, KeyPhi0Abs: true, KeyPhi0Rel: true,
}

// Get returns the values stored under key. Per mesh point keys are sliced
// to q.Elt when it is set. Per cavity keys return one value per cavity, or
// the value of cavity q.Elt.
//
// Quantities that exist but were not computed return an error wrapping
// dynamo.ErrNotAvailable; unknown keys wrap dynamo.ErrMissingAttribute.
func (o *SimulationOutput) Get(key string, q Query) ([]float64, error) {
	values, perCavity, err := o.lookup(key)
	if err != nil {
		return nil, err
	}
	if perCavity {
		if q.Elt != "" {
			i, ok := o.cavIdx[q.Elt]
			if !ok {
				return nil, fmt.Errorf("%w: cavity %q not in output", dynamo.ErrNotAvailable, q.Elt)
			}
			values = values[i : i+1]
		}
	} else {
		values, err = o.slice(values, q)
		if err != nil {
			return nil, err
		}
	}

	out := make([]float64, len(values))
	copy(out, values)
	if q.ToDeg && phaseKeys[key] {
		for i, v := range out {
			out[i] = units.Deg(v)
		}
	}
	return out, nil
}

// Scalar is Get for a single value. It returns NaN when the quantity is not
// available, so reports can flag the gap instead of failing.
func (o *SimulationOutput) Scalar(key string, q Query) float64 {
	if q.Pos == PosAll {
		q.Pos = PosOut
	}
	v, err := o.Get(key, q)
	if err != nil || len(v) == 0 {
		return math.NaN()
	}
	return v[len(v)-1]
}

// IsNotAvailable reports whether err flags a quantity that was not computed.
func IsNotAvailable(err error) bool {
	return errors.Is(err, dynamo.ErrNotAvailable)
}

func (o *SimulationOutput) slice(values []float64, q Query) ([]float64, error) {
	entry, exit := 0, len(values)-1
	if q.Elt != "" {
		var err error
		entry, exit, err = o.Slice(q.Elt)
		if err != nil {
			return nil, err
		}
	}
	switch q.Pos {
	case PosIn:
		return values[entry : entry+1], nil
	case PosOut:
		return values[exit : exit+1], nil
	}
	return values[entry : exit+1], nil
}

func (o *SimulationOutput) lookup(key string) (values []float64, perCavity bool, err error) {
	switch key {
	case KeyZAbs:
		return o.ZAbs, false, nil
	case KeyGamma:
		return o.Gamma, false, nil
	case KeyBeta:
		return notNil(o.Beta, key)
	case KeyWKin:
		return notNil(o.WKin, key)
	case KeyPhiAbs:
		return o.PhiAbs, false, nil
	case KeyMismatch:
		if o.Beam == nil {
			return notNil(nil, key)
		}
		return notNil(o.Beam.Mismatch, key)
	case KeyRZZ, KeyRZDelta, KeyRDeltaZ, KeyRDeltaDelta:
		return o.transferComponent(key), false, nil
	case KeyVCav, KeyPhiS, KeyKE, KeyPhi0Abs, KeyPhi0Rel:
		return o.cavityColumn(key), true, nil
	}

	for _, q := range BeamQuantities {
		rest, ok := strings.CutPrefix(key, q+"_")
		if !ok {
			continue
		}
		space, err := envelope.ParsePhaseSpace(rest)
		if err != nil {
			continue
		}
		return o.beamColumn(q, space)
	}
	return nil, false, fmt.Errorf("%w: unknown key %q", dynamo.ErrMissingAttribute, key)
}

func notNil(v []float64, key string) ([]float64, bool, error) {
	if v == nil {
		return nil, false, fmt.Errorf("%w: %s", dynamo.ErrNotAvailable, key)
	}
	return v, false, nil
}

func (o *SimulationOutput) transferComponent(key string) []float64 {
	out := make([]float64, len(o.TmCumul))
	for k, m := range o.TmCumul {
		dim, _ := m.Dims()
		base := dim - 2
		i, j := base, base
		switch key {
		case KeyRZDelta:
			j++
		case KeyRDeltaZ:
			i++
		case KeyRDeltaDelta:
			i++
			j++
		}
		out[k] = m.At(i, j)
	}
	return out
}

func (o *SimulationOutput) cavityColumn(key string) []float64 {
	out := make([]float64, len(o.Cavities))
	for i, c := range o.Cavities {
		switch key {
		case KeyVCav:
			out[i] = c.VCav
		case KeyPhiS:
			out[i] = c.PhiS
		case KeyKE:
			out[i] = c.KE
		case KeyPhi0Abs:
			out[i] = c.Phi0Abs
		case KeyPhi0Rel:
			out[i] = c.Phi0Rel
		}
	}
	return out
}

func (o *SimulationOutput) beamColumn(quantity string, space envelope.PhaseSpace) ([]float64, bool, error) {
	if o.Beam == nil {
		return nil, false, fmt.Errorf("%w: envelope not computed", dynamo.ErrNotAvailable)
	}
	p, err := o.Beam.Plane(space)
	if err != nil {
		return nil, false, err
	}
	switch quantity {
	case "eps":
		return p.Eps, false, nil
	case "alpha":
		return p.Alpha(), false, nil
	case "beta":
		return p.Beta(), false, nil
	case "gamma":
		return p.Gamma(), false, nil
	case "envelope_pos":
		return p.EnvelopePos, false, nil
	}
	return p.EnvelopeEnergy, false, nil
}

// Keys lists every key Get understands for this output.
func (o *SimulationOutput) Keys() []string {
	keys := []string{KeyZAbs, KeyGamma, KeyBeta, KeyWKin, KeyPhiAbs, KeyMismatch,
		KeyRZZ, KeyRZDelta, KeyRDeltaZ, KeyRDeltaDelta,
		KeyVCav, KeyPhiS, KeyKE, KeyPhi0Abs, KeyPhi0Rel}
	if o.Beam == nil {
		return keys
	}
	for _, space := range envelope.PhaseSpaces {
		if _, ok := o.Beam.Planes[space]; !ok {
			continue
		}
		for _, q := range BeamQuantities {
			keys = append(keys, q+"_"+string(space))
		}
	}
	return keys
}
