package fault

import (
	"fmt"
	"math"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/units"
)

// DesignSpaceOptions are in rad and percent.
type DesignSpaceOptions struct {
	Phase        elements.Reference
	KEDecreasePc float64
	KEIncreasePc float64
	KEMax        float64
	PhiMin       float64
	PhiMax       float64
	PhiSMin      float64
	PhiSMax      float64
}

func DesignSpaceOptionsFromConfig(d config.DesignSpaceConfig) (DesignSpaceOptions, error) {
	ref, err := elements.ParseReference(d.Variables)
	if err != nil {
		return DesignSpaceOptions{}, err
	}
	return DesignSpaceOptions{
		Phase:        ref,
		KEDecreasePc: d.KEDecreasePc,
		KEIncreasePc: d.KEIncreasePc,
		KEMax:        d.KEMax,
		PhiMin:       units.Rad(d.PhiMinDeg),
		PhiMax:       units.Rad(d.PhiMaxDeg),
		PhiSMin:      units.Rad(d.PhiSMinDeg),
		PhiSMax:      units.Rad(d.PhiSMaxDeg),
	}, nil
}

// DesignSpace holds two variables per compensating cavity, phase then k_e,
// and the phi_s constraints when phi_s is not itself a variable.
type DesignSpace struct {
	Cavities    []*elements.FieldMap
	Variables   []optim.Variable
	Constraints []optim.Constraint
	opts        DesignSpaceOptions
}

// NewDesignSpace starts every variable from the settings cavities had in
// ref, where the phases are known.
func NewDesignSpace(cavities []*elements.FieldMap, ref *output.SimulationOutput, opts DesignSpaceOptions) (*DesignSpace, error) {
	ds := &DesignSpace{Cavities: cavities, opts: opts}
	for _, cav := range cavities {
		params, err := ref.Cavity(cav.Name())
		if err != nil {
			return nil, err
		}

		phase := optim.Variable{Name: string(opts.Phase), Element: cav.Name()}
		switch opts.Phase {
		case elements.RefPhi0Rel:
			phase.X0, phase.Lower, phase.Upper = units.Mod2Pi(params.Phi0Rel), opts.PhiMin, opts.PhiMax
		case elements.RefPhi0Abs:
			phase.X0, phase.Lower, phase.Upper = units.Mod2Pi(params.Phi0Abs), opts.PhiMin, opts.PhiMax
		case elements.RefPhiS:
			phase.X0, phase.Lower, phase.Upper = params.PhiS, opts.PhiSMin, opts.PhiSMax
		default:
			return nil, fmt.Errorf("%w: unknown phase variable %q", dynamo.ErrParameterBounds, opts.Phase)
		}
		if math.IsNaN(phase.X0) {
			return nil, fmt.Errorf("%w: %s of %s unknown in the reference", dynamo.ErrMissingAttribute, opts.Phase, cav.Name())
		}
		phase.X0 = clamp(phase.X0, phase.Lower, phase.Upper)

		ke := cav.Settings.KE
		amp := optim.Variable{
			Name:    optim.VarKE,
			Element: cav.Name(),
			X0:      ke,
			Lower:   ke * (1 - opts.KEDecreasePc/100),
			Upper:   ke * (1 + opts.KEIncreasePc/100),
		}
		if opts.KEMax > 0 {
			amp.Upper = math.Min(amp.Upper, opts.KEMax)
		}
		amp.X0 = clamp(amp.X0, amp.Lower, amp.Upper)

		ds.Variables = append(ds.Variables, phase, amp)
		if opts.Phase != elements.RefPhiS {
			ds.Constraints = append(ds.Constraints, optim.Constraint{
				Name:    optim.VarPhiS,
				Element: cav.Name(),
				Lower:   opts.PhiSMin,
				Upper:   opts.PhiSMax,
			})
		}
	}
	return ds, nil
}

// Settings turns a trial vector into settings of the compensating
// cavities.
func (ds *DesignSpace) Settings(x []float64, status elements.Status) (elements.SetOfCavitySettings, error) {
	if len(x) != len(ds.Variables) {
		return nil, fmt.Errorf("%w: %d values for %d variables", dynamo.ErrDimensionMismatch, len(x), len(ds.Variables))
	}
	out := make(elements.SetOfCavitySettings, len(ds.Cavities))
	for i, cav := range ds.Cavities {
		nominal := cav.Settings
		cs, err := elements.NewCavitySettings(x[2*i+1], ds.opts.Phase, x[2*i], nominal.FreqMHz, nominal.FreqMHz/nominal.BunchToRF)
		if err != nil {
			return nil, err
		}
		if err := cs.SetStatus(status); err != nil {
			return nil, err
		}
		out[cav.Name()] = cs
	}
	return out, nil
}

// Violations evaluates the phi_s constraints on a propagation.
func (ds *DesignSpace) Violations(out *output.SimulationOutput) ([]float64, error) {
	g := make([]float64, 0, 2*len(ds.Constraints))
	for _, c := range ds.Constraints {
		params, err := out.Cavity(c.Element)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(params.PhiS) {
			return nil, fmt.Errorf("%w: phi_s of %s", dynamo.ErrNotAvailable, c.Element)
		}
		v := c.Violations(params.PhiS)
		g = append(g, v[:]...)
	}
	return g, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
