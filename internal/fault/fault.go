package fault

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/output"
)

var log = config.NamedLogger("fault")

// Options configure every Fault of a scenario.
type Options struct {
	Strategy          StrategyOptions
	Preset            string
	Algorithm         string
	Optim             optim.Options
	Space             DesignSpaceOptions
	Policy            elements.Reference
	EvalExtraLattices int
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	space, err := DesignSpaceOptionsFromConfig(cfg.DesignSpace)
	if err != nil {
		return Options{}, err
	}
	policy, err := elements.ParseReference(cfg.WTF.ReferencePhasePolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Strategy:          StrategyOptionsFromConfig(cfg.WTF),
		Preset:            cfg.WTF.ObjectivePreset,
		Algorithm:         cfg.WTF.Algorithm,
		Optim:             optim.OptionsFromConfig(cfg.WTF.AlgorithmKwargs, cfg.WTF.Workers),
		Space:             space,
		Policy:            policy,
		EvalExtraLattices: cfg.WTF.EvalExtraLattices,
	}, nil
}

// Fault is a set of failed cavities and the cavities compensating them,
// fixed together on a sub-section of the linac.
type Fault struct {
	ID int
	Group

	// Zone spans the first altered element to the evaluation element.
	Zone       *elements.ListOfElements
	Evaluation string
	Objectives []Objective
	Space      *DesignSpace
	Problem    *optim.Problem

	Solution optim.OptiSol
	Fixed    bool
	Err      error

	calc   *beamcalc.Envelope
	base   elements.SetOfCavitySettings
	reject bool
	opts   Options
}

// NewFault prepares the compensation of group. ref is the nominal
// propagation the objectives aim at, current the propagation of the linac
// as fixed so far, which gives the state at the zone entry. base holds the
// settings of every other cavity and is only read.
func NewFault(id int, calc *beamcalc.Envelope, full *elements.ListOfElements, ref, current *output.SimulationOutput, group Group, base elements.SetOfCavitySettings, opts Options) (*Fault, error) {
	if len(group.Failed) == 0 || len(group.Compensating) == 0 {
		return nil, fmt.Errorf("%w: fault %d needs failed and compensating cavities", dynamo.ErrInvalidState, id)
	}
	if opts.Space.Phase == elements.RefPhiS {
		for _, cav := range group.Compensating {
			if el, err := full.Get(cav.Name()); err == nil {
				if _, ok := el.(*elements.SuperposedFieldMap); ok {
					return nil, fmt.Errorf("%w: %s is superposed and cannot be tuned on phi_s", dynamo.ErrParameterBounds, cav.Name())
				}
			}
		}
	}

	first, last, err := zoneBounds(full, group, opts.EvalExtraLattices)
	if err != nil {
		return nil, err
	}
	entry, _, err := current.Slice(full.Elements[first].Name())
	if err != nil {
		return nil, err
	}
	zone, err := full.Sub(first, last, current.WKin[entry], current.PhiAbs[entry], full.SigmaIn, current.TmCumul[entry])
	if err != nil {
		return nil, err
	}

	f := &Fault{
		ID:         id,
		Group:      group,
		Zone:       zone,
		Evaluation: full.Elements[last].Name(),
		calc:       calc,
		base:       maps.Clone(base),
		opts:       opts,
	}
	f.Objectives, err = NewObjectives(opts.Preset, PresetInput{
		Ref:          ref,
		Element:      f.Evaluation,
		Compensating: group.CompensatingNames(),
		PhiSMin:      opts.Space.PhiSMin,
		PhiSMax:      opts.Space.PhiSMax,
	})
	if err != nil {
		return nil, err
	}
	f.Space, err = NewDesignSpace(group.Compensating, ref, opts.Space)
	if err != nil {
		return nil, err
	}

	objNames := make([]string, len(f.Objectives))
	for i, o := range f.Objectives {
		objNames[i] = o.Name()
	}
	f.Problem = &optim.Problem{
		Variables:  f.Space.Variables,
		Objectives: objNames,
		Residuals:  f.residuals,
		Settings:   f.Space.Settings,
	}
	// Algorithms without constraint handling never see the phi_s band; the
	// explorator drops the trials outside of it instead.
	switch optim.Canonical(opts.Algorithm) {
	case optim.NameExplorator:
		f.reject = len(f.Space.Constraints) > 0
	default:
		if optim.SupportsConstraints(opts.Algorithm) {
			f.Problem.Constraints = f.Space.Constraints
		}
	}

	log.WithField("fault", id).
		WithField("failed", strings.Join(group.FailedNames(), ",")).
		WithField("compensating", strings.Join(group.CompensatingNames(), ",")).
		WithField("zone", fmt.Sprintf("%s..%s", full.Elements[first].Name(), f.Evaluation)).
		Debug("fault created")
	return f, nil
}

// zoneBounds returns the first altered element and the evaluation element:
// the end of the lattice holding the last altered element, extra lattices
// further.
func zoneBounds(full *elements.ListOfElements, group Group, extra int) (first, last int, err error) {
	first, last = full.Len(), -1
	for _, cav := range append(append([]*elements.FieldMap(nil), group.Failed...), group.Compensating...) {
		i, ok := full.IndexOf(cav.Name())
		if !ok {
			return 0, 0, fmt.Errorf("%w: cavity %q not in linac", dynamo.ErrMissingAttribute, cav.Name())
		}
		first, last = min(first, i), max(last, i)
	}
	target := full.Elements[last].Common().Lattice + extra
	for last+1 < full.Len() && full.Elements[last+1].Common().Lattice <= target {
		last++
	}
	return first, last, nil
}

// residuals runs one trial on the zone. Safe for concurrent use: base is
// never written and every trial builds its own overlay.
func (f *Fault) residuals(x []float64) ([]float64, []float64, error) {
	trial, err := f.Space.Settings(x, elements.CompensateInProgress)
	if err != nil {
		return nil, nil, err
	}
	overlay := make(elements.SetOfCavitySettings, len(f.base)+len(trial))
	maps.Copy(overlay, f.base)
	maps.Copy(overlay, trial)

	out, err := f.calc.RunWithThis(overlay, f.Zone)
	if err != nil {
		return nil, nil, err
	}
	return f.evaluate(out)
}

func (f *Fault) evaluate(out *output.SimulationOutput) ([]float64, []float64, error) {
	fv := make([]float64, len(f.Objectives))
	for i, o := range f.Objectives {
		v, err := o.Evaluate(out)
		if err != nil {
			return nil, nil, err
		}
		fv[i] = v
	}
	if len(f.Problem.Constraints) == 0 && !f.reject {
		return fv, nil, nil
	}
	g, err := f.Space.Violations(out)
	if err != nil {
		return nil, nil, err
	}
	if f.reject {
		for i, v := range g {
			if v > 0 {
				c := f.Space.Constraints[i/2]
				return nil, nil, fmt.Errorf("%w: %s outside [%g, %g]", dynamo.ErrParameterBounds, c, c.Lower, c.Upper)
			}
		}
		return fv, nil, nil
	}
	return fv, g, nil
}

// Fix runs the optimisation. The compensating settings of the solution are
// flagged compensate (ok) or compensate (not ok).
func (f *Fault) Fix(ctx context.Context) (optim.OptiSol, error) {
	algo, err := optim.New(f.opts.Algorithm, f.Problem, f.opts.Optim)
	if err != nil {
		return optim.OptiSol{}, err
	}
	log.WithField("fault", f.ID).WithField("algorithm", algo.Name()).
		WithField("variables", f.Problem.Dim()).Info("fixing fault")

	sol, err := algo.Optimise(ctx)
	f.Solution = sol
	if err != nil {
		f.Err = err
		return sol, err
	}
	f.Fixed = true
	return sol, nil
}

// Success is true when the optimiser converged.
func (f *Fault) Success() bool {
	return f.Fixed && f.Solution.Success
}

func (f *Fault) String() string {
	return fmt.Sprintf("fault %d: failed [%s] compensating [%s]",
		f.ID, strings.Join(f.FailedNames(), " "), strings.Join(f.CompensatingNames(), " "))
}
