package fault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/metrics"
	"github.com/san-kum/linacsim/internal/output"
)

// Scenario is one broken linac: its faults are fixed in order, each one on
// top of the fixes of the previous ones.
type Scenario struct {
	ID     string
	Groups []Group
	Faults []*Fault

	calc *beamcalc.Envelope
	full *elements.ListOfElements
	ref  *output.SimulationOutput
	opts Options

	mu       sync.Mutex
	settings elements.SetOfCavitySettings
	fix      *output.SimulationOutput
	report   *Report
}

// NewScenarios builds the scenarios described by the wtf section: one per
// list of failed cavities, or a single one made of the manual groups.
func NewScenarios(cfg *config.Config, calc *beamcalc.Envelope, full *elements.ListOfElements, ref *output.SimulationOutput) ([]*Scenario, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := opts.Strategy.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.WTF.Failed) == 0 {
		return nil, fmt.Errorf("%w: wtf.failed is empty", dynamo.ErrParameterBounds)
	}

	if opts.Strategy.Strategy == Manual {
		groups, err := ManualGroups(full, cfg.WTF.Failed, cfg.WTF.Manual)
		if err != nil {
			return nil, err
		}
		s, err := NewScenario(calc, full, ref, groups, opts)
		if err != nil {
			return nil, err
		}
		return []*Scenario{s}, nil
	}

	out := make([]*Scenario, 0, len(cfg.WTF.Failed))
	for _, failed := range cfg.WTF.Failed {
		groups, err := Groups(full, failed, opts.Strategy)
		if err != nil {
			return nil, err
		}
		s, err := NewScenario(calc, full, ref, groups, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// NewScenario prepares the settings of every cavity: the reference settings
// converted to the phase policy, failed cavities flagged failed and
// compensating ones flagged compensate (in progress). When phases are not
// kept absolute, the other cavities downstream of the first failure are
// rephased.
func NewScenario(calc *beamcalc.Envelope, full *elements.ListOfElements, ref *output.SimulationOutput, groups []Group, opts Options) (*Scenario, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: scenario without fault", dynamo.ErrInvalidState)
	}
	superposed := superposedMembers(full)
	settings := make(elements.SetOfCavitySettings)
	for _, cav := range full.Cavities() {
		cs, ok := ref.Settings[cav.Name()]
		if !ok {
			return nil, fmt.Errorf("%w: cavity %s missing from the reference", dynamo.ErrMissingAttribute, cav.Name())
		}
		cs = cs.Copy()
		if !(opts.Policy == elements.RefPhiS && superposed[cav.Name()]) {
			if err := cs.SetReference(opts.Policy); err != nil {
				return nil, fmt.Errorf("cavity %s: %w", cav.Name(), err)
			}
		}
		settings[cav.Name()] = cs
	}

	ci := newCavityIndex(full)
	firstFailure := len(ci.cavs)
	for _, g := range groups {
		for _, c := range g.Failed {
			if err := settings[c.Name()].SetStatus(elements.Failed); err != nil {
				return nil, err
			}
			firstFailure = min(firstFailure, ci.pos[c.Name()])
		}
		for _, c := range g.Compensating {
			if err := settings[c.Name()].SetStatus(elements.CompensateInProgress); err != nil {
				return nil, err
			}
		}
	}
	if opts.Policy != elements.RefPhi0Abs {
		for _, c := range ci.cavs[firstFailure:] {
			if cs := settings[c.Name()]; cs.Status() == elements.Nominal {
				if err := cs.SetStatus(elements.RephasedInProgress); err != nil {
					return nil, err
				}
			}
		}
	}

	return &Scenario{
		ID:       uuid.NewString(),
		Groups:   groups,
		calc:     calc,
		full:     full,
		ref:      ref,
		opts:     opts,
		settings: settings,
	}, nil
}

func superposedMembers(l *elements.ListOfElements) map[string]bool {
	out := make(map[string]bool)
	for _, el := range l.Elements {
		if sp, ok := el.(*elements.SuperposedFieldMap); ok {
			for _, m := range sp.Members {
				out[m.Name()] = true
			}
		}
	}
	return out
}

// FixAll fixes every fault in order then propagates the whole fixed linac
// once more. A second call returns the first report.
func (s *Scenario) FixAll(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report != nil {
		return s.report, nil
	}
	start := time.Now()
	l := log.WithField("scenario", s.ID[:8])

	current, err := s.calc.RunWithThis(s.settings, s.full)
	if err != nil {
		return nil, fmt.Errorf("broken linac: %w", err)
	}
	s.Faults = s.Faults[:0]
	for i, g := range s.Groups {
		f, err := NewFault(i, s.calc, s.full, s.ref, current, g, s.settings, s.opts)
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
		s.Faults = append(s.Faults, f)

		sol, err := f.Fix(ctx)
		switch {
		case errors.Is(err, dynamo.ErrContextCanceled):
			return nil, err
		case err != nil:
			l.WithField("fault", i).WithError(err).Warn("fault could not be fixed, compensating cavities keep their settings")
			for _, c := range g.Compensating {
				if err := s.settings[c.Name()].SetStatus(elements.CompensateNotOK); err != nil {
					return nil, err
				}
			}
		default:
			for name, cs := range sol.CavitySettings {
				s.settings[name] = cs
			}
			l.WithField("fault", i).Infof("fault fixed: %s", sol)
		}

		if i < len(s.Groups)-1 {
			if current, err = s.calc.RunWithThis(s.settings, s.full); err != nil {
				return nil, fmt.Errorf("after fault %d: %w", i, err)
			}
		}
	}

	for _, cs := range s.settings {
		if cs.Status() == elements.RephasedInProgress {
			if err := cs.SetStatus(elements.RephasedOK); err != nil {
				return nil, err
			}
		}
	}
	fix, err := s.calc.RunWithThis(s.settings, s.full)
	if err != nil {
		return nil, fmt.Errorf("fixed linac: %w", err)
	}
	if err := fix.ComputeMismatch(s.ref); err != nil && !output.IsNotAvailable(err) {
		return nil, err
	}
	s.fix = fix

	report, err := newReport(s, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.report = report
	l.WithField("faults", len(s.Faults)).WithField("ok", report.Success).
		WithField("elapsed", report.Elapsed.Round(time.Millisecond)).Info("scenario finished")
	return report, nil
}

// Settings returns a copy of the cavity settings of the scenario.
func (s *Scenario) Settings() elements.SetOfCavitySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Copy()
}

// Fix is the propagation of the fixed linac, nil before FixAll.
func (s *Scenario) Fix() *output.SimulationOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix
}

func (s *Scenario) Reference() *output.SimulationOutput { return s.ref }

// FaultReport sums up one Fault.
type FaultReport struct {
	ID           int
	Failed       []string
	Compensating []string
	Zone         string
	Success      bool
	Status       string
	Evaluations  int
	Objectives   map[string]float64
	Norm         float64
	Err          string
}

// Report is the outcome of a scenario. Success requires every fault to be
// fixed; phi_s violations found on the whole linac are listed but do not
// change it.
type Report struct {
	ScenarioID string
	Success    bool
	Faults     []FaultReport
	Evaluation metrics.Evaluation
	Elapsed    time.Duration
}

func newReport(s *Scenario, elapsed time.Duration) (*Report, error) {
	r := &Report{ScenarioID: s.ID, Success: true, Elapsed: elapsed}
	for _, f := range s.Faults {
		fr := FaultReport{
			ID:           f.ID,
			Failed:       f.FailedNames(),
			Compensating: f.CompensatingNames(),
			Zone:         fmt.Sprintf("%s..%s", f.Zone.Elements[0].Name(), f.Evaluation),
			Success:      f.Success(),
			Status:       f.Solution.Status,
			Evaluations:  f.Solution.Evaluations,
			Objectives:   f.Solution.Objectives,
		}
		if f.Solution.F != nil {
			fr.Norm = floats.Norm(f.Solution.F, 2)
		}
		if f.Err != nil {
			fr.Err = f.Err.Error()
		}
		r.Success = r.Success && fr.Success
		r.Faults = append(r.Faults, fr)
	}

	mesh, cavities := metrics.Defaults(s.opts.Space.PhiSMin, s.opts.Space.PhiSMax)
	ev, err := metrics.Evaluate(s.ref, s.fix, mesh, cavities)
	if err != nil {
		return nil, err
	}
	r.Evaluation = ev
	for _, v := range ev.PhiS {
		log.WithField("scenario", s.ID[:8]).Warnf("global phi_s check: %s", v)
	}
	return r, nil
}
