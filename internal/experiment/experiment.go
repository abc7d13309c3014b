package experiment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/fault"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/storage"
)

var log = config.NamedLogger("experiment")

// Experiment is one linac set-up: the elements, the solver and the nominal
// propagation every fault scenario is compared to.
type Experiment struct {
	cfg    *config.Config
	digest string
	calc   *beamcalc.Envelope
	linac  *elements.ListOfElements

	mu       sync.Mutex
	ref      *output.SimulationOutput
	refTime  time.Duration
	refSaved string
}

// New validates cfg and builds the linac. Field maps are read through lib,
// nil for a private library.
func New(cfg *config.Config, reg *Registry, lib *fieldmap.Library) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = NewRegistry()
	}
	calc, err := reg.GetSolver(cfg.BeamCalculator.Tool, beamcalc.Options{
		Method:        beamcalc.Method(cfg.BeamCalculator.Method),
		NStepsPerCell: cfg.BeamCalculator.NStepsPerCell,
		ERest:         cfg.Beam.ERestMeV,
		QAdim:         cfg.Beam.QAdim,
		FBunchMHz:     cfg.Beam.FBunchMHz,
	})
	if err != nil {
		return nil, err
	}
	linac, err := elements.Build(cfg, lib)
	if err != nil {
		return nil, err
	}
	digest, err := cfg.Digest()
	if err != nil {
		return nil, err
	}
	return &Experiment{cfg: cfg, digest: digest, calc: calc, linac: linac}, nil
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Linac() *elements.ListOfElements { return e.linac }

func (e *Experiment) Solver() *beamcalc.Envelope { return e.calc }

// Reference propagates the nominal linac once and caches the result.
func (e *Experiment) Reference(ctx context.Context) (*output.SimulationOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ref != nil {
		return e.ref, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
	}

	start := time.Now()
	ref, err := e.calc.Run(e.linac)
	if err != nil {
		return nil, fmt.Errorf("nominal linac: %w", err)
	}
	e.ref, e.refTime = ref, time.Since(start)
	w, _ := ref.Exit()
	log.WithField("solver", e.calc.ID()).WithField("points", ref.Len()).
		WithField("w_kin_out", w).Info("nominal linac propagated")
	return ref, nil
}

// Outcome is a fixed scenario.
type Outcome struct {
	Scenario *fault.Scenario
	Report   *fault.Report
}

// Fix builds the scenarios of the wtf section and fixes them, parallel at
// a time. Scenarios are independent; the first error cancels the others.
func (e *Experiment) Fix(ctx context.Context, parallel int) ([]Outcome, error) {
	ref, err := e.Reference(ctx)
	if err != nil {
		return nil, err
	}
	scenarios, err := fault.NewScenarios(e.cfg, e.calc, e.linac, ref)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, s := range scenarios {
		g.Go(func() error {
			report, err := s.FixAll(gctx)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", s.ID, err)
			}
			outcomes[i] = Outcome{Scenario: s, Report: report}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Save stores the nominal propagation, once per experiment, and returns
// its run ID.
func (e *Experiment) Save(ctx context.Context, st storage.Store) (string, error) {
	ref, err := e.Reference(ctx)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refSaved != "" {
		return e.refSaved, nil
	}

	r, err := storage.NewRecord(storage.RunMetadata{
		Kind:         storage.KindNominal,
		Linac:        e.cfg.Linac.Name,
		ConfigDigest: e.digest,
		Success:      true,
		Elapsed:      e.refTime,
	}, ref)
	if err != nil {
		return "", err
	}
	if err := st.SaveRun(ctx, r); err != nil {
		return "", err
	}
	e.refSaved = r.Meta.ID
	return r.Meta.ID, nil
}

// SaveOutcome stores a fixed scenario next to its nominal run.
func (e *Experiment) SaveOutcome(ctx context.Context, st storage.Store, o Outcome) (string, error) {
	refID, err := e.Save(ctx, st)
	if err != nil {
		return "", err
	}
	r, err := e.Record(o)
	if err != nil {
		return "", err
	}
	r.Meta.Reference = refID
	if err := st.SaveRun(ctx, r); err != nil {
		return "", err
	}
	return r.Meta.ID, nil
}

// Record converts an outcome, fault histories included.
func (e *Experiment) Record(o Outcome) (*storage.Record, error) {
	fix := o.Scenario.Fix()
	if fix == nil {
		return nil, fmt.Errorf("%w: scenario %s was not fixed", dynamo.ErrInvalidState, o.Scenario.ID)
	}
	meta := storage.RunMetadata{
		Kind:         storage.KindFix,
		Linac:        e.cfg.Linac.Name,
		ConfigDigest: e.digest,
		ScenarioID:   o.Scenario.ID,
		Success:      o.Report.Success,
		Elapsed:      o.Report.Elapsed,
		Metrics:      make(map[string]storage.Float, len(o.Report.Evaluation.Values)),
	}
	for k, v := range o.Report.Evaluation.Values {
		meta.Metrics[k] = storage.Float(v)
	}
	for _, g := range o.Scenario.Groups {
		meta.Failed = append(meta.Failed, g.FailedNames()...)
	}

	r, err := storage.NewRecord(meta, fix)
	if err != nil {
		return nil, err
	}
	for i, fr := range o.Report.Faults {
		r.Faults = append(r.Faults, storage.NewFaultRecord(fr, o.Scenario.Faults[i].Solution.History))
	}
	return r, nil
}

// WriteHistories writes the optimisation history of every fault of o as
// CSV files under dir/<scenario id>/fault_<id>.
func (e *Experiment) WriteHistories(dir string, o Outcome) error {
	for _, f := range o.Scenario.Faults {
		if f.Solution.History == nil {
			continue
		}
		path := filepath.Join(dir, o.Scenario.ID, fmt.Sprintf("fault_%d", f.ID))
		if err := f.Solution.History.WriteCSV(path); err != nil {
			return fmt.Errorf("fault %d history: %w", f.ID, err)
		}
	}
	return nil
}
