package beamcalc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/transfer"
	"github.com/san-kum/linacsim/internal/units"
)

var log = config.NamedLogger("beamcalc")

type Method string

const (
	RK4      Method = "RK4"
	Leapfrog Method = "leapfrog"
)

// BeamCalculator is what the fault engine needs from a solver.
type BeamCalculator interface {
	ID() string
	Run(l *elements.ListOfElements) (*output.SimulationOutput, error)
	RunWithThis(settings elements.SetOfCavitySettings, l *elements.ListOfElements) (*output.SimulationOutput, error)
}

// Options configure an Envelope solver. Each solver owns its options; there
// is no package level state.
type Options struct {
	Method        Method
	NStepsPerCell int
	ERest         float64
	QAdim         float64
	FBunchMHz     float64
}

// Envelope is the envelope solver, 1D (2x2 [z-delta] matrices) or 3D (6x6).
type Envelope struct {
	id  string
	dim int

	method        Method
	nStepsPerCell int
	eRest         float64
	qAdim         float64
	fBunchMHz     float64
	omegaBunch    float64
	lambdaBunch   float64
}

func NewEnvelope1D(opts Options) (*Envelope, error) {
	return newEnvelope("envelope1d", 2, opts)
}

// NewEnvelope3D only supports RK4 field maps.
func NewEnvelope3D(opts Options) (*Envelope, error) {
	if opts.Method != RK4 {
		return nil, fmt.Errorf("%w: envelope3d needs RK4, got %s", dynamo.ErrParameterBounds, opts.Method)
	}
	return newEnvelope("envelope3d", 6, opts)
}

func newEnvelope(tool string, dim int, opts Options) (*Envelope, error) {
	switch opts.Method {
	case RK4, Leapfrog:
	default:
		return nil, fmt.Errorf("%w: unknown field map method %q", dynamo.ErrParameterBounds, opts.Method)
	}
	if opts.NStepsPerCell < 1 || !(opts.ERest > 0) || !(opts.FBunchMHz > 0) {
		return nil, fmt.Errorf("%w: invalid solver options %+v", dynamo.ErrParameterBounds, opts)
	}
	if opts.QAdim == 0 {
		opts.QAdim = 1.
	}
	return &Envelope{
		id:            fmt.Sprintf("%s_%s_%d", tool, opts.Method, opts.NStepsPerCell),
		dim:           dim,
		method:        opts.Method,
		nStepsPerCell: opts.NStepsPerCell,
		eRest:         opts.ERest,
		qAdim:         opts.QAdim,
		fBunchMHz:     opts.FBunchMHz,
		omegaBunch:    units.Omega(opts.FBunchMHz),
		lambdaBunch:   units.Wavelength(opts.FBunchMHz),
	}, nil
}

// New builds the solver described by cfg.
func New(cfg *config.Config) (*Envelope, error) {
	opts := Options{
		Method:        Method(cfg.BeamCalculator.Method),
		NStepsPerCell: cfg.BeamCalculator.NStepsPerCell,
		ERest:         cfg.Beam.ERestMeV,
		QAdim:         cfg.Beam.QAdim,
		FBunchMHz:     cfg.Beam.FBunchMHz,
	}
	switch cfg.BeamCalculator.Tool {
	case "envelope1d":
		return NewEnvelope1D(opts)
	case "envelope3d":
		return NewEnvelope3D(opts)
	}
	return nil, fmt.Errorf("%w: unknown beam calculator %q", dynamo.ErrParameterBounds, cfg.BeamCalculator.Tool)
}

// ID identifies the solver and its numeric knobs. Element parameters are
// cached under it.
func (e *Envelope) ID() string { return e.id }

func (e *Envelope) Dim() int { return e.dim }

func (e *Envelope) ERest() float64 { return e.eRest }

func (e *Envelope) Run(l *elements.ListOfElements) (*output.SimulationOutput, error) {
	return e.RunWithThis(nil, l)
}

// RunWithThis propagates through l using settings for the cavities it
// holds and nominal settings for the others. Nominal settings are never
// modified; the settings actually used, with their entry phases, are
// returned in the output.
func (e *Envelope) RunWithThis(settings elements.SetOfCavitySettings, l *elements.ListOfElements) (*output.SimulationOutput, error) {
	gamma, err := units.GammaFromKinetic(l.WKinIn, e.eRest)
	if err != nil {
		return nil, err
	}
	cumul := transfer.Eye(e.dim)
	if l.TmCumulIn != nil {
		if r, _ := l.TmCumulIn.Dims(); r != e.dim {
			return nil, fmt.Errorf("%w: input transfer matrix is %dx%d for a %dx%d solver", dynamo.ErrDimensionMismatch, r, r, e.dim, e.dim)
		}
		cumul = mat.DenseCopyOf(l.TmCumulIn)
	}

	phiAbs := l.PhiAbsIn
	z := l.ZIn
	out := output.New(e.id, z, gamma, phiAbs, cumul)
	out.Settings = make(elements.SetOfCavitySettings)

	for _, el := range l.Elements {
		entry := out.Entry()
		res, err := e.propagate(el, gamma, phiAbs, settings, out)
		if err != nil {
			return nil, locate(err, el.Name())
		}

		dz := el.Length() / float64(res.NSteps())
		for i, m := range res.Matrices {
			var next mat.Dense
			next.Mul(m, cumul)
			cumul = &next
			out.TmCumul = append(out.TmCumul, cumul)
			out.Gamma = append(out.Gamma, res.Gamma[i])
			out.PhiAbs = append(out.PhiAbs, phiAbs+res.Phi[i])
			out.ZAbs = append(out.ZAbs, z+float64(i+1)*dz)
		}
		var phiRel float64
		gamma, phiRel = res.Exit()
		phiAbs += phiRel
		z += el.Length()
		out.AppendElement(el.Name(), entry)
	}

	var sigma mat.Matrix
	if l.SigmaIn != nil {
		if r, _ := l.SigmaIn.Dims(); r != e.dim {
			return nil, fmt.Errorf("%w: sigma is %dx%d for a %dx%d solver", dynamo.ErrDimensionMismatch, r, r, e.dim, e.dim)
		}
		sigma = l.SigmaIn
	}
	if err := out.Finalize(sigma, e.lambdaBunch, e.eRest); err != nil {
		return nil, err
	}
	return out, nil
}

func locate(err error, name string) error {
	var se *dynamo.SimulationError
	if errors.As(err, &se) {
		if se.Element == "" {
			se.Element = name
		}
		return err
	}
	return &dynamo.SimulationError{Element: name, Step: -1, Wrapped: err}
}

func (e *Envelope) propagate(el elements.Element, gamma, phiAbs float64, settings elements.SetOfCavitySettings, out *output.SimulationOutput) (transfer.Result, error) {
	p, err := e.params(el)
	if err != nil {
		return transfer.Result{}, err
	}

	switch c := el.(type) {
	case *elements.Drift:
		return transfer.Drift(e.dim, gamma, c.Length(), e.omegaBunch, 1)
	case *elements.Quad:
		return transfer.Quad(e.dim, gamma, c.Length(), c.Gradient, e.qAdim, e.eRest, e.omegaBunch)
	case *elements.Bend:
		return transfer.Bend(e.dim, gamma, c.Geometry, e.omegaBunch)
	case *elements.FieldMap:
		return e.fieldMap(c, p, gamma, phiAbs, settings, out)
	case *elements.SuperposedFieldMap:
		return e.superposed(c, p, gamma, phiAbs, settings, out)
	}
	return transfer.Result{}, fmt.Errorf("%w: no transfer function for %T", dynamo.ErrParameterBounds, el)
}

func (e *Envelope) fieldMap(fm *elements.FieldMap, p *elementParams, gamma, phiAbs float64, settings elements.SetOfCavitySettings, out *output.SimulationOutput) (transfer.Result, error) {
	cs := settings.Resolve(fm).Copy()
	cs.SetEntryPhase(phiAbs)

	var (
		res transfer.Result
		err error
	)
	if cs.IsFailed() {
		res, err = transfer.Drift(e.dim, gamma, p.dz, e.omegaBunch, p.nSteps)
	} else {
		var phi0Rel float64
		phi0Rel, err = e.phi0Rel(fm, cs, p, gamma)
		if err != nil {
			return transfer.Result{}, err
		}
		cp := p.cavity
		cp.Field = fieldmap.RF{Field: fm.Field, KE: cs.KE, Phi0Rel: phi0Rel}
		res, err = e.integrate(gamma, cp)
	}
	if err != nil {
		return transfer.Result{}, err
	}

	cs.SetCavityParameters(res.Field)
	record(out, fm.Name(), cs)
	return res, nil
}

func (e *Envelope) superposed(sp *elements.SuperposedFieldMap, p *elementParams, gamma, phiAbs float64, settings elements.SetOfCavitySettings, out *output.SimulationOutput) (transfer.Result, error) {
	all := make([]*elements.CavitySettings, len(sp.Members))
	var (
		fields  fieldmap.Superposed
		members []fieldmap.Timed
		active  []int
	)
	for i, m := range sp.Members {
		cs := settings.Resolve(m).Copy()
		cs.SetEntryPhase(phiAbs)
		all[i] = cs
		if cs.IsFailed() {
			cs.SetCavityParameters(nil)
			continue
		}
		if cs.Reference == elements.RefPhiS {
			return transfer.Result{}, fmt.Errorf("%w: phi_s reference in superposed member %s", dynamo.ErrParameterBounds, m.Name())
		}
		phi0Rel, err := cs.Phi0Rel()
		if err != nil {
			return transfer.Result{}, err
		}
		rf := fieldmap.RF{Field: m.Field, KE: cs.KE, Phi0Rel: phi0Rel, Offset: m.Offset}
		fields = append(fields, rf)
		members = append(members, rf)
		active = append(active, i)
	}

	var (
		res transfer.Result
		err error
	)
	if len(fields) == 0 {
		res, err = transfer.Drift(e.dim, gamma, p.dz, e.omegaBunch, p.nSteps)
	} else {
		cp := p.cavity
		cp.Field = fields
		cp.Members = members
		res, err = e.integrate(gamma, cp)
	}
	if err != nil {
		return transfer.Result{}, err
	}

	for k, i := range active {
		phasor := res.Members[k]
		all[i].SetCavityParameters(&phasor)
	}
	for i, m := range sp.Members {
		record(out, m.Name(), all[i])
	}
	return res, nil
}

func (e *Envelope) integrate(gamma float64, cp transfer.FieldMapParams) (transfer.Result, error) {
	return e.integrateDim(e.dim, gamma, cp)
}

// integrateDim integrates a field map with the method of the solver and
// matrices of size dim.
func (e *Envelope) integrateDim(dim int, gamma float64, cp transfer.FieldMapParams) (transfer.Result, error) {
	if e.method == Leapfrog && dim == 2 {
		return transfer.FieldMapLeapfrog(gamma, cp)
	}
	return transfer.FieldMapRK4(dim, gamma, cp)
}

// phi0Rel returns the relative phase to integrate with, solving for it when
// the cavity is referenced by its synchronous phase.
func (e *Envelope) phi0Rel(fm *elements.FieldMap, cs *elements.CavitySettings, p *elementParams, gamma float64) (float64, error) {
	if cs.Reference != elements.RefPhiS {
		return cs.Phi0Rel()
	}
	target, err := cs.PhiSTarget()
	if err != nil {
		return 0, err
	}
	phi0, err := e.SolvePhiS(fm, cs.KE, target, gamma, p.cavity)
	if err != nil {
		return 0, err
	}
	cs.SetSolvedPhi0Rel(phi0)
	return phi0, nil
}

func record(out *output.SimulationOutput, name string, cs *elements.CavitySettings) {
	out.Settings[name] = cs
	phi0Abs, _ := cs.Phi0Abs()
	phi0Rel, _ := cs.Phi0Rel()
	out.AppendCavity(output.CavityParams{
		Name:    name,
		Status:  cs.Status(),
		KE:      cs.KE,
		Phi0Abs: phi0Abs,
		Phi0Rel: phi0Rel,
		VCav:    cs.VCav,
		PhiS:    cs.PhiS,
	})
}
