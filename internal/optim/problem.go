package optim

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
)

var log = config.NamedLogger("optim")

// Variable names of a compensation problem.
const (
	VarPhi0Abs = "phi_0_abs"
	VarPhi0Rel = "phi_0_rel"
	VarPhiS    = "phi_s"
	VarKE      = "k_e"
)

// Variable is one bounded degree of freedom of a compensation problem.
type Variable struct {
	Name    string
	Element string
	X0      float64
	Lower   float64
	Upper   float64
}

func (v Variable) String() string {
	return fmt.Sprintf("%s@%s", v.Name, v.Element)
}

// Constraint is an inequality Lower <= value <= Upper.
type Constraint struct {
	Name    string
	Element string
	Lower   float64
	Upper   float64
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Element)
}

// Violations returns the two constraint values of v. A positive entry is
// a violation.
func (c Constraint) Violations(v float64) [2]float64 {
	return [2]float64{c.Lower - v, v - c.Upper}
}

// ResidualFunc evaluates one trial. f holds the objectives, g the
// constraint values (positive when violated). Implementations must be safe
// for concurrent use.
type ResidualFunc func(x []float64) (f, g []float64, err error)

// SettingsFunc turns a trial vector into cavity settings.
type SettingsFunc func(x []float64, status elements.Status) (elements.SetOfCavitySettings, error)

// Problem gathers what every algorithm needs.
type Problem struct {
	Variables   []Variable
	Objectives  []string
	Constraints []Constraint
	Residuals   ResidualFunc
	Settings    SettingsFunc
}

// Validate checks bounds and initial values.
func (p *Problem) Validate() error {
	if len(p.Variables) == 0 {
		return fmt.Errorf("%w: no variables", dynamo.ErrDimensionMismatch)
	}
	if p.Residuals == nil {
		return fmt.Errorf("optim: residual function is required")
	}
	for _, v := range p.Variables {
		if !(v.Lower < v.Upper) {
			return fmt.Errorf("%w: %s has empty bounds [%g, %g]", dynamo.ErrParameterBounds, v, v.Lower, v.Upper)
		}
		if v.X0 < v.Lower || v.X0 > v.Upper {
			return fmt.Errorf("%w: %s initial value %g outside [%g, %g]", dynamo.ErrParameterBounds, v, v.X0, v.Lower, v.Upper)
		}
	}
	return nil
}

func (p *Problem) Dim() int { return len(p.Variables) }

// X0 returns the initial vector.
func (p *Problem) X0() []float64 {
	x := make([]float64, len(p.Variables))
	for i, v := range p.Variables {
		x[i] = v.X0
	}
	return x
}

// Clip projects x into the bounds, in place.
func (p *Problem) Clip(x []float64) []float64 {
	for i, v := range p.Variables {
		x[i] = math.Max(v.Lower, math.Min(v.Upper, x[i]))
	}
	return x
}

// Record is one evaluated trial.
type Record struct {
	X    []float64
	F    []float64
	G    []float64
	Cost float64
	Err  error
}

// Rejected reports whether the trial failed to evaluate.
func (r Record) Rejected() bool { return r.Err != nil }

// Norm is the euclidean norm of the objectives.
func (r Record) Norm() float64 { return floats.Norm(r.F, 2) }

// evaluator is the trial boundary: errors and panics become rejected
// candidates with infinite residuals.
type evaluator struct {
	ctx     context.Context
	p       *Problem
	penalty float64
	maxEval int

	mu      sync.Mutex
	hist    *History
	best    Record
	hasBest bool
	n       int
}

func newEvaluator(ctx context.Context, p *Problem, opts Options, penalised bool) *evaluator {
	e := &evaluator{
		ctx:     ctx,
		p:       p,
		maxEval: opts.MaxEvaluations,
		hist:    NewHistory(p),
	}
	if penalised {
		e.penalty = opts.Penalty
	}
	return e
}

// cost is the scalar minimised by every algorithm: the squared norm of the
// objectives, plus the quadratic penalty on violated constraints when
// penalised.
func (e *evaluator) cost(f, g []float64) float64 {
	c := floats.Dot(f, f)
	if e.penalty > 0 {
		for _, v := range g {
			if v > 0 {
				c += e.penalty * v * v
			}
		}
	}
	return c
}

func (e *evaluator) eval(x []float64) Record {
	rec := Record{X: append([]float64(nil), x...)}
	if err := e.ctx.Err(); err != nil {
		rec.Err = errCanceled(err)
	} else {
		rec.F, rec.G, rec.Err = e.safeResiduals(rec.X)
	}
	if rec.Err == nil && len(e.p.Objectives) > 0 && len(rec.F) != len(e.p.Objectives) {
		rec.Err = fmt.Errorf("%w: %d objectives, want %d", dynamo.ErrDimensionMismatch, len(rec.F), len(e.p.Objectives))
	}
	if rec.Err == nil && floats.HasNaN(rec.F) {
		rec.Err = fmt.Errorf("%w: NaN objective", dynamo.ErrInvalidState)
	}
	if rec.Err != nil {
		n := len(e.p.Objectives)
		if n == 0 {
			n = len(rec.F)
		}
		rec.F = infs(n)
		rec.Cost = math.Inf(1)
		log.WithError(rec.Err).Debug("trial rejected")
	} else {
		rec.Cost = e.cost(rec.F, rec.G)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	e.hist.Add(rec)
	if !e.hasBest || rec.Cost < e.best.Cost {
		e.best = rec
		e.hasBest = true
	}
	return rec
}

func (e *evaluator) safeResiduals(x []float64) (f, g []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Warnf("trial panicked: %v", r)
			err = fmt.Errorf("optim: trial panicked: %v", r)
		}
	}()
	return e.p.Residuals(x)
}

func (e *evaluator) evaluations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func (e *evaluator) bestRecord() (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.best, e.hasBest
}

// exhausted reports whether the evaluation budget is spent or the context
// is done.
func (e *evaluator) exhausted() bool {
	if e.ctx.Err() != nil {
		return true
	}
	return e.maxEval > 0 && e.evaluations() >= e.maxEval
}

// EvaluateBatch evaluates every trial of xs on at most workers goroutines
// and returns the records in the order of xs.
func (e *evaluator) EvaluateBatch(xs [][]float64, workers int) ([]Record, error) {
	out := make([]Record, len(xs))
	g, ctx := errgroup.WithContext(e.ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, x := range xs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			out[i] = e.eval(x)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, errCanceled(err)
	}
	return out, nil
}

// EvaluateBatch runs the residuals of p over xs with a worker pool, outside
// of any algorithm. Rejected trials carry infinite residuals.
func EvaluateBatch(ctx context.Context, p *Problem, xs [][]float64, workers int) ([]Record, error) {
	e := newEvaluator(ctx, p, Options{}, false)
	return e.EvaluateBatch(xs, workers)
}

func errCanceled(err error) error {
	return fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
}

func infs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Inf(1)
	}
	return out
}
