package optim

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// bounds maps an unbounded search vector u onto the box of the problem
// with x = lo + (hi-lo)(1+sin u)/2, so that unconstrained gonum methods
// never leave the bounds.
type bounds struct {
	lo, hi []float64
}

func newBounds(p *Problem) bounds {
	b := bounds{lo: make([]float64, p.Dim()), hi: make([]float64, p.Dim())}
	for i, v := range p.Variables {
		b.lo[i], b.hi[i] = v.Lower, v.Upper
	}
	return b
}

func (b bounds) toX(dst, u []float64) []float64 {
	for i := range u {
		dst[i] = b.lo[i] + (b.hi[i]-b.lo[i])*(1+math.Sin(u[i]))/2
	}
	return dst
}

func (b bounds) toU(x []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		s := 2*(x[i]-b.lo[i])/(b.hi[i]-b.lo[i]) - 1
		u[i] = math.Asin(math.Max(-1, math.Min(1, s)))
	}
	return u
}

// gonumRun is shared by the simplex and least-squares adapters.
type gonumRun struct {
	name      string
	p         *Problem
	opts      Options
	penalised bool
	method    func() optimize.Method
	gradient  bool
}

func (g gonumRun) optimise(ctx context.Context) (OptiSol, error) {
	start := time.Now()
	e := newEvaluator(ctx, g.p, g.opts, g.penalised)
	b := newBounds(g.p)

	cost := func(u []float64) float64 {
		return e.eval(b.toX(make([]float64, len(u)), u)).Cost
	}
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			return cost(u)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			if e.exhausted() {
				return optimize.FunctionEvaluationLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}
	if g.gradient {
		problem.Grad = func(grad, u []float64) {
			fd.Gradient(grad, cost, u, &fd.Settings{Formula: fd.Central})
			for i, v := range grad {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					grad[i] = 0
				}
			}
		}
	}
	settings := &optimize.Settings{
		MajorIterations: g.opts.MaxIterations,
		FuncEvaluations: g.opts.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   g.opts.Tolerance,
			Iterations: 100,
		},
	}

	result, err := optimize.Minimize(problem, b.toU(g.p.X0()), settings, g.method())
	status := optimize.Failure
	if result != nil {
		status = result.Status
	}
	if err != nil {
		log.WithField("algorithm", g.name).WithError(err).Debug("minimizer stopped")
	}

	best, _ := e.bestRecord()
	success := converged(status) || best.Cost <= g.opts.Tolerance
	if g.penalised && success {
		success = feasible(best.G)
	}
	sol, solErr := solution(e, success, status.String(), start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sol, errCanceled(ctxErr)
	}
	if solErr != nil {
		return sol, solErr
	}
	logSolution(g.name, sol)
	return sol, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

func feasible(g []float64) bool {
	return len(g) == 0 || floats.Max(g) <= 0
}

// DownhillSimplex is the Nelder-Mead method on the bounded transform.
// The penalised variant adds the squared constraint violations to the
// cost.
type DownhillSimplex struct {
	run gonumRun
}

func NewDownhillSimplex(p *Problem, opts Options, penalised bool) (*DownhillSimplex, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := NameDownhillSimplex
	if penalised {
		name = NameDownhillSimplexPenalty
	}
	return &DownhillSimplex{run: gonumRun{
		name:      name,
		p:         p,
		opts:      opts,
		penalised: penalised,
		method:    func() optimize.Method { return &optimize.NelderMead{SimplexSize: 0.1} },
	}}, nil
}

func (d *DownhillSimplex) Name() string { return d.run.name }

func (d *DownhillSimplex) Optimise(ctx context.Context) (OptiSol, error) {
	return d.run.optimise(ctx)
}

// LeastSquares minimises the sum of squared objectives with BFGS and a
// central finite-difference gradient.
type LeastSquares struct {
	run gonumRun
}

func NewLeastSquares(p *Problem, opts Options, penalised bool) (*LeastSquares, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := NameLeastSquares
	if penalised {
		name = NameLeastSquaresPenalty
	}
	return &LeastSquares{run: gonumRun{
		name:      name,
		p:         p,
		opts:      opts,
		penalised: penalised,
		method:    func() optimize.Method { return &optimize.BFGS{} },
		gradient:  true,
	}}, nil
}

func (l *LeastSquares) Name() string { return l.run.name }

func (l *LeastSquares) Optimise(ctx context.Context) (OptiSol, error) {
	return l.run.optimise(ctx)
}
