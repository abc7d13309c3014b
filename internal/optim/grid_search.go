package optim

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Explorator evaluates a regular grid spanning the bounds and keeps the
// point with the smallest objective norm. Phase variables whose window
// covers a full turn are sampled over [0, 2pi].
type Explorator struct {
	p    *Problem
	opts Options
	axes [][]float64
}

func NewExplorator(p *Problem, opts Options) (*Explorator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := opts.NPoints
	if n < 2 {
		n = 20
	}
	if opts.MaxEvaluations > 0 {
		if fit := int(math.Floor(math.Pow(float64(opts.MaxEvaluations), 1/float64(p.Dim())))); fit < n {
			log.Warnf("explorator: %d points per variable reduced to %d to stay under %d evaluations", n, max(fit, 2), opts.MaxEvaluations)
			n = max(fit, 2)
		}
	}

	axes := make([][]float64, p.Dim())
	for i, v := range p.Variables {
		lo, hi := v.Lower, v.Upper
		if isPhase(v.Name) && hi-lo >= 2*math.Pi {
			lo, hi = 0, 2*math.Pi
		}
		axes[i] = floats.Span(make([]float64, n), lo, hi)
	}
	return &Explorator{p: p, opts: opts, axes: axes}, nil
}

func (*Explorator) Name() string { return NameExplorator }

// Grid returns every combination of the axes, the last variable varying
// fastest.
func (g *Explorator) Grid() [][]float64 {
	var out [][]float64
	g.searchRecursive(0, make([]float64, len(g.axes)), &out)
	return out
}

func (g *Explorator) searchRecursive(depth int, current []float64, out *[][]float64) {
	if depth == len(g.axes) {
		*out = append(*out, append([]float64(nil), current...))
		return
	}
	for _, val := range g.axes[depth] {
		current[depth] = val
		g.searchRecursive(depth+1, current, out)
	}
}

func (g *Explorator) Optimise(ctx context.Context) (OptiSol, error) {
	start := time.Now()
	e := newEvaluator(ctx, g.p, g.opts, false)
	e.maxEval = 0

	if _, err := e.EvaluateBatch(g.Grid(), g.opts.Workers); err != nil {
		sol, _ := solution(e, false, "canceled", start)
		return sol, err
	}
	sol, err := solution(e, true, "grid exhausted", start)
	if err != nil {
		return sol, err
	}
	logSolution(g.Name(), sol)
	return sol, nil
}

func isPhase(name string) bool {
	switch name {
	case VarPhi0Abs, VarPhi0Rel, VarPhiS:
		return true
	}
	return false
}
