package optim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Genetic is a real-coded genetic algorithm: tournament selection, blend
// crossover, gaussian mutation and elitism. Constraint violations are
// penalised. Each generation is evaluated on the worker pool.
type Genetic struct {
	p    *Problem
	opts Options

	TournamentSize int
	EliteCount     int
	CrossoverAlpha float64
	MutationRate   float64
	MutationScale  float64
}

func NewGenetic(p *Problem, opts Options) (*Genetic, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.PopulationSize < 4 {
		return nil, fmt.Errorf("genetic: population size must be at least 4, got %d", opts.PopulationSize)
	}
	if opts.Generations < 1 {
		return nil, fmt.Errorf("genetic: generations must be positive, got %d", opts.Generations)
	}
	if opts.Penalty == 0 {
		opts.Penalty = DefaultPenalty
	}
	return &Genetic{
		p:              p,
		opts:           opts,
		TournamentSize: 3,
		EliteCount:     2,
		CrossoverAlpha: 0.3,
		MutationRate:   0.2,
		MutationScale:  0.1,
	}, nil
}

func (*Genetic) Name() string { return NameGenetic }

type scored struct {
	x    []float64
	cost float64
}

func (g *Genetic) Optimise(ctx context.Context) (OptiSol, error) {
	start := time.Now()
	e := newEvaluator(ctx, g.p, g.opts, true)
	rng := rand.New(rand.NewSource(g.opts.Seed))

	pop := make([][]float64, g.opts.PopulationSize)
	pop[0] = g.p.X0()
	for i := 1; i < len(pop); i++ {
		pop[i] = randomIn(rng, g.p)
	}

	status := "generation limit"
	for gen := 0; gen < g.opts.Generations; gen++ {
		records, err := e.EvaluateBatch(pop, g.opts.Workers)
		if err != nil {
			sol, _ := solution(e, false, "canceled", start)
			return sol, err
		}
		ranked := rank(records)
		log.WithField("generation", gen).WithField("best", ranked[0].cost).Debug("genetic generation")

		if ranked[0].cost <= g.opts.Tolerance {
			status = "tolerance reached"
			break
		}
		if e.exhausted() {
			status = "evaluation limit"
			break
		}
		pop = g.next(rng, ranked)
	}

	// success needs the residuals below tolerance, as for the gonum methods
	best, _ := e.bestRecord()
	success := feasible(best.G) && best.Cost <= g.opts.Tolerance
	sol, err := solution(e, success, status, start)
	if err != nil {
		return sol, err
	}
	logSolution(g.Name(), sol)
	return sol, nil
}

func rank(records []Record) []scored {
	out := make([]scored, len(records))
	for i, r := range records {
		out[i] = scored{x: r.X, cost: r.Cost}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].cost < out[j].cost })
	return out
}

func (g *Genetic) next(rng *rand.Rand, ranked []scored) [][]float64 {
	out := make([][]float64, 0, len(ranked))
	for i := 0; i < g.EliteCount && i < len(ranked); i++ {
		out = append(out, append([]float64(nil), ranked[i].x...))
	}
	for len(out) < len(ranked) {
		a := g.tournament(rng, ranked)
		b := g.tournament(rng, ranked)
		child := g.crossover(rng, a, b)
		g.mutate(rng, child)
		out = append(out, g.p.Clip(child))
	}
	return out
}

// tournament samples TournamentSize candidates and keeps the cheapest.
func (g *Genetic) tournament(rng *rand.Rand, ranked []scored) []float64 {
	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < g.TournamentSize; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.cost < best.cost {
			best = candidate
		}
	}
	return best.x
}

// crossover draws each gene uniformly in the parents' interval widened by
// CrossoverAlpha on both sides.
func (g *Genetic) crossover(rng *rand.Rand, a, b []float64) []float64 {
	child := make([]float64, len(a))
	for i := range a {
		lo, hi := math.Min(a[i], b[i]), math.Max(a[i], b[i])
		d := hi - lo
		child[i] = lo - g.CrossoverAlpha*d + rng.Float64()*(1+2*g.CrossoverAlpha)*d
	}
	return child
}

func (g *Genetic) mutate(rng *rand.Rand, x []float64) {
	for i, v := range g.p.Variables {
		if rng.Float64() < g.MutationRate {
			x[i] += rng.NormFloat64() * g.MutationScale * (v.Upper - v.Lower)
		}
	}
}
