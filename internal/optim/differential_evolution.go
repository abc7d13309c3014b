package optim

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// DifferentialEvolution is the rand/1/bin scheme: every member of the
// population is challenged by a trial built from three other members and
// replaced when the trial is not worse. Constraints are ignored.
type DifferentialEvolution struct {
	p    *Problem
	opts Options

	// Mutation is drawn uniformly in [MutationMin, MutationMax) once per
	// generation.
	MutationMin   float64
	MutationMax   float64
	Recombination float64
}

func NewDifferentialEvolution(p *Problem, opts Options) (*DifferentialEvolution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.PopulationSize < 4 {
		return nil, fmt.Errorf("differential evolution: population size must be at least 4, got %d", opts.PopulationSize)
	}
	if opts.Generations < 1 {
		return nil, fmt.Errorf("differential evolution: generations must be positive, got %d", opts.Generations)
	}
	return &DifferentialEvolution{
		p:             p,
		opts:          opts,
		MutationMin:   0.5,
		MutationMax:   1.,
		Recombination: 0.7,
	}, nil
}

func (*DifferentialEvolution) Name() string { return NameDifferentialEvolution }

func (d *DifferentialEvolution) Optimise(ctx context.Context) (OptiSol, error) {
	start := time.Now()
	e := newEvaluator(ctx, d.p, d.opts, false)
	rng := rand.New(rand.NewSource(d.opts.Seed))

	pop := make([][]float64, d.opts.PopulationSize)
	pop[0] = d.p.X0()
	for i := 1; i < len(pop); i++ {
		pop[i] = randomIn(rng, d.p)
	}
	records, err := e.EvaluateBatch(pop, d.opts.Workers)
	if err != nil {
		sol, _ := solution(e, false, "canceled", start)
		return sol, err
	}
	cost := make([]float64, len(pop))
	for i, r := range records {
		cost[i] = r.Cost
	}

	status := "generation limit"
	for gen := 0; gen < d.opts.Generations; gen++ {
		if best, _ := e.bestRecord(); best.Cost <= d.opts.Tolerance {
			status = "tolerance reached"
			break
		}
		if e.exhausted() {
			status = "evaluation limit"
			break
		}

		f := d.MutationMin + rng.Float64()*(d.MutationMax-d.MutationMin)
		trials := make([][]float64, len(pop))
		for i := range pop {
			trials[i] = d.trial(rng, pop, i, f)
		}
		records, err := e.EvaluateBatch(trials, d.opts.Workers)
		if err != nil {
			sol, _ := solution(e, false, "canceled", start)
			return sol, err
		}
		for i, r := range records {
			if r.Cost <= cost[i] {
				pop[i], cost[i] = trials[i], r.Cost
			}
		}
		best, _ := e.bestRecord()
		log.WithField("generation", gen).WithField("best", best.Cost).Debug("differential evolution generation")
	}

	best, _ := e.bestRecord()
	sol, err := solution(e, best.Cost <= d.opts.Tolerance, status, start)
	if err != nil {
		return sol, err
	}
	logSolution(d.Name(), sol)
	return sol, nil
}

// trial mixes member i with a + f(b - c), a, b and c being three other
// distinct members. At least one variable always comes from the mutant.
func (d *DifferentialEvolution) trial(rng *rand.Rand, pop [][]float64, i int, f float64) []float64 {
	pick := rng.Perm(len(pop))
	donors := make([][]float64, 0, 3)
	for _, k := range pick {
		if k != i {
			donors = append(donors, pop[k])
		}
		if len(donors) == 3 {
			break
		}
	}
	a, b, c := donors[0], donors[1], donors[2]

	x := append([]float64(nil), pop[i]...)
	forced := rng.Intn(len(x))
	for j := range x {
		if j == forced || rng.Float64() < d.Recombination {
			x[j] = a[j] + f*(b[j]-c[j])
		}
	}
	return d.p.Clip(x)
}

func randomIn(rng *rand.Rand, p *Problem) []float64 {
	x := make([]float64, p.Dim())
	for i, v := range p.Variables {
		x[i] = v.Lower + rng.Float64()*(v.Upper-v.Lower)
	}
	return x
}
