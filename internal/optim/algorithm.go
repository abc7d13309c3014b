package optim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/elements"
)

// Algorithm names.
const (
	NameLeastSquares           = "least_squares"
	NameLeastSquaresPenalty    = "least_squares_penalty"
	NameDownhillSimplex        = "downhill_simplex"
	NameDownhillSimplexPenalty = "downhill_simplex_penalty"
	NameExplorator             = "explorator"
	NameGenetic                = "genetic"
	NameDifferentialEvolution  = "differential_evolution"
)

// Algorithm searches the variables of a Problem.
type Algorithm interface {
	Name() string
	Optimise(ctx context.Context) (OptiSol, error)
}

// OptiSol is the outcome of one optimisation.
type OptiSol struct {
	Success        bool
	CavitySettings elements.SetOfCavitySettings
	X              []float64
	F              []float64
	Objectives     map[string]float64
	History        *History
	Evaluations    int
	Status         string
	Elapsed        time.Duration
}

func (s OptiSol) String() string {
	return fmt.Sprintf("success=%t status=%s evaluations=%s elapsed=%s",
		s.Success, s.Status, humanize.Comma(int64(s.Evaluations)), s.Elapsed.Round(time.Millisecond))
}

type Options struct {
	MaxIterations  int
	MaxEvaluations int
	Tolerance      float64
	PopulationSize int
	Generations    int
	NPoints        int
	Seed           int64
	Workers        int
	Penalty        float64
}

const DefaultPenalty = 1e3

func DefaultOptions() Options {
	d := config.DefaultConfig().WTF
	return OptionsFromConfig(d.AlgorithmKwargs, d.Workers)
}

func OptionsFromConfig(c config.AlgorithmConfig, workers int) Options {
	return Options{
		MaxIterations:  c.MaxIterations,
		MaxEvaluations: c.MaxEvaluations,
		Tolerance:      c.Tolerance,
		PopulationSize: c.PopulationSize,
		Generations:    c.Generations,
		NPoints:        c.NPoints,
		Seed:           c.Seed,
		Workers:        workers,
		Penalty:        DefaultPenalty,
	}
}

// Factory builds an algorithm on a problem.
type Factory func(p *Problem, opts Options) (Algorithm, error)

var factories = map[string]Factory{
	NameLeastSquares:           func(p *Problem, o Options) (Algorithm, error) { return NewLeastSquares(p, o, false) },
	NameLeastSquaresPenalty:    func(p *Problem, o Options) (Algorithm, error) { return NewLeastSquares(p, o, true) },
	NameDownhillSimplex:        func(p *Problem, o Options) (Algorithm, error) { return NewDownhillSimplex(p, o, false) },
	NameDownhillSimplexPenalty: func(p *Problem, o Options) (Algorithm, error) { return NewDownhillSimplex(p, o, true) },
	"nelder_mead":              func(p *Problem, o Options) (Algorithm, error) { return NewDownhillSimplex(p, o, false) },
	"nelder_mead_penalty":      func(p *Problem, o Options) (Algorithm, error) { return NewDownhillSimplex(p, o, true) },
	NameExplorator:             func(p *Problem, o Options) (Algorithm, error) { return NewExplorator(p, o) },
	"experimental":             func(p *Problem, o Options) (Algorithm, error) { return NewExplorator(p, o) },
	NameGenetic:                func(p *Problem, o Options) (Algorithm, error) { return NewGenetic(p, o) },
	NameDifferentialEvolution:  func(p *Problem, o Options) (Algorithm, error) { return NewDifferentialEvolution(p, o) },
}

var aliases = map[string]string{
	"nelder_mead":         NameDownhillSimplex,
	"nelder_mead_penalty": NameDownhillSimplexPenalty,
	"experimental":        NameExplorator,
}

// Canonical resolves an algorithm alias.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// New creates the algorithm registered under name.
func New(name string, p *Problem, opts Options) (Algorithm, error) {
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown optimisation algorithm: %s", name)
	}
	return fn(p, opts)
}

// Names lists the registered algorithms, aliases included.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportsConstraints reports whether the algorithm uses the constraint
// values of a problem.
func SupportsConstraints(name string) bool {
	switch Canonical(name) {
	case NameLeastSquaresPenalty, NameDownhillSimplexPenalty, NameGenetic:
		return true
	}
	return false
}

// solution assembles the OptiSol of the best trial seen by e.
func solution(e *evaluator, success bool, status string, start time.Time) (OptiSol, error) {
	sol := OptiSol{
		History:     e.hist,
		Evaluations: e.evaluations(),
		Status:      status,
		Elapsed:     time.Since(start),
	}
	best, ok := e.bestRecord()
	if !ok || best.Rejected() {
		return sol, fmt.Errorf("optim: no valid trial among %d evaluations", sol.Evaluations)
	}
	sol.Success = success
	sol.X = best.X
	sol.F = best.F
	sol.Objectives = make(map[string]float64, len(best.F))
	for i, name := range e.p.Objectives {
		sol.Objectives[name] = best.F[i]
	}

	if e.p.Settings != nil {
		st := elements.CompensateOK
		if !success {
			st = elements.CompensateNotOK
		}
		settings, err := e.p.Settings(best.X, st)
		if err != nil {
			return sol, fmt.Errorf("optim: settings of best trial: %w", err)
		}
		sol.CavitySettings = settings
	}
	return sol, nil
}

func logSolution(name string, sol OptiSol) {
	l := log.WithField("algorithm", name).
		WithField("evaluations", humanize.Comma(int64(sol.Evaluations))).
		WithField("rejected", sol.History.Rejected()).
		WithField("elapsed", sol.Elapsed.Round(time.Millisecond))
	for _, k := range sortedKeys(sol.Objectives) {
		l = l.WithField(k, sol.Objectives[k])
	}
	l.Infof("optimisation finished: success=%t status=%s", sol.Success, sol.Status)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
