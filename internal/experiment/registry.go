package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/fault"
	"github.com/san-kum/linacsim/internal/metrics"
	"github.com/san-kum/linacsim/internal/optim"
)

// Registry names the pieces a run is assembled from.
type Registry struct {
	solvers map[string]func(beamcalc.Options) (*beamcalc.Envelope, error)
	methods []beamcalc.Method
}

func NewRegistry() *Registry {
	r := &Registry{
		solvers: make(map[string]func(beamcalc.Options) (*beamcalc.Envelope, error)),
		methods: []beamcalc.Method{beamcalc.RK4, beamcalc.Leapfrog},
	}

	r.solvers["envelope1d"] = beamcalc.NewEnvelope1D
	r.solvers["envelope3d"] = beamcalc.NewEnvelope3D

	return r
}

func (r *Registry) GetSolver(name string, opts beamcalc.Options) (*beamcalc.Envelope, error) {
	fn, ok := r.solvers[name]
	if !ok {
		return nil, fmt.Errorf("unknown beam calculator: %s", name)
	}
	return fn(opts)
}

func (r *Registry) ListSolvers() []string {
	names := make([]string, 0, len(r.solvers))
	for name := range r.solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ListMethods() []string {
	names := make([]string, len(r.methods))
	for i, m := range r.methods {
		names[i] = string(m)
	}
	return names
}

func (r *Registry) ListAlgorithms() []string {
	return optim.Names()
}

func (r *Registry) ListStrategies() []string {
	names := make([]string, len(fault.Strategies))
	for i, s := range fault.Strategies {
		names[i] = string(s)
	}
	return names
}

func (r *Registry) ListObjectivePresets() []string {
	return fault.PresetNames()
}

// ListMetrics names the evaluations run on a fixed linac.
func (r *Registry) ListMetrics() []string {
	mesh, cavities := metrics.Defaults(0, 0)
	names := make([]string, 0, len(mesh)+len(cavities))
	for _, m := range mesh {
		names = append(names, m.Name())
	}
	for _, m := range cavities {
		names = append(names, m.Name())
	}
	return names
}
