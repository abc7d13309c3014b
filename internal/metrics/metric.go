// Package metrics compares a compensated linac with its reference.
package metrics

import (
	"fmt"
	"sort"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/output"
)

// Metric accumulates one figure of merit mesh point by mesh point.
type Metric interface {
	Name() string
	Observe(ref, fix *output.SimulationOutput, i int)
	Value() float64
	Reset()
}

// CavityMetric accumulates one figure of merit cavity by cavity.
type CavityMetric interface {
	Name() string
	ObserveCavity(ref, fix output.CavityParams)
	Value() float64
	Reset()
}

// Evaluation is the outcome of Evaluate.
type Evaluation struct {
	Values map[string]float64
	PhiS   []PhiSViolation
}

func (e Evaluation) Names() []string {
	out := make([]string, 0, len(e.Values))
	for k := range e.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defaults are the evaluations run after a fault scenario. phi_s bounds are
// in rad.
func Defaults(phiSMin, phiSMax float64) ([]Metric, []CavityMetric) {
	return []Metric{
			NewEnergyDeviation(),
			NewPhaseDeviation(),
			NewMaxMismatch(),
			NewEmittanceGrowth(),
		}, []CavityMetric{
			NewKEEffort(),
			NewPhiSBand(phiSMin, phiSMax),
		}
}

// Evaluate feeds every mesh point and every cavity of fix, with the
// matching ones of ref, to the metrics. Both outputs must share the mesh.
func Evaluate(ref, fix *output.SimulationOutput, mesh []Metric, cavities []CavityMetric) (Evaluation, error) {
	if ref.Len() != fix.Len() {
		return Evaluation{}, fmt.Errorf("%w: reference has %d mesh points, fix %d", dynamo.ErrDimensionMismatch, ref.Len(), fix.Len())
	}
	for _, m := range mesh {
		m.Reset()
	}
	for _, m := range cavities {
		m.Reset()
	}

	for i := 0; i < fix.Len(); i++ {
		for _, m := range mesh {
			m.Observe(ref, fix, i)
		}
	}
	for _, c := range fix.Cavities {
		r, err := ref.Cavity(c.Name)
		if err != nil {
			return Evaluation{}, err
		}
		for _, m := range cavities {
			m.ObserveCavity(r, c)
		}
	}

	ev := Evaluation{Values: make(map[string]float64, len(mesh)+len(cavities))}
	for _, m := range mesh {
		ev.Values[m.Name()] = m.Value()
	}
	for _, m := range cavities {
		ev.Values[m.Name()] = m.Value()
		if band, ok := m.(*PhiSBand); ok {
			ev.PhiS = band.Violations()
		}
	}
	return ev, nil
}
