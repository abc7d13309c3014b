package metrics

import (
	"math"

	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/output"
)

// MaxMismatch is the largest [z-delta] mismatch factor of fix. It is NaN
// until the mismatch has been computed on fix.
type MaxMismatch struct {
	name    string
	max     float64
	samples int
}

func NewMaxMismatch() *MaxMismatch {
	return &MaxMismatch{name: "max_mismatch"}
}

func (m *MaxMismatch) Name() string { return m.name }

func (m *MaxMismatch) Observe(_, fix *output.SimulationOutput, i int) {
	if fix.Beam == nil || i >= len(fix.Beam.Mismatch) || math.IsNaN(fix.Beam.Mismatch[i]) {
		return
	}
	m.max = math.Max(m.max, fix.Beam.Mismatch[i])
	m.samples++
}

func (m *MaxMismatch) Value() float64 {
	if m.samples == 0 {
		return math.NaN()
	}
	return m.max
}

func (m *MaxMismatch) Reset() {
	m.max = 0
	m.samples = 0
}

// EmittanceGrowth is eps fix / eps ref - 1 in [z-delta] at the last mesh
// point observed.
type EmittanceGrowth struct {
	name   string
	growth float64
}

func NewEmittanceGrowth() *EmittanceGrowth {
	return &EmittanceGrowth{name: "emittance_growth", growth: math.NaN()}
}

func (e *EmittanceGrowth) Name() string { return e.name }

func (e *EmittanceGrowth) Observe(ref, fix *output.SimulationOutput, i int) {
	epsRef, ok := eps(ref, i)
	if !ok || epsRef == 0 {
		return
	}
	epsFix, ok := eps(fix, i)
	if !ok {
		return
	}
	e.growth = epsFix/epsRef - 1
}

func eps(o *output.SimulationOutput, i int) (float64, bool) {
	if o.Beam == nil {
		return 0, false
	}
	p, err := o.Beam.Plane(envelope.ZDelta)
	if err != nil || i >= len(p.Eps) {
		return 0, false
	}
	return p.Eps[i], true
}

func (e *EmittanceGrowth) Value() float64 { return e.growth }

func (e *EmittanceGrowth) Reset() { e.growth = math.NaN() }
