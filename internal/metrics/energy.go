package metrics

import (
	"math"

	"github.com/san-kum/linacsim/internal/output"
)

// EnergyDeviation is the largest |w_kin fix - w_kin ref| along the linac,
// in MeV.
type EnergyDeviation struct {
	name     string
	maxDrift float64
	samples  int
}

func NewEnergyDeviation() *EnergyDeviation {
	return &EnergyDeviation{name: "max_delta_w_kin"}
}

func (e *EnergyDeviation) Name() string { return e.name }

func (e *EnergyDeviation) Observe(ref, fix *output.SimulationOutput, i int) {
	if i >= len(ref.WKin) || i >= len(fix.WKin) {
		return
	}
	e.maxDrift = math.Max(e.maxDrift, math.Abs(fix.WKin[i]-ref.WKin[i]))
	e.samples++
}

func (e *EnergyDeviation) Value() float64 {
	if e.samples == 0 {
		return math.NaN()
	}
	return e.maxDrift
}

func (e *EnergyDeviation) Reset() {
	e.maxDrift = 0
	e.samples = 0
}

// PhaseDeviation is the largest |phi_abs fix - phi_abs ref|, in rad.
type PhaseDeviation struct {
	name     string
	maxDrift float64
	samples  int
}

func NewPhaseDeviation() *PhaseDeviation {
	return &PhaseDeviation{name: "max_delta_phi_abs"}
}

func (p *PhaseDeviation) Name() string { return p.name }

func (p *PhaseDeviation) Observe(ref, fix *output.SimulationOutput, i int) {
	p.maxDrift = math.Max(p.maxDrift, math.Abs(fix.PhiAbs[i]-ref.PhiAbs[i]))
	p.samples++
}

func (p *PhaseDeviation) Value() float64 {
	if p.samples == 0 {
		return math.NaN()
	}
	return p.maxDrift
}

func (p *PhaseDeviation) Reset() {
	p.maxDrift = 0
	p.samples = 0
}
