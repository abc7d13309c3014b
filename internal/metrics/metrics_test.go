package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/linactest"
	"github.com/san-kum/linacsim/internal/output"
)

func runs(t *testing.T) (ref, fix *output.SimulationOutput) {
	t.Helper()
	cfg := linactest.Config(t, 4, 2)
	l, err := elements.Build(cfg, nil)
	require.NoError(t, err)
	solver, err := beamcalc.New(cfg)
	require.NoError(t, err)

	ref, err = solver.Run(l)
	require.NoError(t, err)

	failed := ref.Settings["FM3"].Copy()
	require.NoError(t, failed.SetStatus(elements.Failed))
	comp := ref.Settings["FM4"].Copy()
	comp.KE = 1.2
	require.NoError(t, comp.SetStatus(elements.CompensateOK))

	fix, err = solver.RunWithThis(elements.SetOfCavitySettings{"FM3": failed, "FM4": comp}, l)
	require.NoError(t, err)
	require.NoError(t, fix.ComputeMismatch(ref))
	return ref, fix
}

func TestEvaluateAgainstItself(t *testing.T) {
	ref, _ := runs(t)
	mesh, cavities := Defaults(-math.Pi, math.Pi)
	ev, err := Evaluate(ref, ref, mesh, cavities)
	require.NoError(t, err)

	assert.Equal(t, 0., ev.Values["max_delta_w_kin"])
	assert.Equal(t, 0., ev.Values["max_delta_phi_abs"])
	assert.InDelta(t, 0., ev.Values["emittance_growth"], 1e-12)
	assert.True(t, math.IsNaN(ev.Values["max_mismatch"]))
	assert.Equal(t, 0., ev.Values["mean_k_e_change"])
	assert.Equal(t, 1., ev.Values["phi_s_in_band"])
	assert.Empty(t, ev.PhiS)
}

func TestEvaluateFailure(t *testing.T) {
	ref, fix := runs(t)
	mesh, cavities := Defaults(-math.Pi, math.Pi)
	ev, err := Evaluate(ref, fix, mesh, cavities)
	require.NoError(t, err)

	assert.Greater(t, ev.Values["max_delta_w_kin"], 0.)
	assert.Greater(t, ev.Values["max_delta_phi_abs"], 0.)
	assert.Greater(t, ev.Values["max_mismatch"], 0.)
	assert.False(t, math.IsNaN(ev.Values["emittance_growth"]))
	assert.InDelta(t, 0.2, ev.Values["mean_k_e_change"], 1e-12)
	assert.Contains(t, ev.Names(), "phi_s_in_band")
}

func TestPhiSBand(t *testing.T) {
	ref, fix := runs(t)
	mesh, cavities := Defaults(10, 11)
	ev, err := Evaluate(ref, fix, mesh, cavities)
	require.NoError(t, err)

	require.Len(t, ev.PhiS, 1)
	assert.Equal(t, "FM4", ev.PhiS[0].Cavity)
	assert.Equal(t, 0., ev.Values["phi_s_in_band"])
	assert.Contains(t, ev.PhiS[0].String(), "FM4")

	// Reset between evaluations.
	_, cavities = Defaults(-math.Pi, math.Pi)
	ev, err = Evaluate(ref, fix, nil, cavities)
	require.NoError(t, err)
	assert.Empty(t, ev.PhiS)
}

func TestEvaluateMeshMismatch(t *testing.T) {
	ref, _ := runs(t)
	short := output.New("envelope1d", 0, ref.Gamma[0], 0, ref.TmCumul[0])
	mesh, cavities := Defaults(-math.Pi, math.Pi)
	_, err := Evaluate(ref, short, mesh, cavities)
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))
}

func TestMetricReset(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
	}{
		{"energy", NewEnergyDeviation()},
		{"phase", NewPhaseDeviation()},
		{"mismatch", NewMaxMismatch()},
		{"emittance", NewEmittanceGrowth()},
	}
	ref, fix := runs(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < fix.Len(); i++ {
				tt.metric.Observe(ref, fix, i)
			}
			assert.False(t, math.IsNaN(tt.metric.Value()))
			tt.metric.Reset()
			assert.True(t, math.IsNaN(tt.metric.Value()))
		})
	}
}
