package fault

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
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/units"
)

// linac has 4 lattices of 2 cavities: FM1 FM2 | FM3 FM4 | FM5 FM6 | FM7 FM8.
func linac(t *testing.T) *elements.ListOfElements {
	t.Helper()
	l, err := elements.Build(linactest.Config(t, 4, 2), nil)
	require.NoError(t, err)
	return l
}

func kOpts(k int, tie TiePolitics, shift int) StrategyOptions {
	return StrategyOptions{Strategy: KOutOfN, K: k, TiePolitics: tie, Shift: shift, MinCavitiesInLattice: 1}
}

func lOpts(l int, tie TiePolitics, minCav int) StrategyOptions {
	return StrategyOptions{Strategy: LNeighboringLattices, L: l, TiePolitics: tie, MinCavitiesInLattice: minCav}
}

func TestKOutOfN(t *testing.T) {
	tests := []struct {
		name   string
		failed []string
		opts   StrategyOptions
		want   [][2][]string
	}{
		{
			name:   "closest two",
			failed: []string{"FM3"},
			opts:   kOpts(2, DownstreamFirst, 0),
			want:   [][2][]string{{{"FM3"}, {"FM2", "FM4"}}},
		},
		{
			name:   "tie goes downstream",
			failed: []string{"FM3"},
			opts:   kOpts(3, DownstreamFirst, 0),
			want:   [][2][]string{{{"FM3"}, {"FM2", "FM4", "FM5"}}},
		},
		{
			name:   "tie goes upstream",
			failed: []string{"FM3"},
			opts:   kOpts(3, UpstreamFirst, 0),
			want:   [][2][]string{{{"FM3"}, {"FM1", "FM2", "FM4"}}},
		},
		{
			name:   "shifted downstream",
			failed: []string{"FM3"},
			opts:   kOpts(2, DownstreamFirst, 1),
			want:   [][2][]string{{{"FM3"}, {"FM4", "FM5"}}},
		},
		{
			name:   "independent faults",
			failed: []string{"FM8", "FM1"},
			opts:   kOpts(1, DownstreamFirst, 0),
			want:   [][2][]string{{{"FM1"}, {"FM2"}}, {{"FM8"}, {"FM7"}}},
		},
		{
			name:   "overlapping faults are merged",
			failed: []string{"FM3", "FM5"},
			opts:   kOpts(2, DownstreamFirst, 0),
			want:   [][2][]string{{{"FM3", "FM5"}, {"FM2", "FM4", "FM6", "FM7"}}},
		},
	}
	l := linac(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := Groups(l, tt.failed, tt.opts)
			require.NoError(t, err)
			require.Len(t, groups, len(tt.want))
			for i, g := range groups {
				assert.Equal(t, tt.want[i][0], g.FailedNames())
				assert.Equal(t, tt.want[i][1], g.CompensatingNames())
			}
		})
	}
}

func TestLNeighboringLattices(t *testing.T) {
	tests := []struct {
		name   string
		failed []string
		opts   StrategyOptions
		want   []string
	}{
		{"next lattice downstream", []string{"FM3"}, lOpts(1, DownstreamFirst, 1), []string{"FM4", "FM5", "FM6"}},
		{"next lattice upstream", []string{"FM3"}, lOpts(1, UpstreamFirst, 1), []string{"FM1", "FM2", "FM4"}},
		{"failed lattice only", []string{"FM3"}, lOpts(0, DownstreamFirst, 1), []string{"FM4"}},
		{"lattices too small do not count", []string{"FM3"}, lOpts(1, DownstreamFirst, 3), []string{"FM1", "FM2", "FM4", "FM5", "FM6", "FM7", "FM8"}},
		{"whole lattice failed", []string{"FM5", "FM6"}, lOpts(1, DownstreamFirst, 1), []string{"FM7", "FM8"}},
	}
	l := linac(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := Groups(l, tt.failed, tt.opts)
			require.NoError(t, err)
			require.Len(t, groups, 1)
			assert.Equal(t, tt.failed, groups[0].FailedNames())
			assert.Equal(t, tt.want, groups[0].CompensatingNames())
		})
	}
}

func TestManualGroups(t *testing.T) {
	l := linac(t)
	groups, err := ManualGroups(l, [][]string{{"FM3"}, {"FM7"}}, [][]string{{"FM4", "FM2"}, {"FM8"}})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"FM2", "FM4"}, groups[0].CompensatingNames())
	assert.Equal(t, []string{"FM7"}, groups[1].FailedNames())

	tests := []struct {
		name   string
		failed [][]string
		comp   [][]string
		want   error
	}{
		{"failed cavity compensates", [][]string{{"FM3"}, {"FM4"}}, [][]string{{"FM4"}, {"FM5"}}, dynamo.ErrParameterBounds},
		{"group count", [][]string{{"FM3"}}, [][]string{{"FM4"}, {"FM5"}}, dynamo.ErrDimensionMismatch},
		{"unknown cavity", [][]string{{"FM42"}}, [][]string{{"FM4"}}, dynamo.ErrMissingAttribute},
		{"empty group", [][]string{{"FM3"}}, [][]string{{}}, dynamo.ErrParameterBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ManualGroups(l, tt.failed, tt.comp)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStrategyErrors(t *testing.T) {
	l := linac(t)
	tests := []struct {
		name   string
		failed []string
		opts   StrategyOptions
		want   error
	}{
		{"k not positive", []string{"FM3"}, kOpts(0, DownstreamFirst, 0), dynamo.ErrParameterBounds},
		{"unknown tie politics", []string{"FM3"}, kOpts(2, "random", 0), dynamo.ErrParameterBounds},
		{"unknown strategy", []string{"FM3"}, StrategyOptions{Strategy: "all", TiePolitics: DownstreamFirst}, dynamo.ErrParameterBounds},
		{"manual", []string{"FM3"}, StrategyOptions{Strategy: Manual, TiePolitics: DownstreamFirst}, dynamo.ErrParameterBounds},
		{"unknown cavity", []string{"QP1"}, kOpts(2, DownstreamFirst, 0), dynamo.ErrMissingAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Groups(l, tt.failed, tt.opts)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	groups, err := Groups(l, nil, kOpts(2, DownstreamFirst, 0))
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestZoneBounds(t *testing.T) {
	l := linac(t)
	groups, err := Groups(l, []string{"FM3"}, kOpts(2, DownstreamFirst, 0))
	require.NoError(t, err)

	// 8 elements per lattice; FM2 is element 6.
	for _, tt := range []struct {
		extra int
		last  int
	}{{0, 15}, {1, 23}, {10, 31}} {
		first, last, err := zoneBounds(l, groups[0], tt.extra)
		require.NoError(t, err)
		assert.Equal(t, 6, first)
		assert.Equal(t, tt.last, last)
	}
}

func reference(t *testing.T) (*elements.ListOfElements, *output.SimulationOutput) {
	t.Helper()
	cfg := linactest.Config(t, 4, 2)
	l, err := elements.Build(cfg, nil)
	require.NoError(t, err)
	solver, err := beamcalc.New(cfg)
	require.NoError(t, err)
	ref, err := solver.Run(l)
	require.NoError(t, err)
	return l, ref
}

func TestObjectivesOnReference(t *testing.T) {
	_, ref := reference(t)
	for _, preset := range PresetNames() {
		t.Run(preset, func(t *testing.T) {
			objs, err := NewObjectives(preset, PresetInput{
				Ref: ref, Element: "DR6", Compensating: []string{"FM2", "FM4"},
				PhiSMin: -math.Pi, PhiSMax: math.Pi,
			})
			require.NoError(t, err)
			require.NotEmpty(t, objs)
			assert.Equal(t, "w_kin@DR6", objs[0].Name())
			for _, o := range objs {
				v, err := o.Evaluate(ref)
				require.NoError(t, err, o.String())
				// identical ellipses leave a rounding-level mismatch
				assert.InDelta(t, 0., v, 1e-6, o.String())
			}
		})
	}

	objs, err := NewObjectives(PresetEnergySyncPhaseMismatch, PresetInput{
		Ref: ref, Element: "DR6", Compensating: []string{"FM2"}, PhiSMin: 10, PhiSMax: 11,
	})
	require.NoError(t, err)
	last := objs[len(objs)-1]
	assert.Equal(t, "phi_s@FM2", last.Name())
	v, err := last.Evaluate(ref)
	require.NoError(t, err)
	assert.Greater(t, v, 0.)

	_, err = NewObjectives("EnergyOnly", PresetInput{Ref: ref, Element: "DR6"})
	assert.Error(t, err)
	_, err = NewObjectives(PresetEnergyMismatch, PresetInput{Ref: ref, Element: "DR99"})
	assert.True(t, errors.Is(err, dynamo.ErrNotAvailable), "got %v", err)
}

func TestDesignSpace(t *testing.T) {
	l, ref := reference(t)
	fm2, err := l.Cavity("FM2")
	require.NoError(t, err)
	fm4, err := l.Cavity("FM4")
	require.NoError(t, err)

	opts := DesignSpaceOptions{
		Phase:        elements.RefPhi0Rel,
		KEDecreasePc: 10,
		KEIncreasePc: 30,
		PhiMin:       0,
		PhiMax:       2 * math.Pi,
		PhiSMin:      units.Rad(-90),
		PhiSMax:      0,
	}
	ds, err := NewDesignSpace([]*elements.FieldMap{fm2, fm4}, ref, opts)
	require.NoError(t, err)
	require.Len(t, ds.Variables, 4)
	assert.Equal(t, "phi_0_rel@FM2", ds.Variables[0].String())
	assert.Equal(t, "k_e@FM2", ds.Variables[1].String())
	assert.InDelta(t, units.Rad(linactest.NominalPhiDeg), ds.Variables[0].X0, 1e-12)
	assert.InDelta(t, 0.9, ds.Variables[1].Lower, 1e-12)
	assert.InDelta(t, 1.3, ds.Variables[1].Upper, 1e-12)
	require.Len(t, ds.Constraints, 2)
	assert.Equal(t, "phi_s@FM4", ds.Constraints[1].String())

	settings, err := ds.Settings([]float64{1, 1.1, 2, 1.2}, elements.CompensateInProgress)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, 1.2, settings["FM4"].KE)
	assert.Equal(t, 2., settings["FM4"].Value)
	assert.Equal(t, elements.CompensateInProgress, settings["FM4"].Status())
	assert.InDelta(t, fm4.Settings.BunchToRF, settings["FM4"].BunchToRF, 1e-12)

	_, err = ds.Settings([]float64{1}, elements.CompensateInProgress)
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))

	g, err := ds.Violations(ref)
	require.NoError(t, err)
	assert.Len(t, g, 4)

	opts.Phase = elements.RefPhiS
	opts.KEMax = 1.1
	ds, err = NewDesignSpace([]*elements.FieldMap{fm2}, ref, opts)
	require.NoError(t, err)
	assert.Empty(t, ds.Constraints)
	assert.Equal(t, optim.VarPhiS, ds.Variables[0].Name)
	assert.GreaterOrEqual(t, ds.Variables[0].X0, opts.PhiSMin)
	assert.LessOrEqual(t, ds.Variables[0].X0, opts.PhiSMax)
	assert.Equal(t, 1.1, ds.Variables[1].Upper)
}
