package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/linactest"
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/storage"
)

const studyYAML = `
name: fm3 and fm6
description: single failures of the synthetic linac
cases:
  - name: fm3
    failed: [[FM3]]
    k: 2
  - name: unknown algorithm
    failed: [[FM3]]
    optimisation_algorithm: simulated_annealing
sweep:
  failed: [[FM6]]
  k_min: 1
  k_max: 2
`

func base(t *testing.T) *config.Config {
	cfg := linactest.Config(t, 4, 2)
	cfg.WTF.Algorithm = optim.NameDownhillSimplex
	cfg.WTF.AlgorithmKwargs.MaxEvaluations = 150
	return cfg
}

func TestLoadStudy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study.yaml")
	require.NoError(t, os.WriteFile(path, []byte(studyYAML), 0644))

	study, err := LoadStudy(path)
	require.NoError(t, err)
	assert.Equal(t, "fm3 and fm6", study.Name)

	cases, err := study.AllCases()
	require.NoError(t, err)
	require.Len(t, cases, 4)
	assert.Equal(t, [][]string{{"FM3"}}, cases[0].Failed)
	assert.Equal(t, "k=1", cases[2].Name)
	assert.Equal(t, 2, cases[3].K)
	assert.Equal(t, "k out of n", cases[3].Strategy)

	_, err = LoadStudy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSweepRange(t *testing.T) {
	for _, s := range []Sweep{{KMin: 0, KMax: 2}, {KMin: 3, KMax: 2}} {
		_, err := s.Cases()
		assert.Error(t, err)
	}
	_, err := (&Study{Name: "empty"}).AllCases()
	assert.Error(t, err)
}

func TestApplyCopiesBase(t *testing.T) {
	cfg := base(t)
	patched, err := Case{Failed: [][]string{{"FM5"}}, K: 3, WTFPreset: "explorator", SolverPreset: "envelope3d"}.Apply(cfg)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"FM5"}}, patched.WTF.Failed)
	assert.Equal(t, 3, patched.WTF.K)
	assert.Equal(t, optim.NameExplorator, patched.WTF.Algorithm)
	assert.Equal(t, "envelope3d", patched.BeamCalculator.Tool)

	assert.Empty(t, cfg.WTF.Failed)
	assert.Equal(t, "envelope1d", cfg.BeamCalculator.Tool)
	assert.Equal(t, cfg.Linac.FieldMapFolder, patched.Linac.FieldMapFolder)
	assert.Len(t, patched.Linac.Sections, len(cfg.Linac.Sections))

	_, err = Case{WTFPreset: "nope"}.Apply(cfg)
	assert.Error(t, err)
}

func TestRunStudy(t *testing.T) {
	ctx := context.Background()
	study := &Study{
		Name: "synthetic",
		Cases: []Case{
			{Name: "fm3", Failed: [][]string{{"FM3"}}, K: 2},
			{Name: "unknown solver preset", Failed: [][]string{{"FM3"}}, SolverPreset: "rk9"},
		},
		Sweep: &Sweep{Failed: [][]string{{"FM6"}}, KMin: 1, KMax: 2},
	}
	st := storage.NewMemoryStore()
	require.NoError(t, st.Init(ctx))

	results, err := RunStudy(ctx, study, base(t), nil, st)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].RunIDs, 1)
	assert.Len(t, results[0].Metrics, 1)
	assert.Positive(t, results[0].Evaluations)

	assert.Error(t, results[1].Err)
	assert.False(t, results[1].Success)
	assert.Empty(t, results[1].RunIDs)

	for _, r := range results[2:] {
		require.NoError(t, r.Err)
		require.Len(t, r.RunIDs, 1)
		rec, ok, err := st.GetRun(ctx, r.RunIDs[0])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"FM6"}, rec.Meta.Failed)
		assert.Len(t, rec.Faults[0].Compensating, r.Case.K)
	}
}

func TestRunStudyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	study := &Study{Cases: []Case{{Name: "fm3", Failed: [][]string{{"FM3"}}}}}
	results, err := RunStudy(ctx, study, base(t), nil, storage.NewMemoryStore())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
