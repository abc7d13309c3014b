package main

import (
	"bytes"
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

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	cfg := linactest.Config(t, 2, 2)
	cfg.Log.Level = "error"
	cfg.WTF.Failed = [][]string{{"FM2"}}
	cfg.WTF.K = 2
	cfg.WTF.Algorithm = optim.NameDownhillSimplex
	cfg.WTF.AlgorithmKwargs.MaxEvaluations = 200

	path := filepath.Join(t.TempDir(), "linac.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, cfg
}

func runs(t *testing.T, cfg *config.Config) []storage.RunMetadata {
	t.Helper()
	st := storage.NewFileStore(cfg.Storage.Dir)
	list, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	return list
}

func TestRunListShowExport(t *testing.T) {
	path, cfg := writeConfig(t)

	out, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "synthetic")

	list := runs(t, cfg)
	require.Len(t, list, 1)
	id := list[0].ID
	assert.Equal(t, storage.KindNominal, list[0].Kind)

	out, err = execute(t, "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, id)

	svg := filepath.Join(t.TempDir(), "zdelta.svg")
	out, err = execute(t, "show", id[:8], "--config", path, "--phase", "zdelta", "--phase-out", svg, "--all")
	require.NoError(t, err)
	assert.FileExists(t, svg)
	assert.Contains(t, out, "FM1")
	assert.Contains(t, out, "[zdelta] exit ellipse")

	out, err = execute(t, "plot", id, "--config", path, "--key", "w_kin")
	require.NoError(t, err)
	assert.Contains(t, out, "w_kin vs mesh point")

	_, err = execute(t, "plot", id, "--config", path, "--key", "nope")
	assert.Error(t, err)

	xlsx := filepath.Join(t.TempDir(), "run.xlsx")
	_, err = execute(t, "export", id, "--config", path, "--format", "xlsx", "-o", xlsx)
	require.NoError(t, err)
	_, err = os.Stat(xlsx)
	assert.NoError(t, err)

	_, err = execute(t, "show", "missing", "--config", path)
	assert.Error(t, err)
}

func TestFix(t *testing.T) {
	path, cfg := writeConfig(t)

	histories := t.TempDir()
	out, err := execute(t, "fix", "--config", path, "--parallel", "2", "--history-dir", histories)
	require.NoError(t, err)
	assert.Contains(t, out, "1 scenarios")
	assert.Contains(t, out, "fault 0")

	list := runs(t, cfg)
	require.Len(t, list, 2)

	var fixID string
	for _, r := range list {
		if r.Kind == storage.KindFix {
			fixID = r.ID
			assert.Equal(t, []string{"FM2"}, r.Failed)
		}
	}
	require.NotEmpty(t, fixID)

	written, err := os.ReadDir(histories)
	require.NoError(t, err)
	assert.Len(t, written, 1, "one directory per scenario")

	png := filepath.Join(t.TempDir(), "mismatch.png")
	_, err = execute(t, "plot", fixID, "--config", path, "--key", "w_kin", "--ref", "--png", png)
	require.NoError(t, err)
	_, err = os.Stat(png)
	assert.NoError(t, err)
}

func TestStudy(t *testing.T) {
	path, cfg := writeConfig(t)
	study := filepath.Join(t.TempDir(), "study.yaml")
	require.NoError(t, os.WriteFile(study, []byte("name: sweep\nsweep:\n  failed: [[FM3]]\n  k_min: 1\n  k_max: 2\n"), 0644))

	out, err := execute(t, "study", study, "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "k=1")
	assert.Contains(t, out, "k=2")

	// one nominal and one fix run per case
	assert.Len(t, runs(t, cfg), 4)
}

func TestFlagErrors(t *testing.T) {
	path, _ := writeConfig(t)

	_, err := execute(t, "run", "--config", path, "--theme", "neon")
	assert.ErrorContains(t, err, "unknown theme")

	_, err = execute(t, "run", "--config", path, "--preset", "nope")
	assert.ErrorContains(t, err, "unknown preset")

	_, err = execute(t, "fix", "--config", path, "--backend", "tape")
	assert.Error(t, err)

	_, err = execute(t, "export", "x", "--config", path, "--format", "csv")
	assert.Error(t, err)
}

func TestPresetsAndFieldMap(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "k-out-of-n")
	assert.Contains(t, out, "envelope3d")
	assert.Contains(t, out, "retro")

	edz := linactest.WriteSine(t, t.TempDir(), "cav", 40, 0.16, 2, 5)
	out, err = execute(t, "fieldmap", edz, "--length", "0.16")
	require.NoError(t, err)
	assert.Contains(t, out, "cells")
	assert.Contains(t, out, "cav.edz")
}
