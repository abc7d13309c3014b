//go:build sqlite

package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() {
		_ = store.Close()
	})

	r := record(t)
	require.NoError(t, store.SaveRun(ctx, r))
	r.Meta.Success = true
	require.NoError(t, store.SaveRun(ctx, r))

	got, ok, err := store.GetRun(ctx, r.Meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Meta.Success)
	assert.True(t, math.IsNaN(float64(got.Cavities[1].VCav)))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	_, _, err := store.GetRun(context.Background(), "x")
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}
