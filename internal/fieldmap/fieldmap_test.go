package fieldmap

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeSine(t, dir, "cav.edz", 200, 0.4, 2, 1.)

	f, err := Load(path, 0.4)
	require.NoError(t, err)

	assert.Equal(t, 200, f.NZ)
	assert.InDelta(t, 0.4, f.Length(), 1e-12)
	assert.Len(t, f.Samples(), 201)
	// The leading zero sample opens its own group before the two lobes.
	assert.Equal(t, 3, f.NCell)
}

func TestLoadTabSeparatedHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tab.edz")
	content := "2\t\t0.2\n1.\n0\n5\n0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := Load(path, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f.E(0.05), 1e-12)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		length  float64
	}{
		{"bad header", "abc\n1\n0\n", 0},
		{"missing zmax", "2\n1\n0\n1\n0\n", 0},
		{"truncated", "4 0.2\n1\n0\n1\n", 0},
		{"bad sample", "1 0.2\n1\n0\nx\n", 0},
		{"length mismatch", "1 0.2\n1\n0\n1\n", 0.3},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.content), "test.edz", tt.length)
			require.Error(t, err)
			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestNormalisationApplied(t *testing.T) {
	f, err := Parse(strings.NewReader("1 1.0\n2.\n4\n4\n"), "norm.edz", 1.)
	require.NoError(t, err)
	assert.InDelta(t, 2., f.E(0.5), 1e-12)
}

func TestEvaluateOutsideMesh(t *testing.T) {
	f, err := New([]float64{1, 3, 5}, 2.)
	require.NoError(t, err)

	assert.Equal(t, 0., f.E(-0.1))
	assert.Equal(t, 0., f.E(2.1))
	assert.InDelta(t, 2., f.E(0.5), 1e-12)
	assert.InDelta(t, 5., f.E(2.), 1e-12)
}

func TestCountCells(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    int
	}{
		{"single positive lobe", []float64{1, 2, 1}, 1},
		{"two lobes", []float64{1, 2, -1, -2}, 2},
		{"zero counts as negative", []float64{0, 1, 0, -1, 0}, 3},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountCells(tt.samples))
		})
	}
}

func TestRFComplexAndReal(t *testing.T) {
	f, err := New([]float64{2, 2}, 1.)
	require.NoError(t, err)
	rf := RF{Field: f, KE: 1.5, Phi0Rel: 0.3}

	c := rf.Complex(0.5, 0.2)
	assert.InDelta(t, 3.*math.Cos(0.5), real(c), 1e-12)
	assert.InDelta(t, 3.*math.Sin(0.5), imag(c), 1e-12)
	assert.InDelta(t, real(c), rf.Real(0.5, 0.2), 1e-12)

	// tan(π/2) would diverge in the naive form.
	c = RF{Field: f, KE: 1., Phi0Rel: math.Pi / 2}.Complex(0.5, 0.)
	assert.False(t, math.IsNaN(real(c)) || math.IsInf(imag(c), 0))
}

func TestSuperposed(t *testing.T) {
	f, err := New([]float64{1, 1}, 1.)
	require.NoError(t, err)
	s := Superposed{
		{Field: f, KE: 1., Phi0Rel: 0.},
		{Field: f, KE: 1., Phi0Rel: math.Pi},
	}
	assert.InDelta(t, 0., s.Real(0.5, 0.1), 1e-12)

	shifted := RF{Field: f, KE: 1., Offset: 0.5}
	assert.Equal(t, 0., shifted.Real(0.2, 0.))
	assert.InDelta(t, 1., shifted.Real(0.7, 0.), 1e-12)
}

func TestLibraryCaches(t *testing.T) {
	dir := t.TempDir()
	writeSine(t, dir, "shared.edz", 50, 0.3, 1, 1.)
	lib := NewLibrary(dir)

	a, err := lib.Get("shared", 0.3)
	require.NoError(t, err)
	b, err := lib.Get("shared.edz", 0.3)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = lib.Get("missing", 0.3)
	assert.Error(t, err)
}
