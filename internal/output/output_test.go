package output

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/units"
)

const eRest = 938.27203

func eye() *mat.Dense { return mat.NewDense(2, 2, []float64{1, 0, 0, 1}) }

// sample builds a two element output: a 2 step drift then a 3 step cavity.
func sample(t *testing.T) *SimulationOutput {
	t.Helper()
	o := New("test", 0., 1.02, 0.5, eye())

	entry := o.Entry()
	for i := 1; i <= 2; i++ {
		o.Gamma = append(o.Gamma, 1.02)
		o.PhiAbs = append(o.PhiAbs, 0.5+0.1*float64(i))
		o.ZAbs = append(o.ZAbs, 0.05*float64(i))
		o.TmCumul = append(o.TmCumul, mat.NewDense(2, 2, []float64{1, 0.05 * float64(i), 0, 1}))
	}
	o.AppendElement("DR1", entry)

	entry = o.Entry()
	for i := 1; i <= 3; i++ {
		o.Gamma = append(o.Gamma, 1.02+0.001*float64(i))
		o.PhiAbs = append(o.PhiAbs, 0.7+0.2*float64(i))
		o.ZAbs = append(o.ZAbs, 0.1+0.1*float64(i))
		o.TmCumul = append(o.TmCumul, mat.NewDense(2, 2, []float64{1, 0.1 + 0.05*float64(i), 0, 1}))
	}
	o.AppendElement("FM1", entry)
	o.AppendCavity(CavityParams{Name: "FM1", Status: elements.Nominal, KE: 1., Phi0Abs: 1., Phi0Rel: 2., VCav: 0.8, PhiS: -0.5})

	sigma := mat.NewDense(2, 2, []float64{2.95e-06, -1.98e-07, -1.98e-07, 7.05e-07})
	require.NoError(t, o.Finalize(sigma, units.Wavelength(176.1), eRest))
	return o
}

func TestGetSlicesElements(t *testing.T) {
	o := sample(t)
	require.Equal(t, 6, o.Len())

	tests := []struct {
		name string
		key  string
		q    Query
		want []float64
	}{
		{"whole linac", KeyZAbs, Query{}, []float64{0, 0.05, 0.1, 0.2, 0.3, 0.4}},
		{"element", KeyZAbs, Query{Elt: "FM1"}, []float64{0.1, 0.2, 0.3, 0.4}},
		{"element entry", KeyPhiAbs, Query{Elt: "FM1", Pos: PosIn}, []float64{0.7}},
		{"element exit", KeyGamma, Query{Elt: "DR1", Pos: PosOut}, []float64{1.02}},
		{"linac exit", KeyZAbs, Query{Pos: PosOut}, []float64{0.4}},
		{"transfer matrix", KeyRZDelta, Query{Elt: "DR1"}, []float64{0, 0.05, 0.1}},
		{"cavity", KeyPhiS, Query{Elt: "FM1"}, []float64{-0.5}},
		{"cavity in deg", KeyPhiS, Query{Elt: "FM1", ToDeg: true}, []float64{units.Deg(-0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := o.Get(tt.key, tt.q)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestGetDoesNotAlias(t *testing.T) {
	o := sample(t)
	v, err := o.Get(KeyGamma, Query{})
	require.NoError(t, err)
	v[0] = 42.
	assert.Equal(t, 1.02, o.Gamma[0])
}

func TestGetMissingData(t *testing.T) {
	o := sample(t)

	_, err := o.Get(KeyMismatch, Query{})
	assert.True(t, IsNotAvailable(err))
	assert.True(t, math.IsNaN(o.Scalar(KeyMismatch, Query{})))

	_, err = o.Get("eps_x", Query{})
	assert.True(t, IsNotAvailable(err))

	_, err = o.Get(KeyWKin, Query{Elt: "QP9"})
	assert.True(t, IsNotAvailable(err))

	_, err = o.Get("emittance", Query{})
	assert.True(t, errors.Is(err, dynamo.ErrMissingAttribute))
}

func TestBeamKeys(t *testing.T) {
	o := sample(t)
	for _, key := range o.Keys() {
		if key == KeyMismatch {
			continue
		}
		_, err := o.Get(key, Query{})
		assert.NoError(t, err, key)
	}

	eps := o.Scalar("eps_zdelta", Query{Elt: "DR1", Pos: PosIn})
	assert.InDelta(t, math.Sqrt(2.95e-06*7.05e-07-1.98e-07*1.98e-07), eps, 1e-18)

	w := o.Scalar(KeyWKin, Query{})
	want, err := units.KineticFromGamma(1.023, eRest)
	require.NoError(t, err)
	assert.InDelta(t, want, w, 1e-9)
}

func TestComputeMismatchAgainstItself(t *testing.T) {
	o := sample(t)
	require.NoError(t, o.ComputeMismatch(o))
	m, err := o.Get(KeyMismatch, Query{})
	require.NoError(t, err)
	for _, v := range m {
		assert.InDelta(t, 0., v, 1e-6)
	}

	bare := New("bare", 0, 1.1, 0, eye())
	assert.True(t, IsNotAvailable(bare.ComputeMismatch(o)))
}

func TestCavityLookup(t *testing.T) {
	o := sample(t)
	c, err := o.Cavity("FM1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, c.VCav)

	_, err = o.Cavity("FM2")
	assert.True(t, IsNotAvailable(err))
	assert.Equal(t, []string{"DR1", "FM1"}, o.ElementNames())
}
