package envelope

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
)

var sigmaZDelta = mat.NewDense(2, 2, []float64{
	2.9511603e-06, -1.9823050e-07,
	-1.9823050e-07, 7.0530474e-07,
})

func twissOf(alpha, beta float64) Twiss {
	return Twiss{Alpha: alpha, Beta: beta, Gamma: (1. + alpha*alpha) / beta}
}

func TestMismatchLaws(t *testing.T) {
	triplets := []Twiss{
		twissOf(0., 1.),
		twissOf(-1.3, 0.4),
		twissOf(2.1, 12.),
		twissOf(0.05, 3.3),
	}

	for _, a := range triplets {
		assert.InDelta(t, 0., Mismatch(a, a), 1e-6)
		for _, b := range triplets {
			assert.Equal(t, Mismatch(a, b), Mismatch(b, a))
			assert.GreaterOrEqual(t, Mismatch(a, b), 0.)
		}
	}
	assert.Greater(t, Mismatch(triplets[0], triplets[2]), 0.1)
	assert.True(t, math.IsNaN(Mismatch(nanTwiss(), triplets[0])))
}

func TestMismatchArray(t *testing.T) {
	ref := []Twiss{twissOf(0, 1), twissOf(1, 2)}
	out, err := MismatchArray(ref, ref)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = MismatchArray(ref, ref[:1])
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))
}

func TestTwissFromSigmaIsConsistent(t *testing.T) {
	eps := Emittance(sigmaZDelta)
	require.Greater(t, eps, 0.)

	for _, space := range []PhaseSpace{ZDelta, Z, X} {
		tw := TwissFromSigma(sigmaZDelta, eps, space)
		assert.InDelta(t, 1., tw.Invariant(), 1e-9, "space %s", space)
	}

	tw := TwissFromSigma(sigmaZDelta, eps, ZDelta)
	assert.InDelta(t, sigmaZDelta.At(0, 0)*10./eps, tw.Beta, 1e-15)
	assert.True(t, TwissFromSigma(sigmaZDelta, 0., ZDelta).IsNaN())
}

func TestSigmaPropagation(t *testing.T) {
	drift := mat.NewDense(2, 2, []float64{1, 0.5, 0, 1})
	sigma, err := Sigma([]*mat.Dense{eye(2), drift}, sigmaZDelta)
	require.NoError(t, err)

	assert.True(t, mat.EqualApprox(sigmaZDelta, sigma[0], 1e-20))
	// det(R) = 1 conserves the emittance.
	assert.InEpsilon(t, Emittance(sigma[0]), Emittance(sigma[1]), 1e-9)
	assert.InDelta(t, sigma[1].At(0, 1), sigma[1].At(1, 0), 1e-20)

	_, err = Sigma([]*mat.Dense{eye(6)}, sigmaZDelta)
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))
}

func TestConvertScalesEmittance(t *testing.T) {
	gamma := []float64{1.0177, 1.05}
	sigma := []*mat.Dense{mat.DenseCopyOf(sigmaZDelta), mat.DenseCopyOf(sigmaZDelta)}
	eps := Emittance(sigmaZDelta)
	lambda := 1.7

	z, err := Convert(sigma, Z, gamma, lambda, 938.27)
	require.NoError(t, err)
	for i, g := range gamma {
		assert.InEpsilon(t, 1e6/(g*g)*eps, z.Eps[i], 1e-9)
	}

	phiw, err := Convert(sigma, PhiW, gamma, lambda, 938.27)
	require.NoError(t, err)
	a, b, err := Scaling(PhiW, gamma[0], lambda, 938.27)
	require.NoError(t, err)
	assert.Less(t, a, 0.)
	assert.InEpsilon(t, math.Abs(a*b)*eps, phiw.Eps[0], 1e-9)

	zdelta := NewPlane(ZDelta, sigma)
	assert.InDelta(t, -zdelta.Twiss[0].Alpha, phiw.Twiss[0].Alpha, 1e-9)

	_, err = Convert(sigma, X, gamma, lambda, 938.27)
	assert.True(t, errors.Is(err, dynamo.ErrMissingAttribute))
}

func TestComputeBeam(t *testing.T) {
	t.Run("longitudinal", func(t *testing.T) {
		b, err := Compute([]*mat.Dense{eye(2), eye(2)}, sigmaZDelta, []float64{1.02, 1.02}, 1.7, 938.27)
		require.NoError(t, err)
		assert.Len(t, b.Planes, 3)
		_, err = b.Plane(X)
		assert.True(t, errors.Is(err, dynamo.ErrNotAvailable))

		zd, err := b.Plane(ZDelta)
		require.NoError(t, err)
		require.NoError(t, b.ComputeMismatch(zd.Twiss))
		assert.InDelta(t, 0., b.Mismatch[1], 1e-6)
	})

	t.Run("3D", func(t *testing.T) {
		in := eye(6)
		in.Scale(1e-6, in)
		for i := 4; i < 6; i++ {
			for j := 4; j < 6; j++ {
				in.Set(i, j, sigmaZDelta.At(i-4, j-4))
			}
		}
		b, err := Compute([]*mat.Dense{eye(6)}, in, []float64{1.02}, 1.7, 938.27)
		require.NoError(t, err)
		assert.Len(t, b.Planes, 5)
		assert.InDelta(t, 1e-6, b.Planes[X].Eps[0], 1e-15)
		assert.InDelta(t, Emittance(sigmaZDelta), b.Planes[ZDelta].Eps[0], 1e-15)
	})
}

func TestParsePhaseSpace(t *testing.T) {
	ps, err := ParsePhaseSpace("phiw")
	require.NoError(t, err)
	assert.Equal(t, PhiW, ps)

	_, err = ParsePhaseSpace("w")
	assert.Error(t, err)
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
