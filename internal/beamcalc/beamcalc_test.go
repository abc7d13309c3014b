package beamcalc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/linactest"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/units"
)

func setup(t *testing.T, mutate func(*config.Config)) (*Envelope, *elements.ListOfElements) {
	t.Helper()
	cfg := linactest.Config(t, 4, 2)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	l, err := elements.Build(cfg, nil)
	require.NoError(t, err)
	solver, err := New(cfg)
	require.NoError(t, err)
	return solver, l
}

func TestNominalPropagation(t *testing.T) {
	solver, l := setup(t, nil)
	out, err := solver.Run(l)
	require.NoError(t, err)

	nSteps := 0
	for _, el := range l.Elements {
		switch c := el.(type) {
		case *elements.FieldMap:
			nSteps += c.NSteps(20)
		default:
			nSteps++
		}
	}
	assert.Equal(t, nSteps+1, out.Len())
	assert.Len(t, out.WKin, out.Len())
	assert.Len(t, out.TmCumul, out.Len())

	wOut, _ := out.Exit()
	assert.Greater(t, wOut, l.WKinIn+1.)

	var length float64
	for _, el := range l.Elements {
		length += el.Length()
	}
	assert.InDelta(t, length, out.ZAbs[out.Len()-1], 1e-12)

	require.Len(t, out.Cavities, 8)
	for _, c := range out.Cavities {
		assert.Greater(t, c.VCav, 0.)
		assert.False(t, math.IsNaN(c.PhiS))
	}

	for _, el := range l.Elements {
		if _, ok := el.(*elements.Drift); !ok {
			continue
		}
		entry, exit, err := out.Slice(el.Name())
		require.NoError(t, err)
		assert.Equal(t, out.WKin[entry], out.WKin[exit], el.Name())
	}

	zd, err := out.Beam.Plane(envelope.ZDelta)
	require.NoError(t, err)
	for _, tw := range zd.Twiss {
		assert.InDelta(t, 1., tw.Invariant(), 1e-6)
	}
}

func TestPropagationIsDeterministic(t *testing.T) {
	solver, l := setup(t, nil)
	a, err := solver.Run(l)
	require.NoError(t, err)
	b, err := solver.Run(l)
	require.NoError(t, err)

	assert.Equal(t, a.Gamma, b.Gamma)
	assert.Equal(t, a.PhiAbs, b.PhiAbs)
	assert.Equal(t, a.Cavities, b.Cavities)
	for i := range a.TmCumul {
		assert.Equal(t, a.TmCumul[i].RawMatrix().Data, b.TmCumul[i].RawMatrix().Data)
	}
}

func TestFailedCavityKeepsShape(t *testing.T) {
	solver, l := setup(t, nil)
	nominal, err := solver.Run(l)
	require.NoError(t, err)

	fm, err := l.Cavity("FM3")
	require.NoError(t, err)
	failed := fm.Settings.Copy()
	require.NoError(t, failed.SetStatus(elements.Failed))

	broken, err := solver.RunWithThis(elements.SetOfCavitySettings{"FM3": failed}, l)
	require.NoError(t, err)

	assert.Equal(t, nominal.Len(), broken.Len())
	e1, x1, _ := nominal.Slice("FM3")
	e2, x2, _ := broken.Slice("FM3")
	assert.Equal(t, e1, e2)
	assert.Equal(t, x1, x2)

	cav, err := broken.Cavity("FM3")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(cav.VCav))
	assert.True(t, math.IsNaN(cav.PhiS))
	assert.Equal(t, elements.Failed, cav.Status)
	assert.Equal(t, broken.WKin[e2], broken.WKin[x2])

	wNominal, _ := nominal.Exit()
	wBroken, _ := broken.Exit()
	assert.Less(t, wBroken, wNominal)

	assert.Equal(t, elements.Nominal, fm.Settings.Status())
}

// withSuperposed closes the linac with a superposed element SP made of two
// overlapping cavities SA and SB.
func withSuperposed(c *config.Config) {
	member := func(name string, offset float64) config.ElementConfig {
		return config.ElementConfig{
			Kind: "field_map", Name: name, Length: linactest.CavityLen,
			File: linactest.FieldFile, FreqMHz: linactest.FreqMHz, KE: 0.5,
			Phi0Deg: linactest.NominalPhiDeg, PhaseRef: "phi_0_rel", Offset: offset,
		}
	}
	sec := &c.Linac.Sections[len(c.Linac.Sections)-1]
	lat := &sec.Lattices[len(sec.Lattices)-1]
	lat.Elements = append(lat.Elements, config.ElementConfig{
		Kind: "superposed", Name: "SP", Length: linactest.CavityLen + 0.04,
		Members: []config.ElementConfig{member("SA", 0.), member("SB", 0.04)},
	})
}

func TestFailedSuperposedMemberHasNoParameters(t *testing.T) {
	solver, l := setup(t, withSuperposed)
	nominal, err := solver.Run(l)
	require.NoError(t, err)
	for _, name := range []string{"SA", "SB"} {
		cav, err := nominal.Cavity(name)
		require.NoError(t, err)
		assert.Greater(t, cav.VCav, 0.)
		assert.False(t, math.IsNaN(cav.PhiS))
	}

	failed := func(name string) *elements.CavitySettings {
		cs := nominal.Settings[name].Copy()
		require.NoError(t, cs.SetStatus(elements.Failed))
		return cs
	}

	tests := []struct {
		name   string
		failed []string
		active []string
	}{
		{"one member", []string{"SA"}, []string{"SB"}},
		{"every member", []string{"SA", "SB"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := elements.SetOfCavitySettings{}
			for _, name := range tt.failed {
				settings[name] = failed(name)
			}
			out, err := solver.RunWithThis(settings, l)
			require.NoError(t, err)
			assert.Equal(t, nominal.Len(), out.Len())

			for _, name := range tt.failed {
				cav, err := out.Cavity(name)
				require.NoError(t, err)
				assert.Equal(t, elements.Failed, cav.Status)
				assert.True(t, math.IsNaN(cav.VCav), name)
				assert.True(t, math.IsNaN(cav.PhiS), name)
			}
			for _, name := range tt.active {
				cav, err := out.Cavity(name)
				require.NoError(t, err)
				assert.Greater(t, cav.VCav, 0.)
				assert.False(t, math.IsNaN(cav.PhiS))
			}
		})
	}
}

func TestPhasesAreConsistent(t *testing.T) {
	solver, l := setup(t, nil)
	out, err := solver.Run(l)
	require.NoError(t, err)

	for _, cav := range l.Cavities() {
		cs := out.Settings[cav.Name()]
		require.NotNil(t, cs)
		entry, _, err := out.Slice(cav.Name())
		require.NoError(t, err)

		phiRF, err := cs.PhiRF()
		require.NoError(t, err)
		assert.InDelta(t, cs.BunchToRF*out.PhiAbs[entry], phiRF, 1e-9)

		abs, err := cs.Phi0Abs()
		require.NoError(t, err)
		rel, err := cs.Phi0Rel()
		require.NoError(t, err)
		assert.InDelta(t, 0., units.WrapPi(rel-(abs+phiRF)), 1e-9)
	}
}

func TestAbsolutePhaseCavitiesAreNotRephased(t *testing.T) {
	solver, l := setup(t, nil)
	nominal, err := solver.Run(l)
	require.NoError(t, err)

	overrides := elements.SetOfCavitySettings{}
	for _, cav := range l.Cavities() {
		cs := nominal.Settings[cav.Name()].Copy()
		require.NoError(t, cs.SetReference(elements.RefPhi0Abs))
		overrides[cav.Name()] = cs
	}
	same, err := solver.RunWithThis(overrides, l)
	require.NoError(t, err)
	assert.InDeltaSlice(t, nominal.Gamma, same.Gamma, 1e-12)

	failed := overrides["FM1"].Copy()
	require.NoError(t, failed.SetStatus(elements.Failed))
	overrides["FM1"] = failed
	broken, err := solver.RunWithThis(overrides, l)
	require.NoError(t, err)

	c2, _ := broken.Cavity("FM2")
	n2, _ := nominal.Cavity("FM2")
	assert.InDelta(t, n2.Phi0Abs, c2.Phi0Abs, 1e-12)
	assert.Greater(t, math.Abs(units.WrapPi(n2.Phi0Rel-c2.Phi0Rel)), 1e-6)
}

func TestSynchronousPhaseReference(t *testing.T) {
	solver, l := setup(t, nil)
	nominal, err := solver.Run(l)
	require.NoError(t, err)

	ref, err := nominal.Cavity("FM2")
	require.NoError(t, err)

	cs := nominal.Settings["FM2"].Copy()
	require.NoError(t, cs.SetReference(elements.RefPhiS))
	out, err := solver.RunWithThis(elements.SetOfCavitySettings{"FM2": cs}, l)
	require.NoError(t, err)

	got, err := out.Cavity("FM2")
	require.NoError(t, err)
	assert.InDelta(t, 0., units.WrapPi(got.PhiS-ref.PhiS), 1e-6)
	assert.InDelta(t, 0., units.WrapPi(got.Phi0Rel-ref.Phi0Rel), 1e-5)

	w1, _ := nominal.Exit()
	w2, _ := out.Exit()
	assert.InDelta(t, w1, w2, 1e-6)
}

func TestSolvePhiSReachesTargets(t *testing.T) {
	methods := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"RK4", nil},
		{"leapfrog", func(c *config.Config) { c.BeamCalculator.Method = "leapfrog" }},
	}
	for _, m := range methods {
		t.Run(m.name, func(t *testing.T) {
			solver, l := setup(t, m.mutate)
			fm, err := l.Cavity("FM1")
			require.NoError(t, err)
			p, err := solver.params(fm)
			require.NoError(t, err)
			gamma, err := units.GammaFromKinetic(l.WKinIn, solver.ERest())
			require.NoError(t, err)

			for _, deg := range []float64{-90., -40., -10., 30.} {
				target := units.Rad(deg)
				phi0, err := solver.SolvePhiS(fm, 1., target, gamma, p.cavity)
				require.NoError(t, err, "target %g deg", deg)
				assert.GreaterOrEqual(t, phi0, 0.)
				assert.Less(t, phi0, units.TwoPi)

				// the phase is checked with the integrator that propagates the beam
				cp := p.cavity
				cp.Field = fieldmap.RF{Field: fm.Field, KE: 1., Phi0Rel: phi0}
				res, err := solver.integrate(gamma, cp)
				require.NoError(t, err)
				_, phiS := elements.CavityParameters(res.Field)
				assert.InDelta(t, 0., units.WrapPi(phiS-target), 1e-7, "target %g deg", deg)
			}
		})
	}
}

func TestSubSectionContinuesFullLinac(t *testing.T) {
	solver, l := setup(t, nil)
	full, err := solver.Run(l)
	require.NoError(t, err)

	first, ok := l.IndexOf("FM3")
	require.True(t, ok)
	entry, _, err := full.Slice("FM3")
	require.NoError(t, err)

	sub, err := l.Sub(first, l.Len()-1, full.WKin[entry], full.PhiAbs[entry], l.SigmaIn, full.TmCumul[entry])
	require.NoError(t, err)
	part, err := solver.Run(sub)
	require.NoError(t, err)

	wFull, phiFull := full.Exit()
	wPart, phiPart := part.Exit()
	assert.InDelta(t, wFull, wPart, 1e-9)
	assert.InDelta(t, phiFull, phiPart, 1e-9)
	assert.True(t, mat.EqualApprox(full.TmCumul[full.Len()-1], part.TmCumul[part.Len()-1], 1e-9))
	assert.InDelta(t, full.ZAbs[full.Len()-1], part.ZAbs[part.Len()-1], 1e-12)

	fEps := full.Scalar("eps_zdelta", output.Query{})
	pEps := part.Scalar("eps_zdelta", output.Query{})
	assert.InEpsilon(t, fEps, pEps, 1e-9)
}

func TestEnvelope3DMatchesLongitudinal(t *testing.T) {
	s1, l1 := setup(t, nil)
	s3, l3 := setup(t, func(c *config.Config) { c.BeamCalculator.Tool = "envelope3d" })
	assert.Equal(t, 6, s3.Dim())

	o1, err := s1.Run(l1)
	require.NoError(t, err)
	o3, err := s3.Run(l3)
	require.NoError(t, err)

	assert.InDeltaSlice(t, o1.Gamma, o3.Gamma, 1e-12)
	r1, err := o1.Get(output.KeyRZDelta, output.Query{Pos: output.PosOut})
	require.NoError(t, err)
	r3, err := o3.Get(output.KeyRZDelta, output.Query{Pos: output.PosOut})
	require.NoError(t, err)
	assert.InDelta(t, r1[0], r3[0], 1e-9)

	_, err = o3.Get("eps_x", output.Query{})
	assert.NoError(t, err)
	_, err = o1.Get("eps_x", output.Query{})
	assert.True(t, output.IsNotAvailable(err))
}

func TestLeapfrogAgreesWithRK4(t *testing.T) {
	rk, l1 := setup(t, nil)
	lf, l2 := setup(t, func(c *config.Config) {
		c.BeamCalculator.Method = "leapfrog"
		c.BeamCalculator.NStepsPerCell = 60
	})
	a, err := rk.Run(l1)
	require.NoError(t, err)
	b, err := lf.Run(l2)
	require.NoError(t, err)

	wA, _ := a.Exit()
	wB, _ := b.Exit()
	assert.InEpsilon(t, wA-l1.WKinIn, wB-l2.WKinIn, 1e-2)
}

func TestInvalidTrialIsLocated(t *testing.T) {
	solver, l := setup(t, func(c *config.Config) { c.Beam.WKinMeV = 0.05 })
	fm, err := l.Cavity("FM1")
	require.NoError(t, err)
	cs := fm.Settings.Copy()
	cs.KE = 200.
	cs.Value = units.Rad(90.)

	_, err = solver.RunWithThis(elements.SetOfCavitySettings{"FM1": cs}, l)
	require.Error(t, err)
	var se *dynamo.SimulationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "FM1", se.Element)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := NewEnvelope3D(Options{Method: Leapfrog, NStepsPerCell: 40, ERest: 938., FBunchMHz: 176.1})
	assert.True(t, errors.Is(err, dynamo.ErrParameterBounds))

	_, err = NewEnvelope1D(Options{Method: "euler", NStepsPerCell: 40, ERest: 938., FBunchMHz: 176.1})
	assert.True(t, errors.Is(err, dynamo.ErrParameterBounds))

	cfg := config.DefaultConfig()
	cfg.BeamCalculator.Tool = "tracewin"
	_, err = New(cfg)
	assert.Error(t, err)
}
