// Package linactest contains testing utils: synthetic field maps and small
// linacs built on them.
package linactest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/units"
)

// TB is the part of testing.TB the helpers use, also met by GinkgoT().
type TB interface {
	Helper()
	TempDir() string
	Fatal(args ...any)
}

const (
	FreqMHz       = 352.2
	CavityLen     = 0.16
	FieldFile     = "sine2"
	Amplitude     = 10.
	NominalPhiDeg = 250.
)

// WriteSine writes an .edz file holding an nCell sine field of peak
// amplitude (MV/m) over zmax, and returns its path.
func WriteSine(tb TB, dir, name string, nz int, zmax float64, nCell int, amplitude float64) string {
	tb.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "%d %g\n1.\n", nz, zmax)
	for i := 0; i <= nz; i++ {
		z := zmax * float64(i) / float64(nz)
		fmt.Fprintf(&b, "%.15g\n", amplitude*math.Sin(float64(nCell)*math.Pi*z/zmax))
	}
	path := filepath.Join(dir, name+".edz")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		tb.Fatal(err)
	}
	return path
}

// Config returns a proton linac of nLattices lattices split in two sections.
// Each lattice is a quadrupole doublet followed by cavitiesPerLattice
// two-cell cavities separated by drifts. Cavity names are FM1, FM2, ...
func Config(tb TB, nLattices, cavitiesPerLattice int) *config.Config {
	tb.Helper()
	dir := tb.TempDir()
	WriteSine(tb, dir, FieldFile, 80, CavityLen, 2, Amplitude)

	cfg := config.DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Linac.Name = "synthetic"
	cfg.Linac.FieldMapFolder = dir
	cfg.Storage.Dir = filepath.Join(dir, "runs")
	cfg.BeamCalculator.NStepsPerCell = 20

	cav, quad, drift := 0, 0, 0
	next := func(prefix string, n *int) string {
		*n++
		return fmt.Sprintf("%s%d", prefix, *n)
	}

	half := (nLattices + 1) / 2
	for s := 0; s < 2; s++ {
		sec := config.SectionConfig{Name: fmt.Sprintf("section%d", s+1)}
		lo, hi := 0, half
		if s == 1 {
			lo, hi = half, nLattices
		}
		for l := lo; l < hi; l++ {
			var lat config.LatticeConfig
			lat.Elements = append(lat.Elements,
				config.ElementConfig{Kind: "quad", Name: next("QP", &quad), Length: 0.05, Gradient: 8.},
				config.ElementConfig{Kind: "drift", Name: next("DR", &drift), Length: 0.05},
				config.ElementConfig{Kind: "quad", Name: next("QP", &quad), Length: 0.05, Gradient: -8.},
			)
			for c := 0; c < cavitiesPerLattice; c++ {
				lat.Elements = append(lat.Elements,
					config.ElementConfig{Kind: "drift", Name: next("DR", &drift), Length: 0.08},
					config.ElementConfig{
						Kind: "field_map", Name: next("FM", &cav), Length: CavityLen,
						File: FieldFile, FreqMHz: FreqMHz, KE: 1., Phi0Deg: NominalPhiDeg,
						PhaseRef: "phi_0_rel", Aperture: 0.015,
					},
				)
			}
			lat.Elements = append(lat.Elements, config.ElementConfig{Kind: "drift", Name: next("DR", &drift), Length: 0.08})
			sec.Lattices = append(sec.Lattices, lat)
		}
		if len(sec.Lattices) > 0 {
			cfg.Linac.Sections = append(cfg.Linac.Sections, sec)
		}
	}
	return cfg
}

// PhaseAdvance returns the bunch phase advance of a drift of length l for a
// particle of kinetic energy wKin.
func PhaseAdvance(tb TB, wKin, l float64) float64 {
	tb.Helper()
	beta, err := units.BetaFromKinetic(wKin, config.DefaultERestMeV)
	if err != nil {
		tb.Fatal(err)
	}
	return units.Omega(config.DefaultFBunchMHz) * l / (beta * units.C)
}
