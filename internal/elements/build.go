package elements

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/units"
)

var log = config.NamedLogger("elements")

// Build creates the full linac described by cfg. Field maps are read through
// lib, which may be shared between several builds.
func Build(cfg *config.Config, lib *fieldmap.Library) (*ListOfElements, error) {
	if lib == nil {
		lib = fieldmap.NewLibrary(cfg.Linac.FieldMapFolder)
	}
	b := builder{cfg: cfg, lib: lib}

	var elts []Element
	lattice := 0
	for s, sec := range cfg.Linac.Sections {
		for _, lat := range sec.Lattices {
			for _, ec := range lat.Elements {
				el, err := b.element(ec)
				if err != nil {
					return nil, err
				}
				base := el.Common()
				base.Index = len(elts)
				base.Lattice = lattice
				base.Section = s
				elts = append(elts, el)
			}
			lattice++
		}
	}

	sigma, err := SigmaIn(cfg)
	if err != nil {
		return nil, err
	}
	l, err := NewListOfElements(elts, cfg.Beam.WKinMeV, cfg.Beam.PhiAbs, sigma)
	if err != nil {
		return nil, err
	}
	log.WithField("elements", l.Len()).WithField("cavities", len(l.Cavities())).Debug("linac built")
	return l, nil
}

type builder struct {
	cfg *config.Config
	lib *fieldmap.Library
}

func (b builder) element(ec config.ElementConfig) (Element, error) {
	switch Kind(ec.Kind) {
	case KindDrift:
		return NewDrift(ec.Name, ec.Length)
	case KindQuad:
		return NewQuad(ec.Name, ec.Length, ec.Gradient)
	case KindBend:
		return NewBend(ec.Name, units.Rad(ec.AngleDeg), ec.Radius, ec.FieldIndex)
	case KindFieldMap:
		return b.fieldMap(ec)
	case KindSuperposed:
		members := make([]*FieldMap, 0, len(ec.Members))
		for _, mc := range ec.Members {
			m, err := b.fieldMap(mc)
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		return NewSuperposedFieldMap(ec.Name, ec.Length, members)
	}
	return nil, fmt.Errorf("%w: element %s has unknown kind %q", dynamo.ErrParameterBounds, ec.Name, ec.Kind)
}

func (b builder) fieldMap(ec config.ElementConfig) (*FieldMap, error) {
	field, err := b.lib.Get(ec.File, ec.Length)
	if err != nil {
		return nil, err
	}
	ref, err := ParseReference(ec.PhaseRef)
	if err != nil {
		return nil, fmt.Errorf("cavity %s: %w", ec.Name, err)
	}
	if ref == RefPhi0Abs && !b.cfg.BeamCalculator.FlagPhiAbs {
		log.WithField("cavity", ec.Name).Debug("absolute phases disabled, phase read as relative")
		ref = RefPhi0Rel
	}
	settings, err := NewCavitySettings(ec.KE, ref, units.Rad(ec.Phi0Deg), ec.FreqMHz, b.cfg.Beam.FBunchMHz)
	if err != nil {
		return nil, fmt.Errorf("cavity %s: %w", ec.Name, err)
	}
	fm, err := NewFieldMap(ec.Name, ec.Length, field, settings)
	if err != nil {
		return nil, err
	}
	fm.Aperture = ec.Aperture
	fm.Offset = ec.Offset
	return fm, nil
}

// SigmaIn returns the input beam matrix for the configured solver: 2x2
// [z-delta] for envelope1d, 6x6 for envelope3d. Without beam.sigma the
// transverse planes reuse the longitudinal block.
func SigmaIn(cfg *config.Config) (*mat.Dense, error) {
	zd := cfg.Beam.SigmaZDelta
	if len(zd) != 2 || len(zd[0]) != 2 || len(zd[1]) != 2 {
		return nil, fmt.Errorf("%w: beam.sigma_zdelta must be 2x2", dynamo.ErrDimensionMismatch)
	}
	long := mat.NewDense(2, 2, []float64{zd[0][0], zd[0][1], zd[1][0], zd[1][1]})
	if cfg.BeamCalculator.Tool != "envelope3d" {
		return long, nil
	}

	if len(cfg.Beam.Sigma) == 6 {
		full := mat.NewDense(6, 6, nil)
		for i, row := range cfg.Beam.Sigma {
			if len(row) != 6 {
				return nil, fmt.Errorf("%w: beam.sigma must be 6x6", dynamo.ErrDimensionMismatch)
			}
			full.SetRow(i, row)
		}
		return full, nil
	}

	log.Warn("beam.sigma not set, transverse planes use the [z-delta] block")
	full := mat.NewDense(6, 6, nil)
	for k := 0; k < 3; k++ {
		full.Slice(2*k, 2*k+2, 2*k, 2*k+2).(*mat.Dense).Copy(long)
	}
	return full, nil
}
