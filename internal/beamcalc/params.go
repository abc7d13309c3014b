package beamcalc

import (
	"fmt"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/transfer"
	"github.com/san-kum/linacsim/internal/units"
)

// elementParams are the constants of one element for one solver, built the
// first time the solver meets the element.
type elementParams struct {
	nSteps int
	dz     float64

	// Field maps only.
	cavity transfer.FieldMapParams
}

func (e *Envelope) params(el elements.Element) (*elementParams, error) {
	p, err := el.Common().Params(e.id, func() (any, error) { return e.buildParams(el) })
	if err != nil {
		return nil, err
	}
	return p.(*elementParams), nil
}

func (e *Envelope) buildParams(el elements.Element) (*elementParams, error) {
	p := &elementParams{nSteps: 1, dz: el.Length()}

	var (
		nSteps  int
		freqMHz float64
	)
	switch c := el.(type) {
	case *elements.FieldMap:
		nSteps = c.NSteps(e.nStepsPerCell)
		freqMHz = c.Settings.FreqMHz
	case *elements.SuperposedFieldMap:
		nSteps = c.NSteps(e.nStepsPerCell)
		freqMHz = c.Members[0].Settings.FreqMHz
		for _, m := range c.Members[1:] {
			if m.Settings.FreqMHz != freqMHz {
				return nil, fmt.Errorf("%w: superposed %s mixes frequencies", dynamo.ErrParameterBounds, el.Name())
			}
		}
	default:
		return p, nil
	}

	p.nSteps = nSteps
	p.dz = el.Length() / float64(nSteps)
	p.cavity = transfer.FieldMapParams{
		DZ:         p.dz,
		NSteps:     nSteps,
		OmegaRF:    units.Omega(freqMHz),
		OmegaBunch: e.omegaBunch,
		BunchToRF:  freqMHz / e.fBunchMHz,
		QAdim:      e.qAdim,
		ERest:      e.eRest,
	}
	return p, nil
}
