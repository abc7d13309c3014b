package elements

import (
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/transfer"
)

type Kind string

const (
	KindDrift      Kind = "drift"
	KindQuad       Kind = "quad"
	KindBend       Kind = "bend"
	KindFieldMap   Kind = "field_map"
	KindSuperposed Kind = "superposed"
)

// Element is one beam-line segment. The set of implementations is closed:
// *Drift, *Quad, *Bend, *FieldMap and *SuperposedFieldMap.
type Element interface {
	Name() string
	Kind() Kind
	Length() float64
	Common() *Base
}

// Base is embedded by every element. It owns the per-solver parameters.
type Base struct {
	name     string
	length   float64
	Aperture float64

	// Index is the position in the full linac, Lattice and Section the
	// global indexes of the groups holding the element.
	Index   int
	Lattice int
	Section int

	mu     sync.Mutex
	params map[string]any
}

func checkLength(name string, length float64) error {
	if length < 0 || math.IsNaN(length) {
		return fmt.Errorf("%w: element %s has length %g", dynamo.ErrParameterBounds, name, length)
	}
	return nil
}

func (b *Base) Name() string    { return b.name }
func (b *Base) Length() float64 { return b.length }
func (b *Base) Common() *Base   { return b }

// Params returns the parameters a solver attached to the element, creating
// them with build on first use. Safe for concurrent use.
func (b *Base) Params(solverID string, build func() (any, error)) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.params[solverID]; ok {
		return p, nil
	}
	p, err := build()
	if err != nil {
		return nil, err
	}
	if b.params == nil {
		b.params = make(map[string]any)
	}
	b.params[solverID] = p
	return p, nil
}

// DropParams forgets the parameters of a solver.
func (b *Base) DropParams(solverID string) {
	b.mu.Lock()
	delete(b.params, solverID)
	b.mu.Unlock()
}

type Drift struct {
	Base
}

func NewDrift(name string, length float64) (*Drift, error) {
	if err := checkLength(name, length); err != nil {
		return nil, err
	}
	return &Drift{Base: Base{name: name, length: length}}, nil
}

func (*Drift) Kind() Kind { return KindDrift }

// Quad is a quadrupole of gradient G in T/m.
type Quad struct {
	Base
	Gradient float64
}

func NewQuad(name string, length, gradient float64) (*Quad, error) {
	if err := checkLength(name, length); err != nil {
		return nil, err
	}
	return &Quad{Base: Base{name: name, length: length}, Gradient: gradient}, nil
}

func (*Quad) Kind() Kind { return KindQuad }

// Bend is a sector dipole. Its length is radius·|angle|.
type Bend struct {
	Base
	Geometry transfer.BendGeometry
}

func NewBend(name string, angleRad, radius, fieldIndex float64) (*Bend, error) {
	g, err := transfer.NewBendGeometry(angleRad, radius, fieldIndex)
	if err != nil {
		return nil, fmt.Errorf("bend %s: %w", name, err)
	}
	if err := checkLength(name, g.Length); err != nil {
		return nil, err
	}
	return &Bend{Base: Base{name: name, length: g.Length}, Geometry: g}, nil
}

func (*Bend) Kind() Kind { return KindBend }

// FieldMap is an accelerating cavity. Settings are its nominal settings;
// Offset positions the map inside a superposed element.
type FieldMap struct {
	Base
	Field    *fieldmap.Field
	Settings *CavitySettings
	Offset   float64
}

func NewFieldMap(name string, length float64, field *fieldmap.Field, settings *CavitySettings) (*FieldMap, error) {
	if err := checkLength(name, length); err != nil {
		return nil, err
	}
	if field == nil || settings == nil {
		return nil, fmt.Errorf("%w: field map %s needs a field and settings", dynamo.ErrParameterBounds, name)
	}
	return &FieldMap{Base: Base{name: name, length: length}, Field: field, Settings: settings}, nil
}

func (*FieldMap) Kind() Kind { return KindFieldMap }

func (f *FieldMap) NCell() int { return f.Field.NCell }

// NSteps is the number of integration steps for nStepsPerCell.
func (f *FieldMap) NSteps(nStepsPerCell int) int {
	n := f.NCell() * nStepsPerCell
	if n < 1 {
		n = nStepsPerCell
	}
	return n
}

// SuperposedFieldMap holds overlapping cavities whose fields add up.
type SuperposedFieldMap struct {
	Base
	Members []*FieldMap
}

func NewSuperposedFieldMap(name string, length float64, members []*FieldMap) (*SuperposedFieldMap, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: superposed field map %s has no member", dynamo.ErrParameterBounds, name)
	}
	if err := checkLength(name, length); err != nil {
		return nil, err
	}
	return &SuperposedFieldMap{Base: Base{name: name, length: length}, Members: members}, nil
}

func (*SuperposedFieldMap) Kind() Kind { return KindSuperposed }

// NCell is the largest cell count of the members.
func (s *SuperposedFieldMap) NCell() int {
	n := 0
	for _, m := range s.Members {
		n = max(n, m.NCell())
	}
	return n
}

func (s *SuperposedFieldMap) NSteps(nStepsPerCell int) int {
	n := s.NCell() * nStepsPerCell
	if n < 1 {
		n = nStepsPerCell
	}
	return n
}

// IsAccelerating reports whether el changes the beam energy under settings.
func IsAccelerating(el Element, settings SetOfCavitySettings) bool {
	switch e := el.(type) {
	case *FieldMap:
		return !settings.Resolve(e).IsFailed()
	case *SuperposedFieldMap:
		for _, m := range e.Members {
			if !settings.Resolve(m).IsFailed() {
				return true
			}
		}
	}
	return false
}
