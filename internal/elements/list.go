package elements

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
)

// ListOfElements is an ordered piece of linac with its input beam.
type ListOfElements struct {
	Elements []Element

	WKinIn   float64
	PhiAbsIn float64

	// ZIn is the absolute position of the first element entry.
	ZIn float64

	// SigmaIn is the input beam matrix, 2x2 [z-delta] or 6x6.
	SigmaIn *mat.Dense

	// TmCumulIn seeds the cumulated transfer matrix; nil means identity.
	// It is set on sub-sections continuing from an upstream point.
	TmCumulIn *mat.Dense

	byName map[string]int
}

func NewListOfElements(elts []Element, wKin, phiAbs float64, sigma *mat.Dense) (*ListOfElements, error) {
	if len(elts) == 0 {
		return nil, fmt.Errorf("%w: empty list of elements", dynamo.ErrParameterBounds)
	}
	if !(wKin > 0) {
		return nil, fmt.Errorf("%w: input energy %g MeV", dynamo.ErrDomain, wKin)
	}
	l := &ListOfElements{
		Elements: elts,
		WKinIn:   wKin,
		PhiAbsIn: phiAbs,
		SigmaIn:  sigma,
		byName:   make(map[string]int, len(elts)),
	}
	for i, el := range elts {
		if _, dup := l.byName[el.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate element name %q", dynamo.ErrParameterBounds, el.Name())
		}
		l.byName[el.Name()] = i
		if sp, ok := el.(*SuperposedFieldMap); ok {
			for _, m := range sp.Members {
				l.byName[m.Name()] = i
			}
		}
	}
	return l, nil
}

func (l *ListOfElements) Len() int { return len(l.Elements) }

// IndexOf returns the position of the element named name. Members of a
// superposed element resolve to the composite position.
func (l *ListOfElements) IndexOf(name string) (int, bool) {
	i, ok := l.byName[name]
	return i, ok
}

func (l *ListOfElements) Get(name string) (Element, error) {
	i, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: no element %q", dynamo.ErrMissingAttribute, name)
	}
	return l.Elements[i], nil
}

// Cavities lists every FieldMap in order, superposed members included.
func (l *ListOfElements) Cavities() []*FieldMap {
	var out []*FieldMap
	for _, el := range l.Elements {
		switch e := el.(type) {
		case *FieldMap:
			out = append(out, e)
		case *SuperposedFieldMap:
			out = append(out, e.Members...)
		}
	}
	return out
}

// Cavity returns the FieldMap named name.
func (l *ListOfElements) Cavity(name string) (*FieldMap, error) {
	for _, c := range l.Cavities() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no cavity %q", dynamo.ErrMissingAttribute, name)
}

// Lattices groups the elements by lattice index, in order.
func (l *ListOfElements) Lattices() [][]Element {
	return groupBy(l.Elements, func(b *Base) int { return b.Lattice })
}

func (l *ListOfElements) Sections() [][]Element {
	return groupBy(l.Elements, func(b *Base) int { return b.Section })
}

func groupBy(elts []Element, key func(*Base) int) [][]Element {
	var out [][]Element
	prev := 0
	for i, el := range elts {
		k := key(el.Common())
		if i == 0 || k != prev {
			out = append(out, nil)
			prev = k
		}
		out[len(out)-1] = append(out[len(out)-1], el)
	}
	return out
}

// Sub returns elements [first, last] with a new input state.
func (l *ListOfElements) Sub(first, last int, wKin, phiAbs float64, sigma, tmCumulIn *mat.Dense) (*ListOfElements, error) {
	if first < 0 || last >= len(l.Elements) || first > last {
		return nil, fmt.Errorf("%w: sub-section [%d, %d] of %d elements", dynamo.ErrParameterBounds, first, last, len(l.Elements))
	}
	sub, err := NewListOfElements(l.Elements[first:last+1], wKin, phiAbs, sigma)
	if err != nil {
		return nil, err
	}
	sub.TmCumulIn = tmCumulIn
	sub.ZIn = l.ZIn
	for _, el := range l.Elements[:first] {
		sub.ZIn += el.Length()
	}
	return sub, nil
}

// Names lists the element names in order.
func (l *ListOfElements) Names() []string {
	out := make([]string, len(l.Elements))
	for i, el := range l.Elements {
		out[i] = el.Name()
	}
	return out
}
