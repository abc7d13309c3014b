package fault

import (
	"fmt"
	"slices"
	"sort"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
)

// Strategy selects the compensating cavities of a failure.
type Strategy string

const (
	KOutOfN              Strategy = "k out of n"
	LNeighboringLattices Strategy = "l neighboring lattices"
	Manual               Strategy = "manual"
)

var Strategies = []Strategy{KOutOfN, LNeighboringLattices, Manual}

// TiePolitics orders two candidates at the same distance from a failure.
type TiePolitics string

const (
	DownstreamFirst TiePolitics = "downstream first"
	UpstreamFirst   TiePolitics = "upstream first"
)

type StrategyOptions struct {
	Strategy    Strategy
	K           int
	L           int
	TiePolitics TiePolitics
	// Shift > 0 pushes the selection downstream, Shift < 0 upstream.
	Shift int
	// MinCavitiesInLattice is the number of usable cavities a lattice needs
	// to count towards L.
	MinCavitiesInLattice int
}

func StrategyOptionsFromConfig(w config.WTFConfig) StrategyOptions {
	return StrategyOptions{
		Strategy:             Strategy(w.Strategy),
		K:                    w.K,
		L:                    w.L,
		TiePolitics:          TiePolitics(w.TiePolitics),
		Shift:                w.Shift,
		MinCavitiesInLattice: w.MinCavitiesInLattice,
	}
}

func (o StrategyOptions) Validate() error {
	switch o.TiePolitics {
	case DownstreamFirst, UpstreamFirst:
	default:
		return fmt.Errorf("%w: unknown tie politics %q", dynamo.ErrParameterBounds, o.TiePolitics)
	}
	switch o.Strategy {
	case KOutOfN:
		if o.K < 1 {
			return fmt.Errorf("%w: k must be positive, got %d", dynamo.ErrParameterBounds, o.K)
		}
	case LNeighboringLattices:
		if o.L < 0 {
			return fmt.Errorf("%w: l must be non-negative, got %d", dynamo.ErrParameterBounds, o.L)
		}
	case Manual:
	default:
		return fmt.Errorf("%w: unknown strategy %q", dynamo.ErrParameterBounds, o.Strategy)
	}
	return nil
}

// Group is the cavities handled by one Fault.
type Group struct {
	Failed       []*elements.FieldMap
	Compensating []*elements.FieldMap
}

func (g Group) FailedNames() []string       { return names(g.Failed) }
func (g Group) CompensatingNames() []string { return names(g.Compensating) }

func names(cavs []*elements.FieldMap) []string {
	out := make([]string, len(cavs))
	for i, c := range cavs {
		out[i] = c.Name()
	}
	return out
}

// cavityIndex locates the cavities of a linac: position among the cavities
// and lattice holding them.
type cavityIndex struct {
	cavs    []*elements.FieldMap
	pos     map[string]int
	lattice []int
}

func newCavityIndex(l *elements.ListOfElements) cavityIndex {
	ci := cavityIndex{cavs: l.Cavities(), pos: make(map[string]int)}
	ci.lattice = make([]int, len(ci.cavs))
	for i, c := range ci.cavs {
		ci.pos[c.Name()] = i
		if j, ok := l.IndexOf(c.Name()); ok {
			ci.lattice[i] = l.Elements[j].Common().Lattice
		}
	}
	return ci
}

func (ci cavityIndex) resolve(list []string) ([]int, error) {
	out := make([]int, 0, len(list))
	for _, name := range list {
		i, ok := ci.pos[name]
		if !ok {
			return nil, fmt.Errorf("%w: no cavity %q", dynamo.ErrMissingAttribute, name)
		}
		if !slices.Contains(out, i) {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (ci cavityIndex) fieldMaps(idx []int) []*elements.FieldMap {
	out := make([]*elements.FieldMap, len(idx))
	for k, i := range idx {
		out[k] = ci.cavs[i]
	}
	return out
}

// Groups gathers the failed cavities of one linac into Faults with the
// automatic strategies. Failures whose compensating cavities overlap are
// merged into one group.
func Groups(l *elements.ListOfElements, failed []string, opts StrategyOptions) ([]Group, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == Manual {
		return nil, fmt.Errorf("%w: manual strategy needs explicit compensating cavities", dynamo.ErrParameterBounds)
	}
	if len(failed) == 0 {
		return nil, nil
	}
	ci := newCavityIndex(l)
	all, err := ci.resolve(failed)
	if err != nil {
		return nil, err
	}
	excluded := make(map[int]bool, len(all))
	for _, f := range all {
		excluded[f] = true
	}

	selectFor := func(group []int) ([]int, error) {
		var comp []int
		switch opts.Strategy {
		case KOutOfN:
			comp = kOutOfN(ci, group, excluded, opts)
		case LNeighboringLattices:
			comp = lNeighboringLattices(ci, group, excluded, opts)
		}
		if len(comp) == 0 {
			return nil, fmt.Errorf("%w: no compensating cavity available for %v", dynamo.ErrInvalidState, names(ci.fieldMaps(group)))
		}
		return comp, nil
	}

	groups := make([][]int, len(all))
	for i, f := range all {
		groups[i] = []int{f}
	}
	var comps [][]int
	for {
		comps = make([][]int, len(groups))
		for i, g := range groups {
			if comps[i], err = selectFor(g); err != nil {
				return nil, err
			}
		}
		i, j, ok := overlapping(comps)
		if !ok {
			break
		}
		log.WithField("faults", fmt.Sprintf("%v + %v", names(ci.fieldMaps(groups[i])), names(ci.fieldMaps(groups[j])))).
			Debug("compensating cavities overlap, merging faults")
		groups[i] = union(groups[i], groups[j])
		groups = slices.Delete(groups, j, j+1)
	}

	out := make([]Group, len(groups))
	for i := range groups {
		out[i] = Group{Failed: ci.fieldMaps(groups[i]), Compensating: ci.fieldMaps(comps[i])}
	}
	return out, nil
}

// ManualGroups pairs every group of failed cavities with the compensating
// cavities given for it.
func ManualGroups(l *elements.ListOfElements, failed, compensating [][]string) ([]Group, error) {
	if len(failed) != len(compensating) {
		return nil, fmt.Errorf("%w: %d failed groups for %d compensating groups", dynamo.ErrDimensionMismatch, len(failed), len(compensating))
	}
	ci := newCavityIndex(l)
	excluded := make(map[int]bool)
	resolved := make([][]int, len(failed))
	for i, group := range failed {
		idx, err := ci.resolve(group)
		if err != nil {
			return nil, err
		}
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: failed group %d is empty", dynamo.ErrParameterBounds, i)
		}
		for _, f := range idx {
			excluded[f] = true
		}
		resolved[i] = idx
	}

	out := make([]Group, len(failed))
	for i, group := range compensating {
		comp, err := ci.resolve(group)
		if err != nil {
			return nil, err
		}
		if len(comp) == 0 {
			return nil, fmt.Errorf("%w: compensating group %d is empty", dynamo.ErrParameterBounds, i)
		}
		for _, c := range comp {
			if excluded[c] {
				return nil, fmt.Errorf("%w: %s is failed and cannot compensate", dynamo.ErrParameterBounds, ci.cavs[c].Name())
			}
		}
		out[i] = Group{Failed: ci.fieldMaps(resolved[i]), Compensating: ci.fieldMaps(comp)}
	}
	return out, nil
}

// kOutOfN takes the K closest usable cavities per failed cavity.
func kOutOfN(ci cavityIndex, group []int, excluded map[int]bool, opts StrategyOptions) []int {
	var candidates []int
	for i := range ci.cavs {
		if !excluded[i] {
			candidates = append(candidates, i)
		}
	}
	ranked := rankByDistance(candidates, group, opts)
	n := min(opts.K*len(group), len(ranked))
	out := append([]int(nil), ranked[:n]...)
	sort.Ints(out)
	return out
}

// lNeighboringLattices takes every usable cavity of the failed lattices and
// of the L closest lattices. A lattice with fewer than MinCavitiesInLattice
// usable cavities is used but does not count towards L.
func lNeighboringLattices(ci cavityIndex, group []int, excluded map[int]bool, opts StrategyOptions) []int {
	byLattice := make(map[int][]int)
	for i, lat := range ci.lattice {
		if !excluded[i] {
			byLattice[lat] = append(byLattice[lat], i)
		}
	}
	var failedLattices []int
	for _, f := range group {
		if lat := ci.lattice[f]; !slices.Contains(failedLattices, lat) {
			failedLattices = append(failedLattices, lat)
		}
	}
	var others []int
	for lat := range byLattice {
		if !slices.Contains(failedLattices, lat) {
			others = append(others, lat)
		}
	}
	sort.Ints(others)

	chosen := append([]int(nil), failedLattices...)
	counted := 0
	for _, lat := range rankByDistance(others, failedLattices, opts) {
		if counted >= opts.L {
			break
		}
		chosen = append(chosen, lat)
		if len(byLattice[lat]) >= opts.MinCavitiesInLattice {
			counted++
		}
	}

	var out []int
	for _, lat := range chosen {
		out = append(out, byLattice[lat]...)
	}
	sort.Ints(out)
	return out
}

// rankByDistance sorts candidates by distance to the closest reference
// index. Shift lengthens distances on one side; ties go to the side chosen
// by the tie politics, then to the lowest index.
func rankByDistance(candidates, refs []int, opts StrategyOptions) []int {
	type ranked struct {
		idx, dist int
		preferred bool
	}
	rs := make([]ranked, len(candidates))
	for k, c := range candidates {
		r := ranked{idx: c}
		for i, f := range refs {
			d := shifted(c, f, opts.Shift)
			if i == 0 || d < r.dist {
				downstream := c > f
				r.dist = d
				r.preferred = downstream == (opts.TiePolitics == DownstreamFirst)
			}
		}
		rs[k] = r
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].dist != rs[j].dist {
			return rs[i].dist < rs[j].dist
		}
		if rs[i].preferred != rs[j].preferred {
			return rs[i].preferred
		}
		return rs[i].idx < rs[j].idx
	})
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.idx
	}
	return out
}

func shifted(c, f, shift int) int {
	if c > f {
		return c - f - shift
	}
	return f - c + shift
}

func overlapping(comps [][]int) (int, int, bool) {
	for i := range comps {
		for j := i + 1; j < len(comps); j++ {
			for _, c := range comps[i] {
				if slices.Contains(comps[j], c) {
					return i, j, true
				}
			}
		}
	}
	return 0, 0, false
}

func union(a, b []int) []int {
	out := append([]int(nil), a...)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
