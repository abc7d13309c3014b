package fault

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/output"
)

type ObjectiveKind string

const (
	// MinimizeDifferenceWithRef is weight·|value - ideal|.
	MinimizeDifferenceWithRef ObjectiveKind = "minimize difference with reference"
	// MinimizeMismatch is weight·mismatch between the reference and fixed
	// [z-delta] ellipses.
	MinimizeMismatch ObjectiveKind = "minimize mismatch"
	// QuantityIsBetween is weight times the distance of value to
	// [Lower, Upper], zero inside.
	QuantityIsBetween ObjectiveKind = "quantity is between"
)

// Objective is one residual of a compensation problem, read at the exit of
// Element (or on cavity Element for per cavity keys).
type Objective struct {
	Kind    ObjectiveKind
	Key     string
	Element string
	Weight  float64

	Ideal    float64
	RefTwiss envelope.Twiss
	Lower    float64
	Upper    float64
}

func (o Objective) Name() string {
	return fmt.Sprintf("%s@%s", o.Key, o.Element)
}

func (o Objective) Evaluate(out *output.SimulationOutput) (float64, error) {
	switch o.Kind {
	case MinimizeDifferenceWithRef:
		v, err := exitValue(out, o.Key, o.Element)
		if err != nil {
			return math.NaN(), err
		}
		return o.Weight * math.Abs(v-o.Ideal), nil
	case MinimizeMismatch:
		_, exit, err := out.Slice(o.Element)
		if err != nil {
			return math.NaN(), err
		}
		fix, err := out.TwissAt(envelope.ZDelta, exit)
		if err != nil {
			return math.NaN(), err
		}
		return o.Weight * envelope.Mismatch(o.RefTwiss, fix), nil
	case QuantityIsBetween:
		v, err := exitValue(out, o.Key, o.Element)
		if err != nil {
			return math.NaN(), err
		}
		switch {
		case v < o.Lower:
			return o.Weight * (o.Lower - v), nil
		case v > o.Upper:
			return o.Weight * (v - o.Upper), nil
		}
		return 0, nil
	}
	return math.NaN(), fmt.Errorf("%w: unknown objective kind %q", dynamo.ErrParameterBounds, o.Kind)
}

func (o Objective) String() string {
	switch o.Kind {
	case MinimizeMismatch:
		return fmt.Sprintf("%s (x%g): mismatch", o.Name(), o.Weight)
	case QuantityIsBetween:
		return fmt.Sprintf("%s (x%g): in [%.4g, %.4g]", o.Name(), o.Weight, o.Lower, o.Upper)
	}
	return fmt.Sprintf("%s (x%g): ideal %.6g", o.Name(), o.Weight, o.Ideal)
}

func exitValue(out *output.SimulationOutput, key, elt string) (float64, error) {
	v, err := out.Get(key, output.Query{Elt: elt, Pos: output.PosOut})
	if err != nil {
		return math.NaN(), err
	}
	if len(v) == 0 {
		return math.NaN(), fmt.Errorf("%w: %s@%s is empty", dynamo.ErrNotAvailable, key, elt)
	}
	return v[len(v)-1], nil
}

// PresetInput is what an objective preset needs to build its objectives.
type PresetInput struct {
	Ref          *output.SimulationOutput
	Element      string
	Compensating []string
	PhiSMin      float64
	PhiSMax      float64
}

type Preset func(in PresetInput) ([]Objective, error)

const (
	PresetEnergyPhaseMismatch     = "EnergyPhaseMismatch"
	PresetEnergyMismatch          = "EnergyMismatch"
	PresetEnergySyncPhaseMismatch = "EnergySyncPhaseMismatch"
)

var presets = map[string]Preset{
	PresetEnergyPhaseMismatch:     energyPhaseMismatch,
	"simple_ADS":                  energyPhaseMismatch,
	PresetEnergyMismatch:          energyMismatch,
	PresetEnergySyncPhaseMismatch: energySyncPhaseMismatch,
}

// PhiSWeight scales the phi_s objectives of EnergySyncPhaseMismatch.
const PhiSWeight = 50.

func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewObjectives builds the objectives of the named preset.
func NewObjectives(preset string, in PresetInput) ([]Objective, error) {
	fn, ok := presets[preset]
	if !ok {
		return nil, fmt.Errorf("unknown objective preset: %s", preset)
	}
	if in.Ref == nil {
		return nil, fmt.Errorf("%w: objectives need a reference output", dynamo.ErrInvalidState)
	}
	return fn(in)
}

func energyPhaseMismatch(in PresetInput) ([]Objective, error) {
	return refObjectives(in, output.KeyWKin, output.KeyPhiAbs)
}

func energyMismatch(in PresetInput) ([]Objective, error) {
	return refObjectives(in, output.KeyWKin)
}

func energySyncPhaseMismatch(in PresetInput) ([]Objective, error) {
	objs, err := energyPhaseMismatch(in)
	if err != nil {
		return nil, err
	}
	for _, cav := range in.Compensating {
		objs = append(objs, Objective{
			Kind:    QuantityIsBetween,
			Key:     output.KeyPhiS,
			Element: cav,
			Weight:  PhiSWeight,
			Lower:   in.PhiSMin,
			Upper:   in.PhiSMax,
		})
	}
	return objs, nil
}

// refObjectives matches keys on the reference at the exit of the evaluation
// element, plus the [z-delta] mismatch there.
func refObjectives(in PresetInput, keys ...string) ([]Objective, error) {
	objs := make([]Objective, 0, len(keys)+1)
	for _, key := range keys {
		ideal, err := exitValue(in.Ref, key, in.Element)
		if err != nil {
			return nil, err
		}
		objs = append(objs, Objective{
			Kind:    MinimizeDifferenceWithRef,
			Key:     key,
			Element: in.Element,
			Weight:  1.,
			Ideal:   ideal,
		})
	}

	_, exit, err := in.Ref.Slice(in.Element)
	if err != nil {
		return nil, err
	}
	twiss, err := in.Ref.TwissAt(envelope.ZDelta, exit)
	if err != nil {
		return nil, err
	}
	objs = append(objs, Objective{
		Kind:     MinimizeMismatch,
		Key:      output.KeyMismatch,
		Element:  in.Element,
		Weight:   1.,
		RefTwiss: twiss,
	})
	return objs, nil
}
