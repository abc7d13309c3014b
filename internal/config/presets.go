package config

import (
	"fmt"
	"sort"
)

// Presets patch one section of a Config. The outer key is the section, the
// inner key the preset name.
var Presets = map[string]map[string]*Config{
	"beam_calculator": {
		"rk4-40": {
			BeamCalculator: SolverConfig{Tool: "envelope1d", Method: "RK4", FlagPhiAbs: true, NStepsPerCell: 40, PhiSDefinition: "historical"},
		},
		"rk4-relative": {
			BeamCalculator: SolverConfig{Tool: "envelope1d", Method: "RK4", FlagPhiAbs: false, NStepsPerCell: 40, PhiSDefinition: "historical"},
		},
		"leapfrog-60": {
			BeamCalculator: SolverConfig{Tool: "envelope1d", Method: "leapfrog", FlagPhiAbs: true, NStepsPerCell: 60, PhiSDefinition: "historical"},
		},
		"envelope3d": {
			BeamCalculator: SolverConfig{Tool: "envelope3d", Method: "RK4", FlagPhiAbs: true, NStepsPerCell: 40, PhiSDefinition: "historical"},
		},
	},
	"wtf": {
		"k-out-of-n": {
			WTF: WTFConfig{Strategy: "k out of n", K: 4, TiePolitics: "downstream first", ObjectivePreset: "EnergyPhaseMismatch", Algorithm: "downhill_simplex"},
		},
		"l-neighboring-lattices": {
			WTF: WTFConfig{Strategy: "l neighboring lattices", L: 2, TiePolitics: "upstream first", ObjectivePreset: "EnergyPhaseMismatch", Algorithm: "least_squares"},
		},
		"explorator": {
			WTF: WTFConfig{Strategy: "k out of n", K: 2, TiePolitics: "downstream first", ObjectivePreset: "EnergyMismatch", Algorithm: "explorator"},
		},
		"genetic": {
			WTF: WTFConfig{Strategy: "k out of n", K: 4, TiePolitics: "downstream first", ObjectivePreset: "EnergySyncPhaseMismatch", Algorithm: "genetic"},
		},
	},
}

func GetPreset(section, name string) *Config {
	if presets, ok := Presets[section]; ok {
		if cfg, ok := presets[name]; ok {
			return cfg
		}
	}
	return nil
}

func ListPresets(section string) []string {
	presets, ok := Presets[section]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset copies the preset's section into cfg. Algorithm kwargs and
// worker counts of the target are kept.
func ApplyPreset(cfg *Config, section, name string) error {
	p := GetPreset(section, name)
	if p == nil {
		return fmt.Errorf("unknown preset: %s/%s", section, name)
	}
	switch section {
	case "beam_calculator":
		cfg.BeamCalculator = p.BeamCalculator
	case "wtf":
		w := p.WTF
		w.Failed = cfg.WTF.Failed
		w.Manual = cfg.WTF.Manual
		w.AlgorithmKwargs = cfg.WTF.AlgorithmKwargs
		w.Workers = cfg.WTF.Workers
		w.ReferencePhasePolicy = cfg.WTF.ReferencePhasePolicy
		w.MinCavitiesInLattice = cfg.WTF.MinCavitiesInLattice
		if w.K == 0 {
			w.K = cfg.WTF.K
		}
		if w.L == 0 {
			w.L = cfg.WTF.L
		}
		cfg.WTF = w
	}
	return nil
}
