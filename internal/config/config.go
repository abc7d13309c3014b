package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultERestMeV      = 938.27203
	DefaultQAdim         = 1.
	DefaultFBunchMHz     = 176.1
	DefaultWKinMeV       = 16.6
	DefaultNStepsPerCell = 40
	DefaultKEDecrease    = 10.
	DefaultKEIncrease    = 30.
	DefaultPhiSMinDeg    = -90.
	DefaultPhiSMaxDeg    = 0.
)

type Config struct {
	Log            LogConfig         `yaml:"log"`
	Beam           BeamConfig        `yaml:"beam"`
	BeamCalculator SolverConfig      `yaml:"beam_calculator"`
	Linac          LinacConfig       `yaml:"linac"`
	WTF            WTFConfig         `yaml:"wtf"`
	DesignSpace    DesignSpaceConfig `yaml:"design_space"`
	Storage        StorageConfig     `yaml:"storage"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BeamConfig holds the synchronous particle and the input envelope.
// Sigma matrices are in SI units: [z (m), delta = dp/p].
type BeamConfig struct {
	ERestMeV    float64     `yaml:"e_rest_mev"`
	QAdim       float64     `yaml:"q_adim"`
	FBunchMHz   float64     `yaml:"f_bunch_mhz"`
	WKinMeV     float64     `yaml:"e_mev"`
	PhiAbs      float64     `yaml:"phi_abs"`
	SigmaZDelta [][]float64 `yaml:"sigma_zdelta"`
	Sigma       [][]float64 `yaml:"sigma"`
}

type SolverConfig struct {
	Tool           string `yaml:"tool"`
	Method         string `yaml:"method"`
	FlagPhiAbs     bool   `yaml:"flag_phi_abs"`
	NStepsPerCell  int    `yaml:"n_steps_per_cell"`
	PhiSDefinition string `yaml:"phi_s_definition"`
}

type LinacConfig struct {
	Name           string          `yaml:"name"`
	FieldMapFolder string          `yaml:"field_map_folder"`
	Sections       []SectionConfig `yaml:"sections"`
}

type SectionConfig struct {
	Name     string          `yaml:"name"`
	Lattices []LatticeConfig `yaml:"lattices"`
}

type LatticeConfig struct {
	Elements []ElementConfig `yaml:"elements"`
}

// ElementConfig describes one beam-line element. Lengths are in m, angles
// in deg, gradients in T/m.
type ElementConfig struct {
	Kind       string          `yaml:"kind"`
	Name       string          `yaml:"name"`
	Length     float64         `yaml:"length"`
	Aperture   float64         `yaml:"aperture"`
	Gradient   float64         `yaml:"gradient"`
	AngleDeg   float64         `yaml:"angle_deg"`
	Radius     float64         `yaml:"radius"`
	FieldIndex float64         `yaml:"field_index"`
	File       string          `yaml:"file"`
	FreqMHz    float64         `yaml:"freq_mhz"`
	KE         float64         `yaml:"k_e"`
	Phi0Deg    float64         `yaml:"phi_0_deg"`
	PhaseRef   string          `yaml:"phase_ref"`
	Offset     float64         `yaml:"offset"`
	Members    []ElementConfig `yaml:"members"`
}

// WTFConfig says what to fit: failures, compensation strategy, objectives
// and optimisation algorithm.
type WTFConfig struct {
	Failed               [][]string      `yaml:"failed"`
	Strategy             string          `yaml:"strategy"`
	K                    int             `yaml:"k"`
	L                    int             `yaml:"l"`
	Manual               [][]string      `yaml:"compensating_manual"`
	TiePolitics          string          `yaml:"tie_politics"`
	Shift                int             `yaml:"shift"`
	MinCavitiesInLattice int             `yaml:"min_number_of_cavities_in_lattice"`
	ObjectivePreset      string          `yaml:"objective_preset"`
	Algorithm            string          `yaml:"optimisation_algorithm"`
	AlgorithmKwargs      AlgorithmConfig `yaml:"optimisation_algorithm_kwargs"`
	ReferencePhasePolicy string          `yaml:"reference_phase_policy"`
	EvalExtraLattices    int             `yaml:"eval_extra_lattices"`
	Workers              int             `yaml:"workers"`
}

type AlgorithmConfig struct {
	MaxIterations  int     `yaml:"max_iterations"`
	MaxEvaluations int     `yaml:"max_evaluations"`
	Tolerance      float64 `yaml:"tolerance"`
	PopulationSize int     `yaml:"population_size"`
	Generations    int     `yaml:"generations"`
	NPoints        int     `yaml:"n_points"`
	Seed           int64   `yaml:"seed"`
}

type DesignSpaceConfig struct {
	Variables    string  `yaml:"variables"`
	KEDecreasePc float64 `yaml:"max_decrease_k_e_in_percent"`
	KEIncreasePc float64 `yaml:"max_increase_k_e_in_percent"`
	KEMax        float64 `yaml:"maximum_k_e"`
	PhiMinDeg    float64 `yaml:"phi_min_deg"`
	PhiMaxDeg    float64 `yaml:"phi_max_deg"`
	PhiSMinDeg   float64 `yaml:"phi_s_min_deg"`
	PhiSMaxDeg   float64 `yaml:"phi_s_max_deg"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Beam: BeamConfig{
			ERestMeV:  DefaultERestMeV,
			QAdim:     DefaultQAdim,
			FBunchMHz: DefaultFBunchMHz,
			WKinMeV:   DefaultWKinMeV,
			SigmaZDelta: [][]float64{
				{2.9511603e-06, -1.9823050e-07},
				{-1.9823050e-07, 7.0530474e-07},
			},
		},
		BeamCalculator: SolverConfig{
			Tool:           "envelope1d",
			Method:         "RK4",
			FlagPhiAbs:     true,
			NStepsPerCell:  DefaultNStepsPerCell,
			PhiSDefinition: "historical",
		},
		Linac: LinacConfig{Name: "linac"},
		WTF: WTFConfig{
			Strategy:             "k out of n",
			K:                    4,
			L:                    2,
			TiePolitics:          "downstream first",
			MinCavitiesInLattice: 1,
			ObjectivePreset:      "EnergyPhaseMismatch",
			Algorithm:            "downhill_simplex",
			AlgorithmKwargs: AlgorithmConfig{
				MaxIterations:  2000,
				MaxEvaluations: 8000,
				Tolerance:      1e-8,
				PopulationSize: 40,
				Generations:    60,
				NPoints:        20,
				Seed:           42,
			},
			ReferencePhasePolicy: "phi_0_rel",
			Workers:              4,
		},
		DesignSpace: DesignSpaceConfig{
			Variables:    "phi_0_rel",
			KEDecreasePc: DefaultKEDecrease,
			KEIncreasePc: DefaultKEIncrease,
			PhiMinDeg:    0.,
			PhiMaxDeg:    360.,
			PhiSMinDeg:   DefaultPhiSMinDeg,
			PhiSMaxDeg:   DefaultPhiSMaxDeg,
		},
		Storage: StorageConfig{Backend: "file", Dir: "runs", SQLitePath: "runs.db"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Digest identifies the set-up of a run: the sha256 of the YAML form of c.
func (c *Config) Digest() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the values the physics packages rely on.
func (c *Config) Validate() error {
	b := c.Beam
	if !(b.ERestMeV > 0) {
		return fmt.Errorf("beam.e_rest_mev must be positive, got %g", b.ERestMeV)
	}
	if !(b.FBunchMHz > 0) {
		return fmt.Errorf("beam.f_bunch_mhz must be positive, got %g", b.FBunchMHz)
	}
	if !(b.WKinMeV > 0) {
		return fmt.Errorf("beam.e_mev must be positive, got %g", b.WKinMeV)
	}
	if err := checkSquare("beam.sigma_zdelta", b.SigmaZDelta, 2); err != nil {
		return err
	}
	if len(b.Sigma) > 0 {
		if err := checkSquare("beam.sigma", b.Sigma, 6); err != nil {
			return err
		}
	}

	s := c.BeamCalculator
	switch s.Tool {
	case "envelope1d", "envelope3d":
	default:
		return fmt.Errorf("unknown beam_calculator.tool: %s", s.Tool)
	}
	switch s.Method {
	case "RK4", "leapfrog":
	default:
		return fmt.Errorf("unknown beam_calculator.method: %s", s.Method)
	}
	if s.Tool == "envelope3d" && s.Method != "RK4" {
		return fmt.Errorf("envelope3d only supports RK4, got %s", s.Method)
	}
	if s.NStepsPerCell < 1 {
		return fmt.Errorf("beam_calculator.n_steps_per_cell must be positive, got %d", s.NStepsPerCell)
	}
	if s.PhiSDefinition != "historical" {
		return fmt.Errorf("unsupported phi_s_definition: %s", s.PhiSDefinition)
	}

	for _, sec := range c.Linac.Sections {
		for _, lat := range sec.Lattices {
			for _, e := range lat.Elements {
				if err := e.validate(); err != nil {
					return err
				}
			}
		}
	}

	d := c.DesignSpace
	if d.KEDecreasePc < 0 || d.KEDecreasePc >= 100 || d.KEIncreasePc < 0 {
		return fmt.Errorf("invalid k_e band: -%g%% / +%g%%", d.KEDecreasePc, d.KEIncreasePc)
	}
	if d.PhiMinDeg >= d.PhiMaxDeg {
		return fmt.Errorf("phi window is empty: [%g, %g]", d.PhiMinDeg, d.PhiMaxDeg)
	}
	if d.PhiSMinDeg >= d.PhiSMaxDeg {
		return fmt.Errorf("phi_s band is empty: [%g, %g]", d.PhiSMinDeg, d.PhiSMaxDeg)
	}
	return nil
}

func (e ElementConfig) validate() error {
	if e.Length < 0 {
		return fmt.Errorf("element %s: negative length %g", e.Name, e.Length)
	}
	switch e.Kind {
	case "drift", "quad", "bend":
	case "field_map":
		if e.File == "" {
			return fmt.Errorf("element %s: field_map needs a file", e.Name)
		}
		if !(e.FreqMHz > 0) {
			return fmt.Errorf("element %s: field_map needs a positive freq_mhz", e.Name)
		}
	case "superposed":
		if len(e.Members) == 0 {
			return fmt.Errorf("element %s: superposed needs members", e.Name)
		}
		for _, m := range e.Members {
			if m.Kind != "field_map" {
				return fmt.Errorf("element %s: superposed members must be field maps", e.Name)
			}
			if err := m.validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("element %s: unknown kind %q", e.Name, e.Kind)
	}
	return nil
}

func checkSquare(name string, m [][]float64, n int) error {
	if len(m) != n {
		return fmt.Errorf("%s must be %dx%d, got %d rows", name, n, n, len(m))
	}
	for _, row := range m {
		if len(row) != n {
			return fmt.Errorf("%s must be %dx%d", name, n, n)
		}
	}
	return nil
}
