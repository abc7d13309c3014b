// Package automation runs scripted compensation studies: a list of failure
// cases fixed one after the other on a common base configuration, and
// sweeps of the number of compensating cavities.
package automation

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/experiment"
	"github.com/san-kum/linacsim/internal/storage"
)

var log = config.NamedLogger("automation")

// Study is a scripted sequence of compensation cases.
type Study struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Cases       []Case `yaml:"cases"`
	Sweep       *Sweep `yaml:"sweep"`
}

// Case patches the wtf section of the base configuration. Zero fields keep
// the base value.
type Case struct {
	Name         string     `yaml:"name"`
	SolverPreset string     `yaml:"solver_preset"`
	WTFPreset    string     `yaml:"wtf_preset"`
	Failed       [][]string `yaml:"failed"`
	Strategy     string     `yaml:"strategy"`
	K            int        `yaml:"k"`
	L            int        `yaml:"l"`
	Algorithm    string     `yaml:"optimisation_algorithm"`
	Objective    string     `yaml:"objective_preset"`
}

// Sweep fixes the same failures with K compensating cavities for every K in
// [KMin, KMax].
type Sweep struct {
	Failed [][]string `yaml:"failed"`
	KMin   int        `yaml:"k_min"`
	KMax   int        `yaml:"k_max"`
}

// Cases expands the sweep into one "k out of n" case per K.
func (s *Sweep) Cases() ([]Case, error) {
	if s.KMin < 1 || s.KMax < s.KMin {
		return nil, fmt.Errorf("sweep: invalid k range [%d, %d]", s.KMin, s.KMax)
	}
	cases := make([]Case, 0, s.KMax-s.KMin+1)
	for k := s.KMin; k <= s.KMax; k++ {
		cases = append(cases, Case{
			Name:     fmt.Sprintf("k=%d", k),
			Failed:   s.Failed,
			Strategy: "k out of n",
			K:        k,
		})
	}
	return cases, nil
}

// LoadStudy loads a study from a YAML file.
func LoadStudy(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var study Study
	if err := yaml.Unmarshal(data, &study); err != nil {
		return nil, fmt.Errorf("study %s: %w", path, err)
	}
	return &study, nil
}

// AllCases lists the explicit cases followed by the sweep ones.
func (s *Study) AllCases() ([]Case, error) {
	cases := append([]Case(nil), s.Cases...)
	if s.Sweep != nil {
		swept, err := s.Sweep.Cases()
		if err != nil {
			return nil, err
		}
		cases = append(cases, swept...)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("study %q has no case", s.Name)
	}
	return cases, nil
}

// Apply returns a copy of base patched by the case.
func (c Case) Apply(base *config.Config) (*config.Config, error) {
	data, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if c.SolverPreset != "" {
		if err := config.ApplyPreset(cfg, "beam_calculator", c.SolverPreset); err != nil {
			return nil, err
		}
	}
	if c.WTFPreset != "" {
		if err := config.ApplyPreset(cfg, "wtf", c.WTFPreset); err != nil {
			return nil, err
		}
	}
	if c.Failed != nil {
		cfg.WTF.Failed = c.Failed
	}
	if c.Strategy != "" {
		cfg.WTF.Strategy = c.Strategy
	}
	if c.K > 0 {
		cfg.WTF.K = c.K
	}
	if c.L > 0 {
		cfg.WTF.L = c.L
	}
	if c.Algorithm != "" {
		cfg.WTF.Algorithm = c.Algorithm
	}
	if c.Objective != "" {
		cfg.WTF.ObjectivePreset = c.Objective
	}
	return cfg, nil
}

// CaseResult summarises one case. RunIDs and Metrics have one entry per
// scenario.
type CaseResult struct {
	Case        Case
	RunIDs      []string
	Success     bool
	Evaluations int
	Metrics     []map[string]float64
	Err         error
}

// RunStudy fixes every case in order and stores the runs in st. A case
// that fails to build or fix is reported and the study goes on; only a
// canceled context or a storage failure stops it.
func RunStudy(ctx context.Context, study *Study, base *config.Config, reg *experiment.Registry, st storage.Store) ([]CaseResult, error) {
	cases, err := study.AllCases()
	if err != nil {
		return nil, err
	}

	results := make([]CaseResult, 0, len(cases))
	for i, c := range cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log.WithField("case", c.Name).Infof("running case %d/%d", i+1, len(cases))

		res, err := runCase(ctx, c, base, reg, st)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func runCase(ctx context.Context, c Case, base *config.Config, reg *experiment.Registry, st storage.Store) (CaseResult, error) {
	res := CaseResult{Case: c, Success: true}
	fail := func(err error) (CaseResult, error) {
		log.WithField("case", c.Name).WithError(err).Warn("case failed")
		res.Success, res.Err = false, err
		return res, nil
	}

	cfg, err := c.Apply(base)
	if err != nil {
		return fail(err)
	}
	exp, err := experiment.New(cfg, reg, nil)
	if err != nil {
		return fail(err)
	}
	outcomes, err := exp.Fix(ctx, 1)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		return fail(err)
	}

	for _, o := range outcomes {
		id, err := exp.SaveOutcome(ctx, st, o)
		if err != nil {
			return res, err
		}
		res.RunIDs = append(res.RunIDs, id)
		res.Success = res.Success && o.Report.Success
		for _, fr := range o.Report.Faults {
			res.Evaluations += fr.Evaluations
		}
		res.Metrics = append(res.Metrics, o.Report.Evaluation.Values)
	}
	return res, nil
}
