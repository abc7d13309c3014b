package fault_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/linacsim/internal/beamcalc"
	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/fault"
	"github.com/san-kum/linacsim/internal/linactest"
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/output"
)

type bench struct {
	cfg  *config.Config
	calc *beamcalc.Envelope
	full *elements.ListOfElements
	ref  *output.SimulationOutput
}

func newBench(cfg *config.Config) bench {
	GinkgoHelper()
	Expect(cfg.Validate()).To(Succeed())
	full, err := elements.Build(cfg, nil)
	Expect(err).NotTo(HaveOccurred())
	calc, err := beamcalc.New(cfg)
	Expect(err).NotTo(HaveOccurred())
	ref, err := calc.Run(full)
	Expect(err).NotTo(HaveOccurred())
	return bench{cfg: cfg, calc: calc, full: full, ref: ref}
}

func (b bench) scenarios() []*fault.Scenario {
	GinkgoHelper()
	s, err := fault.NewScenarios(b.cfg, b.calc, b.full, b.ref)
	Expect(err).NotTo(HaveOccurred())
	return s
}

func synthetic() *config.Config {
	cfg := linactest.Config(GinkgoT(), 4, 2)
	cfg.WTF.Failed = [][]string{{"FM3"}}
	cfg.WTF.Strategy = string(fault.KOutOfN)
	cfg.WTF.K = 2
	cfg.WTF.Algorithm = optim.NameDownhillSimplex
	cfg.WTF.AlgorithmKwargs.MaxEvaluations = 4000
	cfg.WTF.AlgorithmKwargs.Tolerance = 1e-14
	cfg.DesignSpace.KEIncreasePc = 100
	return cfg
}

var _ = Describe("Scenario", func() {
	var b bench

	BeforeEach(func() {
		b = newBench(synthetic())
	})

	for _, algorithm := range []string{optim.NameDownhillSimplex, optim.NameLeastSquares} {
		Describe("one failed cavity compensated by its two neighbours with "+algorithm, func() {
			var (
				s      *fault.Scenario
				report *fault.Report
			)

			BeforeEach(func() {
				b.cfg.WTF.Algorithm = algorithm
				scenarios := b.scenarios()
				Expect(scenarios).To(HaveLen(1))
				s = scenarios[0]

				var err error
				report, err = s.FixAll(context.Background())
				Expect(err).NotTo(HaveOccurred())
			})

			It("cancels the residuals of the broken linac", func() {
				Expect(report.Success).To(BeTrue())
				Expect(s.Faults).To(HaveLen(1))
				f := s.Faults[0]
				Expect(f.CompensatingNames()).To(Equal([]string{"FM2", "FM4"}))
				Expect(f.Evaluation).To(Equal("DR8"))

				broken, _, err := f.Problem.Residuals(f.Problem.X0())
				Expect(err).NotTo(HaveOccurred())
				Expect(floats.Norm(broken, 2)).To(BeNumerically(">", 0))
				Expect(report.Faults[0].Success).To(BeTrue())
				Expect(report.Faults[0].Norm / floats.Norm(broken, 2)).To(BeNumerically("<", 1e-2))
				Expect(report.Faults[0].Evaluations).To(Equal(f.Solution.History.Len()))
			})

			It("flags every cavity", func() {
				settings := s.Settings()
				Expect(settings["FM1"].Status()).To(Equal(elements.Nominal))
				Expect(settings["FM3"].Status()).To(Equal(elements.Failed))
				for _, name := range []string{"FM2", "FM4"} {
					Expect(settings[name].Status()).To(Equal(elements.CompensateOK), name)
				}
				for _, name := range []string{"FM5", "FM6", "FM7", "FM8"} {
					Expect(settings[name].Status()).To(Equal(elements.RephasedOK), name)
				}
			})

			It("propagates the whole fixed linac once more", func() {
				fix := s.Fix()
				Expect(fix).NotTo(BeNil())
				Expect(fix.Len()).To(Equal(b.ref.Len()))
				Expect(fix.Beam.Mismatch).To(HaveLen(fix.Len()))

				failed, err := fix.Cavity("FM3")
				Expect(err).NotTo(HaveOccurred())
				Expect(math.IsNaN(failed.VCav)).To(BeTrue())
				Expect(failed.Status).To(Equal(elements.Failed))

				Expect(report.Evaluation.Values).To(HaveKey("max_delta_w_kin"))
				Expect(report.Evaluation.Values).To(HaveKey("phi_s_in_band"))
			})

			It("returns the same report when fixed again", func() {
				again, err := s.FixAll(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(again).To(BeIdenticalTo(report))
				Expect(s.Faults).To(HaveLen(1))
			})

			It("accepts the same settings on a fresh scenario", func() {
				fresh := b.scenarios()[0]
				_, err := fresh.FixAll(context.Background())
				Expect(err).NotTo(HaveOccurred())

				first, second := s.Settings(), fresh.Settings()
				for _, name := range []string{"FM2", "FM4"} {
					Expect(second[name].Status()).To(Equal(first[name].Status()), name)
					Expect(second[name].KE).To(BeNumerically("~", first[name].KE, 1e-12), name)
					Expect(second[name].Value).To(BeNumerically("~", first[name].Value, 1e-12), name)
				}
			})
		})
	}

	It("stops on a canceled context", func() {
		s := b.scenarios()[0]
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := s.FixAll(ctx)
		Expect(report).To(BeNil())
		Expect(errors.Is(err, dynamo.ErrContextCanceled)).To(BeTrue())
		Expect(s.Fix()).To(BeNil())
	})

	It("builds one scenario per broken linac", func() {
		b.cfg.WTF.Failed = [][]string{{"FM3"}, {"FM6", "FM7"}}
		scenarios := b.scenarios()
		Expect(scenarios).To(HaveLen(2))
		Expect(scenarios[1].Groups).To(HaveLen(1))
		Expect(scenarios[1].Groups[0].FailedNames()).To(Equal([]string{"FM6", "FM7"}))
		Expect(scenarios[0].ID).NotTo(Equal(scenarios[1].ID))
	})

	It("takes the manual groups as given", func() {
		b.cfg.WTF.Strategy = string(fault.Manual)
		b.cfg.WTF.Failed = [][]string{{"FM3"}, {"FM7"}}
		b.cfg.WTF.Manual = [][]string{{"FM4"}, {"FM8"}}
		scenarios := b.scenarios()
		Expect(scenarios).To(HaveLen(1))
		Expect(scenarios[0].Groups).To(HaveLen(2))
		Expect(scenarios[0].Groups[1].CompensatingNames()).To(Equal([]string{"FM8"}))
	})

	It("keeps absolute phases without rephasing", func() {
		b.cfg.WTF.ReferencePhasePolicy = string(elements.RefPhi0Abs)
		s := b.scenarios()[0]
		settings := s.Settings()
		Expect(settings["FM6"].Status()).To(Equal(elements.Nominal))
		Expect(settings["FM6"].Reference).To(Equal(elements.RefPhi0Abs))
	})

	It("fails on an unknown objective preset", func() {
		b.cfg.WTF.ObjectivePreset = "EnergyOnly"
		s := b.scenarios()[0]
		_, err := s.FixAll(context.Background())
		Expect(err).To(MatchError(ContainSubstring("unknown objective preset")))
	})
})

var _ = Describe("Fault", func() {
	It("drops explorator trials outside of the phi_s band", func() {
		cfg := synthetic()
		cfg.WTF.Algorithm = optim.NameExplorator
		cfg.WTF.AlgorithmKwargs.NPoints = 3
		// no cavity can reach such a synchronous phase
		cfg.DesignSpace.PhiSMinDeg = 179.9
		cfg.DesignSpace.PhiSMaxDeg = 180
		b := newBench(cfg)
		s := b.scenarios()[0]

		report, err := s.FixAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Success).To(BeFalse())
		Expect(report.Faults[0].Err).To(ContainSubstring("no valid trial"))
		Expect(s.Settings()["FM2"].Status()).To(Equal(elements.CompensateNotOK))
	})
})

var _ = Describe("Example linac", func() {
	It("compensates every fault of the example configuration", func() {
		dir := os.Getenv("LINACSIM_EXAMPLE_DIR")
		if dir == "" {
			Skip("LINACSIM_EXAMPLE_DIR not set")
		}
		cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
		if !filepath.IsAbs(cfg.Linac.FieldMapFolder) {
			cfg.Linac.FieldMapFolder = filepath.Join(dir, cfg.Linac.FieldMapFolder)
		}
		b := newBench(cfg)
		for _, s := range b.scenarios() {
			report, err := s.FixAll(context.Background())
			Expect(err).NotTo(HaveOccurred())
			for _, f := range report.Faults {
				Expect(f.Success).To(BeTrue(), "fault %d: %s", f.ID, f.Status)
			}
		}
	})
})
