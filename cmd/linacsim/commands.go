package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/san-kum/linacsim/internal/automation"
	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/experiment"
	"github.com/san-kum/linacsim/internal/fieldmap"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/storage"
	"github.com/san-kum/linacsim/internal/store"
	"github.com/san-kum/linacsim/internal/viz"
)

func newRunCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "propagate the nominal linac and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := opts.styles()
			if err != nil {
				return err
			}
			st, err := opts.openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			exp, err := experiment.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			id, err := exp.Save(cmd.Context(), st)
			if err != nil {
				return err
			}
			r, err := storage.Find(cmd.Context(), st, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), viz.RenderRun(s, r, all))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show nominal cavities")
	return cmd
}

func newFixCmd(opts *options) *cobra.Command {
	var (
		parallel   int
		all        bool
		historyDir string
	)
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "compensate the failures of the wtf section and store the fixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.WTF.Failed) == 0 {
				return fmt.Errorf("no failed cavities in the wtf section")
			}
			s, err := opts.styles()
			if err != nil {
				return err
			}
			st, err := opts.openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			exp, err := experiment.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			outcomes, err := exp.Fix(cmd.Context(), parallel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, o := range outcomes {
				id, err := exp.SaveOutcome(cmd.Context(), st, o)
				if err != nil {
					return err
				}
				r, err := storage.Find(cmd.Context(), st, id)
				if err != nil {
					return err
				}
				if historyDir != "" {
					if err := exp.WriteHistories(historyDir, o); err != nil {
						return err
					}
				}
				fmt.Fprintln(out, viz.RenderRun(s, r, all))
				fmt.Fprintln(out, s.Separator(60))
				if !o.Report.Success {
					failed++
				}
			}
			fmt.Fprintf(out, "%d scenarios, %d not fully compensated\n", len(outcomes), failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 1, "scenarios fixed at a time")
	cmd.Flags().BoolVar(&all, "all", false, "show nominal cavities")
	cmd.Flags().StringVar(&historyDir, "history-dir", "", "write the optimisation histories as CSV under this directory")
	return cmd
}

func newStudyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "study [study.yaml]",
		Short: "fix a scripted list of failure cases and summarise them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			study, err := automation.LoadStudy(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := opts.openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			results, err := automation.RunStudy(cmd.Context(), study, cfg, experiment.NewRegistry(), st)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CASE\tFAILED\tSUCCESS\tEVALUATIONS\tRUNS\tERROR")
			for _, r := range results {
				errText := ""
				if r.Err != nil {
					errText = r.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%v\t%t\t%s\t%s\t%s\n",
					r.Case.Name,
					r.Case.Failed,
					r.Success,
					humanize.Comma(int64(r.Evaluations)),
					strings.Join(r.RunIDs, ","),
					errText,
				)
			}
			return w.Flush()
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.store(cmd)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tLINAC\tSOLVER\tCREATED\tFAILED\tSUCCESS")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
					run.ID,
					run.Kind,
					run.Linac,
					run.Solver,
					humanize.Time(run.Timestamp),
					strings.Join(run.Failed, ","),
					run.Success,
				)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	var (
		all      bool
		phase    string
		phaseOut string
	)
	cmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.styles()
			if err != nil {
				return err
			}
			st, err := opts.store(cmd)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			r, err := storage.Find(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, viz.RenderRun(s, r, all))
			if phase == "" {
				return nil
			}

			space, err := envelope.ParsePhaseSpace(phase)
			if err != nil {
				return err
			}
			e, err := viz.ExitEllipse(r.Profile, space)
			if err != nil {
				return err
			}
			ellipses := []viz.Ellipse{e}
			names := []string{"run " + r.Meta.ID}
			legend := "exit ellipse"
			if ref, ok := reference(cmd, st, r); ok {
				if e, err := viz.ExitEllipse(ref.Profile, space); err == nil {
					ellipses = append(ellipses, e)
					names = append(names, "reference "+ref.Meta.ID)
					legend += " and reference " + ref.Meta.ID
				}
			}
			if phaseOut != "" {
				title := fmt.Sprintf("[%s] exit ellipse", space)
				if err := viz.SavePhasePortrait(phaseOut, title, names, ellipses...); err != nil {
					return err
				}
				fmt.Fprintf(out, "phase portrait written to %s\n", phaseOut)
			}
			c, err := viz.PhasePortrait(40, 16, ellipses...)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, s.Box(fmt.Sprintf("[%s] %s", space, legend), strings.TrimRight(c.String(), "\n")))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show nominal cavities")
	cmd.Flags().StringVar(&phase, "phase", "", "draw the exit ellipse in this phase space")
	cmd.Flags().StringVar(&phaseOut, "phase-out", "", "also write the phase portrait to this png or svg file")
	return cmd
}

// reference loads the nominal run a fix was computed against.
func reference(cmd *cobra.Command, st storage.Store, r *storage.Record) (*storage.Record, bool) {
	if r.Meta.Reference == "" {
		return nil, false
	}
	ref, ok, err := st.GetRun(cmd.Context(), r.Meta.Reference)
	if err != nil || !ok {
		return nil, false
	}
	return ref, true
}

func newPlotCmd(opts *options) *cobra.Command {
	var (
		key           string
		png           string
		withRef       bool
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a profile column of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.store(cmd)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			r, err := storage.Find(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			series, err := profileSeries(r, key, "run "+r.Meta.ID)
			if err != nil {
				return err
			}
			all := []viz.Series{series}
			if withRef {
				if ref, ok := reference(cmd, st, r); ok {
					refSeries, err := profileSeries(ref, key, "reference "+ref.Meta.ID)
					if err != nil {
						return err
					}
					all = append([]viz.Series{refSeries}, all...)
				}
			}

			if png != "" {
				if err := viz.SavePNG(png, fmt.Sprintf("%s, run %s", key, r.Meta.ID), "z [m]", key, all...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plot written to %s\n", png)
				return nil
			}
			plot, err := viz.PlotSeries(key+" vs mesh point", width, height, all...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plot)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", output.KeyWKin, "profile column to plot")
	cmd.Flags().StringVar(&png, "png", "", "write the plot to this image file instead")
	cmd.Flags().BoolVar(&withRef, "ref", false, "overlay the reference run")
	cmd.Flags().IntVar(&width, "width", 80, "terminal plot width")
	cmd.Flags().IntVar(&height, "height", 12, "terminal plot height")
	return cmd
}

func profileSeries(r *storage.Record, key, name string) (viz.Series, error) {
	y, ok := r.Profile.Column(key)
	if !ok {
		return viz.Series{}, fmt.Errorf("run %s has no %s column (available: %v)", r.Meta.ID, key, r.Profile.Columns)
	}
	x, _ := r.Profile.Column(output.KeyZAbs)
	return viz.Series{Name: name, X: x, Y: y}, nil
}

func newExportCmd(opts *options) *cobra.Command {
	var format, path string
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run to json or xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := store.ParseFormat(format)
			if err != nil {
				return err
			}
			st, err := opts.store(cmd)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(st)

			r, err := storage.Find(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			if path == "" {
				path = fmt.Sprintf("%s.%s", r.Meta.ID, f)
			}
			if err := store.Export(path, f, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(store.FormatJSON), "json or xlsx")
	cmd.Flags().StringVarP(&path, "output", "o", "", "output file, <run_id>.<format> by default")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list presets, solvers, strategies and algorithms",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			reg := experiment.NewRegistry()
			listing(cmd.OutOrStdout(), []section{
				{"solver presets (--solver-preset)", config.ListPresets("beam_calculator")},
				{"wtf presets (--preset)", config.ListPresets("wtf")},
				{"solvers", reg.ListSolvers()},
				{"methods", reg.ListMethods()},
				{"strategies", reg.ListStrategies()},
				{"objective presets", reg.ListObjectivePresets()},
				{"algorithms", reg.ListAlgorithms()},
				{"metrics", reg.ListMetrics()},
				{"themes", viz.ThemeNames()},
			})
		},
	}
}

type section struct {
	title string
	names []string
}

func listing(w io.Writer, sections []section) {
	for _, sec := range sections {
		fmt.Fprintf(w, "%s:\n", sec.title)
		for _, name := range sec.names {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

func newFieldMapCmd(opts *options) *cobra.Command {
	var length float64
	cmd := &cobra.Command{
		Use:   "fieldmap [file.edz]",
		Short: "inspect a field map file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.styles()
			if err != nil {
				return err
			}
			f, err := fieldmap.Load(args[0], length)
			if err != nil {
				return err
			}
			body := fmt.Sprintf("%s %d\n%s %g m\n%s %g\n%s %d\n%s",
				s.Label.Render("points"), f.NZ+1,
				s.Label.Render("length"), f.ZMax,
				s.Label.Render("norm  "), f.Norm,
				s.Label.Render("cells "), f.NCell,
				viz.Sparkline(f.Samples(), 60))
			fmt.Fprintln(cmd.OutOrStdout(), s.Box(f.Path, body))
			return nil
		},
	}
	cmd.Flags().Float64Var(&length, "length", 0, "expected length in m, checked when positive")
	return cmd
}
