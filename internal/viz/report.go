package viz

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/output"
	"github.com/san-kum/linacsim/internal/storage"
	"github.com/san-kum/linacsim/internal/units"
)

const sparkWidth = 48

// RenderRun renders the summary of a run, its cavities and its faults.
// Nominal cavities are folded into a count unless all is set.
func RenderRun(s Styles, r *storage.Record, all bool) string {
	parts := []string{
		s.Box("run "+r.Meta.ID, renderMeta(s, r)),
		renderCavities(s, r.Cavities, all),
	}
	for _, fr := range r.Faults {
		parts = append(parts, RenderFault(s, fr))
	}
	return strings.Join(parts, "\n")
}

func renderMeta(s Styles, r *storage.Record) string {
	m := r.Meta
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render(fmt.Sprintf("%-12s", label)), s.Value.Render(value))
	}
	line("kind", m.Kind)
	line("linac", m.Linac)
	line("solver", m.Solver)
	line("created", humanize.Time(m.Timestamp))
	line("elapsed", m.Elapsed.Round(time.Millisecond).String())
	line("points", humanize.Comma(int64(m.Points)))
	if m.Reference != "" {
		line("reference", m.Reference)
	}
	if m.ScenarioID != "" {
		line("scenario", m.ScenarioID)
		line("failed", strings.Join(m.Failed, " "))
	}
	line("success", renderSuccess(s, m.Success))

	if w, ok := r.Profile.Column(output.KeyWKin); ok && len(w) > 0 {
		line("w_kin", fmt.Sprintf("%s %.3f MeV", Sparkline(w, sparkWidth), w[len(w)-1]))
	}
	if mm, ok := r.Profile.Column(output.KeyMismatch); ok {
		line("mismatch", Sparkline(mm, sparkWidth))
	}
	for _, name := range m.MetricNames() {
		line(name, formatFloat(m.Metric(name)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSuccess(s Styles, ok bool) string {
	if ok {
		return s.OK.Render("yes")
	}
	return s.Fail.Render("no")
}

func renderCavities(s Styles, cavities []storage.CavityRecord, all bool) string {
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%-10s %-26s %8s %10s %10s %10s",
		"cavity", "status", "k_e", "phi_0 deg", "v_cav MV", "phi_s deg")))
	b.WriteString("\n")

	hidden := 0
	for _, c := range cavities {
		if !all && elements.Status(c.Status) == elements.Nominal {
			hidden++
			continue
		}
		fmt.Fprintf(&b, "%-10s %s %8s %10s %10s %10s\n",
			c.Name,
			s.Status(c.Status).Render(fmt.Sprintf("%-26s", c.Status)),
			formatFloat(float64(c.KE)),
			formatFloat(degrees(c.Phi0Rel)),
			formatFloat(float64(c.VCav)),
			formatFloat(degrees(c.PhiS)))
	}
	if hidden > 0 {
		b.WriteString(s.Muted.Render(fmt.Sprintf("%d nominal cavities not shown", hidden)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderFault renders the compensation of one fault.
func RenderFault(s Styles, fr storage.FaultRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", s.Label.Render("failed      "), strings.Join(fr.Failed, " "))
	fmt.Fprintf(&b, "%s %s\n", s.Label.Render("compensating"), strings.Join(fr.Compensating, " "))
	fmt.Fprintf(&b, "%s %s\n", s.Label.Render("zone        "), fr.Zone)
	fmt.Fprintf(&b, "%s %s after %s evaluations, norm %s\n", s.Label.Render("status      "),
		s.Status(fr.Status).Render(fr.Status), humanize.Comma(int64(fr.Evaluations)), formatFloat(float64(fr.Norm)))
	if fr.Err != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render("error       "), s.Fail.Render(fr.Err))
	}
	names := fr.ObjNames
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(fr.Objectives))
	}
	for _, name := range names {
		v, ok := fr.Objectives[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s %s\n", s.Muted.Render(fmt.Sprintf("%-36s", name)), formatFloat(float64(v)))
	}

	title := fmt.Sprintf("fault %d", fr.ID)
	if fr.Success {
		title += " " + s.OK.Render("ok")
	} else {
		title += " " + s.Fail.Render("not ok")
	}
	return s.Box(title, strings.TrimRight(b.String(), "\n"))
}

func degrees(v storage.Float) float64 { return units.Deg(float64(v)) }

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "-"
	case v != 0 && (math.Abs(v) < 1e-3 || math.Abs(v) >= 1e5):
		return fmt.Sprintf("%.3e", v)
	}
	return fmt.Sprintf("%.4g", v)
}
