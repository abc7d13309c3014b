package store

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/san-kum/linacsim/internal/storage"
)

// Sheet names of an exported workbook. Each fault adds a "fault <id>" sheet
// holding its trials.
const (
	SheetRun      = "run"
	SheetProfile  = "profile"
	SheetCavities = "cavities"
	SheetFaults   = "faults"
)

func ExportXLSX(path string, r *storage.Record) error {
	f, err := workbook(r)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

func WriteXLSX(w io.Writer, r *storage.Record) error {
	f, err := workbook(r)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

type sheet struct {
	name string
	rows [][]any
}

func workbook(r *storage.Record) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		f.Close()
		return nil, err
	}
	sheets := []sheet{
		{SheetRun, runRows(r.Meta)},
		{SheetProfile, profileRows(r.Profile)},
		{SheetCavities, cavityRows(r.Cavities)},
	}
	if len(r.Faults) > 0 {
		sheets = append(sheets, sheet{SheetFaults, faultRows(r.Faults)})
		for _, fr := range r.Faults {
			sheets = append(sheets, sheet{fmt.Sprintf("fault %d", fr.ID), trialRows(fr)})
		}
	}

	for _, s := range sheets {
		if s.name != SheetRun {
			if _, err := f.NewSheet(s.name); err != nil {
				f.Close()
				return nil, err
			}
		}
		if err := writeRows(f, s.name, s.rows); err != nil {
			f.Close()
			return nil, fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}
	return f, nil
}

func writeRows(f *excelize.File, name string, rows [][]any) error {
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, axis, &row); err != nil {
			return err
		}
	}
	return nil
}

// cell leaves non-finite values empty.
func cell(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}

func runRows(m storage.RunMetadata) [][]any {
	rows := [][]any{
		{"id", m.ID},
		{"kind", m.Kind},
		{"linac", m.Linac},
		{"solver", m.Solver},
		{"timestamp", m.Timestamp.Format(time.RFC3339)},
		{"config_digest", m.ConfigDigest},
		{"reference", m.Reference},
		{"scenario_id", m.ScenarioID},
		{"success", m.Success},
		{"points", m.Points},
		{"elapsed_s", m.Elapsed.Seconds()},
	}
	for _, name := range m.MetricNames() {
		rows = append(rows, []any{name, cell(m.Metric(name))})
	}
	return rows
}

func profileRows(p storage.Profile) [][]any {
	header := []any{"element"}
	for _, c := range p.Columns {
		header = append(header, c)
	}
	rows := [][]any{header}
	for i := 0; i < p.Len(); i++ {
		row := []any{p.Elements[i]}
		for _, col := range p.Values {
			row = append(row, cell(float64(col[i])))
		}
		rows = append(rows, row)
	}
	return rows
}

func cavityRows(cavities []storage.CavityRecord) [][]any {
	rows := [][]any{{"name", "status", "k_e", "phi_0_abs", "phi_0_rel", "v_cav_mv", "phi_s"}}
	for _, c := range cavities {
		rows = append(rows, []any{c.Name, c.Status,
			cell(float64(c.KE)), cell(float64(c.Phi0Abs)), cell(float64(c.Phi0Rel)),
			cell(float64(c.VCav)), cell(float64(c.PhiS))})
	}
	return rows
}

func faultRows(faults []storage.FaultRecord) [][]any {
	rows := [][]any{{"id", "failed", "compensating", "zone", "success", "status", "evaluations", "norm", "error"}}
	for _, fr := range faults {
		rows = append(rows, []any{fr.ID, strings.Join(fr.Failed, " "), strings.Join(fr.Compensating, " "), fr.Zone,
			fr.Success, fr.Status, fr.Evaluations, cell(float64(fr.Norm)), fr.Err})
	}
	return rows
}

func trialRows(fr storage.FaultRecord) [][]any {
	header := []any{"trial"}
	for _, names := range [][]string{fr.Variables, fr.ObjNames, fr.Constraints} {
		for _, n := range names {
			header = append(header, n)
		}
	}
	header = append(header, "error")
	rows := [][]any{header}

	for i, t := range fr.Trials {
		row := []any{i}
		for _, part := range []struct {
			values []storage.Float
			n      int
		}{{t.X, len(fr.Variables)}, {t.F, len(fr.ObjNames)}, {t.G, len(fr.Constraints)}} {
			for j := 0; j < part.n; j++ {
				if j < len(part.values) {
					row = append(row, cell(float64(part.values[j])))
				} else {
					row = append(row, "")
				}
			}
		}
		rows = append(rows, append(row, t.Err))
	}
	return rows
}
