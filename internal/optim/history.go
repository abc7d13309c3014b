package optim

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// History keeps every evaluated trial in evaluation order.
type History struct {
	Variables   []string
	Objectives  []string
	Constraints []string

	mu      sync.Mutex
	records []Record
}

func NewHistory(p *Problem) *History {
	h := &History{Objectives: append([]string(nil), p.Objectives...)}
	for _, v := range p.Variables {
		h.Variables = append(h.Variables, v.String())
	}
	for _, c := range p.Constraints {
		h.Constraints = append(h.Constraints, c.String()+":lower", c.String()+":upper")
	}
	return h
}

func (h *History) Add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Records returns a snapshot of the trials.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// Rejected counts the trials that failed to evaluate.
func (h *History) Rejected() int {
	n := 0
	for _, r := range h.Records() {
		if r.Rejected() {
			n++
		}
	}
	return n
}

// Filenames of WriteCSV.
const (
	SettingsCSV    = "settings.csv"
	ObjectivesCSV  = "objectives.csv"
	ConstraintsCSV = "constraints.csv"
)

// WriteCSV writes the variables, objectives and constraint values of every
// trial into dir, one file each. The constraints file is skipped when the
// problem has none.
func (h *History) WriteCSV(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	records := h.Records()
	files := []struct {
		name   string
		header []string
		values func(Record) []float64
	}{
		{SettingsCSV, h.Variables, func(r Record) []float64 { return r.X }},
		{ObjectivesCSV, h.Objectives, func(r Record) []float64 { return r.F }},
		{ConstraintsCSV, h.Constraints, func(r Record) []float64 { return r.G }},
	}
	for _, f := range files {
		if len(f.header) == 0 {
			continue
		}
		if err := writeCSV(filepath.Join(dir, f.name), f.header, records, f.values); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func writeCSV(path string, header []string, records []Record, values func(Record) []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(append([]string{"trial"}, header...)); err != nil {
		return err
	}
	row := make([]string, len(header)+1)
	for i, r := range records {
		row[0] = strconv.Itoa(i)
		v := values(r)
		for j := range header {
			row[j+1] = ""
			if j < len(v) {
				row[j+1] = strconv.FormatFloat(v[j], 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
