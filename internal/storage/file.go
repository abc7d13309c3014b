package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
)

// File names inside a run directory.
const (
	MetadataFile = "metadata.json"
	ProfileFile  = "profile.csv"
	CavitiesFile = "cavities.csv"
	FaultsFile   = "faults.json"
)

// FileStore keeps one directory per run under baseDir.
type FileStore struct {
	baseDir string

	mu sync.RWMutex
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) Init(_ context.Context) error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) SaveRun(_ context.Context, r *Record) error {
	if err := prepare(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := filepath.Join(s.baseDir, r.Meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, MetadataFile), r.Meta); err != nil {
		return err
	}
	if err := writeProfile(filepath.Join(runDir, ProfileFile), r.Profile); err != nil {
		return err
	}
	if err := writeCavities(filepath.Join(runDir, CavitiesFile), r.Cavities); err != nil {
		return err
	}
	if len(r.Faults) > 0 {
		if err := writeJSON(filepath.Join(runDir, FaultsFile), r.Faults); err != nil {
			return err
		}
	}

	l := log.WithField("run", r.Meta.ID).WithField("kind", r.Meta.Kind)
	if size, err := dirSize(runDir); err == nil {
		l = l.WithField("size", humanize.Bytes(size))
	}
	l.Debug("run saved")
	return nil
}

func (s *FileStore) GetRun(_ context.Context, id string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runDir := filepath.Join(s.baseDir, id)
	var meta RunMetadata
	if err := readJSON(filepath.Join(runDir, MetadataFile), &meta); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := checkVersion(meta.SchemaVersion); err != nil {
		return nil, false, fmt.Errorf("run %s: %w", id, err)
	}

	r := &Record{Meta: meta}
	var err error
	if r.Profile, err = readProfile(filepath.Join(runDir, ProfileFile)); err != nil {
		return nil, false, fmt.Errorf("run %s: %w", id, err)
	}
	if r.Cavities, err = readCavities(filepath.Join(runDir, CavitiesFile)); err != nil {
		return nil, false, fmt.Errorf("run %s: %w", id, err)
	}
	if err := readJSON(filepath.Join(runDir, FaultsFile), &r.Faults); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("run %s: %w", id, err)
	}
	return r, true, nil
}

// ListRuns skips directories without a readable metadata file.
func (s *FileStore) ListRuns(_ context.Context) ([]RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta RunMetadata
		if err := readJSON(filepath.Join(s.baseDir, entry.Name(), MetadataFile), &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	sortRuns(runs)
	return runs, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeProfile(path string, p Profile) error {
	header := append([]string{"element"}, p.Columns...)
	rows := make([][]string, p.Len())
	for i := range rows {
		row := make([]string, 0, len(header))
		row = append(row, p.Elements[i])
		for _, col := range p.Values {
			row = append(row, formatFloat(float64(col[i])))
		}
		rows[i] = row
	}
	return writeCSV(path, header, rows)
}

func readProfile(path string) (Profile, error) {
	records, err := readCSV(path)
	if err != nil || len(records) == 0 {
		return Profile{}, err
	}
	header := records[0]
	p := Profile{Columns: append([]string(nil), header[1:]...)}
	p.Values = make([][]Float, len(p.Columns))
	for _, record := range records[1:] {
		if len(record) != len(header) {
			return Profile{}, fmt.Errorf("%s: expected %d fields, got %d", path, len(header), len(record))
		}
		p.Elements = append(p.Elements, record[0])
		for j := range p.Columns {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return Profile{}, fmt.Errorf("%s: %w", path, err)
			}
			p.Values[j] = append(p.Values[j], Float(v))
		}
	}
	return p, nil
}

var cavityHeader = []string{"name", "status", "k_e", "phi_0_abs", "phi_0_rel", "v_cav_mv", "phi_s"}

func writeCavities(path string, cavities []CavityRecord) error {
	rows := make([][]string, len(cavities))
	for i, c := range cavities {
		rows[i] = []string{c.Name, c.Status,
			formatFloat(float64(c.KE)), formatFloat(float64(c.Phi0Abs)), formatFloat(float64(c.Phi0Rel)),
			formatFloat(float64(c.VCav)), formatFloat(float64(c.PhiS))}
	}
	return writeCSV(path, cavityHeader, rows)
}

func readCavities(path string) ([]CavityRecord, error) {
	records, err := readCSV(path)
	if err != nil || len(records) < 2 {
		return nil, err
	}
	out := make([]CavityRecord, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(cavityHeader) {
			return nil, fmt.Errorf("%s: expected %d fields, got %d", path, len(cavityHeader), len(record))
		}
		var v [5]float64
		for j := range v {
			if v[j], err = strconv.ParseFloat(record[j+2], 64); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		out = append(out, CavityRecord{
			Name: record[0], Status: record[1],
			KE: Float(v[0]), Phi0Abs: Float(v[1]), Phi0Rel: Float(v[2]), VCav: Float(v[3]), PhiS: Float(v[4]),
		})
	}
	return out, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// formatFloat writes NaN as "NaN", which ParseFloat reads back.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func dirSize(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var size uint64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		size += uint64(info.Size())
	}
	return size, nil
}
