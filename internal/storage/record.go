package storage

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/linacsim/internal/fault"
	"github.com/san-kum/linacsim/internal/optim"
	"github.com/san-kum/linacsim/internal/output"
)

// Kinds of stored runs.
const (
	KindNominal = "nominal"
	KindFix     = "fix"
)

type RunMetadata struct {
	SchemaVersion int              `json:"schema_version"`
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	Linac         string           `json:"linac"`
	Solver        string           `json:"solver"`
	Timestamp     time.Time        `json:"timestamp"`
	ConfigDigest  string           `json:"config_digest"`
	Reference     string           `json:"reference,omitempty"`
	ScenarioID    string           `json:"scenario_id,omitempty"`
	Failed        []string         `json:"failed,omitempty"`
	Success       bool             `json:"success"`
	Points        int              `json:"points"`
	Elapsed       time.Duration    `json:"elapsed"`
	Metrics       map[string]Float `json:"metrics,omitempty"`
}

// Profile holds the per mesh point quantities of a propagation, column
// major. Elements[i] is the element whose exit is point i; point 0 is the
// entry of the first element.
type Profile struct {
	Elements []string  `json:"elements"`
	Columns  []string  `json:"columns"`
	Values   [][]Float `json:"values"`
}

func (p Profile) Len() int { return len(p.Elements) }

func (p Profile) Column(name string) ([]float64, bool) {
	for i, c := range p.Columns {
		if c == name {
			return Float64s(p.Values[i]), true
		}
	}
	return nil, false
}

type CavityRecord struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	KE      Float  `json:"k_e"`
	Phi0Abs Float  `json:"phi_0_abs"`
	Phi0Rel Float  `json:"phi_0_rel"`
	VCav    Float  `json:"v_cav_mv"`
	PhiS    Float  `json:"phi_s"`
}

type Trial struct {
	X   []Float `json:"x"`
	F   []Float `json:"f,omitempty"`
	G   []Float `json:"g,omitempty"`
	Err string  `json:"err,omitempty"`
}

// FaultRecord is one compensated fault and its optimisation history.
type FaultRecord struct {
	ID           int              `json:"id"`
	Failed       []string         `json:"failed"`
	Compensating []string         `json:"compensating"`
	Zone         string           `json:"zone"`
	Success      bool             `json:"success"`
	Status       string           `json:"status"`
	Evaluations  int              `json:"evaluations"`
	Objectives   map[string]Float `json:"objectives,omitempty"`
	Norm         Float            `json:"norm"`
	Err          string           `json:"err,omitempty"`

	Variables   []string `json:"variables,omitempty"`
	ObjNames    []string `json:"objective_names,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Trials      []Trial  `json:"trials,omitempty"`
}

// Record is everything stored for one run.
type Record struct {
	Meta     RunMetadata    `json:"meta"`
	Profile  Profile        `json:"profile"`
	Cavities []CavityRecord `json:"cavities"`
	Faults   []FaultRecord  `json:"faults,omitempty"`
}

// NewRecord snapshots out. The ID is left empty when meta has none, Save
// fills it.
func NewRecord(meta RunMetadata, out *output.SimulationOutput) (*Record, error) {
	profile, err := NewProfile(out)
	if err != nil {
		return nil, err
	}
	meta.Solver = out.Solver
	meta.Points = out.Len()
	r := &Record{Meta: meta, Profile: profile}
	for _, c := range out.Cavities {
		r.Cavities = append(r.Cavities, CavityRecord{
			Name:    c.Name,
			Status:  string(c.Status),
			KE:      Float(c.KE),
			Phi0Abs: Float(c.Phi0Abs),
			Phi0Rel: Float(c.Phi0Rel),
			VCav:    Float(c.VCav),
			PhiS:    Float(c.PhiS),
		})
	}
	return r, nil
}

// NewProfile copies every per mesh point quantity out has computed.
func NewProfile(out *output.SimulationOutput) (Profile, error) {
	p := Profile{Elements: make([]string, out.Len())}
	names := out.ElementNames()
	if len(names) > 0 {
		p.Elements[0] = names[0]
	}
	for _, name := range names {
		entry, exit, err := out.Slice(name)
		if err != nil {
			return Profile{}, err
		}
		for i := entry + 1; i <= exit; i++ {
			p.Elements[i] = name
		}
	}

	for _, key := range out.Keys() {
		if perCavity[key] {
			continue
		}
		v, err := out.Get(key, output.Query{})
		if output.IsNotAvailable(err) {
			continue
		}
		if err != nil {
			return Profile{}, fmt.Errorf("profile %s: %w", key, err)
		}
		p.Columns = append(p.Columns, key)
		p.Values = append(p.Values, Floats(v))
	}
	return p, nil
}

var perCavity = map[string]bool{
	output.KeyVCav: true, output.KeyPhiS: true, output.KeyKE: true,
	output.KeyPhi0Abs: true, output.KeyPhi0Rel: true,
}

// NewFaultRecord merges the report of a fault with the trials of h, which
// may be nil.
func NewFaultRecord(fr fault.FaultReport, h *optim.History) FaultRecord {
	rec := FaultRecord{
		ID:           fr.ID,
		Failed:       fr.Failed,
		Compensating: fr.Compensating,
		Zone:         fr.Zone,
		Success:      fr.Success,
		Status:       fr.Status,
		Evaluations:  fr.Evaluations,
		Objectives:   floatMap(fr.Objectives),
		Norm:         Float(fr.Norm),
		Err:          fr.Err,
	}
	if h == nil {
		return rec
	}
	rec.Variables, rec.ObjNames, rec.Constraints = h.Variables, h.Objectives, h.Constraints
	for _, t := range h.Records() {
		trial := Trial{X: Floats(t.X)}
		if t.Rejected() {
			trial.Err = t.Err.Error()
		} else {
			trial.F, trial.G = Floats(t.F), Floats(t.G)
		}
		rec.Trials = append(rec.Trials, trial)
	}
	return rec
}

func floatMap(m map[string]float64) map[string]Float {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

// MetricNames returns the metric names of meta, sorted.
func (m RunMetadata) MetricNames() []string {
	names := make([]string, 0, len(m.Metrics))
	for k := range m.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Metric returns NaN for unknown names.
func (m RunMetadata) Metric(name string) float64 {
	if v, ok := m.Metrics[name]; ok {
		return float64(v)
	}
	return math.NaN()
}

func prepare(r *Record) error {
	if r == nil {
		return errors.New("nil record")
	}
	if r.Meta.ID == "" {
		r.Meta.ID = uuid.NewString()
	}
	if r.Meta.Timestamp.IsZero() {
		r.Meta.Timestamp = time.Now()
	}
	r.Meta.SchemaVersion = CurrentSchemaVersion
	return nil
}
