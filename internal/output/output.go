package output

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/elements"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/units"
)

// CavityParams are the settings and derived parameters of one cavity as
// seen by a propagation.
type CavityParams struct {
	Name    string
	Status  elements.Status
	KE      float64
	Phi0Abs float64
	Phi0Rel float64
	VCav    float64
	PhiS    float64
}

// SimulationOutput is the result of one propagation. Every per mesh point
// slice has Len() entries; index 0 is the entry of the first element.
type SimulationOutput struct {
	Solver string

	ZAbs   []float64
	Gamma  []float64
	Beta   []float64
	WKin   []float64
	PhiAbs []float64

	TmCumul []*mat.Dense
	Beam    *envelope.Beam

	// Cavities follows the cavity order of the list of elements.
	Cavities []CavityParams

	// Settings holds the cavity settings used, entry phases included.
	Settings elements.SetOfCavitySettings

	names  []string
	slices map[string][2]int
	cavIdx map[string]int
}

// New allocates an output holding the entry point only.
func New(solver string, zIn, gammaIn, phiAbsIn float64, tmCumulIn *mat.Dense) *SimulationOutput {
	return &SimulationOutput{
		Solver:  solver,
		ZAbs:    []float64{zIn},
		Gamma:   []float64{gammaIn},
		PhiAbs:  []float64{phiAbsIn},
		TmCumul: []*mat.Dense{tmCumulIn},
		slices:  make(map[string][2]int),
		cavIdx:  make(map[string]int),
	}
}

func (o *SimulationOutput) Len() int { return len(o.Gamma) }

// Entry returns the last mesh point index, i.e. the entry of the next
// element to be appended.
func (o *SimulationOutput) Entry() int { return len(o.Gamma) - 1 }

// AppendElement records that element name spans mesh points [entry, Len()-1].
func (o *SimulationOutput) AppendElement(name string, entry int) {
	o.names = append(o.names, name)
	o.slices[name] = [2]int{entry, o.Len() - 1}
}

func (o *SimulationOutput) AppendCavity(p CavityParams) {
	o.cavIdx[p.Name] = len(o.Cavities)
	o.Cavities = append(o.Cavities, p)
}

// ElementNames returns the propagated elements in order.
func (o *SimulationOutput) ElementNames() []string { return o.names }

// Slice returns the entry and exit mesh indexes of an element.
func (o *SimulationOutput) Slice(name string) (entry, exit int, err error) {
	s, ok := o.slices[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: element %q not in output", dynamo.ErrNotAvailable, name)
	}
	return s[0], s[1], nil
}

func (o *SimulationOutput) Cavity(name string) (CavityParams, error) {
	i, ok := o.cavIdx[name]
	if !ok {
		return CavityParams{}, fmt.Errorf("%w: cavity %q not in output", dynamo.ErrNotAvailable, name)
	}
	return o.Cavities[i], nil
}

// Finalize derives energies and the beam envelope once every element has
// been appended.
func (o *SimulationOutput) Finalize(sigmaIn mat.Matrix, lambdaBunch, eRest float64) error {
	n := o.Len()
	if len(o.PhiAbs) != n || len(o.TmCumul) != n || len(o.ZAbs) != n {
		return fmt.Errorf("%w: inconsistent output arrays", dynamo.ErrDimensionMismatch)
	}
	o.Beta = make([]float64, n)
	o.WKin = make([]float64, n)
	for i, g := range o.Gamma {
		beta, err := units.BetaFromGamma(g)
		if err != nil {
			return err
		}
		w, err := units.KineticFromGamma(g, eRest)
		if err != nil {
			return err
		}
		o.Beta[i], o.WKin[i] = beta, w
	}
	if sigmaIn == nil {
		return nil
	}
	beam, err := envelope.Compute(o.TmCumul, sigmaIn, o.Gamma, lambdaBunch, eRest)
	if err != nil {
		return err
	}
	o.Beam = beam
	return nil
}

// ComputeMismatch fills the [z-delta] mismatch factor against ref, which
// must have the same mesh.
func (o *SimulationOutput) ComputeMismatch(ref *SimulationOutput) error {
	if o.Beam == nil || ref.Beam == nil {
		return fmt.Errorf("%w: envelope not computed", dynamo.ErrNotAvailable)
	}
	refPlane, err := ref.Beam.Plane(envelope.ZDelta)
	if err != nil {
		return err
	}
	return o.Beam.ComputeMismatch(refPlane.Twiss)
}

// TwissAt returns the Twiss parameters of space at a mesh index.
func (o *SimulationOutput) TwissAt(space envelope.PhaseSpace, idx int) (envelope.Twiss, error) {
	if o.Beam == nil {
		return envelope.Twiss{}, fmt.Errorf("%w: envelope not computed", dynamo.ErrNotAvailable)
	}
	p, err := o.Beam.Plane(space)
	if err != nil {
		return envelope.Twiss{}, err
	}
	if idx < 0 || idx >= p.Len() {
		return envelope.Twiss{}, fmt.Errorf("%w: mesh index %d", dynamo.ErrNotAvailable, idx)
	}
	return p.Twiss[idx], nil
}

// Exit returns the kinetic energy and absolute phase at the last mesh point.
func (o *SimulationOutput) Exit() (wKin, phiAbs float64) {
	n := o.Len() - 1
	if len(o.WKin) == 0 {
		return math.NaN(), o.PhiAbs[n]
	}
	return o.WKin[n], o.PhiAbs[n]
}
