package dynamo

import (
	"fmt"
	"math"
)

// State is the integrated vector. Field-map integrators use
// State{gamma, phi_rf}.
type State []float64

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

// System is an ODE dX/dz = f(X, z) integrated along the beam axis.
type System interface {
	Derive(x State, z float64) State
	StateDim() int
}

type Integrator interface {
	Step(sys System, x State, z, dz float64) State
}

// Longitudinal state indices.
const (
	IdxGamma = 0
	IdxPhi   = 1
)

// CheckLongitudinal reports ErrDomain when a (gamma, phi) state left the
// physical region.
func CheckLongitudinal(x State) error {
	if !x.IsValid() {
		return ErrInvalidState
	}
	if x[IdxGamma] <= 1. {
		return fmt.Errorf("%w: gamma=%g", ErrDomain, x[IdxGamma])
	}
	return nil
}
