package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors shared by every numeric package.
var (
	// ErrInvalidState indicates a state vector holding NaN or Inf.
	ErrInvalidState = errors.New("linacsim: invalid state (NaN or Inf detected)")

	// ErrDomain indicates a math domain error, e.g. gamma <= 1.
	ErrDomain = errors.New("linacsim: math domain error")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("linacsim: parameter out of valid bounds")

	// ErrContextCanceled indicates the computation was interrupted.
	ErrContextCanceled = errors.New("linacsim: canceled by context")

	// ErrDimensionMismatch indicates mismatched vector or matrix dimensions.
	ErrDimensionMismatch = errors.New("linacsim: dimension mismatch")

	// ErrMissingAttribute is returned when a quantity needs data that only
	// exists after a propagation, e.g. a relative phase without entry phase.
	ErrMissingAttribute = errors.New("linacsim: missing attribute")

	// ErrPhiSNotReached indicates the synchronous phase solve did not
	// converge.
	ErrPhiSNotReached = errors.New("linacsim: synchronous phase not reached")

	// ErrNotAvailable marks a quantity that was never computed.
	ErrNotAvailable = errors.New("linacsim: quantity not available")

	// ErrStatusTransition is returned for a forbidden cavity status change,
	// e.g. bringing a failed cavity back to nominal.
	ErrStatusTransition = errors.New("linacsim: forbidden status transition")
)

// SimulationError wraps an error with its location in the beam line.
type SimulationError struct {
	Element string
	Step    int
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("%s (step %d): %v", e.Element, e.Step, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
