// Package beamcalc propagates the synchronous particle and the beam envelope
// through a list of elements.
//
// An Envelope solver walks the elements strictly in order. For each one it
// resolves the cavity settings (override or nominal), calls the matching
// transfer function and appends the per step matrices, energies and phases
// to a SimulationOutput. The cumulated transfer matrices are then used to
// propagate the input sigma matrix.
//
// # Cavity phases
//
// Cavities referenced by their synchronous phase need the relative phase
// that produces it. It is found by SolvePhiS, a bracketing then bisection
// search over phi_0_rel, run every time the cavity is reached.
//
// # Thread Safety
//
// RunWithThis may be called concurrently on the same solver and the same
// list of elements: nominal settings are only read and per element
// parameters are cached under a lock.
package beamcalc
