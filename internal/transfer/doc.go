// Package transfer implements the element transfer functions.
//
// Every function maps an entry Lorentz factor and the element parameters to
// one transfer matrix per integration step, the (gamma, phi) of the
// synchronous particle at the exit of every step and, for accelerating
// elements, the integrated complex field used to derive the cavity voltage
// and synchronous phase.
//
// Matrices are 2x2 in the [z-delta] plane for the 1D solver and 6x6 over
// (x, x', y, y', z, delta) for the 3D solver. Phases are bunch phases
// relative to the element entry.
//
// The functions are pure. They never retry: a math domain error such as a
// Lorentz factor dropping below one is returned to the caller.
package transfer
