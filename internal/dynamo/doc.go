// Package dynamo provides the numeric primitives shared by the beam
// dynamics packages.
//
//   - [State]: vector integrated along the beam axis
//   - [System]: ODE dX/dz = f(X, z)
//   - [Integrator]: one-step integrator interface
//   - [SimulationError]: error carrying the element and step where a
//     propagation failed
//   - [ParallelFor]: chunked fan-out over independent work items
//
// # Example
//
//	integ := integrators.NewRK4()
//	x := dynamo.State{gamma, 0.}
//	for i := 0; i < nSteps; i++ {
//		x = integ.Step(cavity, x, float64(i)*dz, dz)
//		if err := dynamo.CheckLongitudinal(x); err != nil {
//			return &dynamo.SimulationError{Element: name, Step: i, State: x, Wrapped: err}
//		}
//	}
//
// # Thread Safety
//
// States are plain slices and are not shared between goroutines by the
// callers. Integrators keep scratch buffers and must not be shared either;
// create one per goroutine.
package dynamo
