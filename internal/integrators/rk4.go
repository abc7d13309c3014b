package integrators

import "github.com/san-kum/linacsim/internal/dynamo"

var _ dynamo.Integrator = (*RK4)(nil)

type RK4 struct {
	k1, k2, k3, k4 dynamo.State
	scratch        dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

// Increment returns the RK4 variation of x over [z, z+dz] without applying
// it. Field-map transfer functions need it to place the thin lens at the
// middle of the step.
func (r *RK4) Increment(sys dynamo.System, x dynamo.State, z, dz float64) dynamo.State {
	n := len(x)
	r.ensureScratch(n)

	copy(r.k1, sys.Derive(x, z))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dz*0.5*r.k1[i]
	}
	copy(r.k2, sys.Derive(r.scratch, z+dz*0.5))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dz*0.5*r.k2[i]
	}
	copy(r.k3, sys.Derive(r.scratch, z+dz*0.5))

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dz*r.k3[i]
	}
	copy(r.k4, sys.Derive(r.scratch, z+dz))

	delta := make(dynamo.State, n)
	dz6 := dz / 6.0
	for i := 0; i < n; i++ {
		delta[i] = dz6 * (r.k1[i] + 2*r.k2[i] + 2*r.k3[i] + r.k4[i])
	}
	return delta
}

func (r *RK4) Step(sys dynamo.System, x dynamo.State, z, dz float64) dynamo.State {
	return x.Add(r.Increment(sys, x, z, dz))
}
