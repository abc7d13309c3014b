package integrators

import "github.com/san-kum/linacsim/internal/dynamo"

var _ dynamo.Integrator = (*Leapfrog)(nil)

// Leapfrog is a staggered kick-drift scheme. The first half of the state
// holds momentum-like components living on half steps, the second half the
// conjugate positions living on whole steps. For the longitudinal state this
// is gamma(i-1/2) and phi(i).
type Leapfrog struct {
	scratch dynamo.State
}

func NewLeapfrog() *Leapfrog {
	return &Leapfrog{}
}

func (l *Leapfrog) Step(sys dynamo.System, x dynamo.State, z, dz float64) dynamo.State {
	n := len(x)
	half := n / 2

	if len(l.scratch) != n {
		l.scratch = make(dynamo.State, n)
	}

	result := make(dynamo.State, n)
	dx := sys.Derive(x, z)

	for i := 0; i < half; i++ {
		result[i] = x[i] + dx[i]*dz
		l.scratch[i] = result[i]
	}
	for i := half; i < n; i++ {
		l.scratch[i] = x[i]
	}

	dxNew := sys.Derive(l.scratch, z+0.5*dz)
	for i := half; i < n; i++ {
		result[i] = x[i] + dxNew[i]*dz
	}

	return result
}
