package dynamo

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateOps(t *testing.T) {
	a := State{1, 2}
	b := State{0.5, -1}

	assert.Equal(t, State{1.5, 1}, a.Add(b))
	assert.Equal(t, State{2, 4}, a.Scale(2))
	assert.Equal(t, State{1, 2}, a, "operands are not modified")
}

func TestCheckLongitudinal(t *testing.T) {
	tests := []struct {
		name string
		x    State
		want error
	}{
		{"valid", State{1.02, 0.3}, nil},
		{"gamma below one", State{0.99, 0.3}, ErrDomain},
		{"nan", State{math.NaN(), 0.}, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLongitudinal(tt.x)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSimulationErrorUnwrap(t *testing.T) {
	err := &SimulationError{Element: "FM1", Step: 3, Wrapped: ErrDomain}
	assert.True(t, errors.Is(err, ErrDomain))
	assert.Contains(t, err.Error(), "FM1")
}

func TestParallelForCoversRange(t *testing.T) {
	const n = 1000
	var hits [n]int32
	var total int64

	ParallelFor(n, 16, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
			atomic.AddInt64(&total, 1)
		}
	})

	assert.Equal(t, int64(n), total)
	for i := range hits {
		if hits[i] != 1 {
			t.Fatalf("index %d visited %d times", i, hits[i])
		}
	}
}
