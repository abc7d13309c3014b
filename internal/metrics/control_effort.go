package metrics

import (
	"math"

	"github.com/san-kum/linacsim/internal/output"
)

// KEEffort is the mean relative change of k_e over the compensating
// cavities.
type KEEffort struct {
	name    string
	sum     float64
	samples int
}

func NewKEEffort() *KEEffort {
	return &KEEffort{
		name: "mean_k_e_change",
	}
}

func (c *KEEffort) Name() string {
	return c.name
}

func (c *KEEffort) ObserveCavity(ref, fix output.CavityParams) {
	if !fix.Status.IsCompensating() || ref.KE == 0 {
		return
	}
	c.sum += math.Abs(fix.KE-ref.KE) / math.Abs(ref.KE)
	c.samples++
}

func (c *KEEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *KEEffort) Reset() {
	c.sum = 0
	c.samples = 0
}
