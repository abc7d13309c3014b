package elements

import (
	"fmt"

	"github.com/san-kum/linacsim/internal/dynamo"
)

type Status string

const (
	Nominal              Status = "nominal"
	RephasedInProgress   Status = "rephased (in progress)"
	RephasedOK           Status = "rephased (ok)"
	Failed               Status = "failed"
	CompensateInProgress Status = "compensate (in progress)"
	CompensateOK         Status = "compensate (ok)"
	CompensateNotOK      Status = "compensate (not ok)"
)

var Statuses = []Status{
	Nominal, RephasedInProgress, RephasedOK, Failed,
	CompensateInProgress, CompensateOK, CompensateNotOK,
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsCompensating is true for the three compensate statuses.
func (s Status) IsCompensating() bool {
	return s == CompensateInProgress || s == CompensateOK || s == CompensateNotOK
}

// checkTransition enforces that failed is terminal and that nothing goes
// back to nominal.
func checkTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", dynamo.ErrStatusTransition, to)
	}
	if from == to {
		return nil
	}
	if from == Failed || to == Nominal {
		return fmt.Errorf("%w: %s -> %s", dynamo.ErrStatusTransition, from, to)
	}
	return nil
}
