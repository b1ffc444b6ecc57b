package scheduler

import (
	"errors"

	"github.com/kernelfuse/fuser/ir"
)

var errNoSchedulableOutput = errors.New("scheduler: fusion has no tensor-view output to schedule from")
var errNoReductionOutput = errors.New("scheduler: reduction op's output is not a tensor view")

// SingleReduction schedules fusions containing exactly one non-trivial
// reduction, provided the reduction's result is never broadcast back out
// (original_source disallows this to keep grid-reduction support simple:
// a broadcast consumer would need the grid-reduction workspace read back
// by every thread that didn't participate in the reduction).
type SingleReduction struct{}

func (SingleReduction) Name() string { return "single_reduction" }

func (SingleReduction) CanSchedule(f *ir.Fusion) bool {
	reds := nonTrivialReductionOps(f)
	if len(reds) != 1 {
		return false
	}
	redTV, ok := reds[0].Out.(*ir.TensorView)
	if !ok {
		return false
	}
	return !hasDescendantBroadcast(redTV)
}

func (SingleReduction) Schedule(f *ir.Fusion) error {
	reds := nonTrivialReductionOps(f)
	if len(reds) != 1 {
		return errors.New("scheduler: single_reduction requires exactly one non-trivial reduction")
	}
	redTV, ok := reds[0].Out.(*ir.TensorView)
	if !ok {
		return errNoReductionOutput
	}
	assignBlockAndGrid(redTV.Domain.Axes)
	propagateAxes(f, redTV)
	return nil
}
