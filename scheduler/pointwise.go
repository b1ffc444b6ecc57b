package scheduler

import "github.com/kernelfuse/fuser/ir"

// PointWise schedules fusions with no reductions at all: every output
// shares one parallelization, propagated from whichever output is widest.
type PointWise struct{}

func (PointWise) Name() string { return "pointwise" }

// CanSchedule accepts any fusion with zero non-trivial reductions.
func (PointWise) CanSchedule(f *ir.Fusion) bool {
	return len(nonTrivialReductionOps(f)) == 0
}

func (PointWise) Schedule(f *ir.Fusion) error {
	ref := referenceOutput(f)
	if ref == nil {
		return errNoSchedulableOutput
	}
	assignBlockAndGrid(ref.Domain.Axes)
	propagateAxes(f, ref)
	return nil
}

// referenceOutput returns the fusion output with the most axes, the
// natural reference for propagating a schedule to every other tensor view
// (original_source picks a similarly "widest" reference tensor view when
// scheduling a fusion as a single connected pointwise group).
func referenceOutput(f *ir.Fusion) *ir.TensorView {
	var best *ir.TensorView
	for _, v := range f.Outputs() {
		tv, ok := v.(*ir.TensorView)
		if !ok {
			continue
		}
		if best == nil || tv.NDims() > best.NDims() {
			best = tv
		}
	}
	return best
}
