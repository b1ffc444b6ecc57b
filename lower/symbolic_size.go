package lower

import (
	"fmt"

	"github.com/kernelfuse/fuser/ir"
)

// replaceSymbolicSizes implements pass 1 (spec.md §4.4 step 1): every
// fusion input and output tensor view gets its root-domain extents
// replaced with fresh named-scalar sentinels ("T0.size[0]", ...) that the
// launch planner's evaluator (package symbolic) will later bind from the
// caller's runtime shapes. The new sentinel replaces the Extent field of the
// IterDomain object itself, so a tensor view that holds the same axis object
// (as package scheduler's propagateAxes arranges) sees it too. Intermediate
// tensor views with axes of their own keep their original extents: no
// extent expression is derived for them from the renamed roots.
func (gl *GpuLower) replaceSymbolicSizes() error {
	guard := ir.EnterFusion(gl.fusion)
	defer guard.Exit()

	renamed := make(map[*ir.IterDomain]bool)

	for i, v := range gl.fusion.Inputs() {
		tv, ok := v.(*ir.TensorView)
		if !ok {
			continue
		}
		for axisIdx, axis := range tv.Domain.Root {
			if renamed[axis] {
				continue
			}
			axis.Extent = ir.NewNamedScalar(fmt.Sprintf("T%d.size[%d]", i, axisIdx), ir.Int)
			renamed[axis] = true
		}
	}

	for i, v := range gl.fusion.Outputs() {
		tv, ok := v.(*ir.TensorView)
		if !ok {
			continue
		}
		for axisIdx, axis := range tv.Domain.Root {
			if renamed[axis] {
				continue
			}
			axis.Extent = ir.NewNamedScalar(fmt.Sprintf("T%d_out.size[%d]", i, axisIdx), ir.Int)
			renamed[axis] = true
		}
	}

	return nil
}
