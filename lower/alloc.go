package lower

import (
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// insertAllocations implements pass 4 (spec.md §4.4b): for every tensor-
// producing statement whose output is not itself a fusion output, compute
// an alloc_pos, derive the kept allocation dimensions per the memory-type
// table, and insert the Allocate node (plus, for a reduction with an init
// value, a restricted initializer statement) at the position the table
// prescribes.
func (gl *GpuLower) insertAllocations(stmts []*lowered) error {
	for _, l := range stmts {
		if ir.IsFusionOutput(l.outTV) {
			continue
		}
		if _, already := gl.allocOf[l.outTV]; already {
			continue
		}

		allocPos := l.outTV.ComputeAt
		if allocPos > len(l.axes) {
			allocPos = len(l.axes)
		}

		size := gl.allocationSize(l.outTV, l.axes, allocPos)
		dynamic := !isConstKir(size)
		cat := kir.AllocStatic
		if dynamic {
			cat = kir.AllocDynamic
		}

		buf := gl.toKir(l.outTV).(*kir.TensorView)
		alloc := gl.b.NewAllocate(buf, size, cat, false)
		gl.allocOf[l.outTV] = alloc

		gl.placeAllocation(l, alloc, allocPos, dynamic)
		gl.maybeInsertReductionInit(l, alloc)
	}
	return nil
}

// allocationSize walks axes in order applying the memory-type keep/skip
// table (spec.md §4.4b). Reduction and broadcast axes are always skipped
// first, independent of memory type or position.
func (gl *GpuLower) allocationSize(tv *ir.TensorView, axes []*ir.IterDomain, allocPos int) kir.Val {
	var size kir.Val
	for i, axis := range axes {
		if axis.IsReduction() || axis.IsBroadcast() {
			continue
		}
		inside := i < allocPos
		if !keepAxis(tv.Memory, axis.Parallel, inside) {
			continue
		}
		if size == nil {
			size = gl.toKir(axis.Extent)
		} else {
			size = gl.b.MulExpr(size, gl.toKir(axis.Extent))
		}
	}
	if size == nil {
		return kir.NewConstInt(1)
	}
	return size
}

// keepAxis implements the memory-type keep/skip table from spec.md §4.4b.
func keepAxis(mem ir.MemoryType, p ir.ParallelType, inside bool) bool {
	switch mem {
	case ir.Shared:
		if inside {
			return p.IsThreadDim()
		}
		return !p.IsBlockDim()
	case ir.Local:
		if inside {
			return false
		}
		return !p.IsThread()
	case ir.Global:
		if inside {
			return p.IsThread()
		}
		return true
	default:
		return true
	}
}

func isConstKir(v kir.Val) bool {
	s, ok := v.(*kir.Scalar)
	return ok && s.IsConst()
}

// placeAllocation implements spec.md §4.4b's placement rule: compute-at
// axis 0 goes before the first top-level loop (or before the statement, if
// there is none); otherwise it goes inside the deepest compute-at loop,
// immediately before the next inner loop (or before the statement itself
// if fully inlined). A dynamically sized allocation is hoisted to the very
// top of the kernel regardless of its compute-at depth.
func (gl *GpuLower) placeAllocation(l *lowered, alloc *kir.Allocate, allocPos int, dynamic bool) {
	if dynamic {
		top := gl.kernel.TopLevelExprs()
		var target kir.Expr
		if len(top) > 0 {
			target = top[0]
		}
		gl.b.InsertBefore(nil, target, alloc)
		return
	}

	if allocPos == 0 {
		var target kir.Expr = l.stmt
		if len(l.axes) > 0 {
			if outerLoop, ok := gl.loopOf[l.axes[0]]; ok {
				target = outerLoop
			}
		}
		gl.b.InsertBefore(nil, target, alloc)
		return
	}

	if allocPos < len(l.axes) {
		parent := gl.loopOf[l.axes[allocPos-1]]
		target := kir.Expr(gl.loopOf[l.axes[allocPos]])
		gl.b.InsertBefore(parent, target, alloc)
		return
	}

	// Fully inlined: alloc_pos reaches the innermost loop depth.
	gl.b.InsertBefore(l.scope, l.stmt, alloc)
}

// maybeInsertReductionInit inserts, immediately before the reduction
// axis's own loop, a statement writing the reduction's init value across
// the allocated footprint (spec.md §4.4b). Placing it one scope above the
// reduction-axis loop naturally restricts it to the non-reduction axes
// without needing a second loop nest.
func (gl *GpuLower) maybeInsertReductionInit(l *lowered, alloc *kir.Allocate) {
	rop, ok := l.fusionExpr.(*ir.ReductionOp)
	if !ok || rop.Init == nil {
		return
	}
	rAxis := reductionAxis(l.axes)
	if rAxis == nil {
		return
	}
	rLoop, ok := gl.loopOf[rAxis]
	if !ok {
		return
	}
	parent := rLoop.ParentScope()
	init := gl.b.NewUnaryOp("init", gl.toKir(rop.Init), kir.Val(&kir.TensorIndex{Buffer: alloc.Buffer, Index: kir.NewConstInt(0)}), nil)
	gl.b.InsertBefore(parent, rLoop, init)
}
