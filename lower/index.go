package lower

import (
	"fmt"

	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// generateLoopNests implements passes 2 (loop-nest generation), 3 (index
// lowering, spec.md §4.4a) and 5 (predicate insertion) as a single
// traversal. The three are kept textually separate below (computeIndex,
// computePredicate, buildStatement) but run together because kernel-IR
// statement nodes are immutable once built (spec.md §4.2): a statement's
// operand addresses and its guarding predicate must both be known before
// kir.Builder constructs it, so there is no later point at which a
// separate "index lowering" traversal could still rewrite an already-built
// UnaryOp/BinaryOp/ReductionOp in place. Allocation insertion and
// synchronization insertion (passes 4 and 6) remain genuinely separate
// traversals: they only ever insert new nodes into a Block's mutable body,
// never rewrite an existing statement.
func (gl *GpuLower) generateLoopNests() ([]*lowered, error) {
	var stack []*kir.ForLoop
	var stackAxes []*ir.IterDomain
	var out []*lowered

	guard := ir.EnterFusion(gl.fusion)
	defer guard.Exit()

	for _, e := range gl.fusion.Exprs() {
		outs := ir.Outputs(e)
		if len(outs) == 0 {
			continue
		}
		tv, ok := outs[0].(*ir.TensorView)
		if !ok {
			// A scalar-producing expression (shape arithmetic) is evaluated
			// host-side by package symbolic; it never becomes a device
			// statement.
			continue
		}
		axes := tv.Domain.Axes

		common := 0
		for common < len(axes) && common < len(stack) && stackAxes[common] == axes[common] {
			common++
		}
		stack = stack[:common]
		stackAxes = stackAxes[:common]

		for i := common; i < len(axes); i++ {
			axis := axes[i]
			var parent kir.Scope
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			loop, already := gl.loopOf[axis]
			if !already {
				idxVar := gl.indexVarFor(axis)
				loop = gl.b.NewForLoop(idxVar, gl.toKirIterDomain(axis))
				gl.b.Place(parent, loop)
				gl.loopOf[axis] = loop
			}
			stack = append(stack, loop)
			stackAxes = append(stackAxes, axis)
		}

		var parent kir.Scope
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}

		stmt, err := gl.buildStatement(e, tv, axes)
		if err != nil {
			return nil, err
		}
		gl.b.Place(parent, stmt)

		out = append(out, &lowered{fusionExpr: e, outTV: tv, axes: axes, scope: parent, stmt: stmt})
	}
	return out, nil
}

func (gl *GpuLower) indexVarFor(axis *ir.IterDomain) kir.Val {
	switch axis.Parallel {
	case ir.BIDx:
		return kir.NewNamedScalar("blockIdx.x", ir.Int)
	case ir.BIDy:
		return kir.NewNamedScalar("blockIdx.y", ir.Int)
	case ir.BIDz:
		return kir.NewNamedScalar("blockIdx.z", ir.Int)
	case ir.TIDx:
		return kir.NewNamedScalar("threadIdx.x", ir.Int)
	case ir.TIDy:
		return kir.NewNamedScalar("threadIdx.y", ir.Int)
	case ir.TIDz:
		return kir.NewNamedScalar("threadIdx.z", ir.Int)
	default:
		name := fmt.Sprintf("i%d", gl.nextSerial)
		gl.nextSerial++
		return kir.NewNamedScalar(name, ir.Int)
	}
}

// toKir translates a fusion-tier Val into its kernel-tier counterpart,
// memoizing the result so repeated references (e.g. a root extent used by
// several axes) share one kernel-IR node.
func (gl *GpuLower) toKir(v ir.Val) kir.Val {
	if kv, ok := gl.valMap[v]; ok {
		return kv
	}
	var kv kir.Val
	switch t := v.(type) {
	case *ir.Scalar:
		kv = gl.toKirScalar(t)
	case *ir.TensorView:
		kv = gl.toKirTensorView(t)
	default:
		panic(fmt.Sprintf("lower: cannot lower value of type %T", v))
	}
	gl.valMap[v] = kv
	return kv
}

func (gl *GpuLower) toKirScalar(t *ir.Scalar) kir.Val {
	if t.Const != nil {
		return kir.NewConstInt(*t.Const)
	}
	if t.Symbol != "" {
		return kir.NewNamedScalar(t.Symbol, t.DType)
	}
	if origin := ir.Origin(t); origin != nil {
		if op, ok := origin.(*ir.BinaryOp); ok {
			lhs := gl.toKir(op.Lhs)
			rhs := gl.toKir(op.Rhs)
			switch op.Op {
			case "mul":
				return gl.b.MulExpr(lhs, rhs)
			case "add":
				return gl.b.AddExpr(lhs, rhs)
			case "ceildiv":
				return gl.b.CeilDivExpr(lhs, rhs)
			default:
				return &kir.Scalar{DType: t.DType, Op: op.Op, Lhs: lhs, Rhs: rhs}
			}
		}
	}
	return kir.NewNamedScalar(fmt.Sprintf("t%d", ir.Name(t)), t.DType)
}

func (gl *GpuLower) toKirTensorView(t *ir.TensorView) *kir.TensorView {
	axes := make([]*kir.IterDomain, len(t.Domain.Axes))
	for i, a := range t.Domain.Axes {
		axes[i] = gl.toKirIterDomain(a)
	}
	return &kir.TensorView{Axes: axes, Memory: t.Memory, DType: t.DType, FuserTV: t}
}

func (gl *GpuLower) toKirIterDomain(a *ir.IterDomain) *kir.IterDomain {
	return &kir.IterDomain{Start: gl.toKir(a.Start), Extent: gl.toKir(a.Extent), Parallel: a.Parallel, Type: a.Type}
}

// computeIndex derives a linear offset from the loop indices of axes,
// walking them in row-major order (axes[0] outermost). Reduction and
// broadcast axes are always skipped, both as index terms and in the
// strides.
func (gl *GpuLower) computeIndex(tv *ir.TensorView, axes []*ir.IterDomain) kir.Val {
	var idx kir.Val = kir.NewConstInt(0)
	for i, axis := range axes {
		if axis.IsReduction() || axis.IsBroadcast() {
			continue
		}
		loop, ok := gl.loopOf[axis]
		if !ok {
			continue
		}
		stride := gl.strideAfter(axes, i)
		idx = gl.b.AddExpr(idx, gl.b.MulExpr(loop.Index, stride))
	}
	_ = tv
	return idx
}

// strideAfter returns the product of the extents of axes[i+1:] that are
// kept (not reduction, not broadcast) — the row-major stride of axes[i].
func (gl *GpuLower) strideAfter(axes []*ir.IterDomain, i int) kir.Val {
	var stride kir.Val = kir.NewConstInt(1)
	for j := i + 1; j < len(axes); j++ {
		a := axes[j]
		if a.IsReduction() || a.IsBroadcast() {
			continue
		}
		stride = gl.b.MulExpr(stride, gl.toKir(a.Extent))
	}
	return stride
}

// computePredicate builds the boolean guard for threads whose parallel
// index would run past axes' true extent, combining one "idx < extent"
// comparison per parallel-bound axis. Returns nil when no axis is
// parallel-bound (no guard is ever needed for a purely serial loop nest).
func (gl *GpuLower) computePredicate(axes []*ir.IterDomain) kir.Val {
	var pred kir.Val
	for _, axis := range axes {
		if !axis.Parallel.IsThread() {
			continue
		}
		loop, ok := gl.loopOf[axis]
		if !ok {
			continue
		}
		cmp := gl.b.LessThan(loop.Index, gl.toKir(axis.Extent))
		pred = gl.b.LogicalAnd(pred, cmp)
	}
	return pred
}

// indexed addresses v against the statement's own loop axes. It assumes v,
// when a TensorView, shares its domain's axis objects (and therefore rank)
// with axes — true for every operand of Unary/Binary/Ternary/ReductionOp,
// since those share their iteration space with their output by
// construction. BroadcastOp is the one exception (its input has strictly
// fewer axes than its output) and is addressed separately by
// indexBroadcastInput.
func (gl *GpuLower) indexed(v ir.Val, axes []*ir.IterDomain) kir.Val {
	tv, ok := v.(*ir.TensorView)
	if !ok {
		return gl.toKir(v)
	}
	ktv := gl.toKir(tv).(*kir.TensorView)
	idx := gl.computeIndex(tv, axes)
	return gl.b.NewTensorIndex(ktv, idx)
}

// indexBroadcastInput addresses op.In against the enclosing BroadcastOp's
// output axes: each non-broadcast position in axes corresponds, in order,
// to one axis of op.In's own (smaller) domain. The loop variable for that
// dimension comes from the shared output axis (that is where the loop was
// materialized); the stride comes from op.In's own axis extents, since
// that is the buffer whose physical layout is being addressed.
func (gl *GpuLower) indexBroadcastInput(op *ir.BroadcastOp, axes []*ir.IterDomain) kir.Val {
	tv := op.In.(*ir.TensorView)
	ktv := gl.toKir(tv).(*kir.TensorView)
	srcAxes := tv.Domain.Axes

	kept := make([]*ir.IterDomain, 0, len(srcAxes))
	for i, isBcast := range op.IsBroadcastDim {
		if i < len(axes) && !isBcast {
			kept = append(kept, axes[i])
		}
	}

	var idx kir.Val = kir.NewConstInt(0)
	for i, srcAxis := range srcAxes {
		if i >= len(kept) {
			break
		}
		if srcAxis.IsReduction() || srcAxis.IsBroadcast() {
			continue
		}
		loop, ok := gl.loopOf[kept[i]]
		if !ok {
			continue
		}
		stride := gl.strideAfter(srcAxes, i)
		idx = gl.b.AddExpr(idx, gl.b.MulExpr(loop.Index, stride))
	}
	return gl.b.NewTensorIndex(ktv, idx)
}

func (gl *GpuLower) buildStatement(e ir.Expr, outTV *ir.TensorView, axes []*ir.IterDomain) (kir.Expr, error) {
	pred := gl.computePredicate(axes)
	dst := gl.indexed(outTV, axes)

	switch op := e.(type) {
	case *ir.UnaryOp:
		if op.IsRandom() {
			gl.kernel.MarkRandom()
		}
		in := gl.indexed(op.In, axes)
		return gl.b.NewUnaryOp(op.Op, in, dst, pred), nil

	case *ir.BinaryOp:
		lhs := gl.indexed(op.Lhs, axes)
		rhs := gl.indexed(op.Rhs, axes)
		return gl.b.NewBinaryOp(op.Op, lhs, rhs, dst, pred), nil

	case *ir.TernaryOp:
		a := gl.indexed(op.A, axes)
		b := gl.indexed(op.B, axes)
		c := gl.indexed(op.C, axes)
		return gl.b.NewTernaryOp(op.Op, a, b, c, dst, pred), nil

	case *ir.BroadcastOp:
		in := gl.indexBroadcastInput(op, axes)
		return gl.b.NewBroadcastOp(in, dst, op.IsBroadcastDim, pred), nil

	case *ir.ReductionOp:
		return gl.buildReduction(op, outTV, axes, dst, pred)

	default:
		return nil, fmt.Errorf("lower: unhandled expression kind %T", e)
	}
}

// reductionAxis returns the (assumed unique) non-trivial reduction axis of
// axes, or nil if there is none.
func reductionAxis(axes []*ir.IterDomain) *ir.IterDomain {
	for _, a := range axes {
		if a.IsReduction() && !a.IsTrivial() {
			return a
		}
	}
	return nil
}

func (gl *GpuLower) buildReduction(op *ir.ReductionOp, outTV *ir.TensorView, axes []*ir.IterDomain, dst, pred kir.Val) (kir.Expr, error) {
	in := gl.indexed(op.In, axes)
	init := gl.toKir(op.Init)

	rAxis := reductionAxis(axes)
	kind := kir.ReductionSerial
	isGrid := false
	isBlock := false
	if rAxis != nil {
		isBlock = rAxis.Parallel.IsThreadDim()
		isGrid = rAxis.Parallel.IsBlockDim()
	}
	switch {
	case isGrid && isBlock:
		kind = kir.ReductionBlockAndGrid
	case isGrid:
		kind = kir.ReductionGrid
	case isBlock:
		kind = kir.ReductionBlock
	default:
		kind = kir.ReductionSerial
	}

	if isGrid {
		// Tie-break (spec.md §4.4a): a grid-reduced stage that also has a
		// non-parallelized, non-trivial reduction axis is rejected —
		// callers must r-factor first. A trivial (extent 1) reduction axis
		// contributes nothing and is not a rejection trigger.
		for _, a := range axes {
			if a.IsReduction() && !a.IsTrivial() && !a.Parallel.IsThread() {
				return nil, fmt.Errorf("lower: grid reduction also has a non-parallelized reduction axis; r-factor it first")
			}
		}
		gl.kernel.MarkGridReduction()
	}
	if isBlock {
		gl.kernel.MarkBlockReduction()
	}

	red := gl.b.NewReductionOp(op.Op, init, in, dst, kind, pred)

	if !isGrid {
		return red, nil
	}

	workspaceExtent := gl.nonReductionExtentProduct(axes)
	workspaceBuf := &kir.TensorView{DType: outTV.DType, Memory: ir.Global}
	workspace := gl.b.NewAllocate(workspaceBuf, workspaceExtent, kir.AllocGlobal, false)

	syncExtent := gl.allBlockDimsProduct(axes)
	syncBuf := &kir.TensorView{DType: ir.Int, Memory: ir.Global}
	syncBuffer := gl.b.NewAllocate(syncBuf, syncExtent, kir.AllocSync, true)

	flag := kir.NewNamedScalar(fmt.Sprintf("gridReduceFlag%d", gl.nextSerial), ir.Bool)
	gl.nextSerial++

	return gl.b.NewGridReduction(red, workspace, syncBuffer, flag), nil
}

// nonReductionExtentProduct computes the product of extents of axes that
// are neither reduction nor broadcast (the grid-reduction workspace's
// per-block-result footprint, spec.md §4.4a).
func (gl *GpuLower) nonReductionExtentProduct(axes []*ir.IterDomain) kir.Val {
	var total kir.Val = kir.NewConstInt(1)
	for _, a := range axes {
		if a.IsReduction() || a.IsBroadcast() {
			continue
		}
		total = gl.b.MulExpr(total, gl.toKir(a.Extent))
	}
	return total
}

// allBlockDimsProduct computes the product of extents of every
// block-bound (BIDx/y/z) axis, the size of the grid-reduction sync buffer.
func (gl *GpuLower) allBlockDimsProduct(axes []*ir.IterDomain) kir.Val {
	var total kir.Val = kir.NewConstInt(1)
	for _, a := range axes {
		if a.Parallel.IsBlockDim() {
			total = gl.b.MulExpr(total, gl.toKir(a.Extent))
		}
	}
	return total
}
