package lower

import (
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// insertSyncs implements pass 6 (spec.md §4.4 step 6): a block-level Sync
// barrier goes in front of any statement that reads a shared-memory buffer
// written by an earlier statement in the same traversal, provided no sync
// has been inserted for that buffer since its last write.
func (gl *GpuLower) insertSyncs(stmts []*lowered) {
	written := make(map[*kir.TensorView]bool)
	synced := make(map[*kir.TensorView]bool)

	for _, l := range stmts {
		needsSync := false
		for _, in := range operandsOf(l.stmt) {
			ti, ok := in.(*kir.TensorIndex)
			if !ok {
				continue
			}
			if ti.Buffer.Memory == ir.Shared && written[ti.Buffer] && !synced[ti.Buffer] {
				needsSync = true
			}
		}
		if needsSync {
			sync := gl.b.NewSync()
			gl.b.InsertBefore(l.scope, l.stmt, sync)
			for buf, w := range written {
				if w {
					synced[buf] = true
				}
			}
		}

		if out, ok := outputOf(l.stmt); ok {
			if ti, ok := out.(*kir.TensorIndex); ok && ti.Buffer.Memory == ir.Shared {
				written[ti.Buffer] = true
				synced[ti.Buffer] = false
			}
		}
	}
}

// operandsOf returns every input/source Val a statement reads, for the
// node kinds insertSyncs needs to inspect.
func operandsOf(e kir.Expr) []kir.Val {
	switch op := e.(type) {
	case *kir.UnaryOp:
		return []kir.Val{op.In}
	case *kir.BinaryOp:
		return []kir.Val{op.Lhs, op.Rhs}
	case *kir.TernaryOp:
		return []kir.Val{op.A, op.B, op.C}
	case *kir.BroadcastOp:
		return []kir.Val{op.In}
	case *kir.ReductionOp:
		return []kir.Val{op.In}
	case *kir.GridReduction:
		return []kir.Val{op.Reduction.In}
	default:
		return nil
	}
}

// outputOf returns the Val a statement writes, if it is the kind of node
// that writes one.
func outputOf(e kir.Expr) (kir.Val, bool) {
	switch op := e.(type) {
	case *kir.UnaryOp:
		return op.Out, true
	case *kir.BinaryOp:
		return op.Out, true
	case *kir.TernaryOp:
		return op.Out, true
	case *kir.BroadcastOp:
		return op.Out, true
	case *kir.ReductionOp:
		return op.Out, true
	case *kir.GridReduction:
		return op.Reduction.Out, true
	default:
		return nil, false
	}
}
