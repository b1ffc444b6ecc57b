// Package lower implements the pass pipeline that turns a scheduled
// fusion graph into kernel IR (spec.md §4.4 C4): symbolic-size
// replacement, loop-nest generation, index lowering, allocation
// insertion, predicate insertion and synchronization insertion, run against
// a single GpuLower side-table object. Loop-nest generation, index lowering
// and predicate insertion run as one traversal (see generateLoopNests),
// before allocation insertion (mirroring
// original_source's GpuLower, which threads ca_root_map/ca_loop_map/
// ca_index_map through the same passes rather than recomputing them).
package lower

import (
	"fmt"

	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// GpuLower carries the fusion being lowered, the kernel under
// construction, and every side table a later pass needs from an earlier
// one. Unlike plan.walker (which accumulates only a dedup table for table
// inputs), GpuLower accumulates four: the fusion↔kernel value map, the
// per-axis loop map, the per-tensor allocation record, and the counter that
// names serial loop indices and grid-reduction flags. The RNG flag is
// recorded on the Kernel itself.
type GpuLower struct {
	fusion *ir.Fusion
	kernel *kir.Kernel
	b      *kir.Builder

	// valMap translates a fusion-tier Val (Scalar or TensorView) into its
	// kernel-tier counterpart. Populated incrementally as each tier-1 node
	// is first referenced by a lowered statement.
	valMap map[ir.Val]kir.Val

	// loopOf maps a (possibly schedule-shared) fusion IterDomain to the
	// kernel ForLoop materialized for it, so producer and consumer
	// statements that were scheduled to share an axis object also share
	// its loop var (spec.md §4.4a's indexing is keyed off this sharing).
	loopOf map[*ir.IterDomain]*kir.ForLoop

	// allocOf records, per fusion TensorView, the Allocate node inserted
	// for it. Fusion outputs never get an entry — their storage comes
	// from the caller, not from a kernel-local Allocate.
	allocOf map[*ir.TensorView]*kir.Allocate

	nextSerial int
}

// Lower runs the full six-pass pipeline against f and returns the
// resulting Kernel. f must already have been scheduled (package
// scheduler) — Lower performs no scheduling decisions of its own.
func Lower(f *ir.Fusion, kernelName string) (*kir.Kernel, error) {
	k := kir.NewKernel(kernelName)
	gl := &GpuLower{
		fusion:  f,
		kernel:  k,
		b:       kir.NewBuilder(k),
		valMap:  make(map[ir.Val]kir.Val),
		loopOf:  make(map[*ir.IterDomain]*kir.ForLoop),
		allocOf: make(map[*ir.TensorView]*kir.Allocate),
	}

	if err := gl.replaceSymbolicSizes(); err != nil {
		return nil, fmt.Errorf("lower: symbolic size replacement: %w", err)
	}
	stmts, err := gl.generateLoopNests()
	if err != nil {
		return nil, fmt.Errorf("lower: loop-nest/index/predicate generation: %w", err)
	}
	if err := gl.insertAllocations(stmts); err != nil {
		return nil, fmt.Errorf("lower: allocation insertion: %w", err)
	}
	gl.insertSyncs(stmts)

	return k, nil
}

// lowered is one materialized kernel-IR statement paired with the fusion
// expression and output tensor it came from (predicate and operand
// addressing already baked in by generateLoopNests — see its doc comment
// for why), threaded through allocation and sync insertion so each can
// revisit what the combined pass produced without re-walking the fusion
// graph.
type lowered struct {
	fusionExpr ir.Expr
	outTV      *ir.TensorView
	axes       []*ir.IterDomain
	scope      kir.Scope // innermost enclosing ForLoop, nil at top level
	stmt       kir.Expr
}
