package exec

import (
	"fmt"

	"github.com/kernelfuse/fuser/device"
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
	"github.com/kernelfuse/fuser/symbolic"
)

// parallelTypes is every hardware launch dimension, grid before block,
// outermost before innermost — the order original_source/executor.cpp
// walks them in when inferring unconstrained dimensions.
var parallelTypes = []ir.ParallelType{ir.BIDx, ir.BIDy, ir.BIDz, ir.TIDx, ir.TIDy, ir.TIDz}

// computeLaunchParams resolves every launch dimension the fusion's
// parallelized axes touch (spec.md §4.6 step 3, a port of
// original_source/executor.cpp's computeLaunchParams): a caller-supplied
// constraint is validated against the schedule's own inference rather than
// silently overridden, and each constrained axis's extent is bound into see
// so later evaluations in the same run agree with the constraint.
func (ex *Executor) computeLaunchParams(see *symbolic.Evaluator, constraints *LaunchParams) (*LaunchParams, error) {
	axesByType := collectParallelAxes(ex.fusion)
	lp := NewLaunchParams()

	for _, p := range parallelTypes {
		axes := axesByType[p]
		if len(axes) == 0 {
			continue
		}
		if !constraints.HasDim(p) {
			continue
		}
		constrained := constraints.Dim(p)
		for _, axis := range axes {
			if inferred, err := see.Evaluate(axis.Extent); err == nil && inferred != constrained {
				return nil, fmt.Errorf("exec: launch constraint %v=%d conflicts with inferred extent %d", p, constrained, inferred)
			}
			if err := see.BindAxisExtent(axis, constrained); err != nil {
				return nil, fmt.Errorf("exec: binding constrained dimension %v: %w", p, err)
			}
		}
		if err := lp.Bind(constrained, p); err != nil {
			return nil, err
		}
	}

	for _, p := range parallelTypes {
		axes := axesByType[p]
		if len(axes) == 0 {
			continue
		}
		if lp.HasDim(p) {
			continue
		}
		var resolved int64 = -1
		for _, axis := range axes {
			v, err := see.Evaluate(axis.Extent)
			if err != nil {
				return nil, fmt.Errorf("exec: inferring launch dimension %v: %w", p, err)
			}
			if resolved == -1 {
				resolved = v
			} else if resolved != v {
				return nil, fmt.Errorf("exec: launch dimension %v has conflicting inferred extents %d and %d", p, resolved, v)
			}
		}
		if err := lp.Bind(resolved, p); err != nil {
			return nil, err
		}
	}

	total := int64(0)
	if ex.kernel.HasBlockReduction() || ex.kernel.HasGridReduction() || ex.kernel.HasBlockBroadcast() {
		total = int64(kir.DTypeBytes(ex.kernel.MaximumSmemDataType())) * lp.BDimX() * lp.BDimY() * lp.BDimZ()
	}

	dynamic, err := ex.computeSharedMemory(see, ex.kernel.DynamicAllocations(), true, total)
	if err != nil {
		return nil, fmt.Errorf("exec: computing dynamic shared memory: %w", err)
	}
	static, err := ex.computeSharedMemory(see, ex.kernel.StaticAllocations(), false, 0)
	if err != nil {
		return nil, fmt.Errorf("exec: computing static shared memory: %w", err)
	}
	capacity := ex.devInfo.SharedMemPerBlock(device.Device{Index: ex.options.Device.Index})
	if dynamic+static >= capacity {
		return nil, fmt.Errorf("exec: shared memory usage (%d dynamic + %d static) exceeds device capacity (%d)", dynamic, static, capacity)
	}
	lp.SetSmem(dynamic)

	return lp, nil
}

// computeSharedMemory sums the byte size of every allocation in allocs,
// starting from total. When alignPadding is set, each allocation's offset
// is rounded up to its own element size first (spec.md §4.6 step 4's
// alignment rule for dynamic shared memory; static allocations don't need
// it since they don't share a single raw buffer with a reduction
// workspace).
func (ex *Executor) computeSharedMemory(see *symbolic.Evaluator, allocs []*kir.Allocate, alignPadding bool, total int64) (int64, error) {
	for _, alloc := range allocs {
		n, err := see.EvaluateKir(alloc.Size)
		if err != nil {
			return 0, fmt.Errorf("exec: evaluating allocation size: %w", err)
		}
		elemSize := int64(kir.DTypeBytes(alloc.Buffer.DType))
		if alignPadding && elemSize > 0 {
			if rem := total % elemSize; rem != 0 {
				total += elemSize - rem
			}
		}
		total += n * elemSize
	}
	return total, nil
}

// collectParallelAxes groups every parallelized, non-broadcast axis
// reachable from the fusion's tensor views by parallel type. Axes are
// deduplicated by pointer identity, since package scheduler's
// propagateAxes shares the same *ir.IterDomain across many tensor views —
// without dedup the same dimension would be "inferred" redundantly (and
// harmlessly, but wastefully) once per tensor view that shares it.
func collectParallelAxes(f *ir.Fusion) map[ir.ParallelType][]*ir.IterDomain {
	seen := make(map[*ir.IterDomain]bool)
	out := make(map[ir.ParallelType][]*ir.IterDomain)
	for _, v := range f.Vals() {
		tv, ok := v.(*ir.TensorView)
		if !ok {
			continue
		}
		for _, axis := range tv.Domain.Axes {
			if !axis.Parallel.IsThread() || axis.IsBroadcast() || seen[axis] {
				continue
			}
			seen[axis] = true
			out[axis.Parallel] = append(out[axis.Parallel], axis)
		}
	}
	return out
}
