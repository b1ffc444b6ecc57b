// Package exec implements the launch planner and executor (spec.md §4.6,
// C6): the state machine that compiles a scheduled, lowered fusion once
// and then, on each call, binds runtime shapes, computes a grid/block/
// shared-memory launch configuration and dispatches the kernel through
// the device.DeviceCompiler collaborator. Ambient texture (flag/logger/
// lifecycle shape) grounded on cmd_teacher/snellerd/run_worker.go; the
// compile/run algorithm itself is a direct port of
// original_source/executor.cpp's FusionExecutor.
package exec

import (
	"fmt"

	"github.com/kernelfuse/fuser/ir"
)

// unbound is LaunchParams' sentinel for "this dimension was never bound".
const unbound = -1

// LaunchParams holds the six launch dimensions (grid x/y/z, block x/y/z)
// plus a dynamic shared-memory byte count. Any dimension may be unbound.
type LaunchParams struct {
	dims [6]int64
	smem int64
}

func dimIndex(p ir.ParallelType) (int, bool) {
	switch p {
	case ir.BIDx:
		return 0, true
	case ir.BIDy:
		return 1, true
	case ir.BIDz:
		return 2, true
	case ir.TIDx:
		return 3, true
	case ir.TIDy:
		return 4, true
	case ir.TIDz:
		return 5, true
	default:
		return 0, false
	}
}

// NewLaunchParams creates a LaunchParams with every dimension unbound.
func NewLaunchParams() *LaunchParams {
	lp := &LaunchParams{}
	for i := range lp.dims {
		lp.dims[i] = unbound
	}
	return lp
}

// HasDim reports whether p has been bound to a concrete value.
func (lp *LaunchParams) HasDim(p ir.ParallelType) bool {
	i, ok := dimIndex(p)
	return ok && lp.dims[i] != unbound
}

// Dim returns the bound value for p, or the unbound sentinel.
func (lp *LaunchParams) Dim(p ir.ParallelType) int64 {
	i, ok := dimIndex(p)
	if !ok {
		return unbound
	}
	return lp.dims[i]
}

// Bind sets p to value. Idempotent for a repeated equal value; a hard
// error if p is already bound to a different value (spec.md §4.6).
func (lp *LaunchParams) Bind(value int64, p ir.ParallelType) error {
	i, ok := dimIndex(p)
	if !ok {
		return fmt.Errorf("exec: %v is not a launch dimension", p)
	}
	if lp.dims[i] != unbound && lp.dims[i] != value {
		return fmt.Errorf("exec: conflicting bind for %v: already %d, got %d", p, lp.dims[i], value)
	}
	lp.dims[i] = value
	return nil
}

// NumBlocks returns the total grid size, or unbound if any grid dimension
// is unbound.
func (lp *LaunchParams) NumBlocks() int64 {
	return productOrUnbound(lp.dims[0], lp.dims[1], lp.dims[2])
}

// NumThreads returns the total block size, or unbound if any block
// dimension is unbound.
func (lp *LaunchParams) NumThreads() int64 {
	return productOrUnbound(lp.dims[3], lp.dims[4], lp.dims[5])
}

func productOrUnbound(a, b, c int64) int64 {
	if a == unbound || b == unbound || c == unbound {
		return unbound
	}
	return a * b * c
}

// resolvedOrOne returns lp's bound value for p, or 1 if p was never
// touched by the fusion at all (a launch dimension nothing parallelizes
// over has an implicit extent of 1, not "unbound").
func (lp *LaunchParams) resolvedOrOne(p ir.ParallelType) int64 {
	v := lp.Dim(p)
	if v == unbound {
		return 1
	}
	return v
}

func (lp *LaunchParams) GDimX() int64 { return lp.resolvedOrOne(ir.BIDx) }
func (lp *LaunchParams) GDimY() int64 { return lp.resolvedOrOne(ir.BIDy) }
func (lp *LaunchParams) GDimZ() int64 { return lp.resolvedOrOne(ir.BIDz) }
func (lp *LaunchParams) BDimX() int64 { return lp.resolvedOrOne(ir.TIDx) }
func (lp *LaunchParams) BDimY() int64 { return lp.resolvedOrOne(ir.TIDy) }
func (lp *LaunchParams) BDimZ() int64 { return lp.resolvedOrOne(ir.TIDz) }

// Smem returns the dynamic shared-memory byte count computed for this
// launch.
func (lp *LaunchParams) Smem() int64 { return lp.smem }

// SetSmem sets the dynamic shared-memory byte count.
func (lp *LaunchParams) SetSmem(v int64) { lp.smem = v }
