// Package kir is the kernel intermediate representation: a lower-level,
// parallel IR of loops, predicates, allocations and scalar arithmetic that
// package lower produces from a scheduled ir.Fusion (spec.md §3 C2).
//
// Unlike ir.Fusion, a Kernel does not maintain a uses/origin bipartite
// index — it owns a flat pool of nodes plus an ordered top-level statement
// list, matching original_source's kernel_ir (nodes are immutable after
// construction except for a scope's body and a node's parent-scope
// pointer).
package kir

import "github.com/kernelfuse/fuser/ir"

// Val is a kernel-IR data value: a Scalar, TensorView or IterDomain. Like
// ir.Val, it is a sealed interface (unexported marker method) so lowering
// and code emission can type-switch exhaustively.
type Val interface {
	isVal()
}

// Scalar is either a leaf (a compile-time constant or a named runtime
// value such as "threadIdx.x") or the result of folding two scalar
// operands with Op ("mul"/"add"/"ceildiv"/"lt"/"and" from Builder.MulExpr
// etc, or any other binary op name carried over by lowering).
// Scalar is immutable after construction.
type Scalar struct {
	DType ir.DataType
	Const *int64
	// Name is set for named runtime scalars: thread/block indices,
	// extents bound from runtime shapes, etc. Mutually exclusive with Op.
	Name string
	// Op, when non-empty, makes this scalar a computed node: Op applied
	// to Lhs/Rhs ("mul", "add", "ceildiv", "lt", "and", ...).
	Op       string
	Lhs, Rhs Val
}

func (*Scalar) isVal() {}

// IsConst reports whether s has a known compile-time value.
func (s *Scalar) IsConst() bool { return s.Const != nil }

// NewConstInt returns a constant integer scalar.
func NewConstInt(v int64) *Scalar { return &Scalar{DType: ir.Int, Const: &v} }

// NewNamedScalar returns a named runtime scalar, e.g. a thread index.
func NewNamedScalar(name string, dtype ir.DataType) *Scalar {
	return &Scalar{DType: dtype, Name: name}
}

// IterDomain is the kernel-IR counterpart of ir.IterDomain: an axis with a
// start, an extent, a parallel binding and an axis kind.
type IterDomain struct {
	Start    Val
	Extent   Val
	Parallel ir.ParallelType
	Type     ir.IterType
}

func (*IterDomain) isVal() {}

// RawExtent returns d's extent scalar directly, mirroring
// original_source's IterDomain::rawExtent used throughout allocation sizing.
func (d *IterDomain) RawExtent() Val { return d.Extent }

// TensorView is the kernel-IR counterpart of ir.TensorView: a buffer with a
// domain (ordered axes) and a memory type.
type TensorView struct {
	Axes   []*IterDomain
	Memory ir.MemoryType
	DType  ir.DataType
	// FuserTV back-references the high-level ir.TensorView this node was
	// lowered from, when one exists (global scratch buffers minted purely
	// during lowering have none).
	FuserTV *ir.TensorView
}

func (*TensorView) isVal() {}

// TensorIndex is a concrete address into Buffer at the given linear offset
// Index. It is what index lowering (spec.md §4.4a) produces in place of an
// abstract TensorView reference: every tensor operand of a scalar operator
// statement is a *TensorIndex, never a bare *TensorView, once lowering has
// run.
type TensorIndex struct {
	Buffer *TensorView
	Index  Val
}

func (*TensorIndex) isVal() {}

