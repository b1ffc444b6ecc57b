package kir

import "github.com/kernelfuse/fuser/ir"

// Builder is the sole constructor for kernel-IR nodes (spec.md §4.2): it
// takes an owning *Kernel and records every node it creates there, and
// folds constant arithmetic in MulExpr/AddExpr so lowering passes never
// have to special-case "both operands are compile-time constants"
// themselves.
type Builder struct {
	k *Kernel
}

// NewBuilder returns a Builder that records nodes into k.
func NewBuilder(k *Kernel) *Builder { return &Builder{k: k} }

func (b *Builder) record(e Expr) {
	b.k.allNodes = append(b.k.allNodes, e)
}

// NewForLoop creates a (not-yet-placed) ForLoop over domain with loop index
// index.
func (b *Builder) NewForLoop(index Val, domain *IterDomain) *ForLoop {
	fl := &ForLoop{Index: index, Domain: domain}
	b.record(fl)
	return fl
}

// NewIfThenElse creates a (not-yet-placed) IfThenElse guarded by cond.
func (b *Builder) NewIfThenElse(cond Val) *IfThenElse {
	ite := &IfThenElse{Cond: cond}
	b.record(ite)
	return ite
}

// NewAllocate creates an allocation for buffer of the given size and
// category; it is not placed in any block until Place/InsertBefore is
// called, and is additionally registered in the Kernel's per-category
// allocation list (spec.md §3's static/dynamic/global/sync categories).
func (b *Builder) NewAllocate(buffer *TensorView, size Val, cat AllocCategory, zeroInit bool) *Allocate {
	a := &Allocate{Buffer: buffer, Memory: buffer.Memory, Size: size, ZeroInit: zeroInit, Category: cat}
	b.record(a)
	b.k.addAllocation(a)
	return a
}

// NewTensorIndex creates a concrete address into buffer at the given
// linear offset index (spec.md §4.4a's lowerSrcIndex/lowerDstIndex
// result).
func (b *Builder) NewTensorIndex(buffer *TensorView, index Val) *TensorIndex {
	e := &TensorIndex{Buffer: buffer, Index: index}
	return e
}

// NewUnaryOp creates a UnaryOp statement.
func (b *Builder) NewUnaryOp(op string, in, out Val, predicate Val) *UnaryOp {
	e := &UnaryOp{Op: op, In: in, Out: out, Predicate: predicate}
	b.record(e)
	return e
}

// NewBinaryOp creates a BinaryOp statement.
func (b *Builder) NewBinaryOp(op string, lhs, rhs, out Val, predicate Val) *BinaryOp {
	e := &BinaryOp{Op: op, Lhs: lhs, Rhs: rhs, Out: out, Predicate: predicate}
	b.record(e)
	return e
}

// NewTernaryOp creates a TernaryOp statement.
func (b *Builder) NewTernaryOp(op string, a, bv, cv, out Val, predicate Val) *TernaryOp {
	e := &TernaryOp{Op: op, A: a, B: bv, C: cv, Out: out, Predicate: predicate}
	b.record(e)
	return e
}

// NewBroadcastOp creates a BroadcastOp statement.
func (b *Builder) NewBroadcastOp(in, out Val, dims []bool, predicate Val) *BroadcastOp {
	e := &BroadcastOp{In: in, Out: out, IsBroadcastDim: append([]bool(nil), dims...), Predicate: predicate}
	b.record(e)
	return e
}

// NewReductionOp creates a ReductionOp statement.
func (b *Builder) NewReductionOp(op string, init, in, out Val, kind ReductionKind, predicate Val) *ReductionOp {
	e := &ReductionOp{Op: op, Init: init, In: in, Out: out, Kind: kind, Predicate: predicate}
	b.record(e)
	return e
}

// NewGridReduction wraps reduction with the workspace/sync allocations and
// flag variable a grid-spanning reduction needs (spec.md §4.4a).
func (b *Builder) NewGridReduction(reduction *ReductionOp, workspace, syncBuf *Allocate, flag *Scalar) *GridReduction {
	e := &GridReduction{Reduction: reduction, Workspace: workspace, SyncBuffer: syncBuf, FlagVar: flag}
	b.record(e)
	return e
}

// NewSync creates a block-level barrier.
func (b *Builder) NewSync() *Sync {
	e := &Sync{}
	b.record(e)
	return e
}

// Place appends e to parent's body (or the kernel's top level if parent is
// nil) and sets e's parent-scope pointer.
func (b *Builder) Place(parent Scope, e Expr) {
	e.setParentScope(parent)
	if parent == nil {
		b.k.top = append(b.k.top, e)
		return
	}
	parent.Body().Append(e)
}

// InsertBefore inserts e immediately before target within parent's body (or
// the kernel's top level if parent is nil), setting e's parent-scope
// pointer. target == nil means "at the end".
func (b *Builder) InsertBefore(parent Scope, target, e Expr) {
	e.setParentScope(parent)
	if parent == nil {
		b.k.insertTopLevelBefore(target, e)
		return
	}
	parent.Body().InsertBefore(target, e)
}

// MulExpr returns a Val representing a*b, folding the multiplication
// immediately when both operands are compile-time constants.
func (b *Builder) MulExpr(a, bv Val) Val { return b.arith("mul", a, bv) }

// AddExpr returns a Val representing a+b, folding the addition immediately
// when both operands are compile-time constants.
func (b *Builder) AddExpr(a, bv Val) Val { return b.arith("add", a, bv) }

// CeilDivExpr returns a Val representing ceil(a/b), folding immediately
// when both operands are compile-time constants. Used for grid-dimension
// derivation (gdimx = ceil(N/BLOCK), spec.md §6 S1).
func (b *Builder) CeilDivExpr(a, bv Val) Val {
	as, aok := a.(*Scalar)
	bs, bok := bv.(*Scalar)
	if aok && bok && as.IsConst() && bs.IsConst() {
		av, bvv := *as.Const, *bs.Const
		return NewConstInt((av + bvv - 1) / bvv)
	}
	return &Scalar{DType: scalarDType(a), Op: "ceildiv", Lhs: a, Rhs: bv}
}

// LessThan returns a boolean-typed Val representing a<b, used to build
// out-of-bounds predicates (spec.md §4.4 pass 5). Unlike MulExpr/AddExpr
// this never folds: predicates compare a runtime loop index against an
// extent, and even when both happen to be compile-time constants the
// comparison is cheap to emit and keeps the predicate's shape uniform.
func (b *Builder) LessThan(a, bv Val) Val {
	return &Scalar{DType: ir.Bool, Op: "lt", Lhs: a, Rhs: bv}
}

// LogicalAnd combines two boolean Vals, short-circuiting to whichever
// operand is non-nil if the other is nil (a predicate with no guard
// conditions is represented as a nil Val, not a literal "true").
func (b *Builder) LogicalAnd(a, bv Val) Val {
	if a == nil {
		return bv
	}
	if bv == nil {
		return a
	}
	return &Scalar{DType: ir.Bool, Op: "and", Lhs: a, Rhs: bv}
}

func (b *Builder) arith(op string, a, bv Val) Val {
	as, aok := a.(*Scalar)
	bs, bok := bv.(*Scalar)
	if aok && bok && as.IsConst() && bs.IsConst() {
		var result int64
		switch op {
		case "mul":
			result = *as.Const * *bs.Const
		case "add":
			result = *as.Const + *bs.Const
		}
		return NewConstInt(result)
	}
	return &Scalar{DType: scalarDType(a), Op: op, Lhs: a, Rhs: bv}
}

func scalarDType(v Val) ir.DataType {
	if s, ok := v.(*Scalar); ok {
		return s.DType
	}
	return ir.Int
}
