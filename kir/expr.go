package kir

import "github.com/kernelfuse/fuser/ir"

// Expr is a kernel-IR statement. Every Expr carries a pointer back to its
// enclosing Scope (nil at the top level), set once by whichever pass places
// it and never mutated again except by that placement (spec.md §3: "Every
// kernel-IR node with a scope carries a parent-scope pointer").
type Expr interface {
	isExpr()
	ParentScope() Scope
	setParentScope(Scope)
}

// Scope is an Expr that owns a mutable body of child statements: ForLoop or
// IfThenElse. Body is the one piece of state nodes are allowed to mutate
// after construction (spec.md §4.2).
type Scope interface {
	Expr
	Body() *Block
}

// Block is an ordered, mutable list of statements. Exprs returns a copy, so
// a caller can iterate it while inserting into the block.
type Block struct {
	exprs []Expr
}

// Exprs returns a defensive copy of the block's current statement list.
func (b *Block) Exprs() []Expr { return append([]Expr(nil), b.exprs...) }

// Len reports the number of statements currently in the block.
func (b *Block) Len() int { return len(b.exprs) }

// Append adds e to the end of the block.
func (b *Block) Append(e Expr) { b.exprs = append(b.exprs, e) }

// InsertAt inserts e at position i, shifting later statements back.
func (b *Block) InsertAt(i int, e Expr) {
	b.exprs = append(b.exprs, nil)
	copy(b.exprs[i+1:], b.exprs[i:])
	b.exprs[i] = e
}

// IndexOf returns the position of e in the block, or -1 if absent.
func (b *Block) IndexOf(e Expr) int {
	for i, x := range b.exprs {
		if x == e {
			return i
		}
	}
	return -1
}

// InsertBefore inserts e immediately before target, or appends if target is
// not found (target == nil meaning "end of block").
func (b *Block) InsertBefore(target, e Expr) {
	if target == nil {
		b.Append(e)
		return
	}
	i := b.IndexOf(target)
	if i < 0 {
		b.Append(e)
		return
	}
	b.InsertAt(i, e)
}

type base struct {
	parent Scope
}

func (b *base) ParentScope() Scope       { return b.parent }
func (b *base) setParentScope(s Scope)   { b.parent = s }

// ForLoop materializes the enclosing loop for one (possibly parallelized)
// axis. Parallelized axes still produce a ForLoop — code emission collapses
// them to a thread/block index instead of an actual loop (spec.md §4.4
// pass 2).
type ForLoop struct {
	base
	Index  Val
	Domain *IterDomain
	body   Block
}

func (*ForLoop) isExpr()        {}
func (f *ForLoop) Body() *Block { return &f.body }

// IfThenElse guards its Then block (and optional Else block) with Cond.
// Predicate insertion (spec.md §4.4 pass 5) uses this to bound
// out-of-bounds threads; other passes may also introduce it (e.g. the
// grid-reduction flag-wait branch).
type IfThenElse struct {
	base
	Cond Val
	then Block
	els  Block
}

func (*IfThenElse) isExpr()          {}
func (i *IfThenElse) Body() *Block   { return &i.then }
func (i *IfThenElse) Then() *Block   { return &i.then }
func (i *IfThenElse) Else() *Block   { return &i.els }

// AllocCategory classifies an Allocate node for the executor's shared
// memory budgeting and scratch/sync buffer provisioning (spec.md §3).
type AllocCategory int

const (
	AllocStatic AllocCategory = iota
	AllocDynamic
	AllocGlobal
	AllocSync
)

func (c AllocCategory) String() string {
	switch c {
	case AllocStatic:
		return "static"
	case AllocDynamic:
		return "dynamic"
	case AllocGlobal:
		return "global"
	case AllocSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Allocate reserves storage for Buffer. Size may be a compile-time
// constant (-> static), depend on a runtime-bound symbol (-> dynamic), or
// be scratch/sync storage explicitly categorized by the lowering pass that
// created it (global/sync). The creating pass passes Category to
// Builder.NewAllocate, which files the node under it on the Kernel.
type Allocate struct {
	base
	Buffer   *TensorView
	Memory   ir.MemoryType
	Size     Val
	ZeroInit bool
	Category AllocCategory
}

func (*Allocate) isExpr() {}

// UnaryOp applies Op to In, writing Out, guarded by an optional Predicate.
type UnaryOp struct {
	base
	Op        string
	In        Val
	Out       Val
	Predicate Val
}

func (*UnaryOp) isExpr() {}

// BinaryOp applies Op to Lhs/Rhs, writing Out, guarded by an optional
// Predicate.
type BinaryOp struct {
	base
	Op        string
	Lhs, Rhs  Val
	Out       Val
	Predicate Val
}

func (*BinaryOp) isExpr() {}

// TernaryOp applies Op to A/B/C, writing Out, guarded by an optional
// Predicate.
type TernaryOp struct {
	base
	Op        string
	A, B, C   Val
	Out       Val
	Predicate Val
}

func (*TernaryOp) isExpr() {}

// BroadcastOp expands In into Out along the axes flagged in IsBroadcastDim.
type BroadcastOp struct {
	base
	In             Val
	Out            Val
	IsBroadcastDim []bool
	Predicate      Val
}

func (*BroadcastOp) isExpr() {}

// ReductionKind classifies how a reduction's combining happens across
// threads, blocks, both, or neither (spec.md §4.4a).
type ReductionKind int

const (
	ReductionSerial ReductionKind = iota
	ReductionBlock
	ReductionGrid
	ReductionBlockAndGrid
)

func (k ReductionKind) String() string {
	switch k {
	case ReductionSerial:
		return "serial"
	case ReductionBlock:
		return "block"
	case ReductionGrid:
		return "grid"
	case ReductionBlockAndGrid:
		return "block+grid"
	default:
		return "unknown"
	}
}

// ReductionOp combines In into Out using Op, starting from Init, per Kind.
type ReductionOp struct {
	base
	Op        string
	Init      Val
	In        Val
	Out       Val
	Kind      ReductionKind
	Predicate Val
}

func (*ReductionOp) isExpr() {}

// GridReduction wraps a block-reduction that must additionally coordinate
// across blocks: Workspace holds partial per-block results in global
// memory, SyncBuffer is a device-side barrier counter, and FlagVar is a
// named boolean scalar that marks the block responsible for finishing the
// reduction (spec.md §4.4a). Lowering creates FlagVar as a named scalar
// only: no Allocate node is emitted for it and it is not hoisted above the
// enclosing predicate scope.
type GridReduction struct {
	base
	Reduction  *ReductionOp
	Workspace  *Allocate
	SyncBuffer *Allocate
	FlagVar    *Scalar
}

func (*GridReduction) isExpr() {}

// Sync is a block-level barrier inserted between a shared-memory write and
// a later read of it by a different thread (spec.md §4.4 pass 6).
type Sync struct {
	base
}

func (*Sync) isExpr() {}
