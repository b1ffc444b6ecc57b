package kir

import (
	"testing"

	"github.com/kernelfuse/fuser/ir"
)

func newTV(axes []*IterDomain, mem ir.MemoryType, dtype ir.DataType) *TensorView {
	return &TensorView{Axes: axes, Memory: mem, DType: dtype}
}

func TestBuilderPlaceTopLevel(t *testing.T) {
	k := NewKernel("kernel0")
	b := NewBuilder(k)

	idx := NewConstInt(0)
	dom := &IterDomain{Start: NewConstInt(0), Extent: NewConstInt(128), Type: ir.Iteration}
	loop := b.NewForLoop(idx, dom)
	b.Place(nil, loop)

	out := newTV(nil, ir.Local, ir.Float)
	in := newTV(nil, ir.Local, ir.Float)
	op := b.NewUnaryOp("neg", in, out, nil)
	b.Place(loop, op)

	if got := k.TopLevelExprs(); len(got) != 1 || got[0] != loop {
		t.Fatalf("expected loop as sole top-level expr, got %v", got)
	}
	if loop.Body().Len() != 1 || loop.Body().Exprs()[0] != op {
		t.Fatalf("expected op placed inside loop body")
	}
	if op.ParentScope() != loop {
		t.Fatalf("op's parent scope not set to loop")
	}
}

func TestBuilderInsertBefore(t *testing.T) {
	k := NewKernel("kernel0")
	b := NewBuilder(k)

	out1 := newTV(nil, ir.Local, ir.Float)
	in1 := newTV(nil, ir.Local, ir.Float)
	first := b.NewUnaryOp("neg", in1, out1, nil)
	b.Place(nil, first)

	out2 := newTV(nil, ir.Local, ir.Float)
	second := b.NewUnaryOp("exp", out1, out2, nil)
	b.InsertBefore(nil, first, second)

	top := k.TopLevelExprs()
	if len(top) != 2 || top[0] != second || top[1] != first {
		t.Fatalf("expected [second, first], got %v", top)
	}
}

func TestAddAllocationCategorizes(t *testing.T) {
	k := NewKernel("kernel0")
	b := NewBuilder(k)

	buf := newTV([]*IterDomain{{Extent: NewConstInt(4)}}, ir.Shared, ir.Float)
	b.NewAllocate(buf, NewConstInt(4), AllocDynamic, false)

	gbuf := newTV(nil, ir.Global, ir.Int)
	b.NewAllocate(gbuf, NewConstInt(1), AllocGlobal, false)

	sbuf := newTV(nil, ir.Global, ir.Bool)
	b.NewAllocate(sbuf, NewConstInt(1), AllocSync, true)

	if len(k.DynamicAllocations()) != 1 {
		t.Fatalf("expected 1 dynamic allocation, got %d", len(k.DynamicAllocations()))
	}
	if len(k.GlobalAllocations()) != 1 {
		t.Fatalf("expected 1 global allocation, got %d", len(k.GlobalAllocations()))
	}
	if len(k.SyncAllocations()) != 1 {
		t.Fatalf("expected 1 sync allocation, got %d", len(k.SyncAllocations()))
	}
	if len(k.StaticAllocations()) != 0 {
		t.Fatalf("expected 0 static allocations, got %d", len(k.StaticAllocations()))
	}
}

func TestMaximumSmemDataTypeWidestWins(t *testing.T) {
	k := NewKernel("kernel0")
	b := NewBuilder(k)

	b.NewAllocate(newTV(nil, ir.Shared, ir.Bool), NewConstInt(1), AllocStatic, false)
	b.NewAllocate(newTV(nil, ir.Shared, ir.Float), NewConstInt(1), AllocStatic, false)

	if k.MaximumSmemDataType() != ir.Float {
		t.Fatalf("expected widest dtype Float, got %v", k.MaximumSmemDataType())
	}
}

func TestKernelPredicateFlags(t *testing.T) {
	k := NewKernel("kernel0")
	if k.HasRandom() || k.HasBlockReduction() || k.HasGridReduction() || k.HasBlockBroadcast() {
		t.Fatal("fresh kernel should have no flags set")
	}
	k.MarkRandom()
	k.MarkBlockReduction()
	k.MarkGridReduction()
	k.MarkBlockBroadcast()
	if !(k.HasRandom() && k.HasBlockReduction() && k.HasGridReduction() && k.HasBlockBroadcast()) {
		t.Fatal("expected all flags set after marking")
	}
}

func TestBuilderArithConstantFolding(t *testing.T) {
	b := NewBuilder(NewKernel("kernel0"))

	sum := b.AddExpr(NewConstInt(2), NewConstInt(3))
	s, ok := sum.(*Scalar)
	if !ok || !s.IsConst() || *s.Const != 5 {
		t.Fatalf("expected folded constant 5, got %#v", sum)
	}

	prod := b.MulExpr(NewConstInt(4), NewConstInt(6))
	p := prod.(*Scalar)
	if *p.Const != 24 {
		t.Fatalf("expected folded constant 24, got %d", *p.Const)
	}

	cdiv := b.CeilDivExpr(NewConstInt(10), NewConstInt(4))
	c := cdiv.(*Scalar)
	if *c.Const != 3 {
		t.Fatalf("expected ceildiv(10,4)=3, got %d", *c.Const)
	}
}

func TestBuilderArithNonConstBuildsNode(t *testing.T) {
	b := NewBuilder(NewKernel("kernel0"))
	sym := NewNamedScalar("blockIdx.x", ir.Int)
	sum := b.AddExpr(sym, NewConstInt(1))
	s, ok := sum.(*Scalar)
	if !ok {
		t.Fatal("expected a Scalar result")
	}
	if s.IsConst() {
		t.Fatal("sum of a named scalar and a constant should not fold")
	}
	if s.Op != "add" || s.Lhs != sym {
		t.Fatalf("expected unfolded add node, got %#v", s)
	}
}

func TestIfThenElseThenAndElseBodiesIndependent(t *testing.T) {
	k := NewKernel("kernel0")
	b := NewBuilder(k)
	ite := b.NewIfThenElse(NewNamedScalar("pred", ir.Bool))

	thenOp := b.NewUnaryOp("neg", newTV(nil, ir.Local, ir.Float), newTV(nil, ir.Local, ir.Float), nil)
	elseOp := b.NewUnaryOp("exp", newTV(nil, ir.Local, ir.Float), newTV(nil, ir.Local, ir.Float), nil)
	b.Place(ite, thenOp)
	ite.Else().Append(elseOp)

	if ite.Then().Len() != 1 || ite.Then().Exprs()[0] != thenOp {
		t.Fatal("then body should contain thenOp")
	}
	if ite.Else().Len() != 1 || ite.Else().Exprs()[0] != elseOp {
		t.Fatal("else body should contain elseOp")
	}
}
