package ir

import "testing"

// buildAddFusion builds: inputs A, B tensors of rank 1; C = A + B; output C.
func buildAddFusion(t *testing.T) (*Fusion, *TensorView, *TensorView, *TensorView) {
	t.Helper()
	f := NewFusion()
	g := EnterFusion(f)
	defer g.Exit()

	n := NewNamedScalar("N", Int)
	root := func() []*IterDomain { return []*IterDomain{NewIterDomain(n)} }

	a := NewTensorView(root(), Float)
	b := NewTensorView(root(), Float)
	c := NewTensorView(root(), Float)
	NewBinaryOp("add", a, b, c)

	if err := f.AddInput(a); err != nil {
		t.Fatal(err)
	}
	if err := f.AddInput(b); err != nil {
		t.Fatal(err)
	}
	if err := f.AddOutput(c); err != nil {
		t.Fatal(err)
	}
	return f, a, b, c
}

func TestUsesConsistency(t *testing.T) {
	f, a, b, _ := buildAddFusion(t)
	for _, e := range f.ExprsInOrder() {
		for _, in := range Inputs(e) {
			found := false
			for _, u := range Uses(in) {
				if u == e {
					found = true
				}
			}
			if !found {
				t.Fatalf("expr %d not present in uses() of its input", ExprName(e))
			}
		}
	}
	if len(Uses(a)) != 1 || len(Uses(b)) != 1 {
		t.Fatalf("expected a and b to each have exactly one use")
	}
}

func TestOriginUniqueness(t *testing.T) {
	f, _, _, c := buildAddFusion(t)
	e := Origin(c)
	if e == nil {
		t.Fatal("expected c to have an origin")
	}
	found := false
	for _, out := range Outputs(e) {
		if out == Val(c) {
			found = true
		}
	}
	if !found {
		t.Fatal("c not present in its origin's outputs")
	}
	_ = f
}

func TestRegisterExprReplacesPriorOrigin(t *testing.T) {
	f := NewFusion()
	g := EnterFusion(f)
	defer g.Exit()

	root := []*IterDomain{NewIterDomain(NewConstInt(4))}
	a := NewTensorView(root, Float)
	b := NewTensorView(root, Float)
	out := NewTensorView(root, Float)

	first := NewUnaryOp("neg", a, out)
	second := NewBinaryOp("add", a, b, out)

	if Origin(out) != Expr(second) {
		t.Fatalf("expected origin to be replaced by second expr")
	}
	if _, ok := f.exprSet[first]; ok {
		t.Fatal("expected first expr to be deleted when its output was replaced")
	}
}

func TestExprsTopoOrder(t *testing.T) {
	f, _, _, c := buildAddFusion(t)
	g := EnterFusion(f)
	root := []*IterDomain{NewIterDomain(NewConstInt(4))}
	d := NewTensorView(root, Float)
	NewUnaryOp("neg", c, d)
	f.AddOutput(d)
	g.Exit()

	order := f.Exprs()
	if len(order) != 2 {
		t.Fatalf("expected 2 exprs, got %d", len(order))
	}
	if _, ok := order[0].(*BinaryOp); !ok {
		t.Fatalf("expected add to precede neg in topo order")
	}
}

func TestRemoveExpr(t *testing.T) {
	f, a, b, c := buildAddFusion(t)
	e := Origin(c)
	f.RemoveExpr(e)
	if Origin(c) != nil {
		t.Fatal("expected origin cleared after RemoveExpr")
	}
	if len(Uses(a)) != 0 || len(Uses(b)) != 0 {
		t.Fatal("expected uses cleared after RemoveExpr")
	}
}

func TestRemoveValRejectsFusionIO(t *testing.T) {
	f, a, _, _ := buildAddFusion(t)
	if err := f.RemoveVal(a); err == nil {
		t.Fatal("expected error removing a fusion input")
	}
}

func TestValidateInputsAcceptsConstAndInputs(t *testing.T) {
	f, _, _, _ := buildAddFusion(t)
	if err := f.ValidateInputs(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateInputsRejectsDanglingSource(t *testing.T) {
	f := NewFusion()
	g := EnterFusion(f)
	root := []*IterDomain{NewIterDomain(NewConstInt(4))}
	stray := NewTensorView(root, Float) // never a fusion input, not const
	out := NewTensorView(root, Float)
	NewUnaryOp("neg", stray, out)
	f.AddOutput(out)
	g.Exit()

	if err := f.ValidateInputs(); err == nil {
		t.Fatal("expected validation error for a non-input, non-const source")
	}
}

func TestFusionGuardRestoresOnNestedExit(t *testing.T) {
	outer := NewFusion()
	inner := NewFusion()

	og := EnterFusion(outer)
	if CurrentFusion() != outer {
		t.Fatal("expected outer to be active")
	}
	ig := EnterFusion(inner)
	if CurrentFusion() != inner {
		t.Fatal("expected inner to be active")
	}
	ig.Exit()
	if CurrentFusion() != outer {
		t.Fatal("expected outer restored after inner.Exit")
	}
	og.Exit()
}

func TestHasRandom(t *testing.T) {
	f := NewFusion()
	g := EnterFusion(f)
	root := []*IterDomain{NewIterDomain(NewConstInt(4))}
	in := NewTensorView(root, Float)
	out := NewTensorView(root, Float)
	NewUnaryOp("rand_like", in, out)
	g.Exit()

	if !f.HasRandom() {
		t.Fatal("expected HasRandom true")
	}
}
