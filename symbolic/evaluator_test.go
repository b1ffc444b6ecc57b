package symbolic

import (
	"testing"

	"github.com/kernelfuse/fuser/ir"
)

func withFusion(t *testing.T, fn func()) {
	t.Helper()
	f := ir.NewFusion()
	g := ir.EnterFusion(f)
	defer g.Exit()
	fn()
}

func TestEvaluateConst(t *testing.T) {
	withFusion(t, func() {
		e := NewEvaluator()
		c := ir.NewConstInt(42)
		v, err := e.Evaluate(c)
		if err != nil || v != 42 {
			t.Fatalf("got (%d, %v), want (42, nil)", v, err)
		}
	})
}

func TestEvaluateSymbolBinding(t *testing.T) {
	withFusion(t, func() {
		e := NewEvaluator()
		sym := ir.NewNamedScalar("T0.size[0]", ir.Int)
		if _, err := e.Evaluate(sym); err == nil {
			t.Fatal("expected ErrUnknown before binding")
		}
		if err := e.SafeBind("T0.size[0]", 1024); err != nil {
			t.Fatal(err)
		}
		v, err := e.Evaluate(sym)
		if err != nil || v != 1024 {
			t.Fatalf("got (%d, %v), want (1024, nil)", v, err)
		}
	})
}

func TestSafeBindConflict(t *testing.T) {
	e := NewEvaluator()
	if err := e.SafeBind("N", 10); err != nil {
		t.Fatal(err)
	}
	if err := e.SafeBind("N", 10); err != nil {
		t.Fatalf("rebind to same value should not error: %v", err)
	}
	if err := e.SafeBind("N", 20); err == nil {
		t.Fatal("expected conflict error rebinding to a different value")
	}
}

func TestEvaluateArithmeticComposition(t *testing.T) {
	withFusion(t, func() {
		e := NewEvaluator()
		n := ir.NewNamedScalar("N", ir.Int)
		block := ir.NewConstInt(128)
		grid := ir.NewScalar(ir.Int)
		ir.NewBinaryOp("ceildiv", n, block, grid)

		if err := e.SafeBind("N", 1024); err != nil {
			t.Fatal(err)
		}
		v, err := e.Evaluate(grid)
		if err != nil {
			t.Fatal(err)
		}
		if v != 8 {
			t.Fatalf("ceildiv(1024,128) = %d, want 8", v)
		}
	})
}

func TestEvaluateDeterministicAcrossRepeatedCalls(t *testing.T) {
	withFusion(t, func() {
		e := NewEvaluator()
		n := ir.NewNamedScalar("N", ir.Int)
		m := ir.NewNamedScalar("M", ir.Int)
		sum := ir.NewScalar(ir.Int)
		ir.NewBinaryOp("add", n, m, sum)

		if err := e.SafeBind("N", 3); err != nil {
			t.Fatal(err)
		}
		if err := e.SafeBind("M", 4); err != nil {
			t.Fatal(err)
		}
		first, err := e.Evaluate(sum)
		if err != nil {
			t.Fatal(err)
		}
		second, err := e.Evaluate(sum)
		if err != nil {
			t.Fatal(err)
		}
		if first != second || first != 7 {
			t.Fatalf("expected deterministic 7, got %d then %d", first, second)
		}
	})
}

func TestBindInputTensorBindsRootExtents(t *testing.T) {
	withFusion(t, func() {
		root0 := ir.NewIterDomain(ir.NewNamedScalar("T0.size[0]", ir.Int))
		root1 := ir.NewIterDomain(ir.NewNamedScalar("T0.size[1]", ir.Int))
		tv := ir.NewTensorView([]*ir.IterDomain{root0, root1}, ir.Float)

		e := NewEvaluator()
		if err := e.BindInputTensor(tv, []int64{8, 256}, nil); err != nil {
			t.Fatal(err)
		}
		v0, err := e.Evaluate(root0.Extent)
		if err != nil || v0 != 8 {
			t.Fatalf("got (%d, %v), want (8, nil)", v0, err)
		}
		v1, err := e.Evaluate(root1.Extent)
		if err != nil || v1 != 256 {
			t.Fatalf("got (%d, %v), want (256, nil)", v1, err)
		}
	})
}

func TestBindInputTensorShapeLengthMismatch(t *testing.T) {
	withFusion(t, func() {
		root0 := ir.NewIterDomain(ir.NewNamedScalar("T0.size[0]", ir.Int))
		tv := ir.NewTensorView([]*ir.IterDomain{root0}, ir.Float)
		e := NewEvaluator()
		if err := e.BindInputTensor(tv, []int64{1, 2}, nil); err == nil {
			t.Fatal("expected shape-length mismatch error")
		}
	})
}

func TestFreshEvaluatorSeesOwnBinding(t *testing.T) {
	withFusion(t, func() {
		e := NewEvaluator()
		n := ir.NewNamedScalar("N", ir.Int)
		if err := e.SafeBind("N", 5); err != nil {
			t.Fatal(err)
		}
		if v, err := e.Evaluate(n); err != nil || v != 5 {
			t.Fatalf("got (%d, %v)", v, err)
		}
		e2 := NewEvaluator()
		if err := e2.SafeBind("N", 9); err != nil {
			t.Fatal(err)
		}
		if v, err := e2.Evaluate(n); err != nil || v != 9 {
			t.Fatalf("fresh evaluator should see its own binding: got (%d, %v)", v, err)
		}
	})
}
