package segment

import (
	"testing"

	"github.com/kernelfuse/fuser/ir"
)

func withFusion(t *testing.T, fn func(f *ir.Fusion)) *ir.Fusion {
	t.Helper()
	f := ir.NewFusion()
	guard := ir.EnterFusion(f)
	defer guard.Exit()
	fn(f)
	return f
}

func mustAddInput(t *testing.T, f *ir.Fusion, v ir.Val) {
	t.Helper()
	if err := f.AddInput(v); err != nil {
		t.Fatal(err)
	}
}

func mustAddOutput(t *testing.T, f *ir.Fusion, v ir.Val) {
	t.Helper()
	if err := f.AddOutput(v); err != nil {
		t.Fatal(err)
	}
}

// buildSingleExprFusion is trivially one group: nothing to merge.
func buildSingleExprFusion(t *testing.T) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		axes := []*ir.IterDomain{ir.NewIterDomain(ir.NewConstInt(8)), ir.NewIterDomain(ir.NewConstInt(128))}
		a := ir.NewTensorView(axes, ir.Float)
		b := ir.NewTensorView(axes, ir.Float)
		a.Memory, b.Memory = ir.Global, ir.Global
		mustAddInput(t, f, a)
		ir.NewUnaryOp("neg", a, b)
		mustAddOutput(t, f, b)
	})
}

// buildPointwiseChain is three chained pointwise ops (a -> b -> c -> d): all
// fit one PointWise heuristic, so the merge loop should collapse them into a
// single group.
func buildPointwiseChain(t *testing.T) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		axes := []*ir.IterDomain{ir.NewIterDomain(ir.NewConstInt(8)), ir.NewIterDomain(ir.NewConstInt(128))}
		a := ir.NewTensorView(axes, ir.Float)
		b := ir.NewTensorView(axes, ir.Float)
		c := ir.NewTensorView(axes, ir.Float)
		d := ir.NewTensorView(axes, ir.Float)
		a.Memory, b.Memory, c.Memory, d.Memory = ir.Global, ir.Global, ir.Global, ir.Global

		mustAddInput(t, f, a)
		ir.NewUnaryOp("neg", a, b)
		ir.NewUnaryOp("abs", b, c)
		ir.NewUnaryOp("relu", c, d)
		mustAddOutput(t, f, d)
	})
}

func TestSegmentSingleExprFusionYieldsOneGroup(t *testing.T) {
	f := buildSingleExprFusion(t)
	groups, err := NewFinder(f, nil).Segment()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Exprs) != 1 {
		t.Fatalf("expected the single group to hold 1 expr, got %d", len(groups[0].Exprs))
	}
}

func TestSegmentPointwiseChainMergesIntoOneGroup(t *testing.T) {
	f := buildPointwiseChain(t)
	groups, err := NewFinder(f, nil).Segment()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected the pointwise chain to merge into 1 group, got %d", len(groups))
	}
	if len(groups[0].Exprs) != 3 {
		t.Fatalf("expected the merged group to hold all 3 exprs, got %d", len(groups[0].Exprs))
	}
}

func TestSegmentRejectsMergeWhenCanGenerateCodeAlwaysFalse(t *testing.T) {
	f := buildPointwiseChain(t)
	never := func(*ir.Fusion) bool { return false }
	groups, err := NewFinder(f, never).Segment()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected no merges (3 groups) when canGenerateCode always rejects, got %d", len(groups))
	}
}

func TestSegmentGroupsFormADAGOverOriginalEdges(t *testing.T) {
	f := buildPointwiseChain(t)
	sf := NewFinder(f, nil)
	groups, err := sf.Segment()
	if err != nil {
		t.Fatal(err)
	}
	// With everything merged into one group, there must be no self-referential
	// producer/consumer edges left (the internal a->b->c->d edges were
	// dropped as part of the merge, not redirected onto the survivor).
	for _, g := range groups {
		for _, e := range g.ProducerEdges {
			if e.From == g {
				t.Fatal("unexpected self-edge in ProducerEdges after full merge")
			}
		}
		for _, e := range g.ConsumerEdges {
			if e.To == g {
				t.Fatal("unexpected self-edge in ConsumerEdges after full merge")
			}
		}
	}
}

func TestDefaultCanGenerateCodeAcceptsPointwiseFusion(t *testing.T) {
	f := buildSingleExprFusion(t)
	if !DefaultCanGenerateCode(f) {
		t.Fatal("expected the default heuristic gate to accept a plain pointwise fusion")
	}
}
