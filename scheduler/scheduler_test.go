package scheduler

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

func buildPointwise(t *testing.T) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		outer := ir.NewIterDomain(ir.NewConstInt(8))
		inner := ir.NewIterDomain(ir.NewConstInt(128))
		axes := []*ir.IterDomain{outer, inner}

		a := ir.NewTensorView(axes, ir.Float)
		b := ir.NewTensorView(axes, ir.Float)
		c := ir.NewTensorView(axes, ir.Float)
		a.Memory, b.Memory, c.Memory = ir.Global, ir.Global, ir.Global

		mustAddInput(t, f, a)
		mustAddInput(t, f, b)
		ir.NewBinaryOp("add", a, b, c)
		mustAddOutput(t, f, c)
	})
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

func TestPointWiseCanScheduleAcceptsNoReduction(t *testing.T) {
	f := buildPointwise(t)
	if !(PointWise{}).CanSchedule(f) {
		t.Fatal("expected pointwise to accept a fusion with no reductions")
	}
}

func TestPointWiseScheduleSharesAxesAndAssignsParallelTypes(t *testing.T) {
	f := buildPointwise(t)
	if err := (PointWise{}).Schedule(f); err != nil {
		t.Fatal(err)
	}

	var a, b, c *ir.TensorView
	for i, v := range f.Vals() {
		tv, ok := v.(*ir.TensorView)
		if !ok {
			continue
		}
		switch {
		case ir.IsFusionInput(tv) && a == nil:
			a = tv
		case ir.IsFusionInput(tv):
			b = tv
		case ir.IsFusionOutput(tv):
			c = tv
		}
		_ = i
	}
	if a == nil || b == nil || c == nil {
		t.Fatal("expected to find a, b inputs and c output")
	}
	if a.Domain.Axes[0] != c.Domain.Axes[0] || a.Domain.Axes[1] != c.Domain.Axes[1] {
		t.Fatal("expected a's axes to be shared (by pointer) with c's axes after scheduling")
	}
	if b.Domain.Axes[0] != c.Domain.Axes[0] || b.Domain.Axes[1] != c.Domain.Axes[1] {
		t.Fatal("expected b's axes to be shared (by pointer) with c's axes after scheduling")
	}
	if c.Domain.Axes[0].Parallel != ir.BIDx {
		t.Fatalf("expected outer axis to be BIDx, got %v", c.Domain.Axes[0].Parallel)
	}
	if c.Domain.Axes[1].Parallel != ir.TIDx {
		t.Fatalf("expected inner axis to be TIDx, got %v", c.Domain.Axes[1].Parallel)
	}
}

func buildSingleReduction(t *testing.T, broadcastResult bool) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		m := ir.NewIterDomain(ir.NewConstInt(8))
		n := ir.NewIterDomain(ir.NewConstInt(256))
		n.Type = ir.Reduction
		a := ir.NewTensorView([]*ir.IterDomain{m, n}, ir.Float)
		a.Memory = ir.Global
		mustAddInput(t, f, a)

		sOut := ir.NewIterDomain(ir.NewConstInt(8))
		sRed := ir.NewIterDomain(ir.NewConstInt(256))
		sRed.Type = ir.Reduction
		s := ir.NewTensorView([]*ir.IterDomain{sOut, sRed}, ir.Float)
		s.Memory = ir.Global
		ir.NewReductionOp("add", ir.NewConstFloat(0), a, s)

		if broadcastResult {
			bcOut := ir.NewIterDomain(ir.NewConstInt(8))
			bcExpand := ir.NewIterDomain(ir.NewConstInt(256))
			bc := ir.NewTensorView([]*ir.IterDomain{bcOut, bcExpand}, ir.Float)
			bc.Memory = ir.Global
			ir.NewBroadcastOp(s, bc, []bool{false, true})
			mustAddOutput(t, f, bc)
			return
		}
		mustAddOutput(t, f, s)
	})
}

func TestSingleReductionCanScheduleAcceptsExactlyOneReduction(t *testing.T) {
	f := buildSingleReduction(t, false)
	if !(SingleReduction{}).CanSchedule(f) {
		t.Fatal("expected single_reduction to accept a fusion with exactly one reduction")
	}
}

func TestSingleReductionRejectsWhenResultIsBroadcastBack(t *testing.T) {
	f := buildSingleReduction(t, true)
	if (SingleReduction{}).CanSchedule(f) {
		t.Fatal("expected single_reduction to reject a fusion whose reduction result is broadcast")
	}
}

func TestSingleReductionScheduleBindsReductionAxisToTIDx(t *testing.T) {
	f := buildSingleReduction(t, false)
	if err := (SingleReduction{}).Schedule(f); err != nil {
		t.Fatal(err)
	}
	var s *ir.TensorView
	for _, v := range f.Outputs() {
		if tv, ok := v.(*ir.TensorView); ok {
			s = tv
		}
	}
	if s == nil {
		t.Fatal("expected a tensor view output")
	}
	if s.Domain.Axes[1].Parallel != ir.TIDx {
		t.Fatalf("expected reduction axis parallel TIDx, got %v", s.Domain.Axes[1].Parallel)
	}
	if s.Domain.Axes[0].Parallel != ir.BIDx {
		t.Fatalf("expected outer axis parallel BIDx, got %v", s.Domain.Axes[0].Parallel)
	}
}

func buildNormalization(t *testing.T, mismatchedExtent bool) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		m := ir.NewIterDomain(ir.NewConstInt(8))
		n := ir.NewIterDomain(ir.NewConstInt(256))
		n.Type = ir.Reduction
		a := ir.NewTensorView([]*ir.IterDomain{m, n}, ir.Float)
		a.Memory = ir.Global
		mustAddInput(t, f, a)

		maxOut := ir.NewIterDomain(ir.NewConstInt(8))
		maxRed := ir.NewIterDomain(ir.NewConstInt(256))
		maxRed.Type = ir.Reduction
		maxTV := ir.NewTensorView([]*ir.IterDomain{maxOut, maxRed}, ir.Float)
		maxTV.Memory = ir.Global
		ir.NewReductionOp("max", ir.NewConstFloat(-1), a, maxTV)

		sumExtent := 256
		if mismatchedExtent {
			sumExtent = 128
		}
		sumOut := ir.NewIterDomain(ir.NewConstInt(8))
		sumRed := ir.NewIterDomain(ir.NewConstInt(int64(sumExtent)))
		sumRed.Type = ir.Reduction
		sumTV := ir.NewTensorView([]*ir.IterDomain{sumOut, sumRed}, ir.Float)
		sumTV.Memory = ir.Global
		ir.NewReductionOp("add", ir.NewConstFloat(0), a, sumTV)

		mustAddOutput(t, f, maxTV)
		mustAddOutput(t, f, sumTV)
	})
}

func TestNormalizationCanScheduleAcceptsEquivalentReductions(t *testing.T) {
	f := buildNormalization(t, false)
	if !(Normalization{}).CanSchedule(f) {
		t.Fatal("expected normalization to accept two reductions over the same root extents")
	}
}

func TestNormalizationRejectsMismatchedExtents(t *testing.T) {
	f := buildNormalization(t, true)
	if (Normalization{}).CanSchedule(f) {
		t.Fatal("expected normalization to reject reductions with differing root extents")
	}
}

func TestProposeHeuristicsPrefersSingleReductionOverNormalization(t *testing.T) {
	f := buildSingleReduction(t, false)
	entry, ok := ProposeHeuristics(f)
	if !ok {
		t.Fatal("expected a heuristic to be proposed")
	}
	if entry.Name() != "single_reduction" {
		t.Fatalf("expected single_reduction to be proposed first, got %q", entry.Name())
	}
}

func TestProposeHeuristicsFallsBackToPointWise(t *testing.T) {
	f := buildPointwise(t)
	entry, ok := ProposeHeuristics(f)
	if !ok {
		t.Fatal("expected a heuristic to be proposed")
	}
	if entry.Name() != "pointwise" {
		t.Fatalf("expected pointwise, got %q", entry.Name())
	}
}

func TestProposeHeuristicsPicksNormalizationForTwoReductions(t *testing.T) {
	f := buildNormalization(t, false)
	entry, ok := ProposeHeuristics(f)
	if !ok {
		t.Fatal("expected a heuristic to be proposed")
	}
	if entry.Name() != "normalization" {
		t.Fatalf("expected normalization, got %q", entry.Name())
	}
}
