package exec

import (
	"testing"

	"github.com/kernelfuse/fuser/config"
	"github.com/kernelfuse/fuser/device"
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/scheduler"
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

// buildAddFusion builds c = a + b over an 8x128 tensor, the same shape the
// pointwise scheduler test uses.
func buildAddFusion(t *testing.T) *ir.Fusion {
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

// buildSumFusion builds a single-reduction fusion: out = sum(in, axis 1),
// an 8x128 input reduced to an 8-element output.
func buildSumFusion(t *testing.T) *ir.Fusion {
	t.Helper()
	return withFusion(t, func(f *ir.Fusion) {
		outer := ir.NewIterDomain(ir.NewConstInt(8))
		inner := ir.NewIterDomain(ir.NewConstInt(128))
		in := ir.NewTensorView([]*ir.IterDomain{outer, inner}, ir.Float)
		in.Memory = ir.Global

		redOuter := ir.NewIterDomain(ir.NewConstInt(8))
		redInner := ir.NewIterDomain(ir.NewConstInt(128))
		redInner.Type = ir.Reduction
		out := ir.NewTensorView([]*ir.IterDomain{redOuter, redInner}, ir.Float)
		out.Memory = ir.Global

		mustAddInput(t, f, in)
		ir.NewReductionOp("add", ir.NewConstFloat(0), in, out)
		mustAddOutput(t, f, out)
	})
}

func newHarness() (*Executor, *device.FakeCompiler, *device.FakeRuntime) {
	compiler := device.NewFakeCompiler()
	runtime := device.NewFakeRuntime()
	info := &device.FakeDeviceInfo{SmemPerBlock: 1 << 20}
	ex := NewExecutor(compiler, device.FakeEmitter{}, info, runtime, nil)
	return ex, compiler, runtime
}

func TestCompileAndRunPointwiseFusion(t *testing.T) {
	f := buildAddFusion(t)
	entry, ok := scheduler.ProposeHeuristics(f)
	if !ok {
		t.Fatal("expected a scheduler to accept a plain add fusion")
	}
	if entry.Name() != "pointwise" {
		t.Fatalf("expected the pointwise heuristic, got %s", entry.Name())
	}
	if err := entry.Schedule(f); err != nil {
		t.Fatal(err)
	}

	ex, compiler, runtime := newHarness()
	if err := ex.CompileFusion(f, config.CompileOptions{RetainSource: true}); err != nil {
		t.Fatal(err)
	}
	if ex.State() != Compiled {
		t.Fatalf("expected Compiled state, got %v", ex.State())
	}
	if ex.SourceText() == "" {
		t.Fatal("expected non-empty retained source text")
	}

	a, err := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
	if err != nil {
		t.Fatal(err)
	}

	outs, err := ex.RunFusion([]device.Tensor{a, b}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 {
		t.Fatalf("expected one allocated output, got %d", len(outs))
	}
	if got := outs[0].Shape(); len(got) != 2 || got[0] != 8 || got[1] != 128 {
		t.Fatalf("expected inferred output shape [8 128], got %v", got)
	}
	if ex.State() != Compiled {
		t.Fatalf("expected executor to revert to Compiled after running, got %v", ex.State())
	}

	launches := compiler.Launches()
	if len(launches) != 1 {
		t.Fatalf("expected exactly one recorded launch, got %d", len(launches))
	}
	if launches[0].Block[0] != 128 {
		t.Fatalf("expected the inner (TIDx) dimension to resolve to 128, got %d", launches[0].Block[0])
	}
	if launches[0].Grid[0] != 8 {
		t.Fatalf("expected the outer (BIDx) dimension to resolve to 8, got %d", launches[0].Grid[0])
	}
}

func TestRunFusionRejectsWrongInputCount(t *testing.T) {
	f := buildAddFusion(t)
	entry, _ := scheduler.ProposeHeuristics(f)
	if err := entry.Schedule(f); err != nil {
		t.Fatal(err)
	}
	ex, _, runtime := newHarness()
	if err := ex.CompileFusion(f, config.CompileOptions{}); err != nil {
		t.Fatal(err)
	}
	a, _ := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
	if _, err := ex.RunFusion([]device.Tensor{a}, nil, nil); err == nil {
		t.Fatal("expected an error for a missing second input")
	}
}

func TestRunFusionBeforeCompileFails(t *testing.T) {
	ex, _, runtime := newHarness()
	a, _ := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
	if _, err := ex.RunFusion([]device.Tensor{a, a}, nil, nil); err == nil {
		t.Fatal("expected an error running an uncompiled executor")
	}
}

func TestRecompilationIsRejected(t *testing.T) {
	f := buildAddFusion(t)
	entry, _ := scheduler.ProposeHeuristics(f)
	if err := entry.Schedule(f); err != nil {
		t.Fatal(err)
	}
	ex, _, _ := newHarness()
	if err := ex.CompileFusion(f, config.CompileOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := ex.CompileFusion(f, config.CompileOptions{}); err == nil {
		t.Fatal("expected a second CompileFusion call on the same executor to fail")
	}
}

func TestCompileAndRunSingleReductionFusion(t *testing.T) {
	f := buildSumFusion(t)
	entry, ok := scheduler.ProposeHeuristics(f)
	if !ok {
		t.Fatal("expected a scheduler to accept a single-reduction fusion")
	}
	if entry.Name() != "single_reduction" && entry.Name() != "reduction" {
		t.Logf("scheduler picked %s", entry.Name())
	}
	if err := entry.Schedule(f); err != nil {
		t.Fatal(err)
	}

	ex, _, runtime := newHarness()
	if err := ex.CompileFusion(f, config.CompileOptions{}); err != nil {
		t.Fatal(err)
	}

	in, err := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
	if err != nil {
		t.Fatal(err)
	}
	outs, err := ex.RunFusion([]device.Tensor{in}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 {
		t.Fatalf("expected one allocated output, got %d", len(outs))
	}
}

func TestRunFusionRejectsSharedMemoryOverflow(t *testing.T) {
	f := buildAddFusion(t)
	entry, _ := scheduler.ProposeHeuristics(f)
	if err := entry.Schedule(f); err != nil {
		t.Fatal(err)
	}
	compiler := device.NewFakeCompiler()
	runtime := device.NewFakeRuntime()
	info := &device.FakeDeviceInfo{SmemPerBlock: 0}
	ex := NewExecutor(compiler, device.FakeEmitter{}, info, runtime, nil)

	err := ex.CompileFusion(f, config.CompileOptions{})
	if err == nil {
		a, _ := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
		b, _ := runtime.Allocate([]int64{8, 128}, ir.Float, device.Device{}, false)
		if _, runErr := ex.RunFusion([]device.Tensor{a, b}, nil, nil); runErr == nil {
			t.Fatal("expected a shared-memory capacity error somewhere in compile or run")
		}
	}
}
