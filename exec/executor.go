package exec

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/kernelfuse/fuser/argpack"
	"github.com/kernelfuse/fuser/config"
	"github.com/kernelfuse/fuser/device"
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
	"github.com/kernelfuse/fuser/lower"
	"github.com/kernelfuse/fuser/symbolic"
)

// State is one of an Executor's lifecycle states (spec.md §4.6: Uncompiled
// → Compiled → (Running)).
type State int32

const (
	Uncompiled State = iota
	Compiled
	Running
)

func (s State) String() string {
	switch s {
	case Uncompiled:
		return "uncompiled"
	case Compiled:
		return "compiled"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

var fusionIDCounter int64

// Executor owns one compiled fusion's kernel and device handle.
// Recompilation is not supported — a new Executor is required per fusion
// (spec.md §4.6's state machine).
type Executor struct {
	mu    sync.Mutex
	state State

	compiler device.DeviceCompiler
	emitter  device.CodeEmitter
	devInfo  device.DeviceInfo
	runtime  device.TensorRuntime
	seeds    *argpack.SeedSource

	fusion     *ir.Fusion
	fusionID   int
	kernel     *kir.Kernel
	options    config.CompileOptions
	sourceText string
	handle     device.Handle

	logger   *log.Logger
	debugDir string
}

// NewExecutor wires an Executor to its device collaborators. seeds may be
// nil — RunFusion lazily creates one from crypto/rand the first time a
// fusion using RNG is run. The logger defaults to stdout with no prefix
// (cmd_teacher/snellerd/run_worker.go's style); debug tracing and kernel-
// source archiving only actually print/write when FUSER_DEBUG is set.
func NewExecutor(compiler device.DeviceCompiler, emitter device.CodeEmitter, devInfo device.DeviceInfo, runtime device.TensorRuntime, seeds *argpack.SeedSource) *Executor {
	return &Executor{compiler: compiler, emitter: emitter, devInfo: devInfo, runtime: runtime, seeds: seeds, logger: debugLogger()}
}

// SetDebugArtifactDir sets the directory FUSER_DEBUG-gated kernel source
// archives are written to. A zero value disables archiving (the FUSER_DEBUG
// stdout print still happens).
func (ex *Executor) SetDebugArtifactDir(dir string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.debugDir = dir
}

// State reports the executor's current lifecycle state.
func (ex *Executor) State() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state
}

// SourceText returns the emitted device source text, if opts.RetainSource
// was set at compile time.
func (ex *Executor) SourceText() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.sourceText
}

// CompileFusion clones f, lowers it, emits source text, validates static
// shared-memory usage against the device's capacity, and invokes the
// device compiler (spec.md §4.6 compile()). f is expected to already have
// been scheduled (package scheduler) — CompileFusion performs no
// scheduling of its own.
func (ex *Executor) CompileFusion(f *ir.Fusion, opts config.CompileOptions) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.state != Uncompiled {
		return fmt.Errorf("exec: recompilation is not supported; create a new Executor per fusion")
	}
	if len(f.Outputs()) == 0 {
		return fmt.Errorf("exec: no output found for this fusion, aborting")
	}
	for _, out := range f.Outputs() {
		if _, ok := out.(*ir.TensorView); !ok {
			return fmt.Errorf("exec: output types from fusions that are not tensors are not supported")
		}
	}

	clone, _ := ir.Clone(f)
	ex.fusion = clone
	ex.options = opts
	ex.fusionID = int(atomic.AddInt64(&fusionIDCounter, 1))

	prefix := opts.KernelNamePrefix
	if prefix == "" {
		prefix = "kernel"
	}
	kernelName := fmt.Sprintf("%s%d", prefix, ex.fusionID)

	k, err := lower.Lower(clone, kernelName)
	if err != nil {
		return fmt.Errorf("exec: lowering fusion %d: %w", ex.fusionID, err)
	}
	ex.kernel = k

	if len(k.StaticAllocations()) > 0 {
		see := symbolic.NewEvaluator()
		staticSmem, err := ex.computeSharedMemory(see, k.StaticAllocations(), false, 0)
		if err != nil {
			return fmt.Errorf("exec: evaluating static shared-memory size: %w", err)
		}
		capacity := ex.devInfo.SharedMemPerBlock(device.Device{Index: opts.Device.Index})
		if staticSmem >= capacity {
			return fmt.Errorf("exec: static shared memory allocation (%d bytes) is larger than available memory (%d bytes)", staticSmem, capacity)
		}
	}

	source, err := ex.emitter.Emit(k)
	if err != nil {
		return fmt.Errorf("exec: emitting source for fusion %d: %w", ex.fusionID, err)
	}
	if opts.RetainSource {
		ex.sourceText = source
	}
	if debugEnabled() {
		ex.logger.Printf("exec: emitted source for kernel %s:\n%s", kernelName, source)
		if err := dumpDebugArtifact(ex.debugDir, kernelName, source); err != nil {
			ex.logger.Printf("exec: %v", err)
		}
	}

	handle, err := ex.compiler.Compile(source, kernelName, ex.fusionID)
	if err != nil {
		return fmt.Errorf("exec: device compile: %w", err)
	}
	ex.handle = handle
	ex.state = Compiled
	return nil
}

// RunFusion binds inputs[...] to the fusion's symbolic shapes, computes a
// launch configuration, allocates outputs/scratch as needed, marshals
// arguments and dispatches the kernel (spec.md §4.6 run()).
func (ex *Executor) RunFusion(inputs []device.Tensor, outputs []device.Tensor, constraints *LaunchParams) ([]device.Tensor, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.state == Uncompiled {
		return nil, fmt.Errorf("exec: cannot run fusion, it was not compiled")
	}
	ex.state = Running
	defer func() { ex.state = Compiled }()

	if debugEnabled() {
		trace := newTraceID()
		ex.logger.Printf("exec: run %s fusion=%d", trace, ex.fusionID)
	}

	fusionInputs := tensorViewsOf(ex.fusion.Inputs())
	if len(inputs) != len(fusionInputs) {
		return nil, fmt.Errorf("exec: fusion expects %d inputs, got %d", len(fusionInputs), len(inputs))
	}
	for i, tv := range fusionInputs {
		if inputs[i].DType() != tv.DType {
			return nil, fmt.Errorf("exec: input %d: expected dtype %v, got %v", i, tv.DType, inputs[i].DType())
		}
	}

	see := symbolic.NewEvaluator()
	for i, tv := range fusionInputs {
		if err := see.BindInputTensor(tv, inputs[i].Shape(), inputs[i].Strides()); err != nil {
			return nil, fmt.Errorf("exec: binding input %d: %w", i, err)
		}
		// A scheduler may have shared a reference tensor view's axis
		// objects into tv (package scheduler's propagateAxes): the
		// kernel's parallel launch dimensions are read off that shared,
		// currently-scheduled axis set, which can carry a different
		// tensor's root-domain symbol than tv's own. Bind those too, by
		// position, from the same runtime shape.
		shape := inputs[i].Shape()
		for j, axis := range tv.Domain.Axes {
			if j >= len(shape) {
				break
			}
			if err := see.BindAxisExtent(axis, shape[j]); err != nil {
				return nil, fmt.Errorf("exec: binding input %d's scheduled axis %d: %w", i, j, err)
			}
		}
	}

	if constraints == nil {
		constraints = NewLaunchParams()
	}
	launchParams, err := ex.computeLaunchParams(see, constraints)
	if err != nil {
		return nil, err
	}

	fusionOutputs := tensorViewsOf(ex.fusion.Outputs())
	allocedOutputs := outputs
	if len(outputs) != len(fusionOutputs) {
		allocedOutputs, err = ex.allocOutputs(see, fusionOutputs)
		if err != nil {
			return nil, err
		}
	}
	for i, tv := range fusionOutputs {
		if allocedOutputs[i].DType() != tv.DType {
			return nil, fmt.Errorf("exec: output %d: expected dtype %v, got %v", i, tv.DType, allocedOutputs[i].DType())
		}
	}

	globalBuffers, err := ex.allocGlobalVals(see)
	if err != nil {
		return nil, err
	}

	var rng *argpack.RNGArgs
	if ex.kernel.HasRandom() {
		if ex.seeds == nil {
			ex.seeds, err = argpack.NewRandomSeedSource()
			if err != nil {
				return nil, fmt.Errorf("exec: creating RNG seed source: %w", err)
			}
		}
		seed, err := ex.seeds.NextSeed()
		if err != nil {
			return nil, fmt.Errorf("exec: deriving RNG seed: %w", err)
		}
		offset := argpack.PhiloxOffset(allocedOutputs[0].Numel(), launchParams.GDimX())
		rng = &argpack.RNGArgs{Seed: seed, Offset: offset}
	}

	args, err := argpack.Pack(inputs, allocedOutputs, globalBuffers, rng)
	if err != nil {
		return nil, fmt.Errorf("exec: marshaling arguments: %w", err)
	}

	grid := [3]int64{launchParams.GDimX(), launchParams.GDimY(), launchParams.GDimZ()}
	block := [3]int64{launchParams.BDimX(), launchParams.BDimY(), launchParams.BDimZ()}
	if err := ex.compiler.Launch(ex.handle, grid, block, launchParams.Smem(), nil, args); err != nil {
		return nil, fmt.Errorf("exec: launch: %w", err)
	}

	return allocedOutputs, nil
}

func tensorViewsOf(vals []ir.Val) []*ir.TensorView {
	var out []*ir.TensorView
	for _, v := range vals {
		if tv, ok := v.(*ir.TensorView); ok {
			out = append(out, tv)
		}
	}
	return out
}

// allocOutputs allocates one device.Tensor per fusion output, its shape
// inferred from the evaluator's current bindings.
func (ex *Executor) allocOutputs(see *symbolic.Evaluator, outs []*ir.TensorView) ([]device.Tensor, error) {
	result := make([]device.Tensor, len(outs))
	for i, tv := range outs {
		shape, err := inferShape(see, tv)
		if err != nil {
			return nil, fmt.Errorf("exec: could not infer shape for output %d: %w", i, err)
		}
		t, err := ex.runtime.Allocate(shape, tv.DType, device.Device{Index: ex.options.Device.Index}, false)
		if err != nil {
			return nil, fmt.Errorf("exec: allocating output %d: %w", i, err)
		}
		result[i] = t
	}
	return result, nil
}

// allocGlobalVals allocates one device.Tensor per lowered global
// allocation, and one zero-filled device.Tensor per sync allocation
// (spec.md §4.6 step 5).
func (ex *Executor) allocGlobalVals(see *symbolic.Evaluator) ([]device.Tensor, error) {
	var result []device.Tensor
	for _, alloc := range ex.kernel.GlobalAllocations() {
		t, err := ex.allocFlatBuffer(see, alloc, false)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	for _, alloc := range ex.kernel.SyncAllocations() {
		t, err := ex.allocFlatBuffer(see, alloc, true)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func (ex *Executor) allocFlatBuffer(see *symbolic.Evaluator, alloc *kir.Allocate, zeroInit bool) (device.Tensor, error) {
	n, err := see.EvaluateKir(alloc.Size)
	if err != nil {
		return nil, fmt.Errorf("exec: evaluating size of global buffer: %w", err)
	}
	return ex.runtime.Allocate([]int64{n}, alloc.Buffer.DType, device.Device{Index: ex.options.Device.Index}, zeroInit)
}

// inferShape infers tv's non-reduction root-axis extents via see.
func inferShape(see *symbolic.Evaluator, tv *ir.TensorView) ([]int64, error) {
	axes := ir.NoReductions(tv.Domain.Root)
	shape := make([]int64, len(axes))
	for i, axis := range axes {
		v, err := see.Evaluate(axis.Extent)
		if err != nil {
			return nil, err
		}
		shape[i] = v
	}
	return shape, nil
}
