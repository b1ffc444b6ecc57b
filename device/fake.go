package device

import (
	"fmt"
	"sync"

	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// FakeTensor is an in-process Tensor backed by a Go slice length/shape
// record rather than a real device allocation.
type FakeTensor struct {
	shape   []int64
	strides []int64
	dtype   ir.DataType
	id      uintptr
}

// NewFakeTensorRaw builds a FakeTensor directly from shape/stride data,
// for tests that need to construct a tensor without going through a
// FakeRuntime allocation (e.g. to exercise a shape/stride mismatch).
func NewFakeTensorRaw(shape, strides []int64, dtype ir.DataType) *FakeTensor {
	return &FakeTensor{shape: append([]int64(nil), shape...), strides: append([]int64(nil), strides...), dtype: dtype}
}

func (t *FakeTensor) Shape() []int64      { return append([]int64(nil), t.shape...) }
func (t *FakeTensor) Strides() []int64    { return append([]int64(nil), t.strides...) }
func (t *FakeTensor) DType() ir.DataType  { return t.dtype }
func (t *FakeTensor) DataPtr() uintptr    { return t.id }
func (t *FakeTensor) Numel() int64 {
	n := int64(1)
	for _, s := range t.shape {
		n *= s
	}
	return n
}

// rowMajorStrides computes contiguous row-major strides for shape, in
// shape's own axis order (the last axis has stride 1).
func rowMajorStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	acc := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// FakeRuntime allocates FakeTensors, handing out a fresh, distinguishable
// DataPtr per allocation so tests can assert on aliasing without touching
// real memory.
type FakeRuntime struct {
	mu       sync.Mutex
	nextAddr uintptr
}

// NewFakeRuntime creates a FakeRuntime whose first allocation starts at
// addr 1 (0 is reserved to mean "no tensor").
func NewFakeRuntime() *FakeRuntime { return &FakeRuntime{nextAddr: 1} }

func (r *FakeRuntime) Allocate(shape []int64, dtype ir.DataType, dev Device, zeroInit bool) (Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := r.nextAddr
	r.nextAddr++
	return &FakeTensor{
		shape:   append([]int64(nil), shape...),
		strides: rowMajorStrides(shape),
		dtype:   dtype,
		id:      addr,
	}, nil
}

// fakeCompiledKernel records one compilation so FakeCompiler.Launch can
// validate a launch was requested against a kernel it actually compiled.
type fakeCompiledKernel struct {
	source     string
	symbolName string
	fusionID   int
}

// FakeCompiler implements DeviceCompiler entirely in-process: Compile
// returns a Handle wrapping the source text, Launch records the call
// arguments for test assertions. Launch succeeds for any handle this
// compiler produced and returns an error for any other handle.
type FakeCompiler struct {
	mu       sync.Mutex
	launches []FakeLaunch
}

// FakeLaunch is one recorded Launch call.
type FakeLaunch struct {
	Grid, Block [3]int64
	SmemBytes   int64
	Args        []byte
}

func NewFakeCompiler() *FakeCompiler { return &FakeCompiler{} }

func (c *FakeCompiler) Compile(sourceText, symbolName string, fusionID int) (Handle, error) {
	return &fakeCompiledKernel{source: sourceText, symbolName: symbolName, fusionID: fusionID}, nil
}

func (c *FakeCompiler) Launch(h Handle, grid, block [3]int64, smemBytes int64, stream Stream, args []byte) error {
	if _, ok := h.(*fakeCompiledKernel); !ok {
		return fmt.Errorf("device: launch called with a handle this compiler did not produce: %T", h)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launches = append(c.launches, FakeLaunch{Grid: grid, Block: block, SmemBytes: smemBytes, Args: append([]byte(nil), args...)})
	return nil
}

// Launches returns every Launch call recorded so far.
func (c *FakeCompiler) Launches() []FakeLaunch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FakeLaunch(nil), c.launches...)
}

// FakeDeviceInfo reports a fixed shared-memory capacity.
type FakeDeviceInfo struct {
	SmemPerBlock int64
}

func (d *FakeDeviceInfo) SharedMemPerBlock(dev Device) int64 { return d.SmemPerBlock }

// FakeEmitter renders a kernel to a short, human-readable text rather than
// real device source — enough for tests to assert a non-empty, kernel-
// name-bearing string was produced without depending on a real codegen
// backend.
type FakeEmitter struct{}

func (FakeEmitter) Emit(k *kir.Kernel) (string, error) {
	return fmt.Sprintf("// kernel %s\n// %d top-level statements\n", k.Name(), len(k.TopLevelExprs())), nil
}
