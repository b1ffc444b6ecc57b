// Package device defines the collaborator boundary between this compiler
// and the vendor runtime it targets (spec.md's "out of scope" list): a
// driver/runtime-compilation API, a tensor allocator, a source-text
// emitter and a device-capability query, each modeled as a narrow
// interface rather than a concrete binding to any particular vendor SDK.
// Production code wires these to whatever runtime owns the actual GPU;
// this package also ships an in-process fake of each, grounded on
// tenant_teacher/tnproto's net.Pipe-backed mock-collaborator tests, for
// exercising package exec without a real device.
package device

import (
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/kir"
)

// Device identifies a target device. Opaque beyond its index: compilers
// in this repo never branch on device capability directly, only through
// DeviceInfo.
type Device struct {
	Index int
}

// Handle is whatever a DeviceCompiler returns from Compile and expects
// back from Launch — opaque to everything except the DeviceCompiler that
// produced it.
type Handle interface{}

// Stream is an opaque device execution stream/queue handle.
type Stream interface{}

// DeviceCompiler compiles kernel source text to a launchable handle and
// launches it with a fixed argument buffer. Both operations may fail with
// a driver error, which Executor propagates verbatim (spec.md §7).
type DeviceCompiler interface {
	Compile(sourceText, symbolName string, fusionID int) (Handle, error)
	Launch(h Handle, grid, block [3]int64, smemBytes int64, stream Stream, args []byte) error
}

// Tensor is a runtime buffer: shape/dtype/strides metadata plus whatever
// addressing a DeviceCompiler needs to bind it as a kernel argument.
type Tensor interface {
	Shape() []int64
	Strides() []int64
	DType() ir.DataType
	Numel() int64
	DataPtr() uintptr
}

// TensorRuntime allocates device buffers, uninitialized or zero-filled.
type TensorRuntime interface {
	Allocate(shape []int64, dtype ir.DataType, dev Device, zeroInit bool) (Tensor, error)
}

// CodeEmitter renders a lowered kernel to device source text.
type CodeEmitter interface {
	Emit(k *kir.Kernel) (string, error)
}

// DeviceInfo answers capability queries a launch planner needs.
type DeviceInfo interface {
	SharedMemPerBlock(dev Device) int64
}
