// Package argpack marshals a kernel launch's arguments into the
// contiguous byte buffer a device.DeviceCompiler.Launch call expects
// (spec.md §4.7, C7): tensors as {data_ptr, strides, sizes}, scalars by
// value, and — when the fusion draws from the RNG — a trailing Philox
// seed/offset pair. Grounded on tenant_teacher/tnproto's wire-buffer
// packing idiom (encoding/binary into a growable byte buffer, fixed field
// order, little-endian throughout).
package argpack

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kernelfuse/fuser/device"
)

// RNGArgs is the trailing {seed, offset} pair appended when a fusion uses
// the RNG (spec.md §4.7).
type RNGArgs struct {
	Seed   uint64
	Offset uint64
}

// Builder accumulates argument bytes in declaration order.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// PutTensor appends t as {data_ptr, strides[rank], sizes[rank]}, all as
// little-endian uint64/int64 fields.
func (b *Builder) PutTensor(t device.Tensor) error {
	shape := t.Shape()
	strides := t.Strides()
	if len(strides) != len(shape) {
		return fmt.Errorf("argpack: tensor has %d-dim shape but %d-dim strides", len(shape), len(strides))
	}
	if err := binary.Write(&b.buf, binary.LittleEndian, uint64(t.DataPtr())); err != nil {
		return err
	}
	for _, s := range strides {
		if err := binary.Write(&b.buf, binary.LittleEndian, s); err != nil {
			return err
		}
	}
	for _, s := range shape {
		if err := binary.Write(&b.buf, binary.LittleEndian, s); err != nil {
			return err
		}
	}
	return nil
}

// PutTensors appends each tensor in ts in order.
func (b *Builder) PutTensors(ts []device.Tensor) error {
	for _, t := range ts {
		if err := b.PutTensor(t); err != nil {
			return err
		}
	}
	return nil
}

// PutScalarInt64 appends a scalar argument by value.
func (b *Builder) PutScalarInt64(v int64) error {
	return binary.Write(&b.buf, binary.LittleEndian, v)
}

// PutScalarFloat64 appends a scalar argument by value.
func (b *Builder) PutScalarFloat64(v float64) error {
	return binary.Write(&b.buf, binary.LittleEndian, v)
}

// PutRNG appends the trailing Philox seed/offset pair, when present.
func (b *Builder) PutRNG(rng *RNGArgs) error {
	if rng == nil {
		return nil
	}
	if err := binary.Write(&b.buf, binary.LittleEndian, rng.Seed); err != nil {
		return err
	}
	return binary.Write(&b.buf, binary.LittleEndian, rng.Offset)
}

// Bytes returns the packed argument buffer built so far.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Pack is the one-shot convenience most callers want: inputs, then
// outputs, then global scratch/sync buffers, then an optional RNG tail —
// exactly the order spec.md §4.6 step 6 marshals arguments in.
func Pack(inputs, outputs, globals []device.Tensor, rng *RNGArgs) ([]byte, error) {
	b := NewBuilder()
	if err := b.PutTensors(inputs); err != nil {
		return nil, fmt.Errorf("argpack: packing inputs: %w", err)
	}
	if err := b.PutTensors(outputs); err != nil {
		return nil, fmt.Errorf("argpack: packing outputs: %w", err)
	}
	if err := b.PutTensors(globals); err != nil {
		return nil, fmt.Errorf("argpack: packing global buffers: %w", err)
	}
	if err := b.PutRNG(rng); err != nil {
		return nil, fmt.Errorf("argpack: packing RNG seed/offset: %w", err)
	}
	return b.Bytes(), nil
}
