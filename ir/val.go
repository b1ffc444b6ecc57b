package ir

// ValKind classifies the data a Val carries. It is the discriminant used by
// lowering passes instead of sniffing concrete types with reflection.
type ValKind int

const (
	KindScalar ValKind = iota
	KindIterDomain
	KindTensorDomain
	KindTensorView
)

func (k ValKind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindIterDomain:
		return "IterDomain"
	case KindTensorDomain:
		return "TensorDomain"
	case KindTensorView:
		return "TensorView"
	default:
		return "Unknown"
	}
}

// DataType is the element type of a Scalar or TensorView.
type DataType int

const (
	Int DataType = iota
	Float
	Bool
)

func (d DataType) String() string {
	switch d {
	case Int:
		return "Int"
	case Float:
		return "Float"
	case Bool:
		return "Bool"
	default:
		return "Unknown"
	}
}

// MemoryType is where a TensorView's backing storage lives.
type MemoryType int

const (
	Global MemoryType = iota
	Shared
	Local
)

func (m MemoryType) String() string {
	switch m {
	case Global:
		return "Global"
	case Shared:
		return "Shared"
	case Local:
		return "Local"
	default:
		return "Unknown"
	}
}

// ParallelType assigns an IterDomain axis to a hardware dimension, or marks
// it for unrolling/vectorization/serial execution.
type ParallelType int

const (
	Serial ParallelType = iota
	BIDx
	BIDy
	BIDz
	TIDx
	TIDy
	TIDz
	Unroll
	Vectorize
)

func (p ParallelType) String() string {
	switch p {
	case Serial:
		return "Serial"
	case BIDx:
		return "BIDx"
	case BIDy:
		return "BIDy"
	case BIDz:
		return "BIDz"
	case TIDx:
		return "TIDx"
	case TIDy:
		return "TIDy"
	case TIDz:
		return "TIDz"
	case Unroll:
		return "Unroll"
	case Vectorize:
		return "Vectorize"
	default:
		return "Unknown"
	}
}

// IsBlockDim reports whether p binds to a grid (block-index) dimension.
func (p ParallelType) IsBlockDim() bool {
	return p == BIDx || p == BIDy || p == BIDz
}

// IsThreadDim reports whether p binds to a block-local (thread-index) dimension.
func (p ParallelType) IsThreadDim() bool {
	return p == TIDx || p == TIDy || p == TIDz
}

// IsThread reports whether p binds to any hardware dimension (grid or block).
func (p ParallelType) IsThread() bool {
	return p.IsBlockDim() || p.IsThreadDim()
}

// IterType distinguishes plain iteration axes from reduction and broadcast axes.
type IterType int

const (
	Iteration IterType = iota
	Reduction
	Broadcast
)

func (t IterType) String() string {
	switch t {
	case Iteration:
		return "Iteration"
	case Reduction:
		return "Reduction"
	case Broadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

// valData is the common state every Val implementation embeds. The
// interface methods that expose it are unexported so that Val is a sealed
// interface: only types declared in this package can implement it, which
// lets lowering passes type-switch exhaustively instead of guessing.
type valData struct {
	fusion   *Fusion
	kind     ValKind
	name     int
	origin   Expr
	uses     []Expr
	isInput  bool
	isOutput bool
}

// Val is a typed data node owned by exactly one Fusion.
type Val interface {
	base() *valData
	Kind() ValKind
}

func (v *valData) base() *valData { return v }

// ValFusion returns the owning Fusion, or nil if the val has been removed.
func ValFusion(v Val) *Fusion { return v.base().fusion }

// Name returns the val's unique-per-kind integer name.
func Name(v Val) int { return v.base().name }

// Origin returns the Expr that produced v, or nil if v has none (e.g. a
// fusion input).
func Origin(v Val) Expr { return v.base().origin }

// Uses returns the Exprs that currently consume v as an input.
func Uses(v Val) []Expr {
	u := v.base().uses
	out := make([]Expr, len(u))
	copy(out, u)
	return out
}

// IsFusionInput reports whether v is registered as one of its fusion's inputs.
func IsFusionInput(v Val) bool { return v.base().isInput }

// IsFusionOutput reports whether v is registered as one of its fusion's outputs.
func IsFusionOutput(v Val) bool { return v.base().isOutput }

// Scalar is a named or constant scalar value of Int, Float or Bool type.
type Scalar struct {
	valData
	DType DataType
	// Const holds the compile-time constant value when non-nil.
	Const *int64
	// ConstFloat holds the compile-time constant float value when non-nil
	// and DType == Float.
	ConstFloat *float64
	// Symbol, when non-empty, is the named-scalar sentinel this value was
	// bound to by symbolic-size replacement (lowering pass 1), e.g.
	// "T0.size[0]".
	Symbol string
}

func (s *Scalar) Kind() ValKind { return KindScalar }

// NewScalar creates an unbound symbolic scalar in the current fusion.
func NewScalar(dtype DataType) *Scalar {
	f := CurrentFusion()
	s := &Scalar{DType: dtype}
	f.registerVal(s, KindScalar)
	return s
}

// NewConstInt creates a compile-time-constant integer scalar.
func NewConstInt(v int64) *Scalar {
	s := NewScalar(Int)
	s.Const = &v
	return s
}

// NewConstFloat creates a compile-time-constant float scalar.
func NewConstFloat(v float64) *Scalar {
	s := NewScalar(Float)
	s.ConstFloat = &v
	return s
}

// NewNamedScalar creates a symbolic scalar already bound to a name (used by
// symbolic-size replacement to mint runtime-shape sentinels).
func NewNamedScalar(name string, dtype DataType) *Scalar {
	s := NewScalar(dtype)
	s.Symbol = name
	return s
}

// IsConst reports whether s has a known compile-time value.
func (s *Scalar) IsConst() bool { return s.Const != nil || s.ConstFloat != nil }

// IterDomain is one axis of a tensor: a half-open range [0, Extent) with an
// optional parallel binding.
type IterDomain struct {
	valData
	Start        Val
	Extent       Val
	Parallel     ParallelType
	Type         IterType
}

func (d *IterDomain) Kind() ValKind { return KindIterDomain }

// NewIterDomain creates an IterDomain with the given extent, starting at 0,
// unparallelized and of Iteration type.
func NewIterDomain(extent Val) *IterDomain {
	f := CurrentFusion()
	d := &IterDomain{
		Start:  NewConstInt(0),
		Extent: extent,
		Type:   Iteration,
	}
	f.registerVal(d, KindIterDomain)
	return d
}

// IsReduction reports whether d is a reduction axis.
func (d *IterDomain) IsReduction() bool { return d.Type == Reduction }

// IsBroadcast reports whether d is a broadcast axis.
func (d *IterDomain) IsBroadcast() bool { return d.Type == Broadcast }

// IsTrivial reports whether d's extent is the compile-time constant 1,
// i.e. it contributes nothing at runtime (spec.md §4.5's "non-trivial
// reduction" test is IsReduction() && !IsTrivial()).
func (d *IterDomain) IsTrivial() bool {
	s, ok := d.Extent.(*Scalar)
	return ok && s.Const != nil && *s.Const == 1
}

// TensorDomain is the ordered set of axes describing a tensor's shape, both
// in its original ("root") form and its current form after splits, merges
// and reorders applied by a scheduler.
type TensorDomain struct {
	valData
	Root []*IterDomain
	Axes []*IterDomain
}

func (d *TensorDomain) Kind() ValKind { return KindTensorDomain }

// NewTensorDomain creates a TensorDomain whose root and current axes are
// identical (the state immediately after construction, before scheduling).
func NewTensorDomain(root []*IterDomain) *TensorDomain {
	f := CurrentFusion()
	axesCopy := make([]*IterDomain, len(root))
	copy(axesCopy, root)
	rootCopy := make([]*IterDomain, len(root))
	copy(rootCopy, root)
	d := &TensorDomain{Root: rootCopy, Axes: axesCopy}
	f.registerVal(d, KindTensorDomain)
	return d
}

// NoReductions returns the axes of axes that are not reduction axes, in
// order. Mirrors original_source's TensorDomain::noReductions.
func NoReductions(axes []*IterDomain) []*IterDomain {
	out := make([]*IterDomain, 0, len(axes))
	for _, a := range axes {
		if !a.IsReduction() {
			out = append(out, a)
		}
	}
	return out
}

// TensorView is a logical tensor value: a TensorDomain plus a memory type
// and an inlining (compute-at) depth relative to its eventual consumer.
type TensorView struct {
	valData
	Domain    *TensorDomain
	Memory    MemoryType
	DType     DataType
	ComputeAt int
}

func (t *TensorView) Kind() ValKind { return KindTensorView }

// NewTensorView creates a fresh TensorView over the given root domain.
func NewTensorView(root []*IterDomain, dtype DataType) *TensorView {
	f := CurrentFusion()
	td := NewTensorDomain(root)
	tv := &TensorView{Domain: td, Memory: Local, DType: dtype}
	f.registerVal(tv, KindTensorView)
	return tv
}

// NDims returns the number of axes in the tensor view's current domain.
func (t *TensorView) NDims() int { return len(t.Domain.Axes) }

// Axis returns the i'th axis of the current domain.
func (t *TensorView) Axis(i int) *IterDomain { return t.Domain.Axes[i] }
