package kir

import "github.com/kernelfuse/fuser/ir"

// Kernel is the output of the lowering pipeline (spec.md §4 C4): an
// ordered list of top-level statements plus the allocations the statements
// reference, categorized for the executor's shared-memory budgeting and
// scratch/sync buffer provisioning.
type Kernel struct {
	top      []Expr
	allNodes []Expr

	staticAllocs  []*Allocate
	dynamicAllocs []*Allocate
	globalAllocs  []*Allocate
	syncAllocs    []*Allocate

	name string

	hasRandom         bool
	hasBlockReduction bool
	hasGridReduction  bool
	hasBlockBroadcast bool
	maxSmemDataType   ir.DataType
	sawAnyTensorDType bool
}

// NewKernel creates an empty Kernel named name (see spec.md §6's
// "<namespace>::kernel<fusion_id>" convention — name is the bare
// "kernel<fusion_id>" part).
func NewKernel(name string) *Kernel {
	return &Kernel{name: name}
}

// Name returns the kernel's bare name (without namespace prefix).
func (k *Kernel) Name() string { return k.name }

// TopLevelExprs returns the kernel's top-level statement list in order.
func (k *Kernel) TopLevelExprs() []Expr { return append([]Expr(nil), k.top...) }

// AllNodes returns every kernel-IR node the kernel owns, in creation order.
func (k *Kernel) AllNodes() []Expr { return append([]Expr(nil), k.allNodes...) }

func (k *Kernel) insertTopLevelBefore(target, e Expr) {
	if target == nil {
		k.top = append(k.top, e)
		return
	}
	for i, x := range k.top {
		if x == target {
			k.top = append(k.top, nil)
			copy(k.top[i+1:], k.top[i:])
			k.top[i] = e
			return
		}
	}
	k.top = append(k.top, e)
}

func (k *Kernel) addAllocation(a *Allocate) {
	switch a.Category {
	case AllocStatic:
		k.staticAllocs = append(k.staticAllocs, a)
	case AllocDynamic:
		k.dynamicAllocs = append(k.dynamicAllocs, a)
	case AllocGlobal:
		k.globalAllocs = append(k.globalAllocs, a)
	case AllocSync:
		k.syncAllocs = append(k.syncAllocs, a)
	}
	if a.Buffer != nil {
		if !k.sawAnyTensorDType || dtypeSize(a.Buffer.DType) > dtypeSize(k.maxSmemDataType) {
			k.maxSmemDataType = a.Buffer.DType
			k.sawAnyTensorDType = true
		}
	}
}

// StaticAllocations returns allocations whose size is resolvable purely
// from compile-time context.
func (k *Kernel) StaticAllocations() []*Allocate { return append([]*Allocate(nil), k.staticAllocs...) }

// DynamicAllocations returns allocations whose size depends on a
// runtime-bound symbol.
func (k *Kernel) DynamicAllocations() []*Allocate { return append([]*Allocate(nil), k.dynamicAllocs...) }

// GlobalAllocations returns scratch buffers living in device global memory
// (e.g. grid-reduction workspaces).
func (k *Kernel) GlobalAllocations() []*Allocate { return append([]*Allocate(nil), k.globalAllocs...) }

// SyncAllocations returns device-side barrier counters that must be
// zero-initialized before launch.
func (k *Kernel) SyncAllocations() []*Allocate { return append([]*Allocate(nil), k.syncAllocs...) }

// MarkRandom records that the kernel draws from the RNG stream (spec.md
// §6 S6).
func (k *Kernel) MarkRandom() { k.hasRandom = true }

// HasRandom reports whether the kernel draws from the RNG stream.
func (k *Kernel) HasRandom() bool { return k.hasRandom }

// MarkBlockReduction records that the kernel performs at least one
// block-level reduction.
func (k *Kernel) MarkBlockReduction() { k.hasBlockReduction = true }

// HasBlockReduction reports whether the kernel performs a block-level
// reduction.
func (k *Kernel) HasBlockReduction() bool { return k.hasBlockReduction }

// MarkGridReduction records that the kernel performs at least one
// grid-spanning reduction.
func (k *Kernel) MarkGridReduction() { k.hasGridReduction = true }

// HasGridReduction reports whether the kernel performs a grid-spanning
// reduction.
func (k *Kernel) HasGridReduction() bool { return k.hasGridReduction }

// MarkBlockBroadcast records that the kernel performs a block-level
// broadcast (a BroadcastOp whose input is shared across threads).
func (k *Kernel) MarkBlockBroadcast() { k.hasBlockBroadcast = true }

// HasBlockBroadcast reports whether the kernel performs a block-level
// broadcast.
func (k *Kernel) HasBlockBroadcast() bool { return k.hasBlockBroadcast }

// MaximumSmemDataType returns the widest element type among all buffers the
// kernel has allocated, used to size the reduction/broadcast workspace
// (spec.md §4.6 step 3; original_source's getMaximumSmemDataType).
func (k *Kernel) MaximumSmemDataType() ir.DataType { return k.maxSmemDataType }

func dtypeSize(d ir.DataType) int {
	switch d {
	case ir.Bool:
		return 1
	case ir.Int, ir.Float:
		return 4
	default:
		return 4
	}
}

// DTypeBytes returns the byte size of d, exported for executor shared
// memory computation (spec.md §4.6 step 3 / §8 property 5).
func DTypeBytes(d ir.DataType) int { return dtypeSize(d) }
