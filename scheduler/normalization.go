package scheduler

import "github.com/kernelfuse/fuser/ir"

// Normalization schedules fusions with two or more non-trivial reductions
// that share a root domain — e.g. a softmax's max-reduction and
// sum-reduction over the same axis. Every participating reduction gets the
// same parallelization, propagated from the first one.
type Normalization struct{}

func (Normalization) Name() string { return "normalization" }

func (Normalization) CanSchedule(f *ir.Fusion) bool {
	reds := nonTrivialReductionOps(f)
	if len(reds) < 2 {
		return false
	}

	axisCount := -1
	for _, rop := range reds {
		tv, ok := rop.Out.(*ir.TensorView)
		if !ok {
			return false
		}
		if axisCount == -1 {
			axisCount = len(tv.Domain.Root)
		} else if len(tv.Domain.Root) != axisCount {
			return false
		}
	}

	first := reds[0].Out.(*ir.TensorView)
	for _, rop := range reds[1:] {
		tv := rop.Out.(*ir.TensorView)
		if !rootDomainsEquivalent(first.Domain.Root, tv.Domain.Root) {
			return false
		}
	}
	return true
}

// rootDomainsEquivalent is a stand-in for original_source's
// ComputeAtRootDomainMap::canMap: two root axes are equivalent when they
// are the same scheduler-shared object, or when their extents are
// structurally identical. The fusion IR here does not carry split/merge
// provenance (no ca_root_map to build), so exact-extent equality is the
// closest available proxy for "these two reductions iterate the same
// logical dimension".
func rootDomainsEquivalent(a, b []*ir.IterDomain) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if ir.StructuralHash(a[i].Extent) != ir.StructuralHash(b[i].Extent) {
			return false
		}
	}
	return true
}

func (Normalization) Schedule(f *ir.Fusion) error {
	reds := nonTrivialReductionOps(f)
	if len(reds) < 2 {
		return errNoReductionOutput
	}
	ref, ok := reds[0].Out.(*ir.TensorView)
	if !ok {
		return errNoReductionOutput
	}
	assignBlockAndGrid(ref.Domain.Axes)
	propagateAxes(f, ref)
	return nil
}
