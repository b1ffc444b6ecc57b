// Package scheduler chooses and applies one of a small set of scheduling
// heuristics to a fusion graph before it reaches package lower (spec.md
// §4.3 C5). Each heuristic is a SchedulerEntry: a CanSchedule predicate
// that decides whether the heuristic applies to a given fusion, and a
// Schedule step that mutates the fusion's tensor views in place —
// assigning parallel types to axes and sharing *ir.IterDomain objects
// across tensor views that participate in the same iteration space, the
// "propagate from a reference tensor view" pattern package lower's
// loop-nest generation depends on (it detects shared loops by comparing
// axis pointers).
//
// Grounded on original_source/scheduler_registry.cpp: an ordered table of
// heuristics tried in a fixed sequence (Reduction, PointWise,
// Normalization), each guarded by its own cheap acceptance check before a
// more expensive one (root-domain equivalence) is attempted. The registry
// pattern itself is also grounded on plan_teacher/pir/fpo.go's ordered
// rule list with first-match semantics.
package scheduler

import "github.com/kernelfuse/fuser/ir"

// SchedulerEntry is one scheduling heuristic.
type SchedulerEntry interface {
	Name() string
	CanSchedule(f *ir.Fusion) bool
	Schedule(f *ir.Fusion) error
}

// Registry holds an ordered list of heuristics tried in sequence.
type Registry struct {
	entries []SchedulerEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends e to the end of the try order.
func (r *Registry) Register(e SchedulerEntry) { r.entries = append(r.entries, e) }

// Propose returns the first entry (in registration order) whose
// CanSchedule accepts f, or (nil, false) if none do.
func (r *Registry) Propose(f *ir.Fusion) (SchedulerEntry, bool) {
	for _, e := range r.entries {
		if e.CanSchedule(f) {
			return e, true
		}
	}
	return nil, false
}

// Default returns the registry original_source's all_heuristics() builds:
// single-reduction before pointwise before normalization, so a fusion with
// exactly one reduction always gets the cheaper reduction heuristic rather
// than falling through to normalization.
func Default() *Registry {
	r := NewRegistry()
	r.Register(SingleReduction{})
	r.Register(PointWise{})
	r.Register(Normalization{})
	return r
}

// ProposeHeuristics runs Default().Propose(f) — the convenience entry point
// most callers want.
func ProposeHeuristics(f *ir.Fusion) (SchedulerEntry, bool) {
	return Default().Propose(f)
}

// nonTrivialReductionOps returns every ReductionOp in f whose output has at
// least one non-trivial reduction axis (spec.md §4.5).
func nonTrivialReductionOps(f *ir.Fusion) []*ir.ReductionOp {
	var out []*ir.ReductionOp
	for _, e := range f.ExprsInOrder() {
		if rop, ok := e.(*ir.ReductionOp); ok && rop.HasNonTrivialReductionAxis() {
			out = append(out, rop)
		}
	}
	return out
}

// hasDescendantBroadcast reports whether any value reachable downstream of
// start (inclusive of start's own uses) is produced by a BroadcastOp.
func hasDescendantBroadcast(start ir.Val) bool {
	visited := make(map[ir.Expr]bool)
	queue := []ir.Val{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, use := range ir.Uses(v) {
			if visited[use] {
				continue
			}
			visited[use] = true
			if _, ok := use.(*ir.BroadcastOp); ok {
				return true
			}
			queue = append(queue, ir.Outputs(use)...)
		}
	}
	return false
}

// propagateAxes shares ref's current axis objects, by pointer, into every
// other TensorView in f whose rank matches ref's — the scheduler's half of
// the axis-pointer-sharing contract package lower relies on. A rank
// mismatch (a broadcast's smaller input) is left untouched; package lower
// addresses such an input relative to the shared axes in its dedicated
// broadcast indexing, not by sharing. A reduction's input has the same
// rank as its output here, so it receives the shared axes too.
func propagateAxes(f *ir.Fusion, ref *ir.TensorView) {
	axes := ref.Domain.Axes
	for _, v := range f.Vals() {
		tv, ok := v.(*ir.TensorView)
		if !ok || tv == ref {
			continue
		}
		if len(tv.Domain.Axes) != len(axes) {
			continue
		}
		shared := make([]*ir.IterDomain, len(axes))
		copy(shared, axes)
		tv.Domain.Axes = shared
	}
}

// assignBlockAndGrid gives axes a default parallelization: the outermost
// axis BIDx, the innermost TIDx, everything between left Serial. Reduction
// axes are always bound to TIDx (block reduction is the default; grid
// reduction is something a future heuristic could opt into, but nothing in
// this registry currently requests one).
func assignBlockAndGrid(axes []*ir.IterDomain) {
	if len(axes) == 0 {
		return
	}
	last := len(axes) - 1
	for i, axis := range axes {
		switch {
		case axis.IsReduction():
			axis.Parallel = ir.TIDx
		case i == last:
			axis.Parallel = ir.TIDx
		case i == 0:
			axis.Parallel = ir.BIDx
		default:
			axis.Parallel = ir.Serial
		}
	}
}
