package ir

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Fusion owns a set of Vals and Exprs forming a directed acyclic graph of
// tensor expressions destined to become a single device kernel (spec.md §3).
//
// A Fusion exclusively owns its nodes: Val/Expr instances are never shared
// between two Fusions. Copying is a deep clone (see Clone); there is no
// shallow/aliasing copy.
type Fusion struct {
	valSet  map[Val]struct{}
	exprSet map[Expr]struct{}
	// valDeque preserves insertion order for deterministic traversal.
	valDeque []Val
	// exprDeque preserves expression creation order, used by Clone to
	// reproduce identical per-kind/global names in the copy.
	exprDeque []Expr

	nameCounters map[ValKind]int
	exprCounter  int

	inputs  []Val
	outputs []Val
}

// NewFusion creates an empty Fusion.
func NewFusion() *Fusion {
	return &Fusion{
		valSet:       make(map[Val]struct{}),
		exprSet:      make(map[Expr]struct{}),
		nameCounters: make(map[ValKind]int),
	}
}

// Inputs returns the fusion's ordered input Vals.
func (f *Fusion) Inputs() []Val { return append([]Val(nil), f.inputs...) }

// Outputs returns the fusion's ordered output Vals.
func (f *Fusion) Outputs() []Val { return append([]Val(nil), f.outputs...) }

// Vals returns all Vals in deterministic insertion order.
func (f *Fusion) Vals() []Val { return append([]Val(nil), f.valDeque...) }

// ExprsInOrder returns all live Exprs in creation order (not topological
// order — see Exprs for that).
func (f *Fusion) ExprsInOrder() []Expr { return append([]Expr(nil), f.exprDeque...) }

// registerVal assigns v a fresh per-kind name and adds it to the fusion.
// Called only by the New* constructors in val.go, which run under an active
// FusionGuard.
func (f *Fusion) registerVal(v Val, kind ValKind) {
	vd := v.base()
	vd.fusion = f
	vd.kind = kind
	vd.name = f.nameCounters[kind]
	f.nameCounters[kind]++
	f.valSet[v] = struct{}{}
	f.valDeque = append(f.valDeque, v)
}

// registerExpr assigns e a fresh name, wires its inputs/outputs, updates
// uses on every input, and sets origin on every output — replacing
// (and orphaning) any prior origin expr for an output that was already
// produced, per spec.md §3's invariant.
func (f *Fusion) registerExpr(e Expr, inputs, outputs []Val) {
	ed := e.base()
	ed.fusion = f
	ed.name = f.exprCounter
	f.exprCounter++
	ed.inputs = append([]Val(nil), inputs...)
	ed.outputs = append([]Val(nil), outputs...)
	f.exprSet[e] = struct{}{}
	f.exprDeque = append(f.exprDeque, e)

	for _, in := range inputs {
		bd := in.base()
		bd.uses = append(bd.uses, e)
	}
	for _, out := range outputs {
		bd := out.base()
		if bd.origin != nil && bd.origin != e {
			f.removeExprNode(bd.origin)
		}
		bd.origin = e
	}
}

// AddInput marks v as a fusion input. Only TensorView vals may be fusion
// I/O (spec.md §3); they are forced to Global memory type.
func (f *Fusion) AddInput(v Val) error {
	tv, ok := v.(*TensorView)
	if !ok {
		return fmt.Errorf("%w: only tensor views may be fusion inputs", ErrInternal)
	}
	tv.Memory = Global
	tv.base().isInput = true
	f.inputs = append(f.inputs, v)
	return nil
}

// AddOutput marks v as a fusion output. Only TensorView vals may be fusion
// I/O; they are forced to Global memory type.
func (f *Fusion) AddOutput(v Val) error {
	tv, ok := v.(*TensorView)
	if !ok {
		return fmt.Errorf("%w: only tensor views may be fusion outputs", ErrInternal)
	}
	tv.Memory = Global
	tv.base().isOutput = true
	f.outputs = append(f.outputs, v)
	return nil
}

// ResetIO clears f's current input/output marks and lists without
// otherwise touching its vals or exprs. It exists for callers that build a
// fusion by cloning a larger one and then restricting it to a subset of
// exprs (package segment's trial fusions): the clone inherits the source
// fusion's full input/output list, which ResetIO discards so the caller can
// establish the new, smaller boundary.
func (f *Fusion) ResetIO() {
	for _, v := range f.inputs {
		v.base().isInput = false
	}
	for _, v := range f.outputs {
		v.base().isOutput = false
	}
	f.inputs = nil
	f.outputs = nil
}

// removeExprNode clears origin on e's outputs, erases e from each input's
// uses, removes e from the fusion, and discards it.
func (f *Fusion) removeExprNode(e Expr) {
	ed := e.base()
	for _, in := range ed.inputs {
		bd := in.base()
		bd.uses = removeExprFromSlice(bd.uses, e)
	}
	for _, out := range ed.outputs {
		bd := out.base()
		if bd.origin == e {
			bd.origin = nil
		}
	}
	delete(f.exprSet, e)
	if idx := slices.Index(f.exprDeque, e); idx >= 0 {
		f.exprDeque = slices.Delete(f.exprDeque, idx, idx+1)
	}
	ed.fusion = nil
}

// RemoveExpr removes e from the fusion.
func (f *Fusion) RemoveExpr(e Expr) error {
	if _, ok := f.exprSet[e]; !ok {
		return fmt.Errorf("%w: expr not registered with this fusion", ErrInternal)
	}
	f.removeExprNode(e)
	return nil
}

// RemoveVal removes v from the fusion. v must not be a fusion input or
// output. Its defining expression (if any) and all expressions currently
// consuming it are removed first.
//
// CAUTION (spec.md §9 open question): if v is simultaneously an input to
// several live expressions, all of them are removed — this can delete
// unrelated parts of the graph. Callers that need the rest of the graph to
// survive must rewire those expressions onto a replacement Val first.
func (f *Fusion) RemoveVal(v Val) error {
	bd := v.base()
	if bd.isInput || bd.isOutput {
		return fmt.Errorf("%w: cannot remove a fusion input/output val", ErrInternal)
	}
	if bd.origin != nil {
		f.removeExprNode(bd.origin)
	}
	for _, u := range append([]Expr(nil), bd.uses...) {
		f.removeExprNode(u)
	}
	delete(f.valSet, v)
	idx := slices.Index(f.valDeque, v)
	if idx >= 0 {
		f.valDeque = slices.Delete(f.valDeque, idx, idx+1)
	}
	bd.fusion = nil
	return nil
}

func removeExprFromSlice(s []Expr, e Expr) []Expr {
	idx := slices.Index(s, e)
	if idx < 0 {
		return s
	}
	return slices.Delete(s, idx, idx+1)
}

// ResetTvUses fully rebuilds the uses list for every tensor-view val by
// walking the expressions currently reachable from the fusion's outputs.
// This is the authoritative repair after any in-place edit that might have
// left uses stale (spec.md §4.1).
func (f *Fusion) ResetTvUses() {
	for v := range f.valSet {
		v.base().uses = nil
	}
	visited := make(map[Expr]bool)
	var visit func(v Val)
	visit = func(v Val) {
		o := Origin(v)
		if o == nil || visited[o] {
			return
		}
		visited[o] = true
		for _, in := range Inputs(o) {
			in.base().uses = append(in.base().uses, o)
			visit(in)
		}
	}
	for _, out := range f.outputs {
		visit(out)
	}
}

// Exprs returns all of the fusion's expressions in a topological order from
// inputs to outputs (Kahn's algorithm over the input/use graph).
func (f *Fusion) Exprs() []Expr {
	indegree := make(map[Expr]int, len(f.exprSet))
	for e := range f.exprSet {
		n := 0
		for _, in := range Inputs(e) {
			if o := Origin(in); o != nil {
				n++
			}
		}
		indegree[e] = n
	}

	var ready []Expr
	// iterate valDeque/exprSet in a stable order for determinism
	for _, e := range f.orderedExprs() {
		if indegree[e] == 0 {
			ready = append(ready, e)
		}
	}

	var out []Expr
	seen := make(map[Expr]bool)
	for len(ready) > 0 {
		e := ready[0]
		ready = ready[1:]
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
		for _, o := range Outputs(e) {
			for _, consumer := range Uses(o) {
				indegree[consumer]--
				if indegree[consumer] == 0 {
					ready = append(ready, consumer)
				}
			}
		}
	}
	return out
}

// orderedExprs returns the fusion's expressions in a deterministic order
// derived from val insertion order (origin-first), used as a stable seed
// for the topological sort above.
func (f *Fusion) orderedExprs() []Expr {
	var out []Expr
	seen := make(map[Expr]bool)
	for _, v := range f.valDeque {
		if o := Origin(v); o != nil && !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

// InputsOf returns the transitive source set of v: every val with no origin
// (fusion inputs, constants, and any other leaf) that v's value depends on.
func InputsOf(v Val) []Val {
	var out []Val
	visited := make(map[Val]bool)
	var visit func(Val)
	visit = func(v Val) {
		if visited[v] {
			return
		}
		visited[v] = true
		o := Origin(v)
		if o == nil {
			out = append(out, v)
			return
		}
		for _, in := range Inputs(o) {
			visit(in)
		}
	}
	visit(v)
	return out
}

// ValidateInputs checks that every transitive input of every fusion output
// is either a registered fusion input or a compile-time constant scalar.
func (f *Fusion) ValidateInputs() error {
	inputSet := make(map[Val]bool, len(f.inputs))
	for _, in := range f.inputs {
		inputSet[in] = true
	}
	for _, out := range f.outputs {
		for _, src := range InputsOf(out) {
			if inputSet[src] {
				continue
			}
			if s, ok := src.(*Scalar); ok && s.IsConst() {
				continue
			}
			return fmt.Errorf("%w: value T%d is not a fusion input or constant", ErrInternal, Name(src))
		}
	}
	return nil
}

// HasRandom reports whether any expression in the fusion draws from the RNG
// stream (spec.md §4.6 step 6, §6 S6).
func (f *Fusion) HasRandom() bool {
	for e := range f.exprSet {
		if u, ok := e.(*UnaryOp); ok && u.IsRandom() {
			return true
		}
	}
	return false
}

// Clear empties the fusion, discarding every owned node.
func (f *Fusion) Clear() {
	f.valSet = make(map[Val]struct{})
	f.exprSet = make(map[Expr]struct{})
	f.valDeque = nil
	f.exprDeque = nil
	f.nameCounters = make(map[ValKind]int)
	f.exprCounter = 0
	f.inputs = nil
	f.outputs = nil
}

// Swap exchanges the contents of f and other in place, fixing every node's
// owning-fusion back-pointer. Grounded on original_source/fusion.cpp's
// friend swap(Fusion&, Fusion&).
func (f *Fusion) Swap(other *Fusion) {
	*f, *other = *other, *f
	for v := range f.valSet {
		v.base().fusion = f
	}
	for e := range f.exprSet {
		e.base().fusion = f
	}
	for v := range other.valSet {
		v.base().fusion = other
	}
	for e := range other.exprSet {
		e.base().fusion = other
	}
}
