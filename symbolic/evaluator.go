// Package symbolic evaluates fusion-graph extent expressions under a
// binding of named scalars to runtime integers (spec.md §4.3 C3). It backs
// allocation sizing, shared-memory budgeting and launch-dimension
// inference, all of which need the same "given these runtime shapes, what
// is this symbolic extent" query.
package symbolic

import (
	"errors"
	"fmt"

	"github.com/kernelfuse/fuser/ir"
)

// ErrUnknown is returned by Evaluate when a value cannot be resolved from
// the current bindings — a fatal, caller-reported condition per spec.md §7
// ("inference failure... reported with the offending symbol").
var ErrUnknown = errors.New("symbolic: value could not be inferred from current bindings")

// ErrConflict is returned by SafeBind when a symbol is already bound to a
// different value.
var ErrConflict = errors.New("symbolic: symbol already bound to a different value")

// Evaluator binds named scalars (and iteration-domain extents, indirectly,
// since an IterDomain's extent is itself a Scalar) to integers and
// evaluates arithmetic Vals by structural recursion. It is restartable: a
// fresh Evaluator is created per launch and never shared across runs of the
// same executor (spec.md §4.3, §9 "Evaluator restart").
type Evaluator struct {
	bySymbol map[string]int64
	byVal    map[ir.Val]int64
	memo     map[uint64]int64
}

// NewEvaluator returns an Evaluator with no bindings.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		bySymbol: make(map[string]int64),
		byVal:    make(map[ir.Val]int64),
		memo:     make(map[uint64]int64),
	}
}

// SafeBind binds symbol to value, failing if it is already bound to a
// different value (spec.md §4.3's safeBind contract). Rebinding a symbol to
// the same value it already holds is not an error.
func (e *Evaluator) SafeBind(symbol string, value int64) error {
	if symbol == "" {
		return fmt.Errorf("symbolic: cannot bind an empty symbol name")
	}
	if prev, ok := e.bySymbol[symbol]; ok {
		if prev != value {
			return fmt.Errorf("%w: %q already bound to %d, rebind with %d", ErrConflict, symbol, prev, value)
		}
		return nil
	}
	e.bySymbol[symbol] = value
	e.invalidateCache()
	return nil
}

// BindVal directly binds a Val (typically a named-scalar sentinel minted by
// symbolic-size replacement) to value, independent of its Symbol field.
func (e *Evaluator) BindVal(v ir.Val, value int64) error {
	if prev, ok := e.byVal[v]; ok && prev != value {
		return fmt.Errorf("%w: val already bound to %d, rebind with %d", ErrConflict, prev, value)
	}
	e.byVal[v] = value
	e.invalidateCache()
	return nil
}

// invalidateCache clears memoized partial results: they were computed
// under the binding set as it stood before this call, and a new binding can
// change downstream results (spec.md §9 "Evaluator restart").
func (e *Evaluator) invalidateCache() {
	for k := range e.memo {
		delete(e.memo, k)
	}
}

// BindInputTensor binds each root-domain extent symbol of tv to the
// corresponding entry of shape, and (if strides is non-nil) records its
// strides as bound scalars too, mirroring spec.md §4.3's "binding a fusion
// input tensor binds each of its root-domain extent symbols to the
// corresponding runtime shape".
func (e *Evaluator) BindInputTensor(tv *ir.TensorView, shape []int64, strides []int64) error {
	root := tv.Domain.Root
	if len(shape) != len(root) {
		return fmt.Errorf("symbolic: tensor view has %d root axes, got %d shape entries", len(root), len(shape))
	}
	for i, axis := range root {
		if err := e.bindExtent(axis.Extent, shape[i]); err != nil {
			return err
		}
	}
	if strides != nil {
		if len(strides) != len(root) {
			return fmt.Errorf("symbolic: tensor view has %d root axes, got %d stride entries", len(root), len(strides))
		}
		for i, s := range strides {
			name := fmt.Sprintf("__stride_%p_%d", tv, i)
			if err := e.SafeBind(name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// BindAxisExtent binds axis's extent to value. Unlike BindInputTensor (keyed
// off a tensor view's own root domain), this binds whatever axis object is
// passed — including one a tensor view only holds by virtue of a scheduler
// sharing another tensor view's axis objects into it (package scheduler's
// propagateAxes) — so a launch-dimension axis inherited from a fusion
// output can still be resolved from an input's runtime shape.
func (e *Evaluator) BindAxisExtent(axis *ir.IterDomain, value int64) error {
	return e.bindExtent(axis.Extent, value)
}

func (e *Evaluator) bindExtent(extent ir.Val, value int64) error {
	s, ok := extent.(*ir.Scalar)
	if !ok {
		return fmt.Errorf("symbolic: extent %v is not a scalar", extent)
	}
	if s.Symbol != "" {
		return e.SafeBind(s.Symbol, value)
	}
	return e.BindVal(extent, value)
}

// Evaluate resolves v to an integer, or returns ErrUnknown if the current
// bindings are insufficient.
func (e *Evaluator) Evaluate(v ir.Val) (int64, error) {
	val, ok := e.tryEvaluate(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknown, describe(v))
	}
	return val, nil
}

func (e *Evaluator) tryEvaluate(v ir.Val) (int64, bool) {
	s, ok := v.(*ir.Scalar)
	if !ok {
		return 0, false
	}
	key := ir.StructuralHash(v)
	if cached, ok := e.memo[key]; ok {
		return cached, true
	}
	val, ok := e.evalScalar(s)
	if ok {
		e.memo[key] = val
	}
	return val, ok
}

func (e *Evaluator) evalScalar(s *ir.Scalar) (int64, bool) {
	if s.Const != nil {
		return *s.Const, true
	}
	if bound, ok := e.byVal[s]; ok {
		return bound, true
	}
	if s.Symbol != "" {
		if bound, ok := e.bySymbol[s.Symbol]; ok {
			return bound, true
		}
	}
	origin := ir.Origin(s)
	if origin == nil {
		return 0, false
	}
	switch op := origin.(type) {
	case *ir.BinaryOp:
		lhs, lok := e.tryEvaluate(op.Lhs)
		rhs, rok := e.tryEvaluate(op.Rhs)
		if !lok || !rok {
			return 0, false
		}
		return applyBinary(op.Op, lhs, rhs)
	case *ir.UnaryOp:
		in, ok := e.tryEvaluate(op.In)
		if !ok {
			return 0, false
		}
		return applyUnary(op.Op, in)
	default:
		return 0, false
	}
}

func applyBinary(op string, lhs, rhs int64) (int64, bool) {
	switch op {
	case "add":
		return lhs + rhs, true
	case "sub":
		return lhs - rhs, true
	case "mul":
		return lhs * rhs, true
	case "ceildiv":
		if rhs == 0 {
			return 0, false
		}
		return (lhs + rhs - 1) / rhs, true
	case "div":
		if rhs == 0 {
			return 0, false
		}
		return lhs / rhs, true
	case "mod":
		if rhs == 0 {
			return 0, false
		}
		return lhs % rhs, true
	default:
		return 0, false
	}
}

func applyUnary(op string, in int64) (int64, bool) {
	switch op {
	case "neg":
		return -in, true
	default:
		return 0, false
	}
}

func describe(v ir.Val) string {
	if s, ok := v.(*ir.Scalar); ok {
		if s.Symbol != "" {
			return s.Symbol
		}
		return fmt.Sprintf("Scalar#%d", ir.Name(s))
	}
	return fmt.Sprintf("%T#%d", v, ir.Name(v))
}
