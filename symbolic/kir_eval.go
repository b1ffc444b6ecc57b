package symbolic

import (
	"fmt"

	"github.com/kernelfuse/fuser/kir"
)

// EvaluateKir resolves a kernel-IR scalar to an integer using the same
// symbol bindings Evaluate uses for fusion-tier scalars — package lower
// names a kernel scalar after the fusion symbol it was lowered from (see
// lower.replaceSymbolicSizes / toKirScalar), so the executor's one
// Evaluator per run backs launch computation, shared-memory sizing and
// allocation sizing alike (spec.md §4.6 reuses C3 for exactly this).
func (e *Evaluator) EvaluateKir(v kir.Val) (int64, error) {
	val, ok := e.tryEvaluateKir(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknown, describeKir(v))
	}
	return val, nil
}

func (e *Evaluator) tryEvaluateKir(v kir.Val) (int64, bool) {
	s, ok := v.(*kir.Scalar)
	if !ok {
		return 0, false
	}
	if s.Const != nil {
		return *s.Const, true
	}
	if s.Name != "" {
		if bound, ok := e.bySymbol[s.Name]; ok {
			return bound, true
		}
		return 0, false
	}
	if s.Op == "" {
		return 0, false
	}
	lhs, lok := e.tryEvaluateKir(s.Lhs)
	rhs, rok := e.tryEvaluateKir(s.Rhs)
	if !lok || !rok {
		return 0, false
	}
	return applyBinary(s.Op, lhs, rhs)
}

func describeKir(v kir.Val) string {
	if s, ok := v.(*kir.Scalar); ok && s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%T", v)
}
