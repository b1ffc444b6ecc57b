package segment

import (
	"fmt"

	"github.com/kernelfuse/fuser/ir"
)

// buildTrialFusion clones f and restricts the clone to exactly the exprs in
// subset (expr references from the original, un-cloned fusion f). Every val
// the retained exprs consume but don't produce becomes a trial input (if a
// tensor view; scalars are left as free vals, same as any other compile-time
// constant or named extent); every val a retained expr produces that is
// either unused within the subset or was one of f's own outputs becomes a
// trial output. This is package segment's "instantiate a trial fusion from
// the union of exprs" step (spec.md §4.8) — the candidate group the
// scheduler registry is then asked to accept or reject.
func buildTrialFusion(f *ir.Fusion, subset map[ir.Expr]bool) (*ir.Fusion, error) {
	clone, cloner := ir.Clone(f)
	guard := ir.EnterFusion(clone)
	defer guard.Exit()

	keep := make(map[ir.Expr]bool, len(subset))
	for e := range subset {
		if ce := cloner.Expr(e); ce != nil {
			keep[ce] = true
		}
	}
	for _, e := range clone.ExprsInOrder() {
		if !keep[e] {
			if err := clone.RemoveExpr(e); err != nil {
				return nil, fmt.Errorf("segment: pruning trial fusion: %w", err)
			}
		}
	}

	origOutputs := make(map[ir.Val]bool)
	for _, o := range f.Outputs() {
		if co := cloner.Val(o); co != nil {
			origOutputs[co] = true
		}
	}

	clone.ResetIO()
	addedIn := make(map[ir.Val]bool)
	addedOut := make(map[ir.Val]bool)
	for _, e := range clone.ExprsInOrder() {
		for _, in := range ir.Inputs(e) {
			tv, ok := in.(*ir.TensorView)
			if !ok || addedIn[in] {
				continue
			}
			if ir.Origin(in) == nil {
				if err := clone.AddInput(tv); err != nil {
					return nil, fmt.Errorf("segment: marking trial fusion input: %w", err)
				}
				addedIn[in] = true
			}
		}
		for _, out := range ir.Outputs(e) {
			tv, ok := out.(*ir.TensorView)
			if !ok || addedOut[out] {
				continue
			}
			if len(ir.Uses(out)) == 0 || origOutputs[out] {
				if err := clone.AddOutput(tv); err != nil {
					return nil, fmt.Errorf("segment: marking trial fusion output: %w", err)
				}
				addedOut[out] = true
			}
		}
	}
	clone.ResetTvUses()
	return clone, nil
}
