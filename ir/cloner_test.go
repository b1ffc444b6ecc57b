package ir

import "testing"

func TestCloneEquivalence(t *testing.T) {
	f, _, _, _ := buildAddFusion(t)
	clone, _ := Clone(f)

	origExprs := f.Exprs()
	cloneExprs := clone.Exprs()
	if len(origExprs) != len(cloneExprs) {
		t.Fatalf("expr count mismatch: %d vs %d", len(origExprs), len(cloneExprs))
	}
	for i := range origExprs {
		if origExprs[i].Kind() != cloneExprs[i].Kind() {
			t.Fatalf("expr %d kind mismatch", i)
		}
		if ExprName(origExprs[i]) != ExprName(cloneExprs[i]) {
			t.Fatalf("expr %d name mismatch", i)
		}
	}

	if len(f.Inputs()) != len(clone.Inputs()) || len(f.Outputs()) != len(clone.Outputs()) {
		t.Fatal("input/output count mismatch")
	}
	for i, v := range f.Vals() {
		cv := clone.Vals()[i]
		if v.Kind() != cv.Kind() || Name(v) != Name(cv) {
			t.Fatalf("val %d mismatch: %v/%d vs %v/%d", i, v.Kind(), Name(v), cv.Kind(), Name(cv))
		}
		if v == cv {
			t.Fatalf("val %d: clone shares a node pointer with the original", i)
		}
	}

	for _, e := range clone.ExprsInOrder() {
		for _, in := range Inputs(e) {
			if in.base().fusion != clone {
				t.Fatal("cloned val does not belong to the cloned fusion")
			}
		}
	}
}

func TestCloneUsesConsistency(t *testing.T) {
	f, _, _, _ := buildAddFusion(t)
	clone, _ := Clone(f)
	for _, e := range clone.ExprsInOrder() {
		for _, in := range Inputs(e) {
			found := false
			for _, u := range Uses(in) {
				if u == e {
					found = true
				}
			}
			if !found {
				t.Fatal("clone: uses() inconsistent with inputs")
			}
		}
	}
}
