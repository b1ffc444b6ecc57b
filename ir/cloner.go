package ir

// IrCloner maps nodes of a source Fusion to their counterpart in a freshly
// cloned destination Fusion. It is produced by Clone and is occasionally
// useful afterward to translate a val/expr captured elsewhere (e.g. by a
// scheduler) into the cloned graph's equivalent.
type IrCloner struct {
	to    *Fusion
	vals  map[Val]Val
	exprs map[Expr]Expr
}

// Val translates an old val to its clone, or nil if old was never cloned.
func (c *IrCloner) Val(old Val) Val { return c.vals[old] }

// Expr translates an old expr to its clone, or nil if old was never cloned.
func (c *IrCloner) Expr(old Expr) Expr { return c.exprs[old] }

func (c *IrCloner) valSlice(old []Val) []Val {
	out := make([]Val, len(old))
	for i, v := range old {
		out[i] = c.vals[v]
	}
	return out
}

func (c *IrCloner) idSlice(old []*IterDomain) []*IterDomain {
	out := make([]*IterDomain, len(old))
	for i, v := range old {
		out[i] = c.vals[v].(*IterDomain)
	}
	return out
}

// Clone deep-copies f into a brand-new Fusion: every reachable Val and Expr
// is allocated fresh, all edges (inputs/outputs/origin/uses) are translated
// through the old->new map, and every val and expr keeps its name while the
// per-kind/global name counters are copied over, so later registrations in
// either fusion do not collide (spec.md §8 property 1: clone equivalence).
// The two fusions share no node pointers.
func Clone(f *Fusion) (*Fusion, *IrCloner) {
	to := NewFusion()
	c := &IrCloner{to: to, vals: make(map[Val]Val), exprs: make(map[Expr]Expr)}

	// Vals are cloned dependencies first (scalars, axes, domains, views): a
	// scheduler can share an axis into a tensor domain registered before it.
	for _, kind := range []ValKind{KindScalar, KindIterDomain, KindTensorDomain, KindTensorView} {
		for _, v := range f.valDeque {
			if v.Kind() == kind {
				c.cloneVal(v)
			}
		}
	}
	for _, v := range f.valDeque {
		nv := c.vals[v]
		to.registerVal(nv, v.Kind())
		nv.base().name = Name(v)
	}
	for _, e := range f.exprDeque {
		ne := c.cloneExpr(e)
		to.registerExpr(ne, c.valSlice(Inputs(e)), c.valSlice(Outputs(e)))
		ne.base().name = ExprName(e)
	}
	for kind, n := range f.nameCounters {
		to.nameCounters[kind] = n
	}
	to.exprCounter = f.exprCounter

	to.inputs = c.valSlice(f.inputs)
	to.outputs = c.valSlice(f.outputs)
	for _, in := range to.inputs {
		in.base().isInput = true
	}
	for _, out := range to.outputs {
		out.base().isOutput = true
	}
	to.ResetTvUses()
	return to, c
}

func (c *IrCloner) cloneVal(v Val) Val {
	var nv Val
	switch t := v.(type) {
	case *Scalar:
		cp := *t
		nv = &cp
	case *IterDomain:
		cp := *t
		cp.Start = c.vals[t.Start]
		cp.Extent = c.vals[t.Extent]
		nv = &cp
	case *TensorDomain:
		cp := *t
		cp.Root = c.idSlice(t.Root)
		cp.Axes = c.idSlice(t.Axes)
		nv = &cp
	case *TensorView:
		cp := *t
		cp.Domain = c.vals[t.Domain].(*TensorDomain)
		nv = &cp
	default:
		panic("ir: Clone: unknown Val concrete type")
	}
	// reset the embedded valData: registerVal will refill fusion/name; the
	// struct copy above picked up stale origin/uses/fusion pointers that
	// must not leak into the clone.
	*nv.base() = valData{}
	c.vals[v] = nv
	return nv
}

func (c *IrCloner) cloneExpr(e Expr) Expr {
	var ne Expr
	switch t := e.(type) {
	case *UnaryOp:
		cp := *t
		cp.In, cp.Out = c.vals[t.In], c.vals[t.Out]
		ne = &cp
	case *BinaryOp:
		cp := *t
		cp.Lhs, cp.Rhs, cp.Out = c.vals[t.Lhs], c.vals[t.Rhs], c.vals[t.Out]
		ne = &cp
	case *TernaryOp:
		cp := *t
		cp.A, cp.B, cp.C, cp.Out = c.vals[t.A], c.vals[t.B], c.vals[t.C], c.vals[t.Out]
		ne = &cp
	case *ReductionOp:
		cp := *t
		cp.Init, cp.In, cp.Out = c.vals[t.Init], c.vals[t.In], c.vals[t.Out]
		ne = &cp
	case *BroadcastOp:
		cp := *t
		cp.In, cp.Out = c.vals[t.In], c.vals[t.Out]
		cp.IsBroadcastDim = append([]bool(nil), t.IsBroadcastDim...)
		ne = &cp
	default:
		panic("ir: Clone: unknown Expr concrete type")
	}
	*ne.base() = exprData{}
	c.exprs[e] = ne
	return ne
}
