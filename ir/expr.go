package ir

// ExprKind classifies an Expr's operator shape, independent of the actual
// arithmetic the operation performs (per spec.md §1, operator semantics are
// out of scope here — only IR classification matters to lowering).
type ExprKind int

const (
	KindUnaryOp ExprKind = iota
	KindBinaryOp
	KindTernaryOp
	KindReductionOp
	KindBroadcastOp
)

func (k ExprKind) String() string {
	switch k {
	case KindUnaryOp:
		return "UnaryOp"
	case KindBinaryOp:
		return "BinaryOp"
	case KindTernaryOp:
		return "TernaryOp"
	case KindReductionOp:
		return "ReductionOp"
	case KindBroadcastOp:
		return "BroadcastOp"
	default:
		return "Unknown"
	}
}

// exprData is the common state every Expr implementation embeds. Like
// valData, its accessor is unexported: Expr is a sealed interface.
type exprData struct {
	fusion  *Fusion
	kind    ExprKind
	name    int
	inputs  []Val
	outputs []Val
}

// Expr is an operator node with ordered input and output Vals.
type Expr interface {
	base() *exprData
	Kind() ExprKind
}

func (e *exprData) base() *exprData { return e }

// Inputs returns e's ordered input Vals.
func Inputs(e Expr) []Val {
	in := e.base().inputs
	out := make([]Val, len(in))
	copy(out, in)
	return out
}

// Outputs returns e's ordered output Vals.
func Outputs(e Expr) []Val {
	o := e.base().outputs
	out := make([]Val, len(o))
	copy(out, o)
	return out
}

// ExprName returns e's unique integer name, drawn from the fusion's shared
// expression counter.
func ExprName(e Expr) int { return e.base().name }

// UnaryOp represents a single-input, single-output operation, e.g. neg,
// or the random-fill initializer rand_like referenced by spec.md S6.
type UnaryOp struct {
	exprData
	Op  string
	In  Val
	Out Val
}

func (u *UnaryOp) Kind() ExprKind { return KindUnaryOp }

// IsRandom reports whether this unary op draws from the fusion's RNG
// stream, which forces the fusion's HasRandom() predicate and the Philox
// seed/offset argument (spec.md §4.6 step 6, §6 S6).
func (u *UnaryOp) IsRandom() bool { return u.Op == "rand_like" }

// NewUnaryOp creates and registers a UnaryOp.
func NewUnaryOp(op string, in, out Val) *UnaryOp {
	e := &UnaryOp{Op: op, In: in, Out: out}
	CurrentFusion().registerExpr(e, []Val{in}, []Val{out})
	return e
}

// BinaryOp represents a two-input, single-output operation, e.g. add.
type BinaryOp struct {
	exprData
	Op   string
	Lhs  Val
	Rhs  Val
	Out  Val
}

func (b *BinaryOp) Kind() ExprKind { return KindBinaryOp }

// NewBinaryOp creates and registers a BinaryOp.
func NewBinaryOp(op string, lhs, rhs, out Val) *BinaryOp {
	e := &BinaryOp{Op: op, Lhs: lhs, Rhs: rhs, Out: out}
	CurrentFusion().registerExpr(e, []Val{lhs, rhs}, []Val{out})
	return e
}

// TernaryOp represents a three-input, single-output operation, e.g. where.
type TernaryOp struct {
	exprData
	Op   string
	A, B, C Val
	Out  Val
}

func (t *TernaryOp) Kind() ExprKind { return KindTernaryOp }

// NewTernaryOp creates and registers a TernaryOp.
func NewTernaryOp(op string, a, b, c, out Val) *TernaryOp {
	e := &TernaryOp{Op: op, A: a, B: b, C: c, Out: out}
	CurrentFusion().registerExpr(e, []Val{a, b, c}, []Val{out})
	return e
}

// ReductionOp reduces In along Out's reduction axes using a named
// combiner, starting from Init.
type ReductionOp struct {
	exprData
	Op   string
	Init Val
	In   Val
	Out  Val
}

func (r *ReductionOp) Kind() ExprKind { return KindReductionOp }

// NewReductionOp creates and registers a ReductionOp.
func NewReductionOp(op string, init, in, out Val) *ReductionOp {
	e := &ReductionOp{Op: op, Init: init, In: in, Out: out}
	CurrentFusion().registerExpr(e, []Val{init, in}, []Val{out})
	return e
}

// HasNonTrivialReductionAxis reports whether Out has at least one reduction
// axis whose extent is not the constant 1 (spec.md §4.5).
func (r *ReductionOp) HasNonTrivialReductionAxis() bool {
	tv, ok := r.Out.(*TensorView)
	if !ok {
		return false
	}
	for _, a := range tv.Domain.Axes {
		if a.IsReduction() && !a.IsTrivial() {
			return true
		}
	}
	return false
}

// BroadcastOp expands In by inserting broadcast axes, marked positionally
// by IsBroadcastDim.
type BroadcastOp struct {
	exprData
	In             Val
	Out            Val
	IsBroadcastDim []bool
}

func (b *BroadcastOp) Kind() ExprKind { return KindBroadcastOp }

// NewBroadcastOp creates and registers a BroadcastOp.
func NewBroadcastOp(in, out Val, isBroadcastDim []bool) *BroadcastOp {
	flags := make([]bool, len(isBroadcastDim))
	copy(flags, isBroadcastDim)
	e := &BroadcastOp{In: in, Out: out, IsBroadcastDim: flags}
	CurrentFusion().registerExpr(e, []Val{in}, []Val{out})
	return e
}
