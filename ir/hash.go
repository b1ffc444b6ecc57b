package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
)

// structuralHashKey0/1 are fixed siphash keys: the hash is used only as an
// in-process memoization/fingerprint key (symbolic.Evaluator's partial
// results, scheduler's root-domain comparison), never persisted or compared
// across processes, so a fixed key is sufficient.
const (
	structuralHashKey0 = 0x5fd9a3c1b2e4f607
	structuralHashKey1 = 0x1a2b3c4d5e6f7081
)

// StructuralHash returns a stable 64-bit fingerprint of v's shape: its kind,
// constant value (if any) or symbol name, and — for IterDomain — its
// extent's hash and parallel binding. Two structurally-equal extent
// expressions hash identically even if they are different Val instances,
// which is what makes the hash useful as a memoization key (spec.md §9's
// "prefer a single rebuild" principle extends to caching: don't recompute
// what is structurally known to be the same).
func StructuralHash(v Val) uint64 {
	return siphash.Hash(structuralHashKey0, structuralHashKey1, []byte(structuralDescriptor(v)))
}

func structuralDescriptor(v Val) string {
	switch t := v.(type) {
	case *Scalar:
		switch {
		case t.Const != nil:
			return fmt.Sprintf("const-int:%d", *t.Const)
		case t.ConstFloat != nil:
			return fmt.Sprintf("const-float:%g", *t.ConstFloat)
		case t.Symbol != "":
			return fmt.Sprintf("sym:%s", t.Symbol)
		default:
			return fmt.Sprintf("scalar:%d:%d", t.DType, Name(t))
		}
	case *IterDomain:
		return fmt.Sprintf("id[%s|%s]:%s", t.Type, t.Parallel, structuralDescriptor(t.Extent))
	case *TensorDomain:
		b := "td("
		for _, a := range t.Axes {
			b += structuralDescriptor(a) + ","
		}
		return b + ")"
	case *TensorView:
		return fmt.Sprintf("tv:%s:%s", t.Memory, structuralDescriptor(t.Domain))
	default:
		return "?"
	}
}

// CombineHash folds a sequence of 64-bit values (e.g. several expr names)
// into one siphash-based fingerprint, under the same fixed keys as
// StructuralHash. No package in this module calls it; package segment keys
// its trial-fusion cache with its own siphash call.
func CombineHash(vals ...uint64) uint64 {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return siphash.Hash(structuralHashKey0, structuralHashKey1, buf)
}
