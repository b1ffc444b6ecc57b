package ir

import "sync/atomic"

// activeFusion is the process's one piece of ambient state (spec.md §5):
// node constructors consult it to self-register with the fusion currently
// "entered" via EnterFusion. Go has no true thread-locals, so this is an
// explicit stack rather than a thread-local variable; the contract is that
// at most one goroutine pushes/pops it at a time (compiling two fusions
// concurrently requires each goroutine to hold its own *Fusion and never
// share this ambient pointer across goroutines simultaneously — see
// SPEC_FULL.md §7).
var activeFusion atomic.Pointer[Fusion]

// FusionGuard holds the previously-active fusion so it can be restored on
// Exit, including on panicking exit paths when used with defer.
type FusionGuard struct {
	prev   *Fusion
	exited bool
}

// EnterFusion pushes f as the active fusion and returns a guard that
// restores the previous one. Idiomatic use is:
//
//	g := ir.EnterFusion(f)
//	defer g.Exit()
func EnterFusion(f *Fusion) *FusionGuard {
	prev := activeFusion.Swap(f)
	return &FusionGuard{prev: prev}
}

// Exit restores the fusion that was active before the matching EnterFusion.
// Exit is idempotent: calling it more than once after the first call is a
// no-op for the second and later calls, guaranteeing that a deferred Exit
// paired with an earlier explicit Exit never double-restores.
func (g *FusionGuard) Exit() {
	if g == nil || g.exited {
		return
	}
	activeFusion.Store(g.prev)
	g.exited = true
}

// CurrentFusion returns the fusion currently entered via EnterFusion. It
// panics if no fusion is active, mirroring the fatal-assertion contract
// nvFuser places on node construction outside of a FusionGuard scope
// (spec.md §7, "internal invariants").
func CurrentFusion() *Fusion {
	f := activeFusion.Load()
	if f == nil {
		panic("ir: no active fusion; wrap node construction in ir.EnterFusion")
	}
	return f
}
