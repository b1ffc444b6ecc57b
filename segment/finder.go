package segment

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/scheduler"
)

// CanGenerateCode decides whether a candidate (trial) fusion is acceptable
// as a single segment — normally "does some scheduler heuristic accept it".
type CanGenerateCode func(f *ir.Fusion) bool

// DefaultCanGenerateCode accepts f if scheduler.ProposeHeuristics finds any
// applicable heuristic (spec.md §4.8's "require proposeHeuristics returns
// some heuristic").
func DefaultCanGenerateCode(f *ir.Fusion) bool {
	_, ok := scheduler.ProposeHeuristics(f)
	return ok
}

// Finder segments a fusion into a DAG of SegmentedGroups, each individually
// acceptable to canGenerateCode. Grounded on original_source/segment.h's
// SegmentCandidateFinder (private resetTraversal/resetLevels/mergeNodes
// steps, driven by a public segment() entry point).
type Finder struct {
	fusion          *ir.Fusion
	canGenerateCode CanGenerateCode
	groups          []*SegmentedGroup
	logger          *log.Logger

	// trialCache memoizes canGenerateCode's verdict by the siphash-64 of a
	// candidate merge's sorted expr names, so re-proposing the same pair
	// across passes (common once a merge elsewhere in the graph changes
	// levels but not this neighborhood) skips rebuilding the trial fusion
	// and re-running heuristic selection.
	trialCache map[uint64]bool
}

// NewFinder creates a Finder over f. A nil canGenerateCode defaults to
// DefaultCanGenerateCode.
func NewFinder(f *ir.Fusion, canGenerateCode CanGenerateCode) *Finder {
	if canGenerateCode == nil {
		canGenerateCode = DefaultCanGenerateCode
	}
	return &Finder{
		fusion:          f,
		canGenerateCode: canGenerateCode,
		logger:          log.New(os.Stdout, "", 0),
		trialCache:      make(map[uint64]bool),
	}
}

// candidateKey returns a stable siphash-64 fingerprint of a and b's combined
// expr set, used as a trialCache key.
func candidateKey(a, b *SegmentedGroup) uint64 {
	names := make([]int, 0, len(a.Exprs)+len(b.Exprs))
	for _, e := range a.Exprs {
		names = append(names, ir.ExprName(e))
	}
	for _, e := range b.Exprs {
		names = append(names, ir.ExprName(e))
	}
	sort.Ints(names)
	buf := make([]byte, len(names)*8)
	for i, n := range names {
		v := uint64(n)
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(v >> (8 * j))
		}
	}
	return siphash.Hash(0, 0, buf)
}

// Segment partitions the fusion into a DAG of segmented groups, merging
// adjacent-level neighbors whenever their trial-fused union is still
// schedulable, until no further productive merge exists (spec.md §4.8).
func (sf *Finder) Segment() ([]*SegmentedGroup, error) {
	sf.buildInitialGroups()
	debug := os.Getenv("FUSER_DEBUG") != ""
	trace := ""
	if debug {
		trace = uuid.New().String()
		sf.logger.Printf("segment: %s starting with %d single-expr groups", trace, len(sf.groups))
	}

	for {
		sf.resetTraversal()
		sf.computeLevels()
		merged, err := sf.mergeOnePass()
		if err != nil {
			return nil, err
		}
		if !merged {
			break
		}
	}

	live := sf.liveGroups()
	if debug {
		sf.logger.Printf("segment: %s converged to %d groups", trace, len(live))
	}
	return live, nil
}

// buildInitialGroups creates one group per expr (segment.h's trivial
// starting partition) and wires producer/consumer edges for every val that
// crosses a group boundary.
func (sf *Finder) buildInitialGroups() {
	byExpr := make(map[ir.Expr]*SegmentedGroup)
	for _, e := range sf.fusion.ExprsInOrder() {
		g := newGroup(e)
		byExpr[e] = g
		sf.groups = append(sf.groups, g)
	}
	for _, e := range sf.fusion.ExprsInOrder() {
		consumer := byExpr[e]
		for _, in := range ir.Inputs(e) {
			origin := ir.Origin(in)
			if origin == nil {
				continue
			}
			producer, ok := byExpr[origin]
			if !ok {
				continue
			}
			edge := &SegmentedEdge{From: producer, To: consumer, Val: in}
			producer.ConsumerEdges = append(producer.ConsumerEdges, edge)
			consumer.ProducerEdges = append(consumer.ProducerEdges, edge)
		}
	}
}

func (sf *Finder) resetTraversal() {
	for _, g := range sf.groups {
		if !g.Merged {
			g.ClearTraversalInfo()
		}
	}
}

// computeLevels assigns each live group the longest producer-edge path from
// any group with no producers (IsInput), by repeated relaxation — the
// group graph is acyclic by construction (mergeOnePass never performs a
// merge wouldCreateCycle rejects), so this always terminates.
func (sf *Finder) computeLevels() {
	live := sf.liveGroups()
	for _, g := range live {
		g.IsInput = len(liveProducerEdges(g)) == 0
		if g.IsInput {
			g.Level = 0
		}
	}
	for changed := true; changed; {
		changed = false
		for _, g := range live {
			if g.IsInput {
				continue
			}
			level := -1
			ready := true
			for _, e := range liveProducerEdges(g) {
				if e.From.Level < 0 {
					ready = false
					break
				}
				if e.From.Level+1 > level {
					level = e.From.Level + 1
				}
			}
			if ready && level != g.Level {
				g.Level = level
				changed = true
			}
		}
	}
}

func liveProducerEdges(g *SegmentedGroup) []*SegmentedEdge {
	var out []*SegmentedEdge
	for _, e := range g.ProducerEdges {
		if e.From != g {
			out = append(out, e)
		}
	}
	return out
}

// mergeOnePass scans live groups for a valid merge (an adjacent-level
// neighbor whose trial-fused union remains schedulable and whose merge
// would not create a cycle in the group graph) and performs at most one
// merge, restarting the outer fixed-point loop — the same
// "rewrite-then-restart" shape as plan_teacher/pir/fpo.go's optimize loop,
// traded for simplicity over applying every independent merge per pass.
func (sf *Finder) mergeOnePass() (bool, error) {
	for _, g := range sf.liveGroups() {
		for _, cand := range g.MergeCandidates() {
			ok, err := sf.tryMerge(g, cand)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (sf *Finder) tryMerge(a, b *SegmentedGroup) (bool, error) {
	if sf.wouldCreateCycle(a, b) {
		return false, nil
	}

	key := candidateKey(a, b)
	accepted, cached := sf.trialCache[key]
	if !cached {
		subset := make(map[ir.Expr]bool, len(a.Exprs)+len(b.Exprs))
		for _, e := range a.Exprs {
			subset[e] = true
		}
		for _, e := range b.Exprs {
			subset[e] = true
		}
		trial, err := buildTrialFusion(sf.fusion, subset)
		if err != nil {
			return false, fmt.Errorf("segment: building trial fusion: %w", err)
		}
		accepted = sf.canGenerateCode(trial)
		sf.trialCache[key] = accepted
	}
	if !accepted {
		return false, nil
	}
	sf.merge(a, b)
	return true, nil
}

// merge folds b into a: a's expr list absorbs b's, external producer/
// consumer edges are redirected onto a, and edges directly between a and b
// are dropped (they're now internal to the merged group).
func (sf *Finder) merge(a, b *SegmentedGroup) {
	a.Exprs = append(a.Exprs, b.Exprs...)

	var producers []*SegmentedEdge
	for _, e := range a.ProducerEdges {
		if e.From != b {
			producers = append(producers, e)
		}
	}
	for _, e := range b.ProducerEdges {
		if e.From != a {
			e.To = a
			producers = append(producers, e)
		}
	}
	a.ProducerEdges = producers

	var consumers []*SegmentedEdge
	for _, e := range a.ConsumerEdges {
		if e.To != b {
			consumers = append(consumers, e)
		}
	}
	for _, e := range b.ConsumerEdges {
		if e.To != a {
			e.From = a
			consumers = append(consumers, e)
		}
	}
	a.ConsumerEdges = consumers

	// Redirect every other live group's edges that pointed at b onto a.
	for _, g := range sf.groups {
		if g == a || g == b || g.Merged {
			continue
		}
		for _, e := range g.ProducerEdges {
			if e.From == b {
				e.From = a
			}
		}
		for _, e := range g.ConsumerEdges {
			if e.To == b {
				e.To = a
			}
		}
	}

	b.Merged = true
	a.MergeWith = nil
}

func (sf *Finder) liveGroups() []*SegmentedGroup {
	var out []*SegmentedGroup
	for _, g := range sf.groups {
		if !g.Merged {
			out = append(out, g)
		}
	}
	return out
}

// wouldCreateCycle reports whether contracting a and b into a single node
// introduces a cycle in the group graph — a direct post-contraction cycle
// check rather than Herrmann et al.'s amortized per-level certificate
// (original_source ships only segment.h's declarations, not
// segment.cpp's body, so the exact incremental algorithm isn't available
// to port; a plain DFS cycle check is correct and, at the group-graph
// sizes a compiler pass deals with, cheap enough).
func (sf *Finder) wouldCreateCycle(a, b *SegmentedGroup) bool {
	live := sf.liveGroups()
	succ := func(g *SegmentedGroup) []*SegmentedGroup {
		var targets []*SegmentedGroup
		seen := make(map[*SegmentedGroup]bool)
		add := func(n *SegmentedGroup) {
			if n == a || n == b {
				n = a // the contracted node is represented by a
			}
			if n != g && !seen[n] {
				seen[n] = true
				targets = append(targets, n)
			}
		}
		groups := []*SegmentedGroup{g}
		if g == a {
			groups = append(groups, b)
		}
		for _, gg := range groups {
			for _, e := range gg.ConsumerEdges {
				add(e.To)
			}
		}
		return targets
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[*SegmentedGroup]int, len(live))
	var visit func(g *SegmentedGroup) bool
	visit = func(g *SegmentedGroup) bool {
		color[g] = gray
		for _, n := range succ(g) {
			switch color[n] {
			case gray:
				return true
			case white:
				if visit(n) {
					return true
				}
			}
		}
		color[g] = black
		return false
	}
	for _, g := range live {
		if g == b {
			continue // represented by a
		}
		if color[g] == white {
			if visit(g) {
				return true
			}
		}
	}
	return false
}
