// Package segment partitions a fusion graph too large or too heterogeneous
// for one scheduler heuristic into a DAG of smaller, individually fusible
// groups (spec.md §4.8, C8). Field set and merge-candidate shape are
// grounded on original_source/segment.h's SegmentedGroup/SegmentedEdge;
// the fixed-point "merge until nothing changes" loop shape is grounded on
// plan_teacher/pir/fpo.go's fixedPointOptimizer.optimize.
package segment

import "github.com/kernelfuse/fuser/ir"

// SegmentedEdge is a val flowing from one segmented group to another.
// Multiple edges may exist between the same pair of groups (segment.h).
type SegmentedEdge struct {
	From *SegmentedGroup
	To   *SegmentedGroup
	Val  ir.Val
}

// SegmentedGroup is a set of exprs segmented together, plus the traversal
// state the merge loop maintains between passes (segment.h).
type SegmentedGroup struct {
	Exprs []ir.Expr

	ProducerEdges []*SegmentedEdge
	ConsumerEdges []*SegmentedEdge

	// IsInput is true for a group with no producer edges: every value it
	// consumes comes from the fusion's own inputs or compile-time constants.
	IsInput bool

	// Level is the longest path, in group hops, from any IsInput group —
	// Theorem 4.2's precondition for a level-difference merge criterion.
	Level int

	Visited   bool
	MergeWith *SegmentedGroup
	Merged    bool
}

func newGroup(e ir.Expr) *SegmentedGroup {
	return &SegmentedGroup{Exprs: []ir.Expr{e}, Level: -1}
}

// ClearTraversalInfo resets the traversal fields ahead of a fresh level
// computation pass, leaving Exprs/ProducerEdges/ConsumerEdges untouched.
func (g *SegmentedGroup) ClearTraversalInfo() {
	g.Level = -1
	g.Visited = false
	g.MergeWith = nil
}

// Neighbors returns every group connected to g by a producer or consumer
// edge, deduplicated.
func (g *SegmentedGroup) Neighbors() []*SegmentedGroup {
	seen := make(map[*SegmentedGroup]bool)
	var out []*SegmentedGroup
	for _, e := range g.ProducerEdges {
		if !seen[e.From] {
			seen[e.From] = true
			out = append(out, e.From)
		}
	}
	for _, e := range g.ConsumerEdges {
		if !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	return out
}

// MergeCandidates returns g's neighbors eligible to merge with it under
// Theorem 4.2's level-difference criterion: a merge can only be proposed
// between groups whose levels differ by exactly one (merging same-level or
// distant-level groups can create a cycle once other paths between them
// are taken into account).
func (g *SegmentedGroup) MergeCandidates() []*SegmentedGroup {
	if g.Merged {
		return nil
	}
	var out []*SegmentedGroup
	for _, n := range g.Neighbors() {
		if n.Merged || n == g {
			continue
		}
		diff := g.Level - n.Level
		if diff == 1 || diff == -1 {
			out = append(out, n)
		}
	}
	return out
}
