// Package query implements the kernel's read-side traversal primitives
// (design §4.8): range scans over an index subspace that enforce a
// caller-declared limit and report why a scan stopped early, plus the
// aggregation fallback path for groups with no maintained accumulator.
//
// Every reader here takes a kv.ReadTransaction so a caller can pin
// reads to an explicit snapshot version the way turbo-geth's
// ethdb.KV.View pins a read to one MDBX snapshot; nothing in this
// package ever writes.
package query

// LimitReason explains why a traversal stopped before exhausting its
// underlying range, mirroring the structured truncation reasons a
// bounded graph or spatial traversal reports instead of silently
// returning a partial answer indistinguishable from a complete one.
type LimitReason uint8

const (
	// LimitNone means the traversal was not truncated: either the
	// underlying range was exhausted, or there was no limit to reach.
	LimitNone LimitReason = iota
	LimitMaxResultsReached
	LimitMaxNodesReached
	LimitMaxDepthReached
	LimitMaxCyclesReached
	LimitMaxCellsReached
)

func (r LimitReason) String() string {
	switch r {
	case LimitNone:
		return "None"
	case LimitMaxResultsReached:
		return "MaxResultsReached"
	case LimitMaxNodesReached:
		return "MaxNodesReached"
	case LimitMaxDepthReached:
		return "MaxDepthReached"
	case LimitMaxCyclesReached:
		return "MaxCyclesReached"
	case LimitMaxCellsReached:
		return "MaxCellsReached"
	default:
		return "Unknown"
	}
}

// Limit bounds a traversal's result count. Zero means unbounded.
type Limit struct {
	MaxResults int
}

// reached reports whether count has hit l's bound, translating into
// the LimitMaxResultsReached reason every scan in this package uses --
// the node/depth/cycle/cell reasons exist for the record-level query
// planner and graph/spatial traversals that are out of this kernel's
// scope (§1) but share the same LimitReason vocabulary so a caller
// merging results from both layers has one enum to switch on.
func (l Limit) reached(count int) (LimitReason, bool) {
	if l.MaxResults > 0 && count >= l.MaxResults {
		return LimitMaxResultsReached, true
	}
	return LimitNone, false
}
