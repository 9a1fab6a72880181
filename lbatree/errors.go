package lbatree

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can reasonably branch on. Structural-invariant
// violations are not among these: they panic via invariant, since they
// indicate corruption the tree cannot recover from.
var (
	// ErrNotPending names the condition of a node that is not pending
	// (mutable) when an operation requires it to be. No function in this
	// package returns it: node mutators panic via invariant instead.
	ErrNotPending = errors.New("lbatree: node is not pending")

	// ErrInvalidCapacities is returned by New when a Config's capacity
	// bounds can't keep max >= 2*min.
	ErrInvalidCapacities = errors.New("lbatree: capacities must satisfy max >= 2*min")
)

// invariant panics with msg if cond is false. Used at fatal assertion
// points: mismatched root address on rewrite, wrong pivot key, wrong
// child address, non-zero key at the nominal root level, remove on
// end(). These indicate on-disk or in-memory corruption the tree cannot
// recover from; there is no retry path.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("lbatree: invariant violated: "+format, args...))
	}
}
