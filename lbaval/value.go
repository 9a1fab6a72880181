// Package lbaval defines the value records and node metadata carried by
// the lbatree engine: the leaf value record mapping a logical extent to
// its physical backing, the per-node metadata every node kind carries,
// and the root descriptor persisted out-of-band by the tree's caller.
package lbaval

import (
	"fmt"

	"github.com/obalba/lbatree/laddr"
)

// LBABlockSize is the fixed on-disk size of every tree node, identical
// for leaves and internals.
const LBABlockSize = 4096

// Depth is the level of a node within the tree. Leaves are always at
// depth 1; an internal node at depth d has children at depth d-1.
type Depth = uint8

// MapVal is the value record stored against a logical key in a leaf:
// where the logical range is backed on disk, for how many bytes, and its
// refcount/flags payload.
type MapVal struct {
	Paddr    laddr.Paddr
	Length   uint32
	Refcount uint32
	Flags    uint32
}

// NodeMeta is a node's self-description: the half-open key range it
// covers and its level.
type NodeMeta struct {
	Begin laddr.Laddr
	End   laddr.Laddr
	Depth Depth
}

// IsLeaf reports whether a node with this meta is a leaf.
func (m NodeMeta) IsLeaf() bool {
	return m.Depth == 1
}

// Contains reports whether key falls within [Begin, End).
func (m NodeMeta) Contains(key laddr.Laddr) bool {
	return m.Begin <= key && key < m.End
}

// RootMeta is the meta every root node carries: the full address space.
func RootMeta(depth Depth) NodeMeta {
	return NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: depth}
}

// RootDescriptor names the current root: its physical address and the
// tree's depth. It is held by the tree and persisted out-of-band by the
// caller on commit.
type RootDescriptor struct {
	Paddr laddr.Paddr
	Depth Depth
}

// Capacities bounds a node kind's size, set so a split of a full node
// always yields two
// non-minimal children, and a merge of two minimal nodes never overflows.
type Capacities struct {
	Min int
	Max int
}

// Config bundles the per-node-kind capacity bounds a Tree is constructed
// with. Block size is fixed at LBABlockSize; only the
// logical entry-count bounds are configurable, mainly to make small,
// deterministic split/merge/collapse scenarios easy to exercise in tests.
type Config struct {
	Leaf     Capacities
	Internal Capacities
}

// DefaultConfig sizes both node kinds at around a hundred entries,
// keeping Max >= 2*Min for both so a split of a full node always yields
// two non-minimal halves and a merge of two minimal nodes never
// overflows.
func DefaultConfig() Config {
	return Config{
		Leaf:     Capacities{Min: 64, Max: 128},
		Internal: Capacities{Min: 64, Max: 128},
	}
}

// Validate reports whether the capacities are well-formed: Max must be at
// least twice Min so a full node always splits into two non-minimal
// halves and two minimal nodes always merge into a non-overflowing one.
func (c Capacities) Validate() error {
	if c.Min < 1 {
		return fmt.Errorf("min capacity must be >= 1, got %d", c.Min)
	}
	if c.Max < 2*c.Min {
		return fmt.Errorf("max capacity %d must be >= 2*min (%d)", c.Max, 2*c.Min)
	}
	return nil
}
