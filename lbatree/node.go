package lbatree

import (
	"sort"

	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/pin"
)

// Node is the sum-type both LeafNode and InternalNode satisfy. The
// tree's level-generic bookkeeping (pin setup on load, pending tracking)
// goes through this interface; split/merge/insert logic is kind-specific
// and lives on the concrete types, with parallel Leaf/Internal code
// paths rather than one struct carrying an IsLeaf flag.
type Node interface {
	extent.Extent
	Meta() lbaval.NodeMeta
	SetMeta(lbaval.NodeMeta)
	Size() int
}

// LeafEntry is one sorted (key, value) pair in a leaf.
type LeafEntry struct {
	Key laddr.Laddr
	Val lbaval.MapVal
}

// LeafNode is a leaf: sorted key/value entries covering [meta.Begin,
// meta.End) at depth 1.
type LeafNode struct {
	paddr   laddr.Paddr
	meta    lbaval.NodeMeta
	entries []LeafEntry
	pending bool
	pin     pin.Pin
}

// NewLeafNode constructs an empty, not-yet-allocated leaf with the given
// meta. Depth is forced to 1: depth == 1 holds iff the node is a leaf.
func NewLeafNode(meta lbaval.NodeMeta) *LeafNode {
	meta.Depth = 1
	return &LeafNode{meta: meta}
}

func (n *LeafNode) Kind() extent.Kind        { return extent.KindLeaf }
func (n *LeafNode) Paddr() laddr.Paddr       { return n.paddr }
func (n *LeafNode) SetPaddr(p laddr.Paddr)   { n.paddr = p }
func (n *LeafNode) IsPending() bool          { return n.pending }
func (n *LeafNode) MarkPending()             { n.pending = true }
func (n *LeafNode) Pin() *pin.Pin            { return &n.pin }
func (n *LeafNode) Meta() lbaval.NodeMeta    { return n.meta }
func (n *LeafNode) SetMeta(m lbaval.NodeMeta) { m.Depth = 1; n.meta = m }
func (n *LeafNode) Size() int                { return len(n.entries) }

// Clone returns an independent pending-ready copy, used by the cache's
// DuplicateForWrite.
func (n *LeafNode) Clone() extent.Extent {
	c := &LeafNode{paddr: n.paddr, meta: n.meta}
	c.entries = append([]LeafEntry(nil), n.entries...)
	return c
}

// Begin is the low end of the leaf's key range.
func (n *LeafNode) Begin() laddr.Laddr { return n.meta.Begin }

// End is the high end (exclusive) of the leaf's key range.
func (n *LeafNode) End() laddr.Laddr { return n.meta.End }

// FirstKey returns the first entry's key. Panics if the leaf is empty;
// callers must check Size() first.
func (n *LeafNode) FirstKey() laddr.Laddr { return n.entries[0].Key }

// LastKey returns the last entry's key.
func (n *LeafNode) LastKey() laddr.Laddr { return n.entries[len(n.entries)-1].Key }

// LowerBound returns the index of the first entry with Key >= key, or
// Size() if none.
func (n *LeafNode) LowerBound(key laddr.Laddr) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Key >= key })
}

// UpperBound returns the index of the first entry with Key > key, or
// Size() if none.
func (n *LeafNode) UpperBound(key laddr.Laddr) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Key > key })
}

// At returns the entry at pos.
func (n *LeafNode) At(pos int) LeafEntry { return n.entries[pos] }

// AtMinCapacity reports whether the leaf is at or below the configured
// minimum entry count.
func (n *LeafNode) AtMinCapacity(cfg lbaval.Capacities) bool { return len(n.entries) <= cfg.Min }

// AtMaxCapacity reports whether the leaf is at or above the configured
// maximum.
func (n *LeafNode) AtMaxCapacity(cfg lbaval.Capacities) bool { return len(n.entries) >= cfg.Max }

// Insert adds (key, val) at pos. Only valid on a pending node.
func (n *LeafNode) Insert(pos int, key laddr.Laddr, val lbaval.MapVal) {
	invariant(n.pending, "Insert called on non-pending leaf")
	n.entries = append(n.entries, LeafEntry{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = LeafEntry{Key: key, Val: val}
}

// Update overwrites the value at pos, leaving the key unchanged.
func (n *LeafNode) Update(pos int, val lbaval.MapVal) {
	invariant(n.pending, "Update called on non-pending leaf")
	n.entries[pos].Val = val
}

// Remove deletes the entry at pos.
func (n *LeafNode) Remove(pos int) {
	invariant(n.pending, "Remove called on non-pending leaf")
	n.entries = append(n.entries[:pos], n.entries[pos+1:]...)
}

// InternalEntry is one sorted (pivot, child) pair in an internal node:
// internal nodes store sorted (pivot_key, child_physical_address) entries.
type InternalEntry struct {
	Pivot laddr.Laddr
	Child laddr.Paddr
}

// InternalNode is an internal node: sorted pivot/child-address entries
// covering [meta.Begin, meta.End) at depth > 1.
type InternalNode struct {
	paddr   laddr.Paddr
	meta    lbaval.NodeMeta
	entries []InternalEntry
	pending bool
	pin     pin.Pin
}

// NewInternalNode constructs an empty, not-yet-allocated internal node at
// the given depth (must be > 1).
func NewInternalNode(meta lbaval.NodeMeta) *InternalNode {
	invariant(meta.Depth > 1, "internal node meta.Depth must be > 1, got %d", meta.Depth)
	return &InternalNode{meta: meta}
}

func (n *InternalNode) Kind() extent.Kind        { return extent.KindInternal }
func (n *InternalNode) Paddr() laddr.Paddr       { return n.paddr }
func (n *InternalNode) SetPaddr(p laddr.Paddr)   { n.paddr = p }
func (n *InternalNode) IsPending() bool          { return n.pending }
func (n *InternalNode) MarkPending()             { n.pending = true }
func (n *InternalNode) Pin() *pin.Pin            { return &n.pin }
func (n *InternalNode) Meta() lbaval.NodeMeta    { return n.meta }
func (n *InternalNode) SetMeta(m lbaval.NodeMeta) { n.meta = m }
func (n *InternalNode) Size() int                { return len(n.entries) }

// Clone returns an independent pending-ready copy.
func (n *InternalNode) Clone() extent.Extent {
	c := &InternalNode{paddr: n.paddr, meta: n.meta}
	c.entries = append([]InternalEntry(nil), n.entries...)
	return c
}

func (n *InternalNode) Begin() laddr.Laddr { return n.meta.Begin }
func (n *InternalNode) End() laddr.Laddr   { return n.meta.End }

// FirstKey returns the first pivot, which for a non-root internal node
// always equals meta.Begin; for the root the first pivot is laddr.Min.
func (n *InternalNode) FirstKey() laddr.Laddr { return n.entries[0].Pivot }

func (n *InternalNode) LastKey() laddr.Laddr { return n.entries[len(n.entries)-1].Pivot }

// LowerBound returns the index of the first entry with Pivot >= key.
func (n *InternalNode) LowerBound(key laddr.Laddr) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Pivot >= key })
}

// UpperBound returns the index of the first entry with Pivot > key, or
// Size() if none. Used to descend: upper_bound(key)-1, which is
// well-defined because the first pivot is always laddr.Min.
func (n *InternalNode) UpperBound(key laddr.Laddr) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].Pivot > key })
}

// At returns the entry at pos.
func (n *InternalNode) At(pos int) InternalEntry { return n.entries[pos] }

func (n *InternalNode) AtMinCapacity(cfg lbaval.Capacities) bool { return len(n.entries) <= cfg.Min }
func (n *InternalNode) AtMaxCapacity(cfg lbaval.Capacities) bool { return len(n.entries) >= cfg.Max }

// Insert adds (pivot, child) at pos.
func (n *InternalNode) Insert(pos int, pivot laddr.Laddr, child laddr.Paddr) {
	invariant(n.pending, "Insert called on non-pending internal node")
	n.entries = append(n.entries, InternalEntry{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = InternalEntry{Pivot: pivot, Child: child}
}

// Replace overwrites the entry at pos with a new (pivot, child) pair,
// used when repointing a parent entry to a post-split/merge child.
func (n *InternalNode) Replace(pos int, pivot laddr.Laddr, child laddr.Paddr) {
	invariant(n.pending, "Replace called on non-pending internal node")
	n.entries[pos] = InternalEntry{Pivot: pivot, Child: child}
}

// SetChild overwrites only the child address at pos, keeping the pivot.
func (n *InternalNode) SetChild(pos int, child laddr.Paddr) {
	invariant(n.pending, "SetChild called on non-pending internal node")
	n.entries[pos].Child = child
}

// Remove deletes the entry at pos.
func (n *InternalNode) Remove(pos int) {
	invariant(n.pending, "Remove called on non-pending internal node")
	n.entries = append(n.entries[:pos], n.entries[pos+1:]...)
}

// ResolveRelativeAddrs shifts every NodeRelative child address by delta,
// keeping the absolute child locations unchanged after the node itself
// has moved: a child stored at offset v from the old address must be
// stored at v + (old - new) from the new one. Absolute and
// record-relative entries are untouched.
func (n *InternalNode) ResolveRelativeAddrs(delta int64) {
	invariant(n.pending, "ResolveRelativeAddrs called on non-pending internal node")
	for i := range n.entries {
		if n.entries[i].Child.Kind == laddr.NodeRelative {
			n.entries[i].Child.Value += delta
		}
	}
}

// InitRoot replaces the entries wholesale with a single (pivot, child)
// pair: (MIN, old_root_location), used when constructing the very first
// entry of a newly grown root.
func (n *InternalNode) InitRoot(child laddr.Paddr) {
	invariant(n.pending, "InitRoot called on non-pending internal node")
	n.entries = []InternalEntry{{Pivot: laddr.Min, Child: child}}
}

var (
	_ Node = (*LeafNode)(nil)
	_ Node = (*InternalNode)(nil)
)
