package lbatree

import (
	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
)

// MakeSplitChildren allocates two new pending leaves holding the sorted
// prefix and suffix of n's entries and returns them along with the
// promoted pivot, which equals right.meta.Begin and right's first key
// n itself is left unmodified; the
// caller retires it once the split is wired into the parent.
func (n *LeafNode) MakeSplitChildren(c extent.OpContext) (left, right *LeafNode, pivot laddr.Laddr, err error) {
	mid := (len(n.entries) + 1) / 2
	pivot = n.entries[mid].Key

	left = NewLeafNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: 1})
	left.entries = append([]LeafEntry(nil), n.entries[:mid]...)

	right = NewLeafNode(lbaval.NodeMeta{Begin: pivot, End: n.meta.End, Depth: 1})
	right.entries = append([]LeafEntry(nil), n.entries[mid:]...)

	if err = c.Cache.AllocNew(c.Tx, left); err != nil {
		return nil, nil, 0, err
	}
	if err = c.Cache.AllocNew(c.Tx, right); err != nil {
		return nil, nil, 0, err
	}
	left.Pin().SetRange(left.meta)
	right.Pin().SetRange(right.meta)
	return left, right, pivot, nil
}

// MakeFullMerge concatenates n (the left sibling) and right into a single
// new pending leaf. The caller must already have verified the combined
// size fits within max_capacity.
func (n *LeafNode) MakeFullMerge(c extent.OpContext, right *LeafNode) (*LeafNode, error) {
	merged := NewLeafNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: right.meta.End, Depth: 1})
	merged.entries = make([]LeafEntry, 0, len(n.entries)+len(right.entries))
	merged.entries = append(merged.entries, n.entries...)
	merged.entries = append(merged.entries, right.entries...)

	if err := c.Cache.AllocNew(c.Tx, merged); err != nil {
		return nil, err
	}
	merged.Pin().SetRange(merged.meta)
	return merged, nil
}

// MakeBalanced redistributes n (left) and right's combined entries into
// two new pending leaves of roughly equal size, ties on an odd total
// broken by preferLeft.
func (n *LeafNode) MakeBalanced(c extent.OpContext, right *LeafNode, preferLeft bool) (l2, r2 *LeafNode, pivot laddr.Laddr, err error) {
	total := len(n.entries) + len(right.entries)
	leftSize := total / 2
	if total%2 != 0 && preferLeft {
		leftSize++
	}

	combined := make([]LeafEntry, 0, total)
	combined = append(combined, n.entries...)
	combined = append(combined, right.entries...)

	pivot = combined[leftSize].Key

	l2 = NewLeafNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: 1})
	l2.entries = append([]LeafEntry(nil), combined[:leftSize]...)

	r2 = NewLeafNode(lbaval.NodeMeta{Begin: pivot, End: right.meta.End, Depth: 1})
	r2.entries = append([]LeafEntry(nil), combined[leftSize:]...)

	if err = c.Cache.AllocNew(c.Tx, l2); err != nil {
		return nil, nil, 0, err
	}
	if err = c.Cache.AllocNew(c.Tx, r2); err != nil {
		return nil, nil, 0, err
	}
	l2.Pin().SetRange(l2.meta)
	r2.Pin().SetRange(r2.meta)
	return l2, r2, pivot, nil
}

// MakeSplitChildren allocates two new pending internal nodes holding the
// sorted prefix and suffix of n's entries.
func (n *InternalNode) MakeSplitChildren(c extent.OpContext) (left, right *InternalNode, pivot laddr.Laddr, err error) {
	mid := len(n.entries) / 2
	pivot = n.entries[mid].Pivot

	left = NewInternalNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: n.meta.Depth})
	left.entries = append([]InternalEntry(nil), n.entries[:mid]...)

	right = NewInternalNode(lbaval.NodeMeta{Begin: pivot, End: n.meta.End, Depth: n.meta.Depth})
	right.entries = append([]InternalEntry(nil), n.entries[mid:]...)

	if err = c.Cache.AllocNew(c.Tx, left); err != nil {
		return nil, nil, 0, err
	}
	if err = c.Cache.AllocNew(c.Tx, right); err != nil {
		return nil, nil, 0, err
	}
	left.Pin().SetRange(left.meta)
	right.Pin().SetRange(right.meta)
	return left, right, pivot, nil
}

// MakeFullMerge concatenates n (left) and right into one new pending
// internal node.
func (n *InternalNode) MakeFullMerge(c extent.OpContext, right *InternalNode) (*InternalNode, error) {
	merged := NewInternalNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: right.meta.End, Depth: n.meta.Depth})
	merged.entries = make([]InternalEntry, 0, len(n.entries)+len(right.entries))
	merged.entries = append(merged.entries, n.entries...)
	merged.entries = append(merged.entries, right.entries...)

	if err := c.Cache.AllocNew(c.Tx, merged); err != nil {
		return nil, err
	}
	merged.Pin().SetRange(merged.meta)
	return merged, nil
}

// MakeBalanced redistributes n (left) and right's combined entries
// between two new pending internal nodes of roughly equal size.
func (n *InternalNode) MakeBalanced(c extent.OpContext, right *InternalNode, preferLeft bool) (l2, r2 *InternalNode, pivot laddr.Laddr, err error) {
	total := len(n.entries) + len(right.entries)
	leftSize := total / 2
	if total%2 != 0 && preferLeft {
		leftSize++
	}

	combined := make([]InternalEntry, 0, total)
	combined = append(combined, n.entries...)
	combined = append(combined, right.entries...)

	pivot = combined[leftSize].Pivot

	l2 = NewInternalNode(lbaval.NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: n.meta.Depth})
	l2.entries = append([]InternalEntry(nil), combined[:leftSize]...)

	r2 = NewInternalNode(lbaval.NodeMeta{Begin: pivot, End: right.meta.End, Depth: n.meta.Depth})
	r2.entries = append([]InternalEntry(nil), combined[leftSize:]...)

	if err = c.Cache.AllocNew(c.Tx, l2); err != nil {
		return nil, nil, 0, err
	}
	if err = c.Cache.AllocNew(c.Tx, r2); err != nil {
		return nil, nil, 0, err
	}
	l2.Pin().SetRange(l2.meta)
	r2.Pin().SetRange(r2.meta)
	return l2, r2, pivot, nil
}
