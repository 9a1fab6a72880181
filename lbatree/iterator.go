package lbatree

import (
	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/pin"
)

// internalPos is a NodePosition at an internal level: the owning node
// reference plus an integer offset.
type internalPos struct {
	node *InternalNode
	pos  int
}

// leafPos is a NodePosition at the leaf level.
type leafPos struct {
	node *LeafNode
	pos  int
}

// Iterator is a stack of NodePositions, one per level from the root down
// to a leaf, identifying a single logical key or an end sentinel.
// internal is indexed by depth starting at 2: internal[0]
// is depth 2, internal[len-1] is depth GetDepth(). Iterator is a plain
// value: copying it (as every method below does, returning a new value
// rather than mutating the receiver) is cheap and keeps old references
// valid, which is what lets handle_split/handle_merge repoint a cursor
// without invalidating callers still holding the original.
type Iterator struct {
	internal []internalPos
	leaf     leafPos
}

// GetDepth returns 1 + the number of internal levels on the stack, i.e.
// the depth of the tree this iterator was produced against.
func (it Iterator) GetDepth() int {
	return 1 + len(it.internal)
}

// IsEnd reports whether the iterator denotes the end sentinel: the leaf
// position equals the leaf's size.
func (it Iterator) IsEnd() bool {
	return it.leaf.pos == it.leaf.node.Size()
}

// IsBegin reports whether every position on the stack, including the
// leaf, is zero.
func (it Iterator) IsBegin() bool {
	if it.leaf.pos != 0 {
		return false
	}
	for _, p := range it.internal {
		if p.pos != 0 {
			return false
		}
	}
	return true
}

// Key returns the key at the iterator's current position. Panics on
// end(); callers must check IsEnd first. The insertion-point iterator
// variant is the one place a position may equal size, and that
// never flows back through Key).
func (it Iterator) Key() laddr.Laddr {
	invariant(!it.IsEnd(), "Key called on end() iterator")
	return it.leaf.node.At(it.leaf.pos).Key
}

// Val returns the value at the iterator's current position.
func (it Iterator) Val() lbaval.MapVal {
	invariant(!it.IsEnd(), "Val called on end() iterator")
	return it.leaf.node.At(it.leaf.pos).Val
}

// LeafNode returns the leaf node this iterator currently points into.
func (it Iterator) LeafNode() *LeafNode { return it.leaf.node }

// LeafPos returns the offset within the leaf node.
func (it Iterator) LeafPos() int { return it.leaf.pos }

// Pin returns the pin of the node at the iterator's current position.
func (it Iterator) Pin() *pin.Pin {
	return it.leaf.node.Pin()
}

// internalAt returns the NodePosition at the given depth (>= 2).
func (it Iterator) internalAt(depth int) internalPos {
	return it.internal[depth-2]
}

// assertValid checks the iterator's internal consistency after a
// descent: the stack's length matches GetDepth. Nothing in the package
// calls it.
func (it Iterator) assertValid() {
	invariant(len(it.internal) == it.GetDepth()-1, "iterator stack length mismatch")
}

// checkSplit returns the lowest depth (considering the bottom level
// first) whose node is already at max capacity, or GetDepth()+1 if no
// node on the path is full. A full root with nothing full below it
// yields GetDepth(); handleSplit decides separately whether to grow a
// new root.
func (it Iterator) checkSplit(cfg lbaval.Config) int {
	if it.leaf.node.AtMaxCapacity(cfg.Leaf) {
		return 1
	}
	for d := 2; d <= it.GetDepth(); d++ {
		if it.internalAt(d).node.AtMaxCapacity(cfg.Internal) {
			return d
		}
	}
	return it.GetDepth() + 1
}

// Next returns a new iterator advanced by one key. It never mutates
// structure; it only reads, possibly crossing a node boundary (a
// suspension point that may fetch from the cache).
func (t *Tree) Next(c extent.OpContext, it Iterator) (Iterator, error) {
	if it.leaf.pos+1 < it.leaf.node.Size() {
		ret := it
		ret.leaf.pos++
		return ret, nil
	}

	depthWithSpace := 2
	for ; depthWithSpace <= it.GetDepth(); depthWithSpace++ {
		ip := it.internalAt(depthWithSpace)
		if ip.pos+1 < ip.node.Size() {
			break
		}
	}

	if depthWithSpace > it.GetDepth() {
		ret := it
		ret.leaf.pos = ret.leaf.node.Size()
		return ret, nil
	}

	ret := it
	ret.internal = append([]internalPos(nil), it.internal...)
	for d := 2; d < depthWithSpace; d++ {
		ret.internal[d-2] = internalPos{}
	}
	ret.leaf = leafPos{}
	top := ret.internalAt(depthWithSpace)
	top.pos++
	ret.internal[depthWithSpace-2] = top

	return t.descend(c, ret, depthWithSpace-1, true, nil)
}

// Prev returns a new iterator stepped back by one key.
// Requires !IsBegin().
func (t *Tree) Prev(c extent.OpContext, it Iterator) (Iterator, error) {
	invariant(!it.IsBegin(), "Prev called on is_begin() iterator")

	ret := it
	if ret.leaf.pos > 0 {
		ret.leaf.pos--
		return ret, nil
	}

	depthWithSpace := 2
	for ; depthWithSpace <= ret.GetDepth(); depthWithSpace++ {
		if ret.internalAt(depthWithSpace).pos > 0 {
			break
		}
	}
	invariant(depthWithSpace <= ret.GetDepth(), "Prev walked past is_begin()")

	ret.internal = append([]internalPos(nil), ret.internal...)
	for d := 2; d < depthWithSpace; d++ {
		ret.internal[d-2] = internalPos{}
	}
	ret.leaf = leafPos{}
	top := ret.internalAt(depthWithSpace)
	top.pos--
	ret.internal[depthWithSpace-2] = top

	return t.descend(c, ret, depthWithSpace-1, false, nil)
}
