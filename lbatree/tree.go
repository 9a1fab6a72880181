package lbatree

import (
	"fmt"

	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/obalog"
)

// Tree is the in-memory handle to the B+tree described by lbatree's
// package doc: a map from laddr to lbaval.MapVal, mutated only through
// an external cache that performs copy-on-write. Tree itself holds no
// node data beyond the root descriptor; every node is fetched through
// c.Cache on each call.
type Tree struct {
	cfg       lbaval.Config
	log       obalog.Logger
	root      lbaval.RootDescriptor
	rootDirty bool
}

// New constructs a Tree against the given node-capacity configuration.
// It does not allocate a root; call Mkfs first.
func New(cfg lbaval.Config, log obalog.Logger) (*Tree, error) {
	if err := cfg.Leaf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: leaf: %v", ErrInvalidCapacities, err)
	}
	if err := cfg.Internal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: internal: %v", ErrInvalidCapacities, err)
	}
	if log == nil {
		log = obalog.NewNop()
	}
	return &Tree{cfg: cfg, log: log}, nil
}

// Root returns the current root descriptor. Only meaningful after Mkfs.
func (t *Tree) Root() lbaval.RootDescriptor { return t.root }

// RootDirty reports whether the root descriptor has changed since the
// last ClearRootDirty call: it must be persisted out-of-band by the
// caller before the current transaction commits. The tree sets this
// whenever either field of the root descriptor changes; the caller is
// responsible for persisting it on commit.
func (t *Tree) RootDirty() bool { return t.rootDirty }

// ClearRootDirty is called by the caller once it has durably persisted
// the current root descriptor (typically at commit), resetting the flag
// for the next round of mutation.
func (t *Tree) ClearRootDirty() { t.rootDirty = false }

// setRoot updates the root descriptor and marks it dirty; every mutation
// that changes paddr or depth (Mkfs, growRoot, collapseRoot,
// RewriteLBAExtent's root branch) goes through here rather than
// assigning t.root directly, so root_dirty can never be forgotten.
func (t *Tree) setRoot(root lbaval.RootDescriptor) {
	t.root = root
	t.rootDirty = true
}

// Mkfs allocates an empty leaf as the tree's sole node and makes it the
// root at depth 1, building an empty tree.
func (t *Tree) Mkfs(c extent.OpContext) (lbaval.RootDescriptor, error) {
	root := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 1})
	root.MarkPending()
	if err := c.Cache.AllocNew(c.Tx, root); err != nil {
		return lbaval.RootDescriptor{}, err
	}
	root.Pin().SetRange(root.meta)
	c.Pins.Add(root.Pin())

	t.setRoot(lbaval.RootDescriptor{Paddr: root.Paddr(), Depth: 1})
	if c.Tx != nil {
		c.Tx.Stats().Depth = 1
	}
	t.log.Info("mkfs", "root_paddr", root.Paddr().String())
	return t.root, nil
}

// getInternalNode loads the internal node at paddr, asserts it actually
// sits at depth, registers its pin with the transaction's pin set, and
// returns it. depth is known by the
// caller from the parent's own depth, never read back off the node.
func (t *Tree) getInternalNode(c extent.OpContext, depth lbaval.Depth, paddr laddr.Paddr) (*InternalNode, error) {
	e, err := c.Cache.Get(c.Ctx, c.Tx, paddr)
	if err != nil {
		return nil, fmt.Errorf("lbatree: get internal node at %s: %w", paddr, err)
	}
	n, ok := e.(*InternalNode)
	invariant(ok, "cache returned %T for internal node at %s", e, paddr)
	invariant(n.meta.Depth == depth, "internal node at %s has depth %d, expected %d", paddr, n.meta.Depth, depth)
	if n.Size() > 0 {
		invariant(n.meta.Begin <= n.FirstKey(), "internal node at %s: meta.Begin %v > first pivot %v", paddr, n.meta.Begin, n.FirstKey())
		invariant(n.meta.End > n.LastKey(), "internal node at %s: meta.End %v <= last pivot %v", paddr, n.meta.End, n.LastKey())
	}
	if !n.IsPending() && !n.Pin().IsLinked() {
		n.Pin().SetRange(n.meta)
		c.Pins.Add(n.Pin())
	}
	return n, nil
}

// getLeafNode loads the leaf node at paddr, asserting its key range
// bounds whatever entries it actually holds, and registers its pin on
// first load.
func (t *Tree) getLeafNode(c extent.OpContext, paddr laddr.Paddr) (*LeafNode, error) {
	e, err := c.Cache.Get(c.Ctx, c.Tx, paddr)
	if err != nil {
		return nil, fmt.Errorf("lbatree: get leaf node at %s: %w", paddr, err)
	}
	n, ok := e.(*LeafNode)
	invariant(ok, "cache returned %T for leaf node at %s", e, paddr)
	if n.Size() > 0 {
		invariant(n.meta.Begin <= n.FirstKey(), "leaf at %s: meta.Begin %v > first key %v", paddr, n.meta.Begin, n.FirstKey())
		invariant(n.meta.End > n.LastKey(), "leaf at %s: meta.End %v <= last key %v", paddr, n.meta.End, n.LastKey())
	}
	if !n.IsPending() && !n.Pin().IsLinked() {
		n.Pin().SetRange(n.meta)
		c.Pins.Add(n.Pin())
	}
	return n, nil
}

// LowerBound descends from the root to the leaf position of the first
// key >= key, pushing a NodePosition per level. visitor, if non-nil, is
// invoked exactly once with each traversed node's NodeMeta, root first
// down to the leaf; passing nil is the common case and costs nothing
// extra.
func (t *Tree) LowerBound(c extent.OpContext, key laddr.Laddr, visitor func(lbaval.NodeMeta)) (Iterator, error) {
	t.log.Debug("lower_bound descend", "key", key.String())
	rootDepth := lbaval.Depth(t.rootDepth(c))
	if rootDepth == 1 {
		leaf, err := t.getLeafNode(c, t.root.Paddr)
		if err != nil {
			return Iterator{}, err
		}
		if visitor != nil {
			visitor(leaf.meta)
		}
		return Iterator{leaf: leafPos{node: leaf, pos: leaf.LowerBound(key)}}, nil
	}

	internals := make([]internalPos, rootDepth-1)
	paddr := t.root.Paddr
	for depth := rootDepth; depth > 1; depth-- {
		node, err := t.getInternalNode(c, depth, paddr)
		if err != nil {
			return Iterator{}, err
		}
		if visitor != nil {
			visitor(node.meta)
		}
		pos := node.UpperBound(key) - 1
		invariant(pos >= 0, "internal node at %s: upper_bound(%v)-1 went negative", paddr, key)
		internals[depth-2] = internalPos{node: node, pos: pos}
		paddr = node.At(pos).Child.ResolveRelativeTo(node.Paddr())
	}

	leaf, err := t.getLeafNode(c, paddr)
	if err != nil {
		return Iterator{}, err
	}
	if visitor != nil {
		visitor(leaf.meta)
	}
	return Iterator{internal: internals, leaf: leafPos{node: leaf, pos: leaf.LowerBound(key)}}, nil
}

// rootDepth returns the tree's current depth, preferring the
// transaction's own tracked stats when present: the transaction, not the
// tree, is the authority on in-flight depth changes within that
// transaction.
func (t *Tree) rootDepth(c extent.OpContext) int {
	if c.Tx != nil {
		if d := c.Tx.Stats().Depth; d != 0 {
			return int(d)
		}
	}
	return int(t.root.Depth)
}

// descend walks down from the repositioned NodePosition at depth
// fromDepth+1, loading each child node and parking the cursor at its
// first position (atBegin) or last position (!atBegin), until it bottoms
// out at the leaf. It is the shared tail of Next and Prev, which each
// reposition one ancestor slot and then need to refill everything below
// it symmetrically.
func (t *Tree) descend(c extent.OpContext, it Iterator, fromDepth int, atBegin bool, visitor func(lbaval.NodeMeta)) (Iterator, error) {
	parent := it.internalAt(fromDepth + 1)
	paddr := parent.node.At(parent.pos).Child.ResolveRelativeTo(parent.node.Paddr())

	for depth := fromDepth; depth >= 2; depth-- {
		node, err := t.getInternalNode(c, lbaval.Depth(depth), paddr)
		if err != nil {
			return Iterator{}, err
		}
		if visitor != nil {
			visitor(node.meta)
		}
		pos := 0
		if !atBegin {
			pos = node.Size() - 1
		}
		it.internal[depth-2] = internalPos{node: node, pos: pos}
		paddr = node.At(pos).Child.ResolveRelativeTo(node.Paddr())
	}

	leaf, err := t.getLeafNode(c, paddr)
	if err != nil {
		return Iterator{}, err
	}
	pos := 0
	if !atBegin {
		pos = leaf.Size() - 1
	}
	it.leaf = leafPos{node: leaf, pos: pos}
	return it, nil
}

// findInsertion locates the NodePosition at which key belongs, reusing
// it (the caller's existing lower_bound result) when it already targets
// the right leaf, otherwise performing a fresh LowerBound.
func (t *Tree) findInsertion(c extent.OpContext, it Iterator, key laddr.Laddr) (Iterator, error) {
	if it.leaf.node != nil && it.leaf.node.Meta().Contains(key) {
		ret := it
		ret.leaf.pos = it.leaf.node.LowerBound(key)
		return ret, nil
	}
	return t.LowerBound(c, key, nil)
}

// Insert places (key, val) into the tree, splitting nodes top-down along
// the descent path whenever a node at max capacity would be touched. It
// returns an iterator
// positioned at the inserted (or pre-existing) entry and whether an
// insertion actually happened — a duplicate key is left untouched,
// mirroring insert's usual map semantics.
func (t *Tree) Insert(c extent.OpContext, it Iterator, key laddr.Laddr, val lbaval.MapVal) (Iterator, bool, error) {
	t.log.Debug("insert", "key", key.String())
	it, err := t.findInsertion(c, it, key)
	if err != nil {
		return Iterator{}, false, err
	}
	if !it.IsEnd() && it.Key() == key {
		t.log.Debug("insert duplicate key, no-op", "key", key.String())
		return it, false, nil
	}

	it, err = t.handleSplit(c, it)
	if err != nil {
		return Iterator{}, false, err
	}

	leaf, err := t.pendingLeaf(c, it.leaf.node)
	if err != nil {
		return Iterator{}, false, err
	}
	pos := leaf.LowerBound(key)
	invariant(leaf.meta.Contains(key), "insert: key %v outside target leaf range [%v, %v)", key, leaf.meta.Begin, leaf.meta.End)
	leaf.Insert(pos, key, val)
	it.leaf = leafPos{node: leaf, pos: pos}
	return it, true, nil
}

// handleSplit walks the iterator's stack from the root down to the
// leaf, splitting any node about to be descended into that is already
// at max capacity, so that by the time a level is reached its parent
// has already been given room for the extra entry a split below it
// would add: splitting proactively on the way down rather than retrying
// on the way back up. If the root itself is full, it is grown first so the
// newly-promoted top level is never the thing that needs splitting.
func (t *Tree) handleSplit(c extent.OpContext, it Iterator) (Iterator, error) {
	if it.checkSplit(t.cfg) > it.GetDepth() {
		return it, nil
	}

	rootFull := it.GetDepth() == 1 && it.leaf.node.AtMaxCapacity(t.cfg.Leaf)
	if it.GetDepth() > 1 {
		rootFull = it.internalAt(it.GetDepth()).node.AtMaxCapacity(t.cfg.Internal)
	}
	if rootFull {
		t.log.Debug("handle_split: root is full, growing new root")
		var err error
		it, err = t.growRoot(c, it)
		if err != nil {
			return Iterator{}, err
		}
	}

	for depth := it.GetDepth(); depth >= 2; depth-- {
		childFull := false
		if depth == 2 {
			childFull = it.leaf.node.AtMaxCapacity(t.cfg.Leaf)
		} else {
			childFull = it.internalAt(depth - 1).node.AtMaxCapacity(t.cfg.Internal)
		}
		if !childFull {
			continue
		}
		t.log.Debug("handle_split: splitting child", "depth", depth-1)
		if depth == 2 {
			var err error
			it, err = t.splitLeafLevel(c, it)
			if err != nil {
				return Iterator{}, err
			}
			continue
		}
		var err error
		it, err = t.splitAtDepth(c, it, depth-1)
		if err != nil {
			return Iterator{}, err
		}
	}
	return it, nil
}

// growRoot allocates a new internal root with a single entry pointing at
// the current root, increasing the tree's depth by one: the new root is
// initialized with a single entry (MIN, old_root_location).
func (t *Tree) growRoot(c extent.OpContext, it Iterator) (Iterator, error) {
	newDepth := lbaval.Depth(t.rootDepth(c) + 1)
	newRoot := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: newDepth})
	newRoot.MarkPending()
	if err := c.Cache.AllocNew(c.Tx, newRoot); err != nil {
		return Iterator{}, err
	}
	newRoot.InitRoot(t.root.Paddr)
	newRoot.Pin().SetRange(newRoot.meta)
	c.Pins.Add(newRoot.Pin())

	t.setRoot(lbaval.RootDescriptor{Paddr: newRoot.Paddr(), Depth: newDepth})
	if c.Tx != nil {
		c.Tx.Stats().Depth = newDepth
	}

	ret := it
	ret.internal = append(append([]internalPos(nil), it.internal...), internalPos{node: newRoot, pos: 0})
	return ret, nil
}

// splitAtDepth splits the pending-duplicated internal node at depth,
// repoints its entry in the parent at depth+1 (which must exist:
// handleSplit grows the root first, so depth is never the root) to the
// left half, inserts the right half after it, and moves the iterator to
// whichever half now holds its position.
func (t *Tree) splitAtDepth(c extent.OpContext, it Iterator, depth int) (Iterator, error) {
	ip := it.internalAt(depth)
	node, err := t.pendingInternal(c, ip.node)
	if err != nil {
		return Iterator{}, err
	}

	left, right, pivot, err := node.MakeSplitChildren(c)
	if err != nil {
		return Iterator{}, err
	}
	c.Cache.Retire(c.Tx, node)

	parent := it.internalAt(depth + 1)
	parentNode, err := t.pendingInternal(c, parent.node)
	if err != nil {
		return Iterator{}, err
	}
	parentNode.Replace(parent.pos, left.meta.Begin, left.Paddr())
	parentNode.Insert(parent.pos+1, pivot, right.Paddr())

	ret := it
	ret.internal = append([]internalPos(nil), it.internal...)
	ret.internal[depth-1] = internalPos{node: parentNode, pos: parent.pos}
	// Unlike the leaf level, an internal position names an existing
	// child, so pos == left.Size() is right's first child.
	if ip.pos < left.Size() {
		ret.internal[depth-2] = internalPos{node: left, pos: ip.pos}
	} else {
		ret.internal[depth-2] = internalPos{node: right, pos: ip.pos - left.Size()}
		ret.internal[depth-1].pos++
	}
	return ret, nil
}

// splitLeafLevel mirrors splitAtDepth for the leaf itself.
func (t *Tree) splitLeafLevel(c extent.OpContext, it Iterator) (Iterator, error) {
	leaf, err := t.pendingLeaf(c, it.leaf.node)
	if err != nil {
		return Iterator{}, err
	}
	left, right, pivot, err := leaf.MakeSplitChildren(c)
	if err != nil {
		return Iterator{}, err
	}
	c.Cache.Retire(c.Tx, leaf)

	parent := it.internalAt(2)
	parentNode, err := t.pendingInternal(c, parent.node)
	if err != nil {
		return Iterator{}, err
	}
	parentNode.Replace(parent.pos, left.meta.Begin, left.Paddr())
	parentNode.Insert(parent.pos+1, pivot, right.Paddr())

	ret := it
	ret.internal = append([]internalPos(nil), it.internal...)
	ret.internal[0] = internalPos{node: parentNode, pos: parent.pos}
	if it.leaf.pos <= left.Size() {
		ret.leaf = leafPos{node: left, pos: it.leaf.pos}
	} else {
		ret.leaf = leafPos{node: right, pos: it.leaf.pos - left.Size()}
		ret.internal[0].pos++
	}
	return ret, nil
}

// Update overwrites the value at the iterator's position, taking a
// pending duplicate of its leaf first.
func (t *Tree) Update(c extent.OpContext, it Iterator, val lbaval.MapVal) (Iterator, error) {
	invariant(!it.IsEnd(), "Update called on end() iterator")
	leaf, err := t.pendingLeaf(c, it.leaf.node)
	if err != nil {
		return Iterator{}, err
	}
	leaf.Update(it.leaf.pos, val)
	it.leaf = leafPos{node: leaf, pos: it.leaf.pos}
	return it, nil
}

// Remove deletes the entry at the iterator's position and rebalances
// bottom-up if the leaf drops to or below min capacity. It returns an
// iterator positioned at the entry that followed the removed one.
func (t *Tree) Remove(c extent.OpContext, it Iterator) (Iterator, error) {
	invariant(!it.IsEnd(), "Remove called on end() iterator")
	t.log.Debug("remove", "key", it.Key().String())
	leaf, err := t.pendingLeaf(c, it.leaf.node)
	if err != nil {
		return Iterator{}, err
	}
	pos := it.leaf.pos
	leaf.Remove(pos)
	it.leaf = leafPos{node: leaf, pos: pos}

	if leaf.AtMinCapacity(t.cfg.Leaf) && it.GetDepth() > 1 {
		it, err = t.handleMerge(c, it)
		if err != nil {
			return Iterator{}, err
		}
	}
	if it.IsEnd() {
		// The removed entry was the last one in its leaf: step onto the
		// next leaf's first entry, or stay at end() if there is none.
		return t.Next(c, it)
	}
	return it, nil
}

// handleMerge walks up from the leaf, merging or rebalancing against a
// sibling wherever a node has fallen to or below min capacity, and
// collapses the root once it is reduced to a single internal entry. It
// returns an iterator repositioned onto the surviving node that now
// holds the entry following whatever was removed.
func (t *Tree) handleMerge(c extent.OpContext, it Iterator) (Iterator, error) {
	depth := 1
	for depth <= it.GetDepth() {
		var atMin bool
		if depth == 1 {
			atMin = it.leaf.node.AtMinCapacity(t.cfg.Leaf)
		} else {
			atMin = it.internalAt(depth).node.AtMinCapacity(t.cfg.Internal)
		}
		if !atMin || depth == it.GetDepth() {
			break
		}

		t.log.Debug("handle_merge: rebalancing", "depth", depth)
		var err error
		it, err = t.rebalanceAtDepth(c, it, depth)
		if err != nil {
			return Iterator{}, err
		}
		depth++
	}

	if it.GetDepth() > 1 && it.internalAt(it.GetDepth()).node.Size() == 1 {
		t.log.Debug("handle_merge: collapsing root")
		var err error
		it, err = t.collapseRoot(c, it)
		if err != nil {
			return Iterator{}, err
		}
	}
	return it, nil
}

// rebalanceAtDepth merges or redistributes the node at depth against one
// sibling in the parent at depth+1, preferring the right sibling and
// falling back to the left sibling only when the node is the rightmost
// child of its parent. The returned iterator's positions at depth and
// depth+1 are rewritten to track wherever the previously-held position
// ended up.
func (t *Tree) rebalanceAtDepth(c extent.OpContext, it Iterator, depth int) (Iterator, error) {
	if depth == 1 {
		return t.rebalanceLeaf(c, it)
	}
	return t.rebalanceInternal(c, it, depth)
}

func (t *Tree) rebalanceLeaf(c extent.OpContext, it Iterator) (Iterator, error) {
	parent := it.internalAt(2)
	parentNode, err := t.pendingInternal(c, parent.node)
	if err != nil {
		return Iterator{}, err
	}

	hasLeft := parent.pos > 0
	hasRight := parent.pos+1 < parentNode.Size()
	if !hasLeft && !hasRight {
		return it, nil
	}

	if hasRight {
		rightPaddr := parentNode.At(parent.pos + 1).Child.ResolveRelativeTo(parentNode.Paddr())
		right, err := t.pendingLeafAt(c, rightPaddr)
		if err != nil {
			return Iterator{}, err
		}
		return t.mergeOrBalanceLeaves(c, it, parentNode, parent.pos, it.leaf.node, right, true)
	}

	leftPaddr := parentNode.At(parent.pos - 1).Child.ResolveRelativeTo(parentNode.Paddr())
	left, err := t.pendingLeafAt(c, leftPaddr)
	if err != nil {
		return Iterator{}, err
	}
	return t.mergeOrBalanceLeaves(c, it, parentNode, parent.pos-1, left, it.leaf.node, false)
}

// mergeOrBalanceLeaves chooses between a full merge (when the combined
// size fits within max_capacity) and a balanced redistribution. leftIdx
// is the parent position of the left sibling of
// the pair; cursorOnLeft tells us whether it.leaf.pos currently refers
// into left or right so the returned iterator can be repointed.
func (t *Tree) mergeOrBalanceLeaves(c extent.OpContext, it Iterator, parentNode *InternalNode, leftIdx int, left, right *LeafNode, cursorOnLeft bool) (Iterator, error) {
	cursorPos := it.leaf.pos

	if left.Size()+right.Size() <= t.cfg.Leaf.Max {
		merged, err := left.MakeFullMerge(c, right)
		if err != nil {
			return Iterator{}, err
		}
		c.Cache.Retire(c.Tx, left)
		c.Cache.Retire(c.Tx, right)
		parentNode.Replace(leftIdx, merged.meta.Begin, merged.Paddr())
		parentNode.Remove(leftIdx + 1)

		ret := it
		ret.internal = append([]internalPos(nil), it.internal...)
		ret.internal[0] = internalPos{node: parentNode, pos: leftIdx}
		if cursorOnLeft {
			ret.leaf = leafPos{node: merged, pos: cursorPos}
		} else {
			ret.leaf = leafPos{node: merged, pos: left.Size() + cursorPos}
		}
		return ret, nil
	}

	l2, r2, pivot, err := left.MakeBalanced(c, right, cursorOnLeft)
	if err != nil {
		return Iterator{}, err
	}
	c.Cache.Retire(c.Tx, left)
	c.Cache.Retire(c.Tx, right)
	parentNode.Replace(leftIdx, l2.meta.Begin, l2.Paddr())
	parentNode.Replace(leftIdx+1, pivot, r2.Paddr())

	ret := it
	ret.internal = append([]internalPos(nil), it.internal...)
	ret.internal[0] = internalPos{node: parentNode, pos: leftIdx}
	absPos := cursorPos
	if !cursorOnLeft {
		absPos += left.Size()
	}
	if absPos < l2.Size() {
		ret.leaf = leafPos{node: l2, pos: absPos}
	} else {
		ret.leaf = leafPos{node: r2, pos: absPos - l2.Size()}
		ret.internal[0].pos++
	}
	return ret, nil
}

func (t *Tree) rebalanceInternal(c extent.OpContext, it Iterator, depth int) (Iterator, error) {
	parent := it.internalAt(depth + 1)
	parentNode, err := t.pendingInternal(c, parent.node)
	if err != nil {
		return Iterator{}, err
	}
	node, err := t.pendingInternal(c, it.internalAt(depth).node)
	if err != nil {
		return Iterator{}, err
	}

	hasLeft := parent.pos > 0
	hasRight := parent.pos+1 < parentNode.Size()
	if !hasLeft && !hasRight {
		ret := it
		ret.internal = append([]internalPos(nil), it.internal...)
		ret.internal[depth-2] = internalPos{node: node, pos: it.internalAt(depth).pos}
		return ret, nil
	}

	cursorPos := it.internalAt(depth).pos
	var left, right *InternalNode
	var leftIdx int
	var cursorOnLeft bool
	if hasRight {
		rightPaddr := parentNode.At(parent.pos + 1).Child.ResolveRelativeTo(parentNode.Paddr())
		right, err = t.pendingInternalAt(c, lbaval.Depth(depth), rightPaddr)
		if err != nil {
			return Iterator{}, err
		}
		left = node
		leftIdx = parent.pos
		cursorOnLeft = true
	} else {
		leftPaddr := parentNode.At(parent.pos - 1).Child.ResolveRelativeTo(parentNode.Paddr())
		left, err = t.pendingInternalAt(c, lbaval.Depth(depth), leftPaddr)
		if err != nil {
			return Iterator{}, err
		}
		right = node
		leftIdx = parent.pos - 1
		cursorOnLeft = false
	}

	if left.Size()+right.Size() <= t.cfg.Internal.Max {
		merged, err := left.MakeFullMerge(c, right)
		if err != nil {
			return Iterator{}, err
		}
		c.Cache.Retire(c.Tx, left)
		c.Cache.Retire(c.Tx, right)
		parentNode.Replace(leftIdx, merged.meta.Begin, merged.Paddr())
		parentNode.Remove(leftIdx + 1)

		ret := it
		ret.internal = append([]internalPos(nil), it.internal...)
		ret.internal[depth-1] = internalPos{node: parentNode, pos: leftIdx}
		if cursorOnLeft {
			ret.internal[depth-2] = internalPos{node: merged, pos: cursorPos}
		} else {
			ret.internal[depth-2] = internalPos{node: merged, pos: left.Size() + cursorPos}
		}
		return ret, nil
	}

	l2, r2, pivot, err := left.MakeBalanced(c, right, cursorOnLeft)
	if err != nil {
		return Iterator{}, err
	}
	c.Cache.Retire(c.Tx, left)
	c.Cache.Retire(c.Tx, right)
	parentNode.Replace(leftIdx, l2.meta.Begin, l2.Paddr())
	parentNode.Replace(leftIdx+1, pivot, r2.Paddr())

	ret := it
	ret.internal = append([]internalPos(nil), it.internal...)
	ret.internal[depth-1] = internalPos{node: parentNode, pos: leftIdx}
	absPos := cursorPos
	if !cursorOnLeft {
		absPos += left.Size()
	}
	if absPos < l2.Size() {
		ret.internal[depth-2] = internalPos{node: l2, pos: absPos}
	} else {
		ret.internal[depth-2] = internalPos{node: r2, pos: absPos - l2.Size()}
		ret.internal[depth-1].pos++
	}
	return ret, nil
}

// collapseRoot drops the top internal level once it holds only a single
// entry, making its sole child the new root and decreasing depth by one.
func (t *Tree) collapseRoot(c extent.OpContext, it Iterator) (Iterator, error) {
	oldRoot := it.internalAt(it.GetDepth())
	childPaddr := oldRoot.node.At(0).Child.ResolveRelativeTo(oldRoot.node.Paddr())
	c.Cache.Retire(c.Tx, oldRoot.node)

	newDepth := lbaval.Depth(t.rootDepth(c) - 1)
	t.setRoot(lbaval.RootDescriptor{Paddr: childPaddr, Depth: newDepth})
	if c.Tx != nil {
		c.Tx.Stats().Depth = newDepth
	}

	ret := it
	ret.internal = it.internal[:len(it.internal)-1]
	return ret, nil
}

// pendingLeaf returns n itself if it is already pending, otherwise a
// cache-duplicated pending copy: every mutation first duplicates for
// write through the cache.
func (t *Tree) pendingLeaf(c extent.OpContext, n *LeafNode) (*LeafNode, error) {
	if n.IsPending() {
		return n, nil
	}
	dup, err := c.Cache.DuplicateForWrite(c.Tx, n)
	if err != nil {
		return nil, err
	}
	out := dup.(*LeafNode)
	out.Pin().SetRange(out.meta)
	c.Pins.Add(out.Pin())
	return out, nil
}

func (t *Tree) pendingInternal(c extent.OpContext, n *InternalNode) (*InternalNode, error) {
	if n.IsPending() {
		return n, nil
	}
	dup, err := c.Cache.DuplicateForWrite(c.Tx, n)
	if err != nil {
		return nil, err
	}
	out := dup.(*InternalNode)
	out.Pin().SetRange(out.meta)
	c.Pins.Add(out.Pin())
	return out, nil
}

func (t *Tree) pendingLeafAt(c extent.OpContext, paddr laddr.Paddr) (*LeafNode, error) {
	n, err := t.getLeafNode(c, paddr)
	if err != nil {
		return nil, err
	}
	return t.pendingLeaf(c, n)
}

func (t *Tree) pendingInternalAt(c extent.OpContext, depth lbaval.Depth, paddr laddr.Paddr) (*InternalNode, error) {
	n, err := t.getInternalNode(c, depth, paddr)
	if err != nil {
		return nil, err
	}
	return t.pendingInternal(c, n)
}

// InitCachedExtent is called by the cache immediately after a block
// surfaces from disk for the first time in this transaction, giving the
// tree a chance to judge whether it is still live against the tree's
// current shape and, if so, register its pin. Dispatch is
// on e.Kind(): a logical data extent is live iff the mapping still
// points at it; a leaf or internal node is live iff the current descent
// to its own key range still resolves to this exact node object. Other
// kinds pass through unchanged. A non-live extent is dropped from the
// cache and (nil, nil) is returned; callers must treat a nil return as
// "this extent no longer exists."
func (t *Tree) InitCachedExtent(c extent.OpContext, e extent.Extent) (extent.Extent, error) {
	switch e.Kind() {
	case extent.KindLogical:
		return t.initCachedLogicalExtent(c, e.(extent.LogicalExtent))
	case extent.KindLeaf:
		return t.initCachedLeafExtent(c, e.(*LeafNode))
	case extent.KindInternal:
		return t.initCachedInternalExtent(c, e.(*InternalNode))
	default:
		return e, nil
	}
}

// initCachedLogicalExtent handles the logical-data-extent case:
// lower_bound to the extent's own laddr; live iff an entry exists there
// whose mapped paddr matches the extent's own.
func (t *Tree) initCachedLogicalExtent(c extent.OpContext, e extent.LogicalExtent) (extent.Extent, error) {
	it, err := t.LowerBound(c, e.LAddr(), nil)
	if err != nil {
		return nil, err
	}
	live := !it.IsEnd() && it.Key() == e.LAddr() && it.Val().Paddr == e.Paddr()
	if !live {
		c.Cache.DropFromCache(e)
		return nil, nil
	}
	invariant(it.Val().Length == e.Length(), "init_cached_extent: logical extent at %v has length %d, mapping says %d", e.LAddr(), e.Length(), it.Val().Length)
	e.Pin().SetRangeFrom(it.Pin())
	c.Pins.Add(e.Pin())
	return e, nil
}

// initCachedLeafExtent handles the leaf-node case: lower_bound to the
// leaf's own meta.Begin; live iff the iterator's leaf is exactly n.
func (t *Tree) initCachedLeafExtent(c extent.OpContext, n *LeafNode) (extent.Extent, error) {
	it, err := t.LowerBound(c, n.Meta().Begin, nil)
	if err != nil {
		return nil, err
	}
	if it.LeafNode() != n {
		c.Cache.DropFromCache(n)
		return nil, nil
	}
	n.Pin().SetRange(n.Meta())
	c.Pins.Add(n.Pin())
	return n, nil
}

// initCachedInternalExtent handles the internal-node case: lower_bound
// to the node's own meta.Begin; live iff the iterator at meta.Depth
// points at exactly n.
func (t *Tree) initCachedInternalExtent(c extent.OpContext, n *InternalNode) (extent.Extent, error) {
	it, err := t.LowerBound(c, n.Meta().Begin, nil)
	if err != nil {
		return nil, err
	}
	depth := int(n.Meta().Depth)
	if depth > it.GetDepth() || it.internalAt(depth).node != n {
		c.Cache.DropFromCache(n)
		return nil, nil
	}
	n.Pin().SetRange(n.Meta())
	c.Pins.Add(n.Pin())
	return n, nil
}

// RewriteLBAExtent relocates a tree node (leaf or internal) to a new
// physical address without changing its content — background space
// reclamation moving a still-live block out of a segment being emptied,
// outside the tree's own insert/remove path. A copy of the node is
// allocated at a fresh address, its embedded relative child addresses
// are rebased so they still resolve to the same absolute children, the
// single pointer that targeted the old address (the root descriptor
// when the node is the root, otherwise one parent entry) is retargeted,
// and the original is retired. The relocated node is returned; any
// iterator produced before the rewrite must not be reused.
func (t *Tree) RewriteLBAExtent(c extent.OpContext, n Node) (Node, error) {
	meta := n.Meta()
	oldPaddr := n.Paddr()

	clone := n.Clone()
	if err := c.Cache.AllocNew(c.Tx, clone); err != nil {
		return nil, err
	}
	moved := clone.(Node)
	moved.Pin().SetRange(meta)
	c.Pins.Add(moved.Pin())
	if in, ok := moved.(*InternalNode); ok {
		in.ResolveRelativeAddrs(laddr.SubPaddr(oldPaddr, moved.Paddr()))
	}

	t.log.Debug("rewrite_lba_extent", "old_paddr", oldPaddr.String(), "new_paddr", moved.Paddr().String(), "depth", meta.Depth)
	if err := t.updateInternalMapping(c, meta, oldPaddr, moved.Paddr()); err != nil {
		return nil, err
	}
	c.Cache.Retire(c.Tx, n)
	return moved, nil
}

// updateInternalMapping retargets the one pointer at the rewritten
// node's old address: the root descriptor when the node sits at root
// depth, otherwise the parent entry at depth+1 whose pivot equals the
// node's meta.Begin. Both branches assert the stored key/address still
// match before mutating; a mismatch means the tree and the cache have
// disagreed about what moved, which is fatal.
func (t *Tree) updateInternalMapping(c extent.OpContext, meta lbaval.NodeMeta, oldPaddr, newPaddr laddr.Paddr) error {
	if meta.Depth == lbaval.Depth(t.rootDepth(c)) {
		invariant(meta.Begin == laddr.Min, "rewrite_lba_extent: node at root depth has begin %v, expected MIN", meta.Begin)
		invariant(t.root.Paddr == oldPaddr, "rewrite_lba_extent: root paddr mismatch: have %s, expected %s", t.root.Paddr, oldPaddr)
		t.setRoot(lbaval.RootDescriptor{Paddr: newPaddr, Depth: t.root.Depth})
		return nil
	}

	it, err := t.LowerBound(c, meta.Begin, nil)
	if err != nil {
		return err
	}
	parent := it.internalAt(int(meta.Depth) + 1)
	parentNode, err := t.pendingInternal(c, parent.node)
	if err != nil {
		return err
	}
	invariant(parentNode.At(parent.pos).Pivot == meta.Begin, "rewrite_lba_extent: parent pivot mismatch: have %v, expected %v", parentNode.At(parent.pos).Pivot, meta.Begin)
	got := parentNode.At(parent.pos).Child.ResolveRelativeTo(parentNode.Paddr())
	invariant(got == oldPaddr, "rewrite_lba_extent: parent child paddr mismatch: have %s, expected %s", got, oldPaddr)
	parentNode.SetChild(parent.pos, newPaddr)
	return nil
}
