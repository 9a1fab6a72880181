// Package lbatree implements a transactional, copy-on-write B+tree
// mapping a logical address space (laddr) to value records describing
// where, at what physical address, and for how many bytes a logical
// range is backed on disk.
//
// # Overview
//
// The tree is the indexing engine of a storage layer. All mutation goes
// through an external block cache (package extent) that performs
// copy-on-write: a node is never edited in place, only a "pending"
// duplicate is, and the original is retired at commit preparation.
//
//	t, err := lbatree.New(cfg, obalog.NewNop())
//	root, err := t.Mkfs(c)
//	iter, err := t.LowerBound(c, laddr.Laddr(10), nil)
//	iter, inserted, err := t.Insert(c, iter, laddr.Laddr(10), val)
//
// # Node kinds
//
// A node is either a Leaf (sorted key/value entries) or an Internal node
// (sorted pivot/child-address entries). Both carry a NodeMeta describing
// the half-open key range they cover and their depth.
//
// # Iterator
//
// An Iterator is a stack of NodePositions, one per level from the root
// to a leaf. It is both the lookup result and the unit mutations are
// applied through.
//
// # Root descriptor
//
// Tree holds only the current root descriptor and a dirty flag. Any
// operation that changes the root's address or depth (Mkfs, a root
// split/collapse, or a rewrite of the root node itself) sets RootDirty;
// the caller must persist Root() and call ClearRootDirty before the
// enclosing transaction commits.
package lbatree
