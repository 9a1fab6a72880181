// Package extent defines the external contracts the lbatree engine
// consumes but never implements: the block cache, the transaction, and
// the common capability every cached node exposes to the cache. These
// are out-of-scope collaborators, consumed by contract only; this
// package holds nothing but interfaces plus the small OpContext value
// that threads them through every tree operation. A concrete reference
// implementation lives in package memstore.
package extent

import (
	"context"

	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/pin"
)

// Kind tags which concrete payload an Extent carries, so the cache and
// the tree's liveness check can dispatch without the cache needing to
// know the tree's concrete node types.
type Kind uint8

const (
	// KindLeaf is a tree leaf node.
	KindLeaf Kind = iota
	// KindInternal is a tree internal node.
	KindInternal
	// KindLogical is a logical data extent indexed by a leaf entry, not
	// itself a tree node.
	KindLogical
	// KindOther is anything the tree does not interpret; it is passed
	// through unchanged.
	KindOther
)

// Extent is the capability every cached block exposes to the tree and
// cache: its kind, its physical address, its pending/pin state, and the
// ability to clone itself for copy-on-write duplication. The tree's
// concrete LeafNode and InternalNode types (package lbatree) implement
// this interface; Extent itself never depends on them — a sum type
// accessed by kind tag, not runtime polymorphism reaching back into the
// tree package.
type Extent interface {
	// Kind reports which concrete payload this extent carries.
	Kind() Kind
	// Paddr returns the extent's current physical address. Zero value
	// (laddr.Paddr{}) before AllocNew assigns one.
	Paddr() laddr.Paddr
	// SetPaddr is called by the cache when the extent is allocated,
	// replacing any address it already carries. A duplicate for write
	// keeps the address copied by Clone.
	SetPaddr(p laddr.Paddr)
	// IsPending reports whether this extent is mutable within the
	// current transaction.
	IsPending() bool
	// MarkPending flips the extent to pending; called by the cache when
	// handing back a freshly allocated or duplicated extent.
	MarkPending()
	// Pin returns the extent's pin handle.
	Pin() *pin.Pin
	// Clone returns a deep, independent copy used by DuplicateForWrite
	// to implement copy-on-write.
	Clone() Extent
}

// LogicalExtent is a data extent backing a mapped logical range: the
// bytes a leaf entry's Paddr points at, not a tree node itself. The
// tree only ever needs to read its key
// and byte length to judge liveness against the mapping; everything else
// about its payload is opaque to it.
type LogicalExtent interface {
	Extent
	// LAddr is the logical key this extent is indexed under.
	LAddr() laddr.Laddr
	// Length is the extent's length in bytes, checked against the
	// mapping's lbaval.MapVal.Length on liveness.
	Length() uint32
}

// Transaction is the per-operation mutation/statistics carrier the tree
// threads through every call but never constructs. The tree only ever
// touches the LBA tree stats;
// everything else about a transaction (WAL, conflict detection, commit)
// is the caller's concern.
type Transaction interface {
	// Stats returns the mutable LBA-tree statistics record for this
	// transaction; the tree updates Depth on mkfs, root-split, and
	// root-collapse.
	Stats() *Stats
}

// Stats is the subset of per-transaction statistics the tree mutates.
type Stats struct {
	Depth lbaval.Depth
}

// Cache is the external block cache contract the tree consumes. Every
// mutating method may suspend; Go models that as an ordinary blocking
// call taking a context.Context.
type Cache interface {
	// AllocNew assigns e a fresh physical address, marks it pending, and
	// registers it with tx. Any address e already carries (a clone of a
	// node being relocated) is overwritten.
	AllocNew(tx Transaction, e Extent) error

	// Get returns the extent at p: tx's pending duplicate if one exists,
	// otherwise the committed version, reading through to the backing
	// store if necessary (a suspension point).
	Get(ctx context.Context, tx Transaction, p laddr.Paddr) (Extent, error)

	// DuplicateForWrite returns a pending, mutable copy of e. Idempotent:
	// calling it on an already-pending extent returns e unchanged.
	DuplicateForWrite(tx Transaction, e Extent) (Extent, error)

	// Retire marks e's current version for deallocation at commit
	// preparation.
	Retire(tx Transaction, e Extent)

	// DropFromCache evicts e, which was spuriously surfaced from disk
	// and found non-live by the tree's liveness check.
	DropFromCache(e Extent)
}

// OpContext aggregates the external collaborators every tree operation
// takes by value: the per-operation cancellation context, the
// transaction, the cache, and the pin set. The tree owns nothing of it.
type OpContext struct {
	Ctx   context.Context
	Tx    Transaction
	Cache Cache
	Pins  *pin.Set
}
