package memstore

import (
	"sync"

	"github.com/obalba/lbatree/extent"
)

// TxState is the lifecycle state of a Transaction.
type TxState int

const (
	// TxActive indicates the transaction is still collecting reads and
	// writes.
	TxActive TxState = iota
	// TxCommitted indicates Commit has applied the transaction's pending
	// writes and retirements to the store.
	TxCommitted
	// TxAborted indicates Abort has discarded the transaction's pending
	// writes without touching the store.
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Transaction is the memstore implementation of extent.Transaction. It
// tracks a tree's depth across the mutations made within it and the set
// of pending/retired extents that Commit or Abort resolve against the
// backing Store.
type Transaction struct {
	id    uint64
	store *Store

	mu      sync.Mutex
	state   TxState
	stats   extent.Stats
	pending map[uint64]extent.Extent
	retired map[uint64]struct{}
}

func newTransaction(id uint64, store *Store) *Transaction {
	return &Transaction{
		id:      id,
		store:   store,
		state:   TxActive,
		pending: make(map[uint64]extent.Extent),
		retired: make(map[uint64]struct{}),
	}
}

// ID returns the transaction's identifier, unique within its Store.
func (t *Transaction) ID() uint64 { return t.id }

// Stats returns the mutable per-transaction stats block, letting callers
// (principally lbatree.Tree) track the tree's depth as it changes within
// this transaction before it's committed to the store-wide root.
func (t *Transaction) Stats() *extent.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.stats
}

// IsActive reports whether the transaction has neither committed nor
// aborted.
func (t *Transaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TxActive
}

// Commit applies every pending extent write and every retirement queued
// during the transaction's lifetime to the store, atomically from the
// perspective of any later Get call.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxActive {
		return ErrTransactionNotActive
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for paddr, e := range t.pending {
		t.store.extents[paddr] = e
	}
	for paddr := range t.retired {
		delete(t.store.extents, paddr)
	}

	t.state = TxCommitted
	return nil
}

// Abort discards every pending write queued during the transaction's
// lifetime without touching the store.
func (t *Transaction) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxActive {
		return
	}
	t.pending = nil
	t.retired = nil
	t.state = TxAborted
}
