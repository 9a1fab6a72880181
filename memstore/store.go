package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
)

// Store errors.
var (
	ErrExtentNotFound       = errors.New("memstore: extent not found")
	ErrTransactionNotActive = errors.New("memstore: transaction is not active")
)

// Store is an in-process extent.Cache backed by a plain map keyed on
// absolute physical address. It hands out monotonically increasing
// addresses on AllocNew and keeps every transaction's writes isolated in
// that Transaction's own pending map until Commit, mirroring the
// shadow-page-then-commit workflow without a real page manager or WAL
// behind it.
type Store struct {
	mu      sync.RWMutex
	extents map[uint64]extent.Extent

	nextAddr uint64
	nextTxID uint64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		extents: make(map[uint64]extent.Extent),
	}
}

// Begin starts a new Transaction against this store.
func (s *Store) Begin() *Transaction {
	id := atomic.AddUint64(&s.nextTxID, 1)
	return newTransaction(id, s)
}

// AllocNew assigns e a fresh absolute physical address, marks it pending,
// and stages it in tx's pending set. The extent is invisible to other
// transactions' Get calls until tx.Commit.
func (s *Store) AllocNew(txv extent.Transaction, e extent.Extent) error {
	tx, err := s.asTransaction(txv)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return ErrTransactionNotActive
	}

	addr := atomic.AddUint64(&s.nextAddr, 1)
	e.SetPaddr(laddr.AbsolutePaddr(addr))
	e.MarkPending()
	tx.pending[addr] = e
	return nil
}

// Get returns the extent at p, preferring tx's own pending copy over the
// store's committed state so a transaction always sees its own writes.
func (s *Store) Get(ctx context.Context, txv extent.Transaction, p laddr.Paddr) (extent.Extent, error) {
	tx, err := s.asTransaction(txv)
	if err != nil {
		return nil, err
	}
	tx.mu.Lock()
	if e, ok := tx.pending[p.Abs()]; ok {
		tx.mu.Unlock()
		return e, nil
	}
	tx.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.extents[p.Abs()]
	if !ok {
		return nil, ErrExtentNotFound
	}
	return e, nil
}

// DuplicateForWrite returns a pending clone of e shadowing the same
// address, leaving the committed version untouched until tx commits.
// Any pointer into the committed tree that referenced e stays valid: a
// Get through tx resolves to the shadow, a Get through any other
// transaction still resolves to the committed version. Idempotent on an
// extent already pending in tx: whatever tx holds at e's address is
// returned unchanged.
func (s *Store) DuplicateForWrite(txv extent.Transaction, e extent.Extent) (extent.Extent, error) {
	tx, err := s.asTransaction(txv)
	if err != nil {
		return nil, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return nil, ErrTransactionNotActive
	}
	addr := e.Paddr().Abs()
	if shadow, ok := tx.pending[addr]; ok {
		return shadow, nil
	}
	dup := e.Clone()
	dup.MarkPending()
	tx.pending[addr] = dup
	return dup, nil
}

// Retire queues e's address for deletion from the store once tx commits
// and clears its pin. If e was only ever pending within tx (never
// committed), the address simply never appears in the store.
func (s *Store) Retire(txv extent.Transaction, e extent.Extent) {
	tx, err := s.asTransaction(txv)
	if err != nil {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	addr := e.Paddr().Abs()
	delete(tx.pending, addr)
	tx.retired[addr] = struct{}{}
	e.Pin().Clear()
}

// DropFromCache evicts an extent the tree judged non-live. memstore has
// no separate in-memory cache distinct from the committed map, so only
// the pin state needs clearing.
func (s *Store) DropFromCache(e extent.Extent) {
	e.Pin().Clear()
}

func (s *Store) asTransaction(txv extent.Transaction) (*Transaction, error) {
	tx, ok := txv.(*Transaction)
	if !ok {
		return nil, errors.New("memstore: transaction is not a *memstore.Transaction")
	}
	return tx, nil
}

var _ extent.Cache = (*Store)(nil)
