package memstore

import (
	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/pin"
)

// DataExtent is a reference extent.LogicalExtent: the payload a leaf
// entry's Paddr points at, carrying just enough to exercise the tree's
// liveness check — its logical key, byte length, and the usual Extent
// bookkeeping. A real block cache would carry the actual backing bytes;
// memstore never reads or writes them, so DataExtent omits them
// entirely.
type DataExtent struct {
	paddr   laddr.Paddr
	laddr   laddr.Laddr
	length  uint32
	pending bool
	pin     pin.Pin
}

// NewDataExtent constructs a DataExtent for the logical range beginning
// at addr, length bytes long. It is not yet allocated; pass it to
// Store.AllocNew (or DuplicateForWrite an existing one) before use.
func NewDataExtent(addr laddr.Laddr, length uint32) *DataExtent {
	return &DataExtent{laddr: addr, length: length}
}

func (e *DataExtent) Kind() extent.Kind      { return extent.KindLogical }
func (e *DataExtent) Paddr() laddr.Paddr     { return e.paddr }
func (e *DataExtent) SetPaddr(p laddr.Paddr) { e.paddr = p }
func (e *DataExtent) IsPending() bool        { return e.pending }
func (e *DataExtent) MarkPending()           { e.pending = true }
func (e *DataExtent) Pin() *pin.Pin          { return &e.pin }
func (e *DataExtent) LAddr() laddr.Laddr     { return e.laddr }
func (e *DataExtent) Length() uint32         { return e.length }

// Clone returns an independent pending-ready copy.
func (e *DataExtent) Clone() extent.Extent {
	return &DataExtent{paddr: e.paddr, laddr: e.laddr, length: e.length}
}

var _ extent.LogicalExtent = (*DataExtent)(nil)
