// Package pin implements the back-reference/pin primitive consumed by the
// lbatree engine. A Pin is not ownership: it is a back-index from a
// cached extent to the positions in higher-level caches that depend on
// it, so the cache knows an extent may not be dropped while anything
// still points at it.
package pin

import (
	"container/list"

	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
)

// Pin is the back-reference a node keeps while it is live. SetRange is
// idempotent: calling it again (e.g. on a re-read within the same
// transaction) simply updates the recorded range.
type Pin struct {
	begin laddr.Laddr
	end   laddr.Laddr
	elem  *list.Element // non-nil once linked into a Set
	set   *Set
}

// SetRange records the key range this pin covers, taken from a node's
// meta.
func (p *Pin) SetRange(meta lbaval.NodeMeta) {
	p.begin = meta.Begin
	p.end = meta.End
}

// Range returns the last range recorded by SetRange.
func (p *Pin) Range() (begin, end laddr.Laddr) {
	return p.begin, p.end
}

// SetRangeFrom copies the range currently recorded on other, used when an
// extent's liveness borrows the range of the node that located it rather
// than describing its own.
func (p *Pin) SetRangeFrom(other *Pin) {
	p.begin, p.end = other.Range()
}

// IsLinked reports whether this pin is currently registered in a Set.
func (p *Pin) IsLinked() bool {
	return p.elem != nil
}

// Clear unlinks the pin from its set, if any; called on retire/drop.
func (p *Pin) Clear() {
	if p.elem == nil {
		return
	}
	p.set.list.Remove(p.elem)
	p.elem = nil
	p.set = nil
}

// Set is the per-transaction/per-cache collection of live pins. Backed
// by container/list so membership (IsLinked) and removal are O(1).
type Set struct {
	list *list.List
}

// NewSet creates an empty pin set.
func NewSet() *Set {
	return &Set{list: list.New()}
}

// Add registers p in the set. Idempotent: adding an already-linked pin is
// a no-op, matching the tree's own "if neither pending nor already
// linked" check before it registers a pin.
func (s *Set) Add(p *Pin) {
	if p.IsLinked() {
		return
	}
	p.elem = s.list.PushBack(p)
	p.set = s
}

// Len returns the number of live pins currently held.
func (s *Set) Len() int {
	return s.list.Len()
}

// Pins returns the currently linked pins in insertion order. Intended for
// diagnostics and tests, not the hot path.
func (s *Set) Pins() []*Pin {
	out := make([]*Pin, 0, s.list.Len())
	for e := s.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Pin))
	}
	return out
}
