package lbatree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/memstore"
)

func TestInitCachedExtentLogicalLiveAndStale(t *testing.T) {
	tr, c := newTestTree(t)

	it, err := tr.LowerBound(c, laddr.Laddr(10), nil)
	require.NoError(t, err)
	_, _, err = tr.Insert(c, it, laddr.Laddr(10), val(1))
	require.NoError(t, err)

	// A data extent whose paddr matches the current mapping is live.
	current, err := tr.LowerBound(c, laddr.Laddr(10), nil)
	require.NoError(t, err)
	live := memstore.NewDataExtent(laddr.Laddr(10), 1)
	live.SetPaddr(current.Val().Paddr)
	got, err := tr.InitCachedExtent(c, live)
	require.NoError(t, err)
	require.Same(t, live, got)
	require.True(t, live.Pin().IsLinked())

	// A data extent carrying a stale paddr for the same key is not live.
	stale := memstore.NewDataExtent(laddr.Laddr(10), 1)
	stale.SetPaddr(laddr.AbsolutePaddr(999999))
	got, err = tr.InitCachedExtent(c, stale)
	require.NoError(t, err)
	require.Nil(t, got)
	require.False(t, stale.Pin().IsLinked())

	// A data extent for a key with no mapping at all is not live either.
	missing := memstore.NewDataExtent(laddr.Laddr(55), 1)
	missing.SetPaddr(laddr.AbsolutePaddr(1))
	got, err = tr.InitCachedExtent(c, missing)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInitCachedExtentLeafLiveness(t *testing.T) {
	tr, c := newTestTree(t)

	it, err := tr.LowerBound(c, laddr.Laddr(10), nil)
	require.NoError(t, err)
	_, _, err = tr.Insert(c, it, laddr.Laddr(10), val(1))
	require.NoError(t, err)

	// The current root leaf is live.
	current, err := tr.LowerBound(c, laddr.Laddr(10), nil)
	require.NoError(t, err)
	got, err := tr.InitCachedExtent(c, current.LeafNode())
	require.NoError(t, err)
	require.Same(t, current.LeafNode(), got)

	// A leaf-shaped node that no longer occupies any position in the
	// current tree is not live.
	stray := NewLeafNode(lbaval.RootMeta(1))
	got, err = tr.InitCachedExtent(c, stray)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInitCachedExtentOtherKindPassesThrough(t *testing.T) {
	tr, c := newTestTree(t)

	e := memstore.NewDataExtent(laddr.Laddr(1), 1)
	// Force a kind this tree does not interpret by wrapping; here we
	// reuse the logical kind path's sibling case by asserting the
	// interface dispatch for unrelated kinds is a pure passthrough.
	got, err := tr.InitCachedExtent(c, otherKindExtent{e})
	require.NoError(t, err)
	require.NotNil(t, got)
}

// otherKindExtent wraps an extent.Extent but reports extent.KindOther, so
// the passthrough branch of InitCachedExtent can be exercised directly.
type otherKindExtent struct {
	*memstore.DataExtent
}

func (otherKindExtent) Kind() extent.Kind { return extent.KindOther }
