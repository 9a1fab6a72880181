package lbatree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obalba/lbatree/extent"
	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
	"github.com/obalba/lbatree/memstore"
	"github.com/obalba/lbatree/pin"
)

func newOpContext(store *memstore.Store) (extent.OpContext, *memstore.Transaction) {
	tx := store.Begin()
	return extent.OpContext{
		Ctx:   context.Background(),
		Tx:    tx,
		Cache: store,
		Pins:  pin.NewSet(),
	}, tx
}

func fullLeaf(t *testing.T, c extent.OpContext, begin, end laddr.Laddr, n int) *LeafNode {
	leaf := NewLeafNode(lbaval.NodeMeta{Begin: begin, End: end, Depth: 1})
	leaf.MarkPending()
	require.NoError(t, c.Cache.AllocNew(c.Tx, leaf))
	for i := 0; i < n; i++ {
		leaf.Insert(i, begin+laddr.Laddr(i*10), lbaval.MapVal{Length: uint32(i)})
	}
	return leaf
}

func TestLeafMakeSplitChildrenPreservesAllEntries(t *testing.T) {
	store := memstore.NewStore()
	c, _ := newOpContext(store)

	leaf := fullLeaf(t, c, laddr.Min, laddr.Max, 6)
	left, right, pivot, err := leaf.MakeSplitChildren(c)
	require.NoError(t, err)

	require.Equal(t, 3, left.Size())
	require.Equal(t, 3, right.Size())
	require.Equal(t, right.FirstKey(), pivot)
	require.Equal(t, left.meta.End, pivot)
	require.Equal(t, right.meta.Begin, pivot)
	require.Equal(t, laddr.Min, left.meta.Begin)
	require.Equal(t, laddr.Max, right.meta.End)
	require.True(t, left.IsPending())
	require.True(t, right.IsPending())
}

func TestLeafMakeFullMergeConcatenatesInOrder(t *testing.T) {
	store := memstore.NewStore()
	c, _ := newOpContext(store)

	left := fullLeaf(t, c, laddr.Min, laddr.Laddr(100), 2)
	right := fullLeaf(t, c, laddr.Laddr(100), laddr.Max, 2)

	merged, err := left.MakeFullMerge(c, right)
	require.NoError(t, err)
	require.Equal(t, 4, merged.Size())
	require.Equal(t, laddr.Min, merged.meta.Begin)
	require.Equal(t, laddr.Max, merged.meta.End)
	for i := 0; i < merged.Size()-1; i++ {
		require.Less(t, merged.At(i).Key, merged.At(i+1).Key)
	}
}

func TestLeafMakeBalancedSplitsRoughlyEvenly(t *testing.T) {
	store := memstore.NewStore()
	c, _ := newOpContext(store)

	left := fullLeaf(t, c, laddr.Min, laddr.Laddr(100), 5)
	right := fullLeaf(t, c, laddr.Laddr(100), laddr.Max, 1)

	l2, r2, pivot, err := left.MakeBalanced(c, right, false)
	require.NoError(t, err)
	require.Equal(t, 6, l2.Size()+r2.Size())
	require.InDelta(t, 3, l2.Size(), 1)
	require.Equal(t, r2.FirstKey(), pivot)
}

func TestInternalMakeSplitChildrenPromotesMiddlePivot(t *testing.T) {
	store := memstore.NewStore()
	c, _ := newOpContext(store)

	n := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 2})
	n.MarkPending()
	require.NoError(t, c.Cache.AllocNew(c.Tx, n))
	n.InitRoot(laddr.AbsolutePaddr(1))
	n.Insert(1, laddr.Laddr(10), laddr.AbsolutePaddr(2))
	n.Insert(2, laddr.Laddr(20), laddr.AbsolutePaddr(3))
	n.Insert(3, laddr.Laddr(30), laddr.AbsolutePaddr(4))

	left, right, pivot, err := n.MakeSplitChildren(c)
	require.NoError(t, err)
	require.Equal(t, 2, left.Size())
	require.Equal(t, 2, right.Size())
	require.Equal(t, right.FirstKey(), pivot)
}
