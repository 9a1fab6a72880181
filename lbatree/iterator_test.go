package lbatree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
)

func singleLeafIterator(entries int) Iterator {
	leaf := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max})
	leaf.MarkPending()
	for i := 0; i < entries; i++ {
		leaf.Insert(i, laddr.Laddr(i*10), lbaval.MapVal{})
	}
	return Iterator{leaf: leafPos{node: leaf, pos: 0}}
}

func TestIteratorGetDepthMatchesStackSize(t *testing.T) {
	it := singleLeafIterator(1)
	require.Equal(t, 1, it.GetDepth())

	internal := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 2})
	internal.MarkPending()
	internal.InitRoot(laddr.AbsolutePaddr(1))
	it.internal = []internalPos{{node: internal, pos: 0}}
	require.Equal(t, 2, it.GetDepth())
}

func TestIteratorIsBeginAndIsEnd(t *testing.T) {
	it := singleLeafIterator(2)
	require.True(t, it.IsBegin())
	require.False(t, it.IsEnd())

	it.leaf.pos = 2
	require.True(t, it.IsEnd())
	require.False(t, it.IsBegin())
}

func TestIteratorKeyPanicsOnEnd(t *testing.T) {
	it := singleLeafIterator(1)
	it.leaf.pos = 1
	require.Panics(t, func() { it.Key() })
}

func TestCheckSplitReportsLeafWhenFull(t *testing.T) {
	it := singleLeafIterator(2)
	cfg := lbaval.Config{Leaf: lbaval.Capacities{Min: 1, Max: 2}, Internal: lbaval.Capacities{Min: 1, Max: 2}}
	require.Equal(t, 1, it.checkSplit(cfg))
}

func TestCheckSplitReportsNothingWhenRoomy(t *testing.T) {
	it := singleLeafIterator(1)
	cfg := lbaval.Config{Leaf: lbaval.Capacities{Min: 1, Max: 4}, Internal: lbaval.Capacities{Min: 1, Max: 4}}
	require.Equal(t, it.GetDepth()+1, it.checkSplit(cfg))
}
