package lbatree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obalba/lbatree/laddr"
	"github.com/obalba/lbatree/lbaval"
)

func TestLeafNodeInsertKeepsSortedOrder(t *testing.T) {
	n := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max})
	n.MarkPending()

	n.Insert(0, laddr.Laddr(20), lbaval.MapVal{Length: 1})
	n.Insert(0, laddr.Laddr(10), lbaval.MapVal{Length: 2})
	n.Insert(2, laddr.Laddr(30), lbaval.MapVal{Length: 3})

	require.Equal(t, 3, n.Size())
	require.Equal(t, laddr.Laddr(10), n.At(0).Key)
	require.Equal(t, laddr.Laddr(20), n.At(1).Key)
	require.Equal(t, laddr.Laddr(30), n.At(2).Key)
}

func TestLeafNodeLowerAndUpperBound(t *testing.T) {
	n := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max})
	n.MarkPending()
	n.Insert(0, laddr.Laddr(10), lbaval.MapVal{})
	n.Insert(1, laddr.Laddr(20), lbaval.MapVal{})
	n.Insert(2, laddr.Laddr(30), lbaval.MapVal{})

	require.Equal(t, 1, n.LowerBound(laddr.Laddr(20)))
	require.Equal(t, 2, n.UpperBound(laddr.Laddr(20)))
	require.Equal(t, 0, n.LowerBound(laddr.Laddr(5)))
	require.Equal(t, 3, n.LowerBound(laddr.Laddr(31)))
}

func TestLeafNodeCapacityChecks(t *testing.T) {
	cfg := lbaval.Capacities{Min: 1, Max: 2}
	n := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max})
	n.MarkPending()
	require.True(t, n.AtMinCapacity(cfg))
	require.False(t, n.AtMaxCapacity(cfg))

	n.Insert(0, laddr.Laddr(1), lbaval.MapVal{})
	n.Insert(1, laddr.Laddr(2), lbaval.MapVal{})
	require.False(t, n.AtMinCapacity(cfg))
	require.True(t, n.AtMaxCapacity(cfg))
}

func TestLeafNodeCloneIsIndependent(t *testing.T) {
	n := NewLeafNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max})
	n.MarkPending()
	n.Insert(0, laddr.Laddr(1), lbaval.MapVal{Length: 1})

	clone := n.Clone().(*LeafNode)
	clone.MarkPending()
	clone.Insert(1, laddr.Laddr(2), lbaval.MapVal{Length: 2})

	require.Equal(t, 1, n.Size())
	require.Equal(t, 2, clone.Size())
}

func TestInternalNodeInitRootUsesMinPivot(t *testing.T) {
	n := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 2})
	n.MarkPending()
	n.InitRoot(laddr.AbsolutePaddr(7))

	require.Equal(t, 1, n.Size())
	require.Equal(t, laddr.Min, n.At(0).Pivot)
	require.Equal(t, uint64(7), n.At(0).Child.Abs())
}

func TestInternalNodeUpperBoundDescent(t *testing.T) {
	n := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 2})
	n.MarkPending()
	n.InitRoot(laddr.AbsolutePaddr(1))
	n.Insert(1, laddr.Laddr(100), laddr.AbsolutePaddr(2))
	n.Insert(2, laddr.Laddr(200), laddr.AbsolutePaddr(3))

	require.Equal(t, 0, n.UpperBound(laddr.Laddr(50))-1)
	require.Equal(t, 1, n.UpperBound(laddr.Laddr(150))-1)
	require.Equal(t, 2, n.UpperBound(laddr.Laddr(250))-1)
}

// TestInternalNodeResolveRelativeAddrsKeepsAbsoluteTargets moves a node
// from address 100 to 140 and checks a child stored node-relative still
// resolves to the same absolute block, while absolute children are left
// alone.
func TestInternalNodeResolveRelativeAddrsKeepsAbsoluteTargets(t *testing.T) {
	n := NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 2})
	n.MarkPending()
	n.SetPaddr(laddr.AbsolutePaddr(100))
	n.InitRoot(laddr.Paddr{Kind: laddr.NodeRelative, Value: 7}) // absolute 107
	n.Insert(1, laddr.Laddr(10), laddr.AbsolutePaddr(42))

	oldPaddr := n.Paddr()
	n.SetPaddr(laddr.AbsolutePaddr(140))
	n.ResolveRelativeAddrs(laddr.SubPaddr(oldPaddr, n.Paddr()))

	require.Equal(t, uint64(107), n.At(0).Child.ResolveRelativeTo(n.Paddr()).Abs())
	require.Equal(t, laddr.AbsolutePaddr(42), n.At(1).Child)
}

func TestNewInternalNodeRejectsLeafDepth(t *testing.T) {
	require.Panics(t, func() {
		NewInternalNode(lbaval.NodeMeta{Begin: laddr.Min, End: laddr.Max, Depth: 1})
	})
}
