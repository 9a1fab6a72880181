package laddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinels(t *testing.T) {
	require.Equal(t, Laddr(0), Min)
	require.Equal(t, Laddr(^uint64(0)), Max)
	require.Less(t, uint64(Min), uint64(Max))
}

func TestPaddrResolveRelativeTo(t *testing.T) {
	node := AbsolutePaddr(0x1000)
	rel := Paddr{Kind: NodeRelative, Value: 0x20}
	resolved := rel.ResolveRelativeTo(node)
	require.True(t, resolved.IsAbsolute())
	require.Equal(t, uint64(0x1020), resolved.Abs())
}

func TestResolveRelativeToIsNoopOnAbsolute(t *testing.T) {
	p := AbsolutePaddr(42)
	require.Equal(t, p, p.ResolveRelativeTo(AbsolutePaddr(99)))
}

func TestSubPaddr(t *testing.T) {
	rr := RecordRelativePaddr(0)
	np := AbsolutePaddr(500)
	require.Equal(t, int64(-500), SubPaddr(rr, np))
}

func TestStringFormatting(t *testing.T) {
	require.Equal(t, "MIN", Min.String())
	require.Equal(t, "MAX", Max.String())
	require.Equal(t, "5", Laddr(5).String())
}
