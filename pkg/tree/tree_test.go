package tree_test

import (
	"testing"

	"github.com/mpispawn/mpispawn/pkg/tree"
	"github.com/stretchr/testify/require"
)

func TestWellFormedness(t *testing.T) {
	for _, ranks := range []int{1, 2, 3, 4, 5, 7, 16, 37, 100} {
		for _, k := range []int{2, 3, 4, 8} {
			t.Run("", func(t *testing.T) {
				seenAsChild := make(map[int]int)
				for r := 0; r < ranks; r++ {
					n := tree.Build(r, ranks, k)
					if r == 0 {
						require.False(t, n.HasParent)
					} else {
						require.True(t, n.HasParent)
					}
					for _, c := range n.Children {
						seenAsChild[c]++
					}
				}
				for r := 1; r < ranks; r++ {
					require.Equal(t, 1, seenAsChild[r], "rank %d must be a child exactly once (ranks=%d k=%d)", r, ranks, k)
				}
				require.Zero(t, seenAsChild[0])
			})
		}
	}
}

func TestChildrenContiguous(t *testing.T) {
	c := tree.Children(0, 10, 3)
	require.Equal(t, []int{1, 2, 3}, c)

	c = tree.Children(3, 5, 3)
	require.Equal(t, []int{4}, c) // truncated to fit ranks
}

func TestParentOfRootIsNone(t *testing.T) {
	_, has := tree.Parent(0, 4)
	require.False(t, has)
}

func TestIsLeaf(t *testing.T) {
	require.True(t, tree.IsLeaf(1, 2, 2))
	require.False(t, tree.IsLeaf(0, 2, 2))
}
