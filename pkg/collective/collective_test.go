package collective_test

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

// pipeChannel adapts a net.Conn (from net.Pipe) to channel.Channel.
type pipeChannel struct {
	net.Conn
}

func (p pipeChannel) Disconnect() error { return p.Conn.Close() }

// starLinks builds a root with n leaf children, each side of every link
// backed by an in-memory net.Pipe. Returns the root's Links and one
// Links per leaf (parent set, no children).
func starLinks(n int) (*collective.Links, []*collective.Links) {
	root := &collective.Links{}
	leaves := make([]*collective.Links, n)
	for i := 0; i < n; i++ {
		a, b := net.Pipe()
		root.Children = append(root.Children, pipeChannel{a})
		leaves[i] = &collective.Links{Parent: pipeChannel{b}}
	}
	return root, leaves
}

func TestSignalBarrierStar(t *testing.T) {
	root, leaves := starLinks(3)

	var wg sync.WaitGroup
	for _, leaf := range leaves {
		wg.Add(1)
		go func(l *collective.Links) {
			defer wg.Done()
			require.NoError(t, collective.Barrier(l))
		}(leaf)
	}

	require.NoError(t, collective.Barrier(root))
	wg.Wait()
}

func TestAllgatherStrmapConvergence(t *testing.T) {
	root, leaves := starLinks(3)
	inputs := []string{"host_0", "host_1", "host_2", "host_3"}

	results := make([]*strmap.Map, len(leaves))
	var wg sync.WaitGroup
	for i, leaf := range leaves {
		wg.Add(1)
		go func(i int, l *collective.Links) {
			defer wg.Done()
			m := strmap.New()
			m.Set(fmt.Sprintf("rank_%d", i+1), inputs[i+1])
			got, err := collective.AllgatherStrmap(l, m, telemetry.NewBlackhole())
			require.NoError(t, err)
			results[i] = got
		}(i, leaf)
	}

	rootMap := strmap.New()
	rootMap.Set("rank_0", inputs[0])
	rootResult, err := collective.AllgatherStrmap(root, rootMap, telemetry.NewBlackhole())
	require.NoError(t, err)
	wg.Wait()

	for i := range leaves {
		require.True(t, rootResult.Equal(results[i]), "leaf %d diverged from root", i)
	}
	for i, host := range inputs {
		v, ok := rootResult.Get(fmt.Sprintf("rank_%d", i))
		require.True(t, ok)
		require.Equal(t, host, v)
	}
}

func TestRingScanClosure(t *testing.T) {
	// 3-node star: root has local (L,R) = ("r0l","r0r"); leaves have
	// ("l1l","l1r") and ("l2l","l2r"). Ring order is
	// root, leaf0-subtree, leaf1-subtree (children in tree order).
	root, leaves := starLinks(2)

	type out struct {
		ring collective.RingIO
	}
	results := make([]out, len(leaves))
	leafIn := []collective.RingIO{
		{Left: "l1l", Right: "l1r"},
		{Left: "l2l", Right: "l2r"},
	}

	var wg sync.WaitGroup
	for i, leaf := range leaves {
		wg.Add(1)
		go func(i int, l *collective.Links) {
			defer wg.Done()
			r, err := collective.RingScan(l, leafIn[i], telemetry.NewBlackhole())
			require.NoError(t, err)
			results[i] = out{ring: r}
		}(i, leaf)
	}

	rootIn := collective.RingIO{Left: "r0l", Right: "r0r"}
	rootOut, err := collective.RingScan(root, rootIn, telemetry.NewBlackhole())
	require.NoError(t, err)
	wg.Wait()

	// Ring, in order: r0l r0r l1l l1r l2l l2r (wrap to r0l).
	// root.LEFT = prev in ring of r0l = l2r; root.RIGHT = next in ring
	// of r0r = l1l.
	require.Equal(t, "l2r", rootOut.Left)
	require.Equal(t, "l1l", rootOut.Right)

	// leaf0.LEFT = prev(l1l) = r0r; leaf0.RIGHT = next(l1r) = l2l.
	require.Equal(t, "r0r", results[0].ring.Left)
	require.Equal(t, "l2l", results[0].ring.Right)

	// leaf1.LEFT = prev(l2l) = l1r; leaf1.RIGHT = next(l2r) = r0l (wrap).
	require.Equal(t, "l1r", results[1].ring.Left)
	require.Equal(t, "r0l", results[1].ring.Right)
}
