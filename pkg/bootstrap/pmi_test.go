package bootstrap_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/mpispawn/mpispawn/pkg/bootstrap"
	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

// starLinks builds a root with n leaf children, each side of every link
// backed by an in-memory net.Pipe, matching the fixture the collective
// package tests use for the same shape.
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

// TestRunPMIFourLaunchersOneAppEach reproduces §8 scenario 2: 4
// launchers, PPN=1, each app process commits {K: v_i}. After the
// barrier, every app doing GET K must get back its own v_i, even
// though every rank commits under the identical literal key.
func TestRunPMIFourLaunchersOneAppEach(t *testing.T) {
	root, leaves := starLinks(3)
	links := append([]*collective.Links{root}, leaves...)
	ranks := len(links)

	vals := []string{"v0", "v1", "v2", "v3"}
	got := make([]string, ranks)
	var wg sync.WaitGroup
	for i := 0; i < ranks; i++ {
		ep, appSide := newFakeEndpoint(1)
		wg.Add(1)
		go func(i int, l *collective.Links, ep *fakeEndpoint) {
			defer wg.Done()
			err := bootstrap.RunPMI(context.Background(), l, ep, i, ranks, 1, telemetry.NewBlackhole())
			require.NoError(t, err)
		}(i, links[i], ep)

		wg.Add(1)
		go func(i int, app channel.Channel) {
			defer wg.Done()

			// step 1: init info
			_, err := channel.ReadStrmap(app)
			require.NoError(t, err)

			// step 2: commit {K: v_i}, then BARRIER token + strmap
			require.NoError(t, channel.WriteStr(app, "BARRIER"))
			committed := strmap.New()
			committed.Set("K", vals[i])
			require.NoError(t, channel.WriteStrmap(app, committed))

			// step 4: wait for BARRIER release
			tok, err := channel.ReadStr(app)
			require.NoError(t, err)
			require.Equal(t, "BARRIER", tok)

			// step 5: two GET rounds, only care about the value from
			// round 1
			for round := 0; round < 2; round++ {
				require.NoError(t, channel.WriteStr(app, "GET"))
				require.NoError(t, channel.WriteStr(app, "K"))
				val, err := channel.ReadStr(app)
				require.NoError(t, err)
				if round == 0 {
					got[i] = val
				}
			}

			// step 6: finalize
			require.NoError(t, channel.WriteStr(app, "FINALIZE"))
		}(i, appSide[0])
	}
	wg.Wait()

	require.Equal(t, vals, got)
}

// TestRunPMIProtocolViolation confirms a GET sent before BARRIER is
// rejected as a Protocol error rather than silently accepted.
func TestRunPMIProtocolViolation(t *testing.T) {
	links := &collective.Links{}
	ep, appSide := newFakeEndpoint(1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- bootstrap.RunPMI(context.Background(), links, ep, 0, 1, 1, telemetry.NewBlackhole())
	}()

	app := appSide[0]
	_, err := channel.ReadStrmap(app)
	require.NoError(t, err)

	// Violates the ordering invariant: GET before BARRIER hand-off.
	// RunPMI errors out as soon as it reads this token, so nothing
	// further is written on this channel.
	require.NoError(t, channel.WriteStr(app, "GET"))

	err = <-errCh
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprintf("%q", "GET"))
}
