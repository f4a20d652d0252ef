package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/mpir"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

// envHelperChild tells this test binary, when re-executed under LOCAL=shell
// by forkChildren, to run as a real tree child instead of the test suite:
// it re-enters bootstrapChild exactly as a forked launcher would, then
// runs its own Unfurl. This mirrors the teacher's fabric_test.go, which
// stands up two real Fabric nodes rather than faking the network, applied
// to a process boundary via the same helper-process idiom os/exec's own
// tests use for exercising a real child process.
const envHelperChild = "MPISPAWN_TEST_HELPER_CHILD"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHelperChildMain is not a real test: it is the entry point the
// forked child process in TestUnfurlForksRealChild re-executes into,
// selected by -test.run. Under a normal `go test` invocation it sees
// envHelperChild unset and skips immediately.
func TestHelperChildMain(t *testing.T) {
	if os.Getenv(envHelperChild) != "1" {
		t.Skip("only runs as a forked helper process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := bootstrapChild(ctx, os.Getenv(config.EnvParent), discardLogger())
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper: bootstrapChild:", err)
		os.Exit(1)
	}

	if _, _, err := s.Unfurl(ctx, nil, mpir.ModeUnset); err != nil {
		fmt.Fprintln(os.Stderr, "helper: Unfurl:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// TestUnfurlForksRealChild is an Unfurl-level integration test with a
// genuinely forked child process (not a faked endpoint): a two-rank tree
// where rank 0 is this test and rank 1 is a second copy of the test
// binary re-executed under LOCAL=shell, connecting back over a real TCP
// channel and completing the handshake, barrier, and group-start
// broadcast exactly as a production child launcher would.
func TestUnfurlForksRealChild(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	require.NoError(t, os.Setenv(envHelperChild, "1"))
	defer os.Unsetenv(envHelperChild)

	ep, err := channel.Open(channel.KindTCP, "127.0.0.1:0")
	require.NoError(t, err)
	defer ep.Close()

	params := strmap.New()
	params.Setf(config.KeyN, "%d", 2)
	params.Setf(config.KeyDeg, "%d", 2)
	params.Set(config.KeyLocal, "shell")
	params.Set(config.KeyExe, fmt.Sprintf("%s -test.run=^TestHelperChildMain$ -test.v=true", self))
	params.Set(config.KeyMpir, "unset")
	params.Set("1", Hostname())

	root := New(0, 2, 2, params, discardLogger(), telemetry.NewBlackhole())
	root.Endpoint = ep

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	groupStart := strmap.New()
	groupStart.Set(config.GroupKeyName, "helper-group")

	gs, cmds, err := root.Unfurl(ctx, groupStart, mpir.ModeUnset)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Len(t, root.Children, 1)
	require.Equal(t, 1, root.Children[0].Rank)

	v, ok := gs.Get(config.GroupKeyName)
	require.True(t, ok)
	require.Equal(t, "helper-group", v)

	for _, c := range cmds {
		require.NoError(t, c.Wait())
	}
}
