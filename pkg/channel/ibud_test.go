package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/stretchr/testify/require"
)

// TestIbudRoundTrip mirrors the teacher's TestNewTransport: it opens a
// real QUIC listener, dials it over self-signed TLS, and round-trips
// bytes through the resulting Channel, exercising openIbud/connectIbud
// end to end rather than only by inline reading.
func TestIbudRoundTrip(t *testing.T) {
	ep, err := channel.Open(channel.KindIbud, "127.0.0.1:0")
	require.NoError(t, err)
	defer ep.Close()

	require.Equal(t, channel.KindIbud, ep.Kind())
	require.Contains(t, ep.Name(), "ibud://127.0.0.1:")

	sent := strmap.New()
	sent.Set("ID", "7")
	sent.Set("HOST", "node7")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	var received *strmap.Map
	go func() {
		ch, err := ep.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		defer ch.Disconnect()
		received, err = channel.ReadStrmap(ch)
		serverErr <- err
	}()

	client, err := channel.Connect(ctx, ep.Name())
	require.NoError(t, err)
	defer client.Disconnect()

	require.NoError(t, channel.WriteStrmap(client, sent))
	require.NoError(t, <-serverErr)
	require.True(t, sent.Equal(received))
}

func TestIbudEndpointNameEncodesKind(t *testing.T) {
	ep, err := channel.Open(channel.KindIbud, "127.0.0.1:0")
	require.NoError(t, err)
	defer ep.Close()

	require.Equal(t, channel.KindIbud, ep.Kind())
	require.Contains(t, ep.Name(), "ibud://")
}
