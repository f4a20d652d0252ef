package channel_test

import (
	"context"
	"testing"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/stretchr/testify/require"
)

func TestTCPEndpointNameEncodesKind(t *testing.T) {
	ep, err := channel.Open(channel.KindTCP, "127.0.0.1:0")
	require.NoError(t, err)
	defer ep.Close()

	require.Equal(t, channel.KindTCP, ep.Kind())
	require.Contains(t, ep.Name(), "tcp://127.0.0.1:")
}

func TestTCPConnectAcceptRoundTripsStrmap(t *testing.T) {
	ep, err := channel.Open(channel.KindTCP, "127.0.0.1:0")
	require.NoError(t, err)
	defer ep.Close()

	sent := strmap.New()
	sent.Set("ID", "3")
	sent.Set("HOST", "node3")

	serverErr := make(chan error, 1)
	var received *strmap.Map
	go func() {
		ch, err := ep.Accept(context.Background())
		if err != nil {
			serverErr <- err
			return
		}
		defer ch.Disconnect()
		received, err = channel.ReadStrmap(ch)
		serverErr <- err
	}()

	client, err := channel.Connect(context.Background(), ep.Name())
	require.NoError(t, err)
	defer client.Disconnect()

	require.NoError(t, channel.WriteStrmap(client, sent))
	require.NoError(t, <-serverErr)
	require.True(t, sent.Equal(received))
}

func TestConnectRejectsMalformedName(t *testing.T) {
	_, err := channel.Connect(context.Background(), "not-a-valid-name")
	require.Error(t, err)
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	_, err := channel.Open(channel.Kind("carrier-pigeon"), ":0")
	require.Error(t, err)
}
