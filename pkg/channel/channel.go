// Package channel implements the reliable byte-stream Channel/Endpoint
// abstraction described by the original spawn_net.h contract: open/name/
// close an endpoint, connect/accept a channel, disconnect, blocking
// read/write. Two transport kinds are wired: tcp (stdlib net) and ibud
// (QUIC streams, following the teacher's transport.go/stream.go).
package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// Kind is the transport kind encoded in an endpoint's name.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindIbud Kind = "ibud"
)

// Endpoint is a local listener identified by a printable opaque name
// carrying its transport kind. At most one endpoint per transport kind
// per launcher is expected; multiplexing beyond that is the caller's
// concern via sequenced Accept calls.
type Endpoint interface {
	Name() string
	Kind() Kind
	Accept(ctx context.Context) (Channel, error)
	Close() error
}

// Channel is a reliable ordered byte-stream between exactly two
// endpoints. Read/Write follow io.Reader/io.Writer and may move fewer
// bytes than requested; ReadN and WriteAll give the blocking,
// exactly-the-requested-length semantics the protocols rely on.
type Channel interface {
	io.Reader
	io.Writer
	Disconnect() error
}

// Open creates an endpoint of the given kind bound to bindAddr (host:port,
// empty host means all interfaces). Fails with a Transport spawnerr, or
// with a Config spawnerr for an unknown kind.
func Open(kind Kind, bindAddr string) (Endpoint, error) {
	switch kind {
	case KindTCP:
		return openTCP(bindAddr)
	case KindIbud:
		return openIbud(bindAddr)
	default:
		return nil, spawnerr.Config("channel.Open", fmt.Errorf("unknown endpoint kind %q", kind))
	}
}

// Connect dials the channel named by name, which must have the form
// "<kind>://<address>" as produced by an Endpoint's Name(). Fails with
// {ConnectRefused, Transport, InvalidName} per the abstraction's
// contract.
func Connect(ctx context.Context, name string) (Channel, error) {
	kind, addr, err := parseName(name)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindTCP:
		return connectTCP(ctx, addr)
	case KindIbud:
		return connectIbud(ctx, addr)
	default:
		return nil, spawnerr.Config("channel.Connect", fmt.Errorf("unknown endpoint kind %q in name %q", kind, name))
	}
}

func parseName(name string) (Kind, string, error) {
	parts := strings.SplitN(name, "://", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", spawnerr.Config("channel.parseName", fmt.Errorf("invalid endpoint name %q", name))
	}
	return Kind(parts[0]), parts[1], nil
}

func makeName(kind Kind, addr net.Addr) string {
	return fmt.Sprintf("%s://%s", kind, addr.String())
}
