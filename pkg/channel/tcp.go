package channel

import (
	"context"
	"net"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// tcpEndpoint is the reference transport, mirroring the original
// implementation's use of plain TCP sockets for the spawn tree.
type tcpEndpoint struct {
	ln   net.Listener
	name string
}

func openTCP(bindAddr string) (Endpoint, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, spawnerr.Transport("tcp.Open", err)
	}
	return &tcpEndpoint{ln: ln, name: makeName(KindTCP, ln.Addr())}, nil
}

func (e *tcpEndpoint) Name() string { return e.name }
func (e *tcpEndpoint) Kind() Kind   { return KindTCP }

func (e *tcpEndpoint) Accept(ctx context.Context) (Channel, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := e.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, spawnerr.Transport("tcp.Accept", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, spawnerr.Transport("tcp.Accept", r.err)
		}
		return &tcpChannel{conn: r.conn}, nil
	}
}

func (e *tcpEndpoint) Close() error {
	return e.ln.Close()
}

func connectTCP(ctx context.Context, addr string) (Channel, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, spawnerr.Transport("tcp.Connect", err)
	}
	return &tcpChannel{conn: conn}, nil
}

type tcpChannel struct {
	conn net.Conn
}

func (c *tcpChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *tcpChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }

func (c *tcpChannel) Disconnect() error {
	return c.conn.Close()
}
