package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// alpnIbud is the ALPN value QUIC requires us to negotiate; intra-tree
// traffic has no authentication requirement (see the non-goals), so both
// sides present a throwaway self-signed cert and skip verification.
const alpnIbud = "mpispawn-ibud"

// ibudEndpoint backs the "ibud" transport kind named by MV2_SPAWN_NET,
// one quic.Listener per launcher, grounded on the teacher's
// transport.go/channel.go quic.Transport+streamWrapper plumbing.
type ibudEndpoint struct {
	ln   *quic.Listener
	name string
}

func openIbud(bindAddr string) (Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, spawnerr.Transport("ibud.Open", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, spawnerr.Transport("ibud.Open", err)
	}

	tlsConf, err := selfSignedServerTLS()
	if err != nil {
		return nil, spawnerr.Transport("ibud.Open", err)
	}

	tr := &quic.Transport{Conn: conn}
	ln, err := tr.Listen(tlsConf, &quic.Config{})
	if err != nil {
		return nil, spawnerr.Transport("ibud.Open", err)
	}

	return &ibudEndpoint{ln: ln, name: makeName(KindIbud, conn.LocalAddr())}, nil
}

func (e *ibudEndpoint) Name() string { return e.name }
func (e *ibudEndpoint) Kind() Kind   { return KindIbud }

func (e *ibudEndpoint) Accept(ctx context.Context) (Channel, error) {
	conn, err := e.ln.Accept(ctx)
	if err != nil {
		return nil, spawnerr.Transport("ibud.Accept", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, spawnerr.Transport("ibud.Accept", err)
	}
	return &ibudChannel{conn: conn, stream: stream}, nil
}

func (e *ibudEndpoint) Close() error {
	return e.ln.Close()
}

func connectIbud(ctx context.Context, addr string) (Channel, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnIbud},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, spawnerr.Transport("ibud.Connect", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, spawnerr.Transport("ibud.Connect", err)
	}
	return &ibudChannel{conn: conn, stream: stream}, nil
}

// ibudChannel wraps a single QUIC stream as a Channel. One launcher
// parent-child link is exactly one stream on exactly one connection,
// mirroring streamWrapper's role in the teacher but repurposed from
// multiplexed gossip flows to point-to-point tree links.
type ibudChannel struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *ibudChannel) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *ibudChannel) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *ibudChannel) Disconnect() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "disconnect")
}

func selfSignedServerTLS() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnIbud},
	}, nil
}
