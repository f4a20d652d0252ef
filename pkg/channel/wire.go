package channel

import (
	"encoding/binary"
	"io"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// ReadN reads exactly n bytes from ch, blocking until they arrive or the
// channel fails. A short read is always an error: the abstraction
// guarantees atomicity with respect to size.
func ReadN(ch Channel, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(ch, buf); err != nil {
		return nil, spawnerr.Transport("channel.ReadN", err)
	}
	return buf, nil
}

// WriteAll writes every byte of p to ch, looping over short writes so the
// caller observes write-is-atomic-to-size semantics even over transports
// that may return partial writes.
func WriteAll(ch Channel, p []byte) error {
	for len(p) > 0 {
		n, err := ch.Write(p)
		if err != nil {
			return spawnerr.Transport("channel.WriteAll", err)
		}
		p = p[n:]
	}
	return nil
}

// ReadStr reads a wire string: a big-endian uint64 length, then that many
// raw bytes (no terminator on the wire, per the wire-format rules).
func ReadStr(ch Channel) (string, error) {
	lenBuf, err := ReadN(ch, 8)
	if err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(lenBuf)
	if n == 0 {
		return "", nil
	}
	body, err := ReadN(ch, int(n))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// WriteStr writes s as a wire string.
func WriteStr(ch Channel, s string) error {
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, uint64(len(s)))
	if err := WriteAll(ch, lenBuf); err != nil {
		return err
	}
	return WriteAll(ch, []byte(s))
}

// ReadStrmap reads a packed string-map from ch.
func ReadStrmap(ch Channel) (*strmap.Map, error) {
	m, err := strmap.Read(asReader{ch})
	if err != nil {
		return nil, spawnerr.Transport("channel.ReadStrmap", err)
	}
	return m, nil
}

// WriteStrmap writes m's packed form to ch.
func WriteStrmap(ch Channel, m *strmap.Map) error {
	return WriteAll(ch, m.Pack())
}

// ReadBytes reads a (size, bytes) pair as used by file-broadcast: a
// big-endian uint64 size, then that many raw bytes.
func ReadBytes(ch Channel) ([]byte, error) {
	sizeBuf, err := ReadN(ch, 8)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(sizeBuf)
	return ReadN(ch, int(n))
}

// WriteBytes writes p as a (size, bytes) pair.
func WriteBytes(ch Channel, p []byte) error {
	sizeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBuf, uint64(len(p)))
	if err := WriteAll(ch, sizeBuf); err != nil {
		return err
	}
	return WriteAll(ch, p)
}

// asReader adapts a Channel's io.ReadFull-friendly Read into the plain
// io.Reader strmap.Read expects; the distinction matters because
// strmap.Read itself does its own ReadFull-equivalent via binary.Read
// and io.ReadFull.
type asReader struct {
	Channel
}
