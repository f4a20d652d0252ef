// Package strmap implements the ordered string-to-string dictionary used
// throughout mpispawn to carry configuration across the tree: insertion
// order is preserved and defines the pack order on the wire.
package strmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Map is an ordered collection of unique string keys, each mapped to a
// string value. It is not safe for concurrent use; callers that share a
// Map across goroutines must synchronize externally.
type Map struct {
	keys []string
	vals map[string]string
	idx  map[string]int
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		vals: make(map[string]string),
		idx:  make(map[string]int),
	}
}

// Set inserts key=value, or overwrites value in place if key already
// exists, preserving its original position.
func (m *Map) Set(key, value string) {
	if _, ok := m.idx[key]; ok {
		m.vals[key] = value
		return
	}
	m.idx[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals[key] = value
}

// Setf is Set with sprintf-style formatting of the value.
func (m *Map) Setf(key, format string, args ...any) {
	m.Set(key, fmt.Sprintf(format, args...))
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// GetOr returns the value for key, or def if absent.
func (m *Map) GetOr(key, def string) string {
	if v, ok := m.vals[key]; ok {
		return v
	}
	return def
}

// Unset removes key if present; later Set of the same key appends at the
// end rather than reusing the old position.
func (m *Map) Unset(key string) {
	pos, ok := m.idx[key]
	if !ok {
		return
	}
	m.keys = append(m.keys[:pos], m.keys[pos+1:]...)
	delete(m.vals, key)
	delete(m.idx, key)
	for i := pos; i < len(m.keys); i++ {
		m.idx[m.keys[i]] = i
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Iterate calls fn for every entry in insertion order. Stops early if fn
// returns false.
func (m *Map) Iterate(fn func(key, value string) bool) {
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Merge overwrites m's entries with other's, in other's iteration order.
// Conflicting keys take other's value but keep m's original position
// unless the key is new to m, in which case it is appended.
func (m *Map) Merge(other *Map) {
	other.Iterate(func(k, v string) bool {
		m.Set(k, v)
		return true
	})
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New()
	m.Iterate(func(k, v string) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Equal reports whether m and other hold the same entries in the same
// order.
func (m *Map) Equal(other *Map) bool {
	if other == nil || len(m.keys) != len(other.keys) {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k || other.vals[k] != m.vals[k] {
			return false
		}
	}
	return true
}

// String renders m for diagnostics; not meant to be parsed back.
func (m *Map) String() string {
	var b bytes.Buffer
	b.WriteByte('{')
	m.Iterate(func(k, v string) bool {
		if b.Len() > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, v)
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// PackSize returns the exact number of bytes Pack would write.
func (m *Map) PackSize() int {
	size := 8
	m.Iterate(func(k, v string) bool {
		size += 8 + len(k) + 1 + 8 + len(v) + 1
		return true
	})
	return size
}

// Pack serializes m to its wire form: a big-endian uint64 count, then that
// many (key, value) pairs, each a big-endian uint64 length prefix followed
// by NUL-terminated bytes.
func (m *Map) Pack() []byte {
	buf := make([]byte, m.PackSize())
	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(len(m.keys)))
	off += 8
	m.Iterate(func(k, v string) bool {
		off = packEntry(buf, off, k)
		off = packEntry(buf, off, v)
		return true
	})
	return buf
}

func packEntry(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint64(buf[off:], uint64(len(s)+1))
	off += 8
	copy(buf[off:], s)
	off += len(s)
	buf[off] = 0
	off++
	return off
}

// Unpack parses the wire form produced by Pack. It returns an error if buf
// is truncated or malformed.
func Unpack(buf []byte) (*Map, error) {
	r := bytes.NewReader(buf)
	return Read(r)
}

// Read parses the Pack wire form from r, stopping exactly after the last
// byte of the string-map.
func Read(r io.Reader) (*Map, error) {
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("strmap: read count: %w", err)
	}

	m := New()
	for i := uint64(0); i < count; i++ {
		k, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("strmap: read key %d: %w", i, err)
		}
		v, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("strmap: read value %d: %w", i, err)
		}
		m.Set(k, v)
	}
	return m, nil
}

func readEntry(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("strmap: zero-length entry is not NUL-terminated")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if buf[n-1] != 0 {
		return "", fmt.Errorf("strmap: entry missing NUL terminator")
	}
	return string(buf[:n-1]), nil
}

// Write serializes m to w using the Pack wire form.
func Write(w io.Writer, m *Map) error {
	_, err := w.Write(m.Pack())
	return err
}
