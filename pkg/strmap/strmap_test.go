package strmap_test

import (
	"testing"

	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/stretchr/testify/require"
)

func TestSetPreservesOrderAndOverwrites(t *testing.T) {
	m := strmap.New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("a", "3")

	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, "3", v)
}

func TestUnsetThenReinsertAppends(t *testing.T) {
	m := strmap.New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Unset("a")
	m.Set("a", "9")

	require.Equal(t, []string{"b", "a"}, m.Keys())
}

func TestPackUnpackRoundTrip(t *testing.T) {
	m := strmap.New()
	m.Set("N", "4")
	m.Set("DEG", "2")
	m.Setf("0", "host-%d", 0)
	m.Set("EMPTY", "")

	packed := m.Pack()
	require.Len(t, packed, m.PackSize())

	got, err := strmap.Unpack(packed)
	require.NoError(t, err)
	require.True(t, m.Equal(got))
}

func TestUnpackRejectsTruncated(t *testing.T) {
	m := strmap.New()
	m.Set("k", "v")
	packed := m.Pack()

	_, err := strmap.Unpack(packed[:len(packed)-2])
	require.Error(t, err)
}

func TestMergeOverwritesOnConflictKeepsPosition(t *testing.T) {
	a := strmap.New()
	a.Set("x", "1")
	a.Set("y", "2")

	b := strmap.New()
	b.Set("y", "9")
	b.Set("z", "3")

	a.Merge(b)
	require.Equal(t, []string{"x", "y", "z"}, a.Keys())
	v, _ := a.Get("y")
	require.Equal(t, "9", v)
}
