package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/stretchr/testify/require"
)

func TestIntParsesOrDefaults(t *testing.T) {
	m := strmap.New()
	m.Set("N", "4")
	n, err := config.Int(m, "N", 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = config.Int(m, "MISSING", 7)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestIntRejectsGarbage(t *testing.T) {
	m := strmap.New()
	m.Set("N", "not-a-number")
	_, err := config.Int(m, "N", 0)
	require.Error(t, err)
}

func TestBoolAcceptsOnlyZeroOrOne(t *testing.T) {
	m := strmap.New()
	m.Set("PMI", "1")
	v, err := config.Bool(m, "PMI", false)
	require.NoError(t, err)
	require.True(t, v)

	m.Set("PMI", "yes")
	_, err = config.Bool(m, "PMI", false)
	require.Error(t, err)
}

func TestOneOfRejectsUnlistedValue(t *testing.T) {
	m := strmap.New()
	m.Set("SH", "telnet")
	_, err := config.OneOf(m, "SH", "ssh", "ssh", "rsh")
	require.Error(t, err)

	v, err := config.OneOf(m, "MISSING", "ssh", "ssh", "rsh")
	require.NoError(t, err)
	require.Equal(t, "ssh", v)
}

func TestParseRootArgsRequiresHosts(t *testing.T) {
	_, err := config.ParseRootArgs(nil, "/bin/mpispawn", func(string) string { return "" })
	require.Error(t, err)
}

func TestParseRootArgsDefaults(t *testing.T) {
	m, err := config.ParseRootArgs([]string{"host0", "host1"}, "/bin/mpispawn", func(string) string { return "" })
	require.NoError(t, err)

	n, err := config.Int(m, config.KeyN, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	deg, err := config.Int(m, config.KeyDeg, 0)
	require.NoError(t, err)
	require.Equal(t, 2, deg)

	sh, ok := m.Get(config.KeySh)
	require.True(t, ok)
	require.Equal(t, "ssh", sh)

	h0, ok := m.Get("0")
	require.True(t, ok)
	require.Equal(t, "host0", h0)
}

func TestParseRootArgsRejectsLowDegree(t *testing.T) {
	_, err := config.ParseRootArgs([]string{"host0"}, "/bin/mpispawn", func(k string) string {
		if k == config.EnvDegree {
			return "1"
		}
		return ""
	})
	require.Error(t, err)
}

func TestStageExecutableCopiesAndRewritesEXE(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "orig-binary")
	require.NoError(t, os.WriteFile(src, []byte("fake binary contents"), 0o755))

	m := strmap.New()
	m.Set(config.KeyExe, src)

	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, config.StageExecutable(m, scratch))

	staged, ok := m.Get(config.KeyExe)
	require.True(t, ok)
	require.Equal(t, filepath.Join(scratch, "orig-binary"), staged)

	contents, err := os.ReadFile(staged)
	require.NoError(t, err)
	require.Equal(t, "fake binary contents", string(contents))
}

func TestStageExecutableRequiresEXE(t *testing.T) {
	m := strmap.New()
	require.Error(t, config.StageExecutable(m, t.TempDir()))
}
