// Package config provides typed accessors over the parameter strmap
// (configuration travels as string/string pairs for wire portability,
// so typed values are parsed on read) plus the root-only argv/env
// parsing that builds the initial parameter strmap.
package config

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// Recognized parameter keys, §3.
const (
	KeyN     = "N"
	KeyDeg   = "DEG"
	KeyExe   = "EXE"
	KeyCopy  = "COPY"
	KeySh    = "SH"
	KeyLocal = "LOCAL"
	KeyMpir  = "MPIR"

	KeySsh = "ssh"
	KeyScp = "scp"
	KeyRsh = "rsh"
	KeyRcp = "rcp"
	KeySh2 = "sh"
	KeyEnv = "env"
)

// Group-start keys, §3.
const (
	GroupKeyName     = "NAME"
	GroupKeyExe      = "EXE"
	GroupKeyCwd      = "CWD"
	GroupKeyPPN      = "PPN"
	GroupKeyPMI      = "PMI"
	GroupKeyRing     = "RING"
	GroupKeyFIFO     = "FIFO"
	GroupKeyBinBcast = "BIN_BCAST"
)

// Environment variable names, §6.
const (
	EnvNet     = "MV2_SPAWN_NET"
	EnvDegree  = "MV2_SPAWN_DEGREE"
	EnvSh      = "MV2_SPAWN_SH"
	EnvLocal   = "MV2_SPAWN_LOCAL"
	EnvCopy    = "MV2_SPAWN_COPY"
	EnvDbg     = "MV2_SPAWN_DBG"
	EnvExe     = "MV2_SPAWN_EXE"
	EnvPPN     = "MV2_SPAWN_PPN"
	EnvPMI     = "MV2_SPAWN_PMI"
	EnvRing    = "MV2_SPAWN_RING"
	EnvFIFO    = "MV2_SPAWN_FIFO"
	EnvBcast   = "MV2_SPAWN_BCAST_BIN"
	EnvMeasure = "MV2_SPAWN_MEASURE"

	EnvParent = "MV2_SPAWN_PARENT"
	EnvID     = "MV2_SPAWN_ID"

	EnvAppAddr = "MV2_PMI_ADDR"
	EnvAppMPIR = "MV2_MPIR"
)

// Int parses key as a base-10 integer, returning a Config error naming
// key on failure.
func Int(m *strmap.Map, key string, def int) (int, error) {
	v, ok := m.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, spawnerr.Config(fmt.Sprintf("parse %s", key), err)
	}
	return n, nil
}

// Bool parses key as "0"/"1", returning a Config error naming key on
// any other value.
func Bool(m *strmap.Map, key string, def bool) (bool, error) {
	v, ok := m.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, spawnerr.Configf("%s must be 0 or 1, got %q", key, v)
	}
}

// OneOf checks that key's value (or def if unset) is one of allowed,
// returning a Config error otherwise.
func OneOf(m *strmap.Map, key, def string, allowed ...string) (string, error) {
	v, ok := m.Get(key)
	if !ok || v == "" {
		v = def
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", spawnerr.Configf("%s must be one of %v, got %q", key, allowed, v)
}

// ResolveHelper searches PATH for name and records its absolute path
// into m under the same key, matching the original implementation's
// PATH-search-and-cache behavior for ssh/scp/rsh/rcp/sh/env.
func ResolveHelper(m *strmap.Map, name string) error {
	abs, err := exec.LookPath(name)
	if err != nil {
		return spawnerr.Config(fmt.Sprintf("resolve helper %q", name), err)
	}
	m.Set(name, abs)
	return nil
}

// ResolveHelpersForMode resolves only the helpers the selected sh/local
// kinds actually need, plus env which every remote fork needs to set
// MV2_SPAWN_PARENT/MV2_SPAWN_ID in the child's environment.
func ResolveHelpersForMode(m *strmap.Map, sh, local string, copyStage bool) error {
	needed := map[string]bool{KeyEnv: true}
	switch sh {
	case "ssh":
		needed[KeySsh] = true
		if copyStage {
			needed[KeyScp] = true
		}
	case "rsh":
		needed[KeyRsh] = true
		if copyStage {
			needed[KeyRcp] = true
		}
	}
	if local == "shell" {
		needed[KeySh2] = true
	}
	for name := range needed {
		if err := ResolveHelper(m, name); err != nil {
			return err
		}
	}
	return nil
}

// ParseRootArgs builds the initial parameter strmap at root from
// positional hostnames (§6's CLI contract: ./launcher host1 host2 ...
// hostM) and the root-only environment variables. It does not resolve
// helper paths or EXE staging; callers do that once the mode is known.
func ParseRootArgs(hosts []string, exePath string, environ func(string) string) (*strmap.Map, error) {
	if len(hosts) == 0 {
		return nil, spawnerr.Configf("at least one target host is required")
	}

	m := strmap.New()
	m.Setf(KeyN, "%d", len(hosts))
	for i, h := range hosts {
		m.Setf(fmt.Sprintf("%d", i), "%s", h)
	}

	deg, err := parseIntEnv(environ, EnvDegree, 2)
	if err != nil {
		return nil, err
	}
	if deg < 2 {
		return nil, spawnerr.Configf("%s must be >= 2, got %d", EnvDegree, deg)
	}
	m.Setf(KeyDeg, "%d", deg)

	sh := environ(EnvSh)
	if sh == "" {
		sh = "ssh"
	}
	if sh != "ssh" && sh != "rsh" {
		return nil, spawnerr.Configf("%s must be ssh or rsh, got %q", EnvSh, sh)
	}
	m.Set(KeySh, sh)

	local := environ(EnvLocal)
	if local == "" {
		local = "direct"
	}
	if local != "direct" && local != "shell" {
		return nil, spawnerr.Configf("%s must be direct or shell, got %q", EnvLocal, local)
	}
	m.Set(KeyLocal, local)

	copyVal := environ(EnvCopy)
	if copyVal == "" {
		copyVal = "0"
	}
	if copyVal != "0" && copyVal != "1" {
		return nil, spawnerr.Configf("%s must be 0 or 1, got %q", EnvCopy, copyVal)
	}
	m.Set(KeyCopy, copyVal)

	mpir := environ(EnvDbg)
	if mpir != "" && mpir != "spawn" && mpir != "app" {
		return nil, spawnerr.Configf("%s must be spawn or app, got %q", EnvDbg, mpir)
	}
	if mpir == "" {
		mpir = "unset"
	}
	m.Set(KeyMpir, mpir)

	m.Set(KeyExe, exePath)

	return m, nil
}

func parseIntEnv(environ func(string) string, key string, def int) (int, error) {
	v := environ(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, spawnerr.Config(fmt.Sprintf("parse %s", key), err)
	}
	return n, nil
}

// OSEnviron is the environ func ParseRootArgs expects in production,
// backed by os.Getenv.
func OSEnviron(key string) string {
	return os.Getenv(key)
}

// ScratchDir is the local scratch path every launcher derives staged
// executables and file-broadcast output under, keyed by this process's
// pid so concurrent jobs on the same host don't collide.
func ScratchDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("mpispawn-%d", os.Getpid()))
}

// StageExecutable implements §4.F step 1's "optionally stage launcher
// executable into scratch path and overwrite EXE": copies the EXE
// parameter's current value into scratchDir and rewrites EXE to the
// staged path, matching COPY=1's effect on every subsequent remote
// fork (§4.F step 2.a stages the same staged path out to each remote
// host rather than the original build-tree binary).
func StageExecutable(m *strmap.Map, scratchDir string) error {
	src, ok := m.Get(KeyExe)
	if !ok || src == "" {
		return spawnerr.Configf("StageExecutable: %s is not set", KeyExe)
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return spawnerr.IO("StageExecutable: mkdir", err)
	}
	dst := filepath.Join(scratchDir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return spawnerr.IO("StageExecutable: open source", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return spawnerr.IO("StageExecutable: create staged copy", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return spawnerr.IO("StageExecutable: copy", err)
	}

	m.Set(KeyExe, dst)
	return nil
}
