// Command mpispawn is the launcher binary: invoked with a list of
// target hostnames, it unfurls a k-ary tree of itself across those
// hosts (§4.F), then on every tree node forks and bootstraps the
// configured application processes (§4.H/§4.I). The launcher itself is
// always rank 0 when started with hostnames on argv; every other rank
// is launched by its parent with MV2_SPAWN_PARENT/MV2_SPAWN_ID set in
// its environment (§6), so this same binary drives both branches of
// the state machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/diag"
	"github.com/mpispawn/mpispawn/pkg/mpir"
	"github.com/mpispawn/mpispawn/pkg/session"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

func main() {
	pid := os.Getpid()
	host := session.Hostname()
	log := diag.NewLogger(filepath.Base(os.Args[0]), host, pid)

	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel(errors.New("signal received"))
	}()
	defer cancel(nil)

	os.Exit(run(ctx, log, os.Args[1:]))
}

func run(ctx context.Context, log *slog.Logger, hosts []string) int {
	s, err := session.Bootstrap(ctx, hosts, log)
	if err != nil {
		diag.Fatal(log, exitCode(err), "bootstrap failed", err)
	}
	defer s.Close()

	log = diag.WithRank(log, s.Rank)

	groupStart, err := buildGroupStart(s)
	if err != nil {
		diag.Fatal(log, exitCode(err), "group-start parameters invalid", err)
	}

	mpirMode := mpir.Mode(s.Params.GetOr(config.KeyMpir, "unset"))

	gs, treeCmds, err := s.Unfurl(ctx, groupStart, mpirMode)
	if err != nil {
		diag.Fatal(log, exitCode(err), "unfurl failed", err)
	}

	appCmds, err := s.RunGroup(ctx, gs, true)
	if err != nil {
		diag.Fatal(log, exitCode(err), "process group bootstrap failed", err)
	}

	all := append(treeCmds, appCmds...)
	errs := session.WaitAll(all, s.MSink)

	if s.IsRoot() {
		s.CriticalPath.Log(log)
	}

	for _, e := range errs {
		if e != nil {
			log.Error("a forked process exited non-zero", "error", e)
			return 1
		}
	}
	return 0
}

// buildGroupStart builds the group-start strmap (§3's "group-start
// parameters add") at root from the MV2_SPAWN_* environment variables;
// every other launcher receives it via the broadcast inside Unfurl, so
// this returns nil there and Unfurl's own input argument is ignored.
func buildGroupStart(s *session.Session) (*strmap.Map, error) {
	if !s.IsRoot() {
		return nil, nil
	}

	exe := os.Getenv(config.EnvExe)
	if exe == "" {
		return nil, spawnerr.Configf("%s is required", config.EnvExe)
	}

	ppn, err := parseEnvInt(config.EnvPPN, 0)
	if err != nil {
		return nil, err
	}
	pmi, err := parseEnvBool(config.EnvPMI, false)
	if err != nil {
		return nil, err
	}
	ring, err := parseEnvBool(config.EnvRing, false)
	if err != nil {
		return nil, err
	}
	fifo, err := parseEnvBool(config.EnvFIFO, false)
	if err != nil {
		return nil, err
	}
	binBcast, err := parseEnvBool(config.EnvBcast, false)
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, spawnerr.Config("buildGroupStart: getwd", err)
	}

	m := strmap.New()
	m.Set(config.GroupKeyName, filepath.Base(exe))
	m.Set(config.GroupKeyExe, exe)
	m.Set(config.GroupKeyCwd, cwd)
	m.Setf(config.GroupKeyPPN, "%d", ppn)
	m.Set(config.GroupKeyPMI, boolToStr(pmi))
	m.Set(config.GroupKeyRing, boolToStr(ring))
	m.Set(config.GroupKeyFIFO, boolToStr(fifo))
	m.Set(config.GroupKeyBinBcast, boolToStr(binBcast))
	return m, nil
}

func parseEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, spawnerr.Config(fmt.Sprintf("parse %s", key), err)
	}
	return n, nil
}

func parseEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
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

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// exitCode maps a spawnerr.Kind to an advisory process exit status, per
// §6's "the specific code is advisory".
func exitCode(err error) int {
	switch {
	case spawnerr.Is(err, spawnerr.KindConfig):
		return 1
	case spawnerr.Is(err, spawnerr.KindSpawn):
		return 2
	case spawnerr.Is(err, spawnerr.KindTransport):
		return 3
	case spawnerr.Is(err, spawnerr.KindProtocol):
		return 4
	case spawnerr.Is(err, spawnerr.KindResource):
		return 5
	case spawnerr.Is(err, spawnerr.KindIO):
		return 6
	default:
		return 1
	}
}
