package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/mpir"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
	"github.com/mpispawn/mpispawn/pkg/tree"
)

// trackedCmd is a locally forked child this launcher must Wait() on
// before tearing down — either a tree child-launcher or a local
// application process forked during process_group_start.
type trackedCmd interface {
	Wait() error
}

// pendingChild is a tree child this launcher has forked but not yet
// accepted a connect-back from.
type pendingChild struct {
	rank     int
	hostname string
	pid      int
}

// Bootstrap runs §4.F step 1: either the non-root branch (connect to
// parent, handshake, receive parameters) or the root branch (parse
// argv+env, resolve helpers, open the endpoint). It returns a Session
// ready for Unfurl.
func Bootstrap(ctx context.Context, hosts []string, log *slog.Logger) (*Session, error) {
	if parent := os.Getenv(config.EnvParent); parent != "" {
		return bootstrapChild(ctx, parent, log)
	}
	return bootstrapRoot(ctx, hosts, log)
}

func bootstrapChild(ctx context.Context, parentName string, log *slog.Logger) (*Session, error) {
	idStr := os.Getenv(config.EnvID)
	rank, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, spawnerr.Config("bootstrapChild: parse "+config.EnvID, err)
	}

	parentChan, err := channel.Connect(ctx, parentName)
	if err != nil {
		return nil, spawnerr.Transport("bootstrapChild: connect to parent", err)
	}

	handshake := strmap.New()
	handshake.Setf("ID", "%d", rank)
	handshake.Setf("PID", "%d", os.Getpid())
	if err := channel.WriteStrmap(parentChan, handshake); err != nil {
		return nil, spawnerr.Transport("bootstrapChild: send handshake", err)
	}

	params, err := channel.ReadStrmap(parentChan)
	if err != nil {
		return nil, spawnerr.Transport("bootstrapChild: receive parameters", err)
	}

	n, err := config.Int(params, config.KeyN, 0)
	if err != nil {
		return nil, err
	}
	deg, err := config.Int(params, config.KeyDeg, 2)
	if err != nil {
		return nil, err
	}

	net := os.Getenv(config.EnvNet)
	ep, err := openEndpointForNet(net)
	if err != nil {
		return nil, err
	}

	s := New(rank, n, deg, params, log, newMSink())
	s.ParentChan = parentChan
	s.Endpoint = ep
	return s, nil
}

// newMSink builds the go-metrics sink every Session emits through:
// a real in-memory sink when MV2_SPAWN_MEASURE=1, a blackhole otherwise,
// so the measurement toggle controls both the optional collectives
// (§4.F step 5) and whether their cost is actually recorded anywhere.
func newMSink() metrics.MetricSink {
	if os.Getenv(config.EnvMeasure) == "1" {
		sink, err := telemetry.NewSink("mpispawn")
		if err == nil {
			return sink
		}
	}
	return telemetry.NewBlackhole()
}

func bootstrapRoot(ctx context.Context, hosts []string, log *slog.Logger) (*Session, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, spawnerr.Config("bootstrapRoot: resolve own executable", err)
	}

	params, err := config.ParseRootArgs(hosts, exePath, config.OSEnviron)
	if err != nil {
		return nil, err
	}

	sh, _ := params.Get(config.KeySh)
	local, _ := params.Get(config.KeyLocal)
	copyFlag := params.GetOr(config.KeyCopy, "0") == "1"
	if err := config.ResolveHelpersForMode(params, sh, local, copyFlag); err != nil {
		return nil, err
	}

	if copyFlag {
		if err := config.StageExecutable(params, config.ScratchDir()); err != nil {
			return nil, err
		}
	}

	net := os.Getenv(config.EnvNet)
	ep, err := openEndpointForNet(net)
	if err != nil {
		return nil, err
	}

	n, _ := config.Int(params, config.KeyN, len(hosts))
	deg, _ := config.Int(params, config.KeyDeg, 2)

	s := New(0, n, deg, params, log, newMSink())
	s.Endpoint = ep
	return s, nil
}

func openEndpointForNet(net string) (channel.Endpoint, error) {
	kind := channel.KindTCP
	if net == "ibud" {
		kind = channel.KindIbud
	} else if net != "" && net != "tcp" {
		return nil, spawnerr.Configf("%s must be tcp or ibud, got %q", config.EnvNet, net)
	}
	ep, err := channel.Open(kind, ":0")
	if err != nil {
		return nil, spawnerr.Transport("openEndpointForNet", err)
	}
	return ep, nil
}

// Unfurl runs §4.F steps 2-6: builds the tree, forks children, accepts
// their connect-backs, signals the end of the timed unfurl phase, runs
// the optional measurement collectives, and broadcasts the group-start
// strmap. groupStart is only read at root; every other launcher
// receives it via broadcast. mpirMode, when mpir.ModeSpawn, fills the
// debugger proc table at root before the accept loop below runs (§6,
// §2.3 supplemented feature); the table lists root itself and the
// children root forked directly, not launchers deeper in the tree. It
// returns the group-start strmap every launcher ends up holding, and
// the tree-child launchers this launcher forked, which the caller must
// Wait() on before tearing down (application processes are returned
// separately by RunGroup).
func (s *Session) Unfurl(ctx context.Context, groupStart *strmap.Map, mpirMode mpir.Mode) (*strmap.Map, []trackedCmd, error) {
	node := tree.Build(s.Rank, s.Ranks, s.Deg)

	cmds, pendings, err := s.forkChildren(node.Children)
	if err != nil {
		return nil, nil, err
	}

	if s.IsRoot() && mpirMode == mpir.ModeSpawn {
		descs := make([]mpir.ProcDesc, 0, len(pendings)+1)
		descs = append(descs, mpir.ProcDesc{HostName: Hostname(), ExecutableName: s.Params.GetOr(config.KeyExe, ""), PID: os.Getpid()})
		for _, p := range pendings {
			descs = append(descs, mpir.ProcDesc{HostName: p.hostname, ExecutableName: s.Params.GetOr(config.KeyExe, ""), PID: p.pid})
		}
		mpir.Fill(descs)
		mpir.Breakpoint()
	}

	if err := s.acceptChildren(ctx, pendings); err != nil {
		return nil, nil, err
	}

	phaseStart := time.Now()
	if err := collective.Barrier(s.Links()); err != nil {
		return nil, nil, spawnerr.Transport("Unfurl: barrier", err)
	}
	unfurlMs := float64(time.Since(phaseStart).Milliseconds())
	s.CriticalPath.Record("unfurl_barrier", unfurlMs)
	s.MSink.AddSampleWithLabels(telemetry.MetricUnfurlDurationMs, float32(unfurlMs), []metrics.Label{telemetry.LabelRank.M(fmt.Sprintf("%d", s.Rank))})

	if os.Getenv(config.EnvMeasure) == "1" {
		if err := s.runMeasurementCollectives(); err != nil {
			return nil, nil, err
		}
	}

	gs, err := collective.BroadcastStrmap(s.Links(), groupStart, s.MSink)
	if err != nil {
		return nil, nil, spawnerr.Transport("Unfurl: broadcast group-start", err)
	}

	out := make([]trackedCmd, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c)
	}
	return gs, out, nil
}

// forkChildren implements §4.F step 2: for each child rank, optionally
// stages the executable (COPY=1), then forks the child launcher, either
// locally (same hostname, via LOCAL kind) or remotely (via the resolved
// SH binary). It returns the started commands (for Wait() in step 7)
// and a pending-child record per rank, to be matched against
// connect-back handshakes in acceptChildren.
func (s *Session) forkChildren(children []int) ([]*exec.Cmd, []pendingChild, error) {
	if len(children) == 0 {
		return nil, nil, nil
	}

	exe, _ := s.Params.Get(config.KeyExe)
	sh, _ := s.Params.Get(config.KeySh)
	local, _ := s.Params.Get(config.KeyLocal)
	copyFlag := s.Params.GetOr(config.KeyCopy, "0") == "1"
	selfHost := Hostname()

	// Step 2.a: fork every remote-copy helper first and join them all
	// before forking any child, per the ordering contract.
	if copyFlag {
		var copyWG sync.WaitGroup
		copyErrs := make([]error, len(children))
		for i, rank := range children {
			host, _ := s.Params.Get(fmt.Sprintf("%d", rank))
			if host == selfHost {
				continue
			}
			scpBin, _ := s.Params.Get(config.KeyScp)
			if sh == "rsh" {
				scpBin, _ = s.Params.Get(config.KeyRcp)
			}
			copyWG.Add(1)
			go func(i int, host string) {
				defer copyWG.Done()
				cmd, err := copyToRemote(scpBin, exe, host, exe)
				if err != nil {
					copyErrs[i] = err
					return
				}
				copyErrs[i] = cmd.Wait()
			}(i, host)
		}
		copyWG.Wait()
		for _, err := range copyErrs {
			if err != nil {
				return nil, nil, spawnerr.Spawn("forkChildren: stage copy", err)
			}
		}
	}

	envBin, _ := s.Params.Get(config.KeyEnv)
	shBin, _ := s.Params.Get(sh)

	cmds := make([]*exec.Cmd, 0, len(children))
	pendings := make([]pendingChild, 0, len(children))
	for _, rank := range children {
		host, _ := s.Params.Get(fmt.Sprintf("%d", rank))
		env := childEnv(s.Endpoint.Name(), rank)

		var cmd *exec.Cmd
		var err error
		if host == selfHost {
			cmd, err = spawnLocalChild(exe, local, env)
		} else {
			cmd, err = spawnRemoteChild(shBin, host, exe, env, envBin)
		}
		if err != nil {
			s.MSink.IncrCounterWithLabels(telemetry.MetricSpawnFailureCount, 1, []metrics.Label{telemetry.LabelHost.M(host)})
			return nil, nil, err
		}

		cmds = append(cmds, cmd)
		pendings = append(pendings, pendingChild{rank: rank, hostname: host, pid: cmd.Process.Pid})
	}

	return cmds, pendings, nil
}

// acceptChildren implements §4.F step 3: accept exactly len(pendings)
// incoming channels in any order, use each one's ID handshake field to
// match it to the right pending slot, then write the full parameters
// strmap down that channel.
func (s *Session) acceptChildren(ctx context.Context, pendings []pendingChild) error {
	if len(pendings) == 0 {
		return nil
	}

	byRank := make(map[int]pendingChild, len(pendings))
	for _, p := range pendings {
		byRank[p.rank] = p
	}

	links := make([]*ChildLink, len(pendings))
	filled := 0
	for filled < len(pendings) {
		ch, err := s.Endpoint.Accept(ctx)
		if err != nil {
			return spawnerr.Transport("acceptChildren", err)
		}

		hs, err := channel.ReadStrmap(ch)
		if err != nil {
			return spawnerr.Transport("acceptChildren: handshake", err)
		}
		idStr, ok := hs.Get("ID")
		if !ok {
			return spawnerr.Protocolf("acceptChildren: handshake missing ID")
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return spawnerr.Protocol("acceptChildren: parse ID", err)
		}
		pending, ok := byRank[id]
		if !ok {
			return spawnerr.Protocol("acceptChildren", spawnerr.ErrChildSlotUnknown)
		}

		slot := -1
		for i, p := range pendings {
			if p.rank == id {
				slot = i
				break
			}
		}
		links[slot] = &ChildLink{Rank: id, Chan: ch, Hostname: pending.hostname, PID: pending.pid}

		if err := channel.WriteStrmap(ch, s.Params); err != nil {
			return spawnerr.Transport("acceptChildren: send parameters", err)
		}
		filled++
	}

	s.Children = links
	return nil
}

// runMeasurementCollectives runs the optional diagnostic collectives
// named in §4.F step 5 — a pid gather, an endpoint-name allgather, and a
// strmap pack/unpack microbenchmark — recording each phase's duration
// into the critical-path accumulator. None of this changes any state
// observable to application processes.
func (s *Session) runMeasurementCollectives() error {
	start := time.Now()
	pidMap := strmap.New()
	pidMap.Setf(fmt.Sprintf("%d", s.Rank), "%d", os.Getpid())
	if _, err := collective.GatherStrmap(s.Links(), pidMap, s.MSink); err != nil {
		return spawnerr.Transport("runMeasurementCollectives: pid gather", err)
	}
	s.CriticalPath.Record("measure_pid_gather", float64(time.Since(start).Milliseconds()))

	start = time.Now()
	epMap := strmap.New()
	epMap.Setf(fmt.Sprintf("%d", s.Rank), "%s", s.Endpoint.Name())
	if _, err := collective.AllgatherStrmap(s.Links(), epMap, s.MSink); err != nil {
		return spawnerr.Transport("runMeasurementCollectives: endpoint allgather", err)
	}
	s.CriticalPath.Record("measure_endpoint_allgather", float64(time.Since(start).Milliseconds()))

	start = time.Now()
	packed := s.Params.Pack()
	if _, err := strmap.Unpack(packed); err != nil {
		return spawnerr.Transport("runMeasurementCollectives: pack/unpack microbench", err)
	}
	s.CriticalPath.Record("measure_pack_unpack", float64(time.Since(start).Milliseconds()))

	return nil
}

// WaitAll waits, non-busily, for every tracked locally-forked child to
// exit — the supplemented replacement for the original busy-poll
// teardown loop. It fans every Wait() call into its own goroutine and
// joins them through a WaitGroup; since none of them share mutable
// state, no further synchronization is needed. Every non-nil exit is
// counted against MetricChildExitNonZero.
func WaitAll(cmds []trackedCmd, msink metrics.MetricSink) []error {
	errs := make([]error, len(cmds))
	var wg sync.WaitGroup
	for i, c := range cmds {
		wg.Add(1)
		go func(i int, c trackedCmd) {
			defer wg.Done()
			err := c.Wait()
			errs[i] = err
			if err != nil {
				msink.IncrCounter(telemetry.MetricChildExitNonZero, 1)
			}
		}(i, c)
	}
	wg.Wait()
	return errs
}
