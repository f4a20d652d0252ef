package session

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mpispawn/mpispawn/pkg/bootstrap"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/mpir"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// appCmd adapts *exec.Cmd to trackedCmd, the same interface tree-child
// commands satisfy, so application processes join the same teardown
// wait set as tree children (§4.F step 7).
type appCmd struct{ *exec.Cmd }

// RunGroup implements §4.F step 6's "every launcher then runs
// process_group_start": parses the broadcast group-start strmap, forks
// gp.PPN local application processes (optionally against a
// tree-broadcast copy of the executable when BIN_BCAST=1), registers
// the group in this session's registry (§4.G), runs the PMI protocol
// (§4.H) and/or the ring protocol (§4.I) against those processes, then
// finalizes the group. firstGroup gates the MPIR app-mode proc table
// (§6: only the first application group is ever exposed to the
// debugger). It returns the started commands for the caller's §4.F
// step 7 teardown wait.
func (s *Session) RunGroup(ctx context.Context, groupStart *strmap.Map, firstGroup bool) ([]trackedCmd, error) {
	gp, err := bootstrap.ParseGroupParams(groupStart)
	if err != nil {
		return nil, err
	}

	if gp.BinBcast {
		staged, err := collective.FileBroadcast(s.Links(), gp.Exe, config.ScratchDir(), s.MSink)
		if err != nil {
			return nil, err
		}
		gp.Exe = staged
	}

	underDebugger := s.Params.GetOr(config.KeyMpir, "unset") == "app"

	cmds, err := bootstrap.SpawnLocalApps(gp, s.Endpoint.Name(), underDebugger)
	if err != nil {
		return nil, err
	}

	pids := make([]int, len(cmds))
	for i, c := range cmds {
		pids[i] = c.Process.Pid
	}

	if firstGroup && underDebugger {
		if err := s.fillMPIRApp(gp, pids); err != nil {
			return nil, err
		}
	}

	if _, err := s.StartGroup(gp.Name, groupStart, pids); err != nil {
		return nil, err
	}

	if gp.PMI {
		if err := bootstrap.RunPMI(ctx, s.Links(), s.Endpoint, s.Rank, s.Ranks, gp.PPN, s.MSink); err != nil {
			return nil, err
		}
	}
	if gp.Ring {
		if err := bootstrap.RunRing(ctx, s.Links(), s.Endpoint, s.Rank, s.Ranks, gp.PPN, s.MSink); err != nil {
			return nil, err
		}
	}

	s.FinalizeGroup(gp.Name)

	out := make([]trackedCmd, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, appCmd{c})
	}
	return out, nil
}

// fillMPIRApp implements the MPIR app-mode table (§6, §2.3): every
// launcher reports its host and the pids it just forked, gathered to
// root, which fills the process-wide table and calls the quiescent
// breakpoint function. Non-root launchers participate in the gather
// but never touch the mpir package directly, matching the data
// model's "populated at rank 0 only" invariant.
func (s *Session) fillMPIRApp(gp bootstrap.GroupParams, pids []int) error {
	local := strmap.New()
	host := Hostname()
	for i, pid := range pids {
		local.Setf(fmt.Sprintf("%d/%d", s.Rank, i), "%s|%s|%d", host, gp.Exe, pid)
	}

	merged, err := collective.GatherStrmap(s.Links(), local, s.MSink)
	if err != nil {
		return spawnerr.Transport("fillMPIRApp: gather", err)
	}
	if !s.IsRoot() {
		return nil
	}

	descs := make([]mpir.ProcDesc, 0, merged.Len())
	merged.Iterate(func(_, v string) bool {
		parts := strings.SplitN(v, "|", 3)
		if len(parts) != 3 {
			return true
		}
		pid, err := strconv.Atoi(parts[2])
		if err != nil {
			return true
		}
		descs = append(descs, mpir.ProcDesc{HostName: parts[0], ExecutableName: parts[1], PID: pid})
		return true
	})
	mpir.Fill(descs)
	mpir.Breakpoint()
	return nil
}
