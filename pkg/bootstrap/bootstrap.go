// Package bootstrap implements the two application bootstrap protocols
// a launcher runs against its locally forked application processes: the
// PMI key/value exchange with barrier (§4.H) and the ring-exchange
// (§4.I). Both accept channels from app processes on the launcher's own
// endpoint, multiplexed by sequenced accept after the tree-unfurl
// accepts have already consumed the tree-child slots.
package bootstrap

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/config"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// GroupParams is the parsed, typed view of the group-start strmap
// broadcast in §4.F step 6.
type GroupParams struct {
	Name     string
	Exe      string
	Cwd      string
	PPN      int
	PMI      bool
	Ring     bool
	FIFO     bool
	BinBcast bool
}

// ParseGroupParams decodes GroupParams from the broadcast strmap.
func ParseGroupParams(m *strmap.Map) (GroupParams, error) {
	var gp GroupParams
	gp.Name = m.GetOr(config.GroupKeyName, "app")
	gp.Exe = m.GetOr(config.GroupKeyExe, "")
	gp.Cwd = m.GetOr(config.GroupKeyCwd, "")
	if gp.Exe == "" {
		return gp, spawnerr.Configf("group-start %s is required", config.GroupKeyExe)
	}

	ppn, err := config.Int(m, config.GroupKeyPPN, 0)
	if err != nil {
		return gp, err
	}
	gp.PPN = ppn

	if gp.PMI, err = config.Bool(m, config.GroupKeyPMI, false); err != nil {
		return gp, err
	}
	if gp.Ring, err = config.Bool(m, config.GroupKeyRing, false); err != nil {
		return gp, err
	}
	if gp.FIFO, err = config.Bool(m, config.GroupKeyFIFO, false); err != nil {
		return gp, err
	}
	if gp.BinBcast, err = config.Bool(m, config.GroupKeyBinBcast, false); err != nil {
		return gp, err
	}
	return gp, nil
}

// spawnLocalApp forks one application process, setting MV2_PMI_ADDR (and
// MV2_MPIR when under the debugger) in its environment per §6.
func spawnLocalApp(gp GroupParams, launcherEndpointName string, underDebugger bool) (*exec.Cmd, error) {
	cmd := exec.Command(gp.Exe)
	if gp.Cwd != "" {
		cmd.Dir = gp.Cwd
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.EnvAppAddr, launcherEndpointName))
	if underDebugger {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=1", config.EnvAppMPIR))
	}
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.Spawn("spawnLocalApp", err)
	}
	return cmd, nil
}

// SpawnLocalApps forks gp.PPN application processes and returns the
// started commands; callers accept their connect-backs separately via
// the PMI/Ring accept loops below, then Wait() on the returned commands
// as part of §4.F step 7 teardown.
func SpawnLocalApps(gp GroupParams, launcherEndpointName string, underDebugger bool) ([]*exec.Cmd, error) {
	cmds := make([]*exec.Cmd, 0, gp.PPN)
	for i := 0; i < gp.PPN; i++ {
		cmd, err := spawnLocalApp(gp, launcherEndpointName, underDebugger)
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// acceptN accepts exactly n channels from ep, in any order — both
// bootstrap protocols below reduce to "accept from every local app
// process", unlike the tree unfurl's ID-keyed fan-in, since here slot
// assignment is purely positional (rank·PPN+i) and not negotiated.
func acceptN(ctx context.Context, ep channel.Endpoint, n int) ([]channel.Channel, error) {
	out := make([]channel.Channel, 0, n)
	for i := 0; i < n; i++ {
		ch, err := ep.Accept(ctx)
		if err != nil {
			return nil, spawnerr.Transport("bootstrap.acceptN", err)
		}
		out = append(out, ch)
	}
	return out, nil
}
