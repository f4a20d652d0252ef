package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
)

const (
	tokenBarrier  = "BARRIER"
	tokenGet      = "GET"
	tokenFinalize = "FINALIZE"
	pmiGetRounds  = 2

	// kvsKeySep qualifies every committed key by its owning
	// application rank before it goes into the allgathered strmap, so
	// two ranks committing under the same nominal key (a common
	// pattern: every app process in a job calls PMI_Put with the same
	// symbolic key name) don't collide in the job-wide merge. 0x1f is
	// the ASCII unit separator, chosen so it can't appear in a key an
	// application actually chooses.
	kvsKeySep = "\x1f"
)

func kvsKey(appRank int, key string) string {
	return fmt.Sprintf("%d%s%s", appRank, kvsKeySep, key)
}

// RunPMI implements §4.H end to end for this launcher: accepts gp.PPN
// channels from locally forked app processes, runs the per-channel
// protocol up through the barrier hand-off, synchronizes via
// AllgatherStrmap across the tree, answers the GET rounds, then drains
// FINALIZE and disconnects every channel.
//
// Ordering invariant enforced here: a child's GET before its BARRIER
// hand-off is a Protocol error, since the accept loop below only
// answers GET after every local channel (and the cross-tree allgather)
// has completed its own barrier step.
func RunPMI(ctx context.Context, links *collective.Links, ep channel.Endpoint, rank, ranks, ppn int, msink metrics.MetricSink) error {
	if ppn == 0 {
		return nil
	}

	channels, err := acceptN(ctx, ep, ppn)
	if err != nil {
		return err
	}

	committed := make([]*strmap.Map, ppn)
	for i, ch := range channels {
		init := strmap.New()
		init.Setf("RANK", "%d", rank*ppn+i)
		init.Setf("RANKS", "%d", ranks*ppn)
		init.Set("JOBID", "0")
		if err := channel.WriteStrmap(ch, init); err != nil {
			return spawnerr.Transport("RunPMI: send init", err)
		}

		tok, err := channel.ReadStr(ch)
		if err != nil {
			return spawnerr.Transport("RunPMI: read barrier token", err)
		}
		if tok != tokenBarrier {
			return spawnerr.Protocolf("RunPMI: channel %d sent %q before %s", i, tok, tokenBarrier)
		}
		m, err := channel.ReadStrmap(ch)
		if err != nil {
			return spawnerr.Transport("RunPMI: read committed strmap", err)
		}
		committed[i] = m
	}

	local := strmap.New()
	for i, m := range committed {
		appRank := rank*ppn + i
		m.Iterate(func(k, v string) bool {
			local.Set(kvsKey(appRank, k), v)
			return true
		})
	}
	barrierStart := time.Now()
	global, err := collective.AllgatherStrmap(links, local, msink)
	if err != nil {
		return spawnerr.Transport("RunPMI: allgather", err)
	}
	msink.AddSampleWithLabels(telemetry.MetricBootstrapBarrierMs, float32(time.Since(barrierStart).Milliseconds()),
		[]metrics.Label{telemetry.LabelRank.M(fmt.Sprintf("%d", rank))})

	for _, ch := range channels {
		if err := channel.WriteStr(ch, tokenBarrier); err != nil {
			return spawnerr.Transport("RunPMI: send barrier release", err)
		}
	}

	for round := 0; round < pmiGetRounds; round++ {
		for i, ch := range channels {
			tok, err := channel.ReadStr(ch)
			if err != nil {
				return spawnerr.Transport("RunPMI: read GET token", err)
			}
			if tok != tokenGet {
				return spawnerr.Protocolf("RunPMI: channel %d sent %q, expected %s", i, tok, tokenGet)
			}
			key, err := channel.ReadStr(ch)
			if err != nil {
				return spawnerr.Transport("RunPMI: read GET key", err)
			}
			value := global.GetOr(kvsKey(rank*ppn+i, key), "")
			if err := channel.WriteStr(ch, value); err != nil {
				return spawnerr.Transport("RunPMI: send GET value", err)
			}
		}
	}

	for i, ch := range channels {
		tok, err := channel.ReadStr(ch)
		if err != nil {
			return spawnerr.Transport("RunPMI: read FINALIZE", err)
		}
		if tok != tokenFinalize {
			return spawnerr.Protocolf("RunPMI: channel %d sent %q, expected %s", i, tok, tokenFinalize)
		}
		if err := ch.Disconnect(); err != nil {
			return spawnerr.Transport("RunPMI: disconnect", err)
		}
	}

	return nil
}
