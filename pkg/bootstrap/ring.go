package bootstrap

import (
	"context"

	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// RunRing implements §4.I end to end for this launcher: accepts gp.PPN
// channels from locally forked app processes, collects each one's ADDR,
// seeds the tree ring-scan with this launcher's leftmost/rightmost
// addresses, then dispatches each local child its own (LEFT, RIGHT)
// neighbor pair computed from the scan output and its immediate local
// neighbors.
func RunRing(ctx context.Context, links *collective.Links, ep channel.Endpoint, rank, ranks, ppn int, msink metrics.MetricSink) error {
	if ppn == 0 {
		_, err := collective.RingScan(links, collective.RingIO{}, msink)
		return err
	}

	channels, err := acceptN(ctx, ep, ppn)
	if err != nil {
		return err
	}

	addrs := make([]string, ppn)
	for i, ch := range channels {
		m, err := channel.ReadStrmap(ch)
		if err != nil {
			return spawnerr.Transport("RunRing: read ADDR", err)
		}
		addr, ok := m.Get("ADDR")
		if !ok {
			return spawnerr.Protocolf("RunRing: channel %d sent no ADDR", i)
		}
		addrs[i] = addr
	}

	in := collective.RingIO{Left: addrs[0], Right: addrs[ppn-1]}
	out, err := collective.RingScan(links, in, msink)
	if err != nil {
		return err
	}

	for i, ch := range channels {
		var left, right string
		if i == 0 {
			left = out.Left
		} else {
			left = addrs[i-1]
		}
		if i == ppn-1 {
			right = out.Right
		} else {
			right = addrs[i+1]
		}

		resp := strmap.New()
		resp.Setf("RANK", "%d", rank*ppn+i)
		resp.Setf("RANKS", "%d", ranks*ppn)
		resp.Set("LEFT", left)
		resp.Set("RIGHT", right)
		if err := channel.WriteStrmap(ch, resp); err != nil {
			return spawnerr.Transport("RunRing: send neighbors", err)
		}
		if err := ch.Disconnect(); err != nil {
			return spawnerr.Transport("RunRing: disconnect", err)
		}
	}

	return nil
}
