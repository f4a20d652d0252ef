package collective

import (
	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
)

// GatherStrmap merges local into the strmaps read from every child (in
// tree order, overwriting on key conflict), writes the merged result to
// the parent, and returns it. At root the returned map is the complete,
// job-wide merge. msink records the packed size of every child strmap
// read, plus local's own, under telemetry.MetricGatherBytes.
func GatherStrmap(l *Links, local *strmap.Map, msink metrics.MetricSink) (*strmap.Map, error) {
	merged := local.Clone()
	gatheredBytes := local.PackSize()
	for _, c := range l.Children {
		childMap, err := channel.ReadStrmap(c)
		if err != nil {
			return nil, spawnerr.Transport("collective.GatherStrmap", err)
		}
		merged.Merge(childMap)
		gatheredBytes += childMap.PackSize()
	}
	if l.Parent != nil {
		if err := channel.WriteStrmap(l.Parent, merged); err != nil {
			return nil, spawnerr.Transport("collective.GatherStrmap", err)
		}
	}
	msink.IncrCounter(telemetry.MetricGatherBytes, float32(gatheredBytes))
	return merged, nil
}

// AllgatherStrmap is GatherStrmap followed by BroadcastStrmap: every
// launcher ends up holding the job-wide merge of every input, later
// insertions overriding earlier ones for conflicting keys, in a
// globally consistent order (root's gather order).
func AllgatherStrmap(l *Links, local *strmap.Map, msink metrics.MetricSink) (*strmap.Map, error) {
	gathered, err := GatherStrmap(l, local, msink)
	if err != nil {
		return nil, err
	}

	var rootInput *strmap.Map
	if l.IsRoot() {
		rootInput = gathered
	}
	return BroadcastStrmap(l, rootInput, msink)
}
