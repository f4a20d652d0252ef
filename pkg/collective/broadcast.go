package collective

import (
	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
)

// Broadcast sends data from root to every launcher: every non-root first
// reads from its parent, then writes to each child in tree order. Root
// only writes. The value returned is what this launcher ends up holding
// (its own input at root, or what it received from its parent
// otherwise). msink records the resulting payload size under
// telemetry.MetricBroadcastBytes.
func Broadcast(l *Links, data []byte, msink metrics.MetricSink) ([]byte, error) {
	if l.Parent != nil {
		got, err := channel.ReadBytes(l.Parent)
		if err != nil {
			return nil, spawnerr.Transport("collective.Broadcast", err)
		}
		data = got
	}
	for _, c := range l.Children {
		if err := channel.WriteBytes(c, data); err != nil {
			return nil, spawnerr.Transport("collective.Broadcast", err)
		}
	}
	msink.IncrCounter(telemetry.MetricBroadcastBytes, float32(len(data)))
	return data, nil
}

// BroadcastStrmap is Broadcast specialized to packed string-maps, used to
// propagate the parameter strmap and the group-start strmap down the
// tree. msink records the packed size under telemetry.MetricBroadcastBytes.
func BroadcastStrmap(l *Links, m *strmap.Map, msink metrics.MetricSink) (*strmap.Map, error) {
	if l.Parent != nil {
		got, err := channel.ReadStrmap(l.Parent)
		if err != nil {
			return nil, spawnerr.Transport("collective.BroadcastStrmap", err)
		}
		m = got
	}
	for _, c := range l.Children {
		if err := channel.WriteStrmap(c, m); err != nil {
			return nil, spawnerr.Transport("collective.BroadcastStrmap", err)
		}
	}
	msink.IncrCounter(telemetry.MetricBroadcastBytes, float32(m.PackSize()))
	return m, nil
}
