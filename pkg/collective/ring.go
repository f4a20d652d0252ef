package collective

import (
	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
)

// RingIO is the (LEFT, RIGHT) address pair ring_scan carries in both
// directions: as input, a launcher's own leftmost/rightmost
// application-visible address; as output, its nearest ring neighbors
// outside its own locally spawned processes.
type RingIO struct {
	Left  string
	Right string
}

func (r RingIO) pack() *strmap.Map {
	m := strmap.New()
	m.Set("LEFT", r.Left)
	m.Set("RIGHT", r.Right)
	return m
}

func unpackRingIO(m *strmap.Map) RingIO {
	return RingIO{Left: m.GetOr("LEFT", ""), Right: m.GetOr("RIGHT", "")}
}

// RingScan computes this launcher's nearest ring neighbors, per §4.E:
// an upward pass combines LEFT/RIGHT across the tree (first non-empty
// walking outward from each subtree's own position), then root closes
// the ring and a downward pass hands each node (and each of its
// children) the addresses immediately surrounding its segment. msink
// counts the scan under telemetry.MetricRingScanCount.
func RingScan(l *Links, in RingIO, msink metrics.MetricSink) (RingIO, error) {
	msink.IncrCounter(telemetry.MetricRingScanCount, 1)

	childrenUp := make([]RingIO, len(l.Children))
	for i, c := range l.Children {
		m, err := channel.ReadStrmap(c)
		if err != nil {
			return RingIO{}, spawnerr.Transport("collective.RingScan: read upward", err)
		}
		childrenUp[i] = unpackRingIO(m)
	}

	up := combineUpward(in, childrenUp)

	if l.Parent != nil {
		if err := channel.WriteStrmap(l.Parent, up.pack()); err != nil {
			return RingIO{}, spawnerr.Transport("collective.RingScan: write upward", err)
		}
	}

	var down RingIO
	if l.IsRoot() {
		down = RingIO{Left: up.Right, Right: up.Left}
	} else {
		m, err := channel.ReadStrmap(l.Parent)
		if err != nil {
			return RingIO{}, spawnerr.Transport("collective.RingScan: read downward", err)
		}
		down = unpackRingIO(m)
	}

	self := RingIO{Left: down.Left}
	if len(l.Children) == 0 {
		self.Right = down.Right
	} else {
		self.Right = childrenUp[0].Left
	}

	for i, c := range l.Children {
		childDown := RingIO{}
		if i == 0 {
			childDown.Left = in.Right
		} else {
			childDown.Left = childrenUp[i-1].Right
		}
		if i == len(l.Children)-1 {
			childDown.Right = down.Right
		} else {
			childDown.Right = childrenUp[i+1].Left
		}
		if err := channel.WriteStrmap(c, childDown.pack()); err != nil {
			return RingIO{}, spawnerr.Transport("collective.RingScan: write downward", err)
		}
	}

	return self, nil
}

// combineUpward computes the LEFT/RIGHT of the subtree rooted at this
// launcher: LEFT is the first non-empty LEFT walking [local, child0,
// child1, ...]; RIGHT is the first non-empty RIGHT walking
// [child(last), ..., child0, local].
func combineUpward(local RingIO, children []RingIO) RingIO {
	out := RingIO{}

	if local.Left != "" {
		out.Left = local.Left
	} else {
		for _, c := range children {
			if c.Left != "" {
				out.Left = c.Left
				break
			}
		}
	}

	if len(children) > 0 {
		for i := len(children) - 1; i >= 0; i-- {
			if children[i].Right != "" {
				out.Right = children[i].Right
				break
			}
		}
	}
	if out.Right == "" {
		out.Right = local.Right
	}

	return out
}
