package collective

import (
	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
)

// signalByte carries no data; any value is acceptable per the spec.
const signalByte = byte(1)

// SignalToRoot implements the up-tree synchronization wave: every
// non-leaf reads one byte from every child (in tree order), then writes
// one byte to its parent. A leaf just writes to its parent. At root,
// SignalToRoot returns once every launcher has entered the phase.
func SignalToRoot(l *Links) error {
	for _, c := range l.Children {
		if _, err := channel.ReadN(c, 1); err != nil {
			return spawnerr.Transport("collective.SignalToRoot", err)
		}
	}
	if l.Parent != nil {
		if err := channel.WriteAll(l.Parent, []byte{signalByte}); err != nil {
			return spawnerr.Transport("collective.SignalToRoot", err)
		}
	}
	return nil
}

// SignalFromRoot implements the down-tree synchronization wave: every
// non-root reads one byte from its parent, then writes one byte to each
// child in tree order. Once SignalFromRoot returns at a leaf, every
// launcher has exited the gate.
func SignalFromRoot(l *Links) error {
	if l.Parent != nil {
		if _, err := channel.ReadN(l.Parent, 1); err != nil {
			return spawnerr.Transport("collective.SignalFromRoot", err)
		}
	}
	for _, c := range l.Children {
		if err := channel.WriteAll(c, []byte{signalByte}); err != nil {
			return spawnerr.Transport("collective.SignalFromRoot", err)
		}
	}
	return nil
}

// Barrier pairs SignalToRoot and SignalFromRoot to delimit a timed
// phase, the pattern the root uses around the unfurl and the optional
// measurement collectives.
func Barrier(l *Links) error {
	if err := SignalToRoot(l); err != nil {
		return err
	}
	return SignalFromRoot(l)
}
