// Package collective implements the tree-structured collectives every
// launcher rides on: the up/down signalling barrier pair, broadcast,
// gather/allgather of string-maps, ring-scan, and file-broadcast. Every
// operation is synchronous blocking send/recv over owned channels, in
// the order the tree topology produced the child list — no background
// event loop, per the design note that collectives are message passing,
// not callbacks.
package collective

import (
	"github.com/mpispawn/mpispawn/pkg/channel"
)

// Links is the set of channels a single launcher uses to participate in
// collectives: its parent link (nil at root) and its children's links,
// in the exact order pkg/tree produced them. Every collective below
// iterates Children in this order; callers must not reorder it.
type Links struct {
	Parent   channel.Channel
	Children []channel.Channel
}

func (l *Links) IsRoot() bool  { return l.Parent == nil }
func (l *Links) IsLeaf() bool  { return len(l.Children) == 0 }
