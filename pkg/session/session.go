// Package session ties the tree unfurl (§4.F) and process-group registry
// (§4.G) together: Session is the root of a launcher's live state, owning
// its endpoint, its position in the spawn tree, the parameters strmap,
// and the two name/pid indexes bootstrap protocols populate.
package session

import (
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/mpispawn/mpispawn/pkg/channel"
	"github.com/mpispawn/mpispawn/pkg/collective"
	"github.com/mpispawn/mpispawn/pkg/strmap"
	"github.com/mpispawn/mpispawn/pkg/telemetry"
)

// ChildLink records one locally-unfurled tree child: its rank, the
// channel to it, and the hostname/pid used to fork it. Channels are
// exclusively owned by the Session that holds them; hostname is an
// owned copy.
type ChildLink struct {
	Rank     int
	Chan     channel.Channel
	Hostname string
	PID      int
}

// Session is constructed once per launcher process and destroyed after
// the session completes.
type Session struct {
	Rank   int
	Ranks  int
	Deg    int
	Params *strmap.Map

	Endpoint   channel.Endpoint
	ParentChan channel.Channel // nil at root
	Children   []*ChildLink    // in tree order

	Log          *slog.Logger
	CriticalPath *telemetry.CriticalPath
	MSink        metrics.MetricSink

	mu         sync.Mutex
	groups     map[string]*Group
	pidToGroup map[int]string
}

// New constructs a bare Session for rank within a tree of ranks nodes
// and fan-out deg, with params already resolved (by the root branch of
// the unfurl state machine, or received from the parent by the
// non-root branch). msink is the go-metrics sink every collective and
// spawn-path metric is emitted through; pass telemetry.NewBlackhole()
// when MV2_SPAWN_MEASURE is off.
func New(rank, ranks, deg int, params *strmap.Map, log *slog.Logger, msink metrics.MetricSink) *Session {
	return &Session{
		Rank:         rank,
		Ranks:        ranks,
		Deg:          deg,
		Params:       params,
		Log:          log,
		CriticalPath: &telemetry.CriticalPath{},
		MSink:        msink,
		groups:       make(map[string]*Group),
		pidToGroup:   make(map[int]string),
	}
}

// Links builds the collective.Links view of this session's current
// parent/children channels, in tree order. Every collective call takes
// a fresh snapshot since children can in principle be replaced across
// group starts (the core does not do this today, but the indirection
// costs nothing).
func (s *Session) Links() *collective.Links {
	l := &collective.Links{Parent: s.ParentChan}
	for _, c := range s.Children {
		l.Children = append(l.Children, c.Chan)
	}
	return l
}

// IsRoot reports whether this launcher is rank 0.
func (s *Session) IsRoot() bool { return s.Rank == 0 }

// Hostname returns the local hostname, used for diagnostics and for the
// MPIR proc table.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Close tears down the session's endpoint and every channel still open.
// It does not wait for forked children; callers do that separately
// (§4.F step 7) before calling Close.
func (s *Session) Close() error {
	var firstErr error
	for _, c := range s.Children {
		if err := c.Chan.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ParentChan != nil {
		if err := s.ParentChan.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Endpoint != nil {
		if err := s.Endpoint.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
