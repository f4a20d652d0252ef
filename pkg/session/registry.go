package session

import (
	"github.com/mpispawn/mpispawn/pkg/spawnerr"
	"github.com/mpispawn/mpispawn/pkg/strmap"
)

// Group owns a name, a parameters strmap, a count, and an ordered list
// of local pids; created on group start, destroyed on group finalize.
type Group struct {
	Name   string
	Params *strmap.Map
	Count  int
	PIDs   []int
}

// StartGroup creates a process group and installs it into both the
// name→group and pid→name indexes. Both indexes are written only from
// the single launcher thread, so no lock is needed beyond guarding the
// maps themselves against any future reaper goroutine.
func (s *Session) StartGroup(name string, params *strmap.Map, pids []int) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[name]; exists {
		return nil, spawnerr.Configf("process group %q already started", name)
	}

	g := &Group{Name: name, Params: params, Count: len(pids), PIDs: pids}
	s.groups[name] = g
	for _, pid := range pids {
		s.pidToGroup[pid] = name
	}
	return g, nil
}

// GroupByName looks up a group by name.
func (s *Session) GroupByName(name string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	return g, ok
}

// GroupByPID looks up which group owns pid, used by the future reaper
// to map a SIGCHLD to the owning group.
func (s *Session) GroupByPID(pid int) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.pidToGroup[pid]
	if !ok {
		return nil, false
	}
	g, ok := s.groups[name]
	return g, ok
}

// FinalizeGroup deletes name from both indexes.
func (s *Session) FinalizeGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return
	}
	for _, pid := range g.PIDs {
		delete(s.pidToGroup, pid)
	}
	delete(s.groups, name)
}
