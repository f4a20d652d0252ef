// Package mpir implements the debugger-attach convention: a fixed,
// process-wide table of process descriptors plus an integer state flag,
// observable by an external debugger that traps on a quiescent
// breakpoint function. The table and flag are deliberately package-level
// state, not fields on some struct that Go's escape analysis could
// otherwise eliminate — an external debugger needs a stable symbol to
// find, the same guarantee the original implementation gets from a
// global array at a fixed address.
package mpir

import "sync"

// State mirrors the original's {null, spawned, aborting} enum.
type State int32

const (
	StateNull State = iota
	StateSpawned
	StateAborting
)

// ProcDesc describes one process an attached debugger can see, in
// either Spawn mode (one entry per launcher) or App mode (one entry per
// locally forked application process, first group only).
type ProcDesc struct {
	HostName       string
	ExecutableName string
	PID            int
}

var (
	mu        sync.Mutex
	procTable []ProcDesc
	state     State
)

// Mode selects which population the table covers, per §6: "spawn"
// covers the launcher tree, "app" covers the first application group.
type Mode string

const (
	ModeUnset Mode = ""
	ModeSpawn Mode = "spawn"
	ModeApp   Mode = "app"
)

// Fill populates the process-wide table. It is only ever called at rank
// 0 (root), per the spec's data model.
func Fill(descs []ProcDesc) {
	mu.Lock()
	procTable = make([]ProcDesc, len(descs))
	copy(procTable, descs)
	state = StateSpawned
	mu.Unlock()
}

// MarkAborting flips the state flag without touching the table, used
// when the job-wide fatal-error policy (§7) kicks in after the table
// was already filled.
func MarkAborting() {
	mu.Lock()
	state = StateAborting
	mu.Unlock()
}

// Table returns a copy of the current process table, mostly useful for
// tests; an attached debugger reads the package-level var directly
// instead of calling this.
func Table() []ProcDesc {
	mu.Lock()
	defer mu.Unlock()
	out := make([]ProcDesc, len(procTable))
	copy(out, procTable)
	return out
}

// CurrentState returns the state flag.
func CurrentState() State {
	mu.Lock()
	defer mu.Unlock()
	return state
}

//go:noinline
func breakpoint() {
	// Intentionally empty: this function's only purpose is to be a
	// stable call site an attached debugger can set a trap on, after
	// Fill has populated the table. go:noinline keeps the compiler
	// from eliminating the call site via inlining.
}

// Breakpoint calls the quiescent function the spec requires after the
// table has been filled at root.
func Breakpoint() {
	breakpoint()
}
