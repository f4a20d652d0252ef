// Package telemetry names the metrics mpispawn emits and the critical-path
// timing summary printed by root on teardown, following the teacher's
// TelemetryLabel pattern of typed constants with .L()/.M() accessors.
package telemetry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricUnfurlDurationMs     = []string{"mpispawn", "unfurl", "duration", "ms"}
	MetricBroadcastBytes       = []string{"mpispawn", "collective", "broadcast", "bytes"}
	MetricGatherBytes          = []string{"mpispawn", "collective", "gather", "bytes"}
	MetricRingScanCount        = []string{"mpispawn", "collective", "ring_scan", "count"}
	MetricBootstrapBarrierMs   = []string{"mpispawn", "bootstrap", "pmi", "barrier", "ms"}
	MetricChildExitNonZero     = []string{"mpispawn", "child", "exit", "nonzero", "count"}
	MetricSpawnFailureCount    = []string{"mpispawn", "spawn", "failure", "count"}
)

// Label is a typed key used both as a slog attribute and a go-metrics
// label, matching the teacher's TelemetryLabel(val).L()/.M() pattern.
type Label string

const (
	LabelRank     Label = "rank"
	LabelHost     Label = "host"
	LabelPhase    Label = "phase"
	LabelKind     Label = "kind"
	LabelError    Label = "error"
)

func (l Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(l), Value: val}
}

func (l Label) L(val any) slog.Attr {
	return slog.Attr{Key: string(l), Value: slog.AnyValue(val)}
}

// NewSink builds the go-metrics sink; callers that don't care about
// metrics pass a BlackholeSink via NewBlackhole.
func NewSink(serviceName string) (metrics.MetricSink, error) {
	return metrics.NewInmemSink(10e9, 60e9), nil
}

// NewBlackhole returns a sink that discards every metric, used when
// MV2_SPAWN_MEASURE is off.
func NewBlackhole() metrics.MetricSink {
	return &metrics.BlackholeSink{}
}

// CriticalPath accumulates named phase durations at root and renders a
// one-shot human-readable summary on teardown, the supplemented
// equivalent of the original implementation's begin_delta/end_delta
// bracketing around the unfurl and optional measurement collectives.
type CriticalPath struct {
	phases []phaseTiming
}

type phaseTiming struct {
	name string
	ms   float64
}

// Record appends a phase's elapsed time, in milliseconds, to the summary.
func (cp *CriticalPath) Record(name string, ms float64) {
	cp.phases = append(cp.phases, phaseTiming{name: name, ms: ms})
}

// Log writes the accumulated phase summary through l at info level, one
// attribute per phase, plus the total.
func (cp *CriticalPath) Log(l *slog.Logger) {
	total := 0.0
	args := make([]any, 0, len(cp.phases)*2+2)
	for _, p := range cp.phases {
		args = append(args, p.name+"_ms", p.ms)
		total += p.ms
	}
	args = append(args, "total_ms", total)
	l.Info("critical path", args...)
}
