package probe

import (
	"context"
	"math"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pinger measures reachability with a short fixed burst of echo requests.
// Implementations never return an error: a probe that produced nothing is
// reported as total loss, which is exactly the signal downstream wants.
type Pinger interface {
	Ping(ctx context.Context, host string) Stats
}

// Tracer enumerates intermediate hops toward a host with per-hop loss and
// latency statistics. Unlike Ping this can fail (tool missing, raw sockets
// denied, wall-clock timeout); callers treat any error as "no path data".
type Tracer interface {
	Trace(ctx context.Context, host string, opts TraceOptions) (*PathReport, error)
}

// TraceOptions carries the per-cycle tuning for a path probe run.
type TraceOptions struct {
	Cycles  int
	MaxHops int
	Timeout time.Duration
}

// Stats summarizes one reachability probe.
type Stats struct {
	Sent     int
	Received int
	LossPct  float64
	// AvgRTTMs is NaN when no replies came back.
	AvgRTTMs float64
}

// HopStats is one parsed row of a path probe report.
type HopStats struct {
	Index   int
	Host    string
	LossPct float64
	Sent    int
	LastMs  float64
	AvgMs   float64
	BestMs  float64
	WorstMs float64
	StdevMs float64
}

// PathReport is the ordered hop list from one path probe run.
type PathReport struct {
	Hops []HopStats
}

// LastHop returns the final parsed hop, usually the destination itself.
func (r *PathReport) LastHop() (HopStats, bool) {
	if r == nil || len(r.Hops) == 0 {
		return HopStats{}, false
	}
	return r.Hops[len(r.Hops)-1], true
}

// FailureStats is the all-failure default: nothing sent, nothing received,
// total loss, RTT sentinel. Parsers fall back to it whenever tool output
// does not look like anything they recognize.
func FailureStats() Stats {
	return Stats{LossPct: 100, AvgRTTMs: math.NaN()}
}

// Dependencies allow test overrides for command execution, tool lookup,
// and logging across the exec-based probers.
type Dependencies struct {
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath   func(name string) (string, error)
	Logger     *log.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	deps := d
	if deps.RunCommand == nil {
		deps.RunCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			return cmd.CombinedOutput()
		}
	}
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	return deps
}
