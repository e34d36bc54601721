package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/connwatchhq/agent/internal/config"
	"github.com/connwatchhq/agent/internal/logfile"
	"github.com/connwatchhq/agent/internal/metrics"
	"github.com/connwatchhq/agent/internal/netinfo"
	"github.com/connwatchhq/agent/internal/probe"
	"github.com/connwatchhq/agent/internal/record"
	"github.com/connwatchhq/agent/internal/target"
)

// Deliverer hands one finished measurement to the sink fan-out. An error
// means the mandatory log append failed and the cycle must abort.
type Deliverer interface {
	Deliver(ctx context.Context, m record.Measurement) error
}

// Dependencies are the collaborators the engine drives each cycle. All are
// required except Metrics, Now, and NewCycleID, which default sensibly.
type Dependencies struct {
	Pinger    probe.Pinger
	Tracer    probe.Tracer
	Resolver  *netinfo.Resolver
	Deliverer Deliverer
	Writer    *logfile.Writer
	Metrics   *metrics.Store
	Logger    *log.Logger

	Now        func() time.Time
	NewCycleID func() string
}

func (d Dependencies) withDefaults() Dependencies {
	deps := d
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewCycleID == nil {
		deps.NewCycleID = uuid.NewString
	}
	return deps
}

// Engine runs the measurement loop: rotate the log, re-derive the effective
// configuration, probe every target, and deliver one record per target.
// The startup configuration is immutable; only the overlay-backed fields
// change between cycles.
type Engine struct {
	base config.Config
	deps Dependencies

	// wake lets the overlay watcher cut the inter-cycle sleep short so an
	// edited target list takes effect without waiting out the interval.
	wake chan struct{}
}

func New(base config.Config, deps Dependencies) *Engine {
	return &Engine{
		base: base,
		deps: deps.withDefaults(),
		wake: make(chan struct{}, 1),
	}
}

// Run executes cycles until ctx is canceled or a cycle fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	for {
		cfg, err := e.runCycle(ctx)
		if err != nil {
			return err
		}

		interval := time.Duration(cfg.IntervalSec) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
			e.deps.Logger.Debug("config overlay changed, starting next cycle early")
		case <-time.After(interval):
		}
	}
}

// RunOnce executes a single cycle and exits. Used by the once subcommand
// for smoke tests and cron-style invocations.
func (e *Engine) RunOnce(ctx context.Context) error {
	_, err := e.runCycle(ctx)
	return err
}

func (e *Engine) runCycle(ctx context.Context) (config.Config, error) {
	started := e.deps.Now()

	// Rotation ceilings come from the startup configuration; the overlay
	// cannot change them mid-flight.
	maxAge := time.Duration(e.base.Log.MaxAgeSec) * time.Second
	rotated, err := e.deps.Writer.Rotate(e.base.Log.MaxBytes, maxAge, e.base.Log.Keep)
	if err != nil {
		e.deps.Logger.WithError(err).Warn("log rotation failed, continuing with current file")
	} else if rotated {
		if e.deps.Metrics != nil {
			e.deps.Metrics.IncRotations()
		}
		e.deps.Logger.Info("rotated measurement log")
	}

	cfg := config.Reload(e.base, e.deps.Logger)
	targets := target.Parse(cfg.Targets, cfg.DefaultHost)

	cycleID := e.deps.NewCycleID()
	timestamp := e.deps.Now().UTC()
	srcIP := e.deps.Resolver.SourceIP()
	publicIP := e.deps.Resolver.PublicIP(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ProbeConcurrency)
	for _, spec := range targets {
		spec := spec
		g.Go(func() error {
			return e.measureTarget(gctx, cfg, cycleID, timestamp, srcIP, publicIP, spec)
		})
	}
	if err := g.Wait(); err != nil {
		return cfg, fmt.Errorf("cycle %s: %w", cycleID, err)
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.IncCycles()
	}

	elapsed := e.deps.Now().Sub(started)
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if elapsed > interval {
		e.deps.Logger.WithFields(log.Fields{
			"elapsed_s":  elapsed.Seconds(),
			"interval_s": cfg.IntervalSec,
		}).Warn("cycle overran its interval")
	}
	entry := e.deps.Logger.WithFields(log.Fields{
		"cycle_id": cycleID,
		"targets":  len(targets),
	})
	if e.deps.Metrics != nil {
		snap := e.deps.Metrics.Snapshot()
		entry = entry.WithFields(log.Fields{
			"records_total":           snap.Records,
			"probe_failures_total":    snap.ProbeFailures,
			"delivery_failures_total": snap.DeliveryFailures,
		})
	}
	entry.Debug("cycle complete")

	return cfg, nil
}

func (e *Engine) measureTarget(ctx context.Context, cfg config.Config, cycleID string, timestamp time.Time, srcIP, publicIP string, spec target.Spec) error {
	stats := e.deps.Pinger.Ping(ctx, spec.Host)
	if stats.Received == 0 && e.deps.Metrics != nil {
		e.deps.Metrics.IncProbeFailures()
	}

	var path *probe.PathReport
	if cfg.Trace.Enabled && e.deps.Tracer != nil {
		report, err := e.deps.Tracer.Trace(ctx, spec.Host, probe.TraceOptions{
			Cycles:  cfg.Trace.Cycles,
			MaxHops: cfg.Trace.MaxHops,
			Timeout: time.Duration(cfg.Trace.TimeoutSec) * time.Second,
		})
		if err != nil {
			e.deps.Logger.WithError(err).WithField("target", spec.Name).
				Debug("path probe produced no data")
		} else {
			path = report
		}
	}

	m := record.Build(record.Inputs{
		Timestamp: timestamp,
		CycleID:   cycleID,
		Target:    spec,
		SrcIP:     srcIP,
		PublicIP:  publicIP,
		DstIP:     e.deps.Resolver.ResolveHost(ctx, spec.Host),
		Probe:     stats,
		Path:      path,
	})

	if err := e.deps.Deliverer.Deliver(ctx, m); err != nil {
		return fmt.Errorf("target %q: %w", spec.Name, err)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.IncRecords()
	}
	return nil
}

// WatchOverlay wakes the run loop whenever the overlay file is written or
// created. The parent directory is watched because editors and the
// dashboard both replace the file rather than write it in place. The
// watcher is an optimization over the per-cycle overlay re-read, so a
// setup failure (watch backend exhausted, overlay directory absent) only
// costs the early wake: it is logged and the loop falls back to applying
// changes at the next interval.
func (e *Engine) WatchOverlay(ctx context.Context) error {
	if e.base.OverlayPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.deps.Logger.WithError(err).
			Warn("overlay watcher unavailable, changes apply at the next interval")
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()

	dir := filepath.Dir(e.base.OverlayPath)
	if err := watcher.Add(dir); err != nil {
		e.deps.Logger.WithError(err).WithField("dir", dir).
			Warn("overlay watcher unavailable, changes apply at the next interval")
		<-ctx.Done()
		return ctx.Err()
	}
	overlay := filepath.Clean(e.base.OverlayPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != overlay {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				select {
				case e.wake <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.deps.Logger.WithError(err).Warn("overlay watcher error")
		}
	}
}
