package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/connwatchhq/agent/internal/config"
	"github.com/connwatchhq/agent/internal/logfile"
	"github.com/connwatchhq/agent/internal/metrics"
	"github.com/connwatchhq/agent/internal/netinfo"
	"github.com/connwatchhq/agent/internal/probe"
	"github.com/connwatchhq/agent/internal/record"
)

type fakePinger struct {
	stats map[string]probe.Stats
}

func (f *fakePinger) Ping(ctx context.Context, host string) probe.Stats {
	if s, ok := f.stats[host]; ok {
		return s
	}
	return probe.FailureStats()
}

type fakeTracer struct {
	report *probe.PathReport
	err    error
	calls  int
}

func (f *fakeTracer) Trace(ctx context.Context, host string, opts probe.TraceOptions) (*probe.PathReport, error) {
	f.calls++
	return f.report, f.err
}

type captureDeliverer struct {
	mu       sync.Mutex
	err      error
	received []record.Measurement
}

func (c *captureDeliverer) Deliver(ctx context.Context, m record.Measurement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.received = append(c.received, m)
	return nil
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testResolver() *netinfo.Resolver {
	return netinfo.NewResolver("", netinfo.Dependencies{
		DiscoverInterface: func() (net.IP, error) { return net.ParseIP("192.168.1.10"), nil },
		LookupHost: func(ctx context.Context, host string) ([]string, error) {
			return []string{"203.0.113.7"}, nil
		},
		Logger: quietLogger(),
	})
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Targets = "dns=8.8.8.8,cloudflare=1.1.1.1"
	cfg.Log.Path = filepath.Join(t.TempDir(), "connectivity.log")
	cfg.OverlayPath = ""
	cfg.PublicIPURL = ""
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, deps Dependencies) *Engine {
	t.Helper()
	writer, err := logfile.New(cfg.Log.Path, logfile.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("logfile.New() error = %v", err)
	}
	deps.Writer = writer
	if deps.Resolver == nil {
		deps.Resolver = testResolver()
	}
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	if deps.NewCycleID == nil {
		deps.NewCycleID = func() string { return "cycle-1" }
	}
	return New(cfg, deps)
}

func TestRunOnceMeasuresEveryTarget(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureDeliverer{}
	store := metrics.NewStore()
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger: &fakePinger{stats: map[string]probe.Stats{
			"8.8.8.8": {Sent: 5, Received: 5, LossPct: 0, AvgRTTMs: 12.4},
			"1.1.1.1": {Sent: 5, Received: 4, LossPct: 20, AvgRTTMs: 9.1},
		}},
		Deliverer: sink,
		Metrics:   store,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(sink.received) != 2 {
		t.Fatalf("delivered %d records, want 2", len(sink.received))
	}

	byTarget := map[string]record.Measurement{}
	for _, m := range sink.received {
		byTarget[m.Target] = m
	}
	dns, ok := byTarget["dns"]
	if !ok {
		t.Fatal("no record for target dns")
	}
	if dns.DstHost != "8.8.8.8" || dns.DstIP != "8.8.8.8" {
		t.Errorf("dns dst = %q/%q", dns.DstHost, dns.DstIP)
	}
	if dns.Sent != 5 || dns.Received != 5 || dns.LossPct != 0 {
		t.Errorf("dns stats = %+v", dns)
	}
	if dns.SrcIP != "192.168.1.10" {
		t.Errorf("src_ip = %q", dns.SrcIP)
	}

	cf := byTarget["cloudflare"]
	if cf.Timestamp != dns.Timestamp {
		t.Errorf("timestamps differ within one cycle: %q vs %q", cf.Timestamp, dns.Timestamp)
	}
	if cf.CycleID != dns.CycleID || cf.CycleID != "cycle-1" {
		t.Errorf("cycle ids differ: %q vs %q", cf.CycleID, dns.CycleID)
	}
	if cf.PublicIP != dns.PublicIP {
		t.Errorf("public ips differ: %q vs %q", cf.PublicIP, dns.PublicIP)
	}

	snap := store.Snapshot()
	if snap.Cycles != 1 || snap.Records != 2 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestRunOnceResolvesHostnames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = "web=example.com"
	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{stats: map[string]probe.Stats{"example.com": {Sent: 5, Received: 5, AvgRTTMs: 30}}},
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got := sink.received[0].DstIP; got != "203.0.113.7" {
		t.Errorf("dst_ip = %q, want resolved address", got)
	}
	if got := sink.received[0].DstHost; got != "example.com" {
		t.Errorf("dst_host = %q", got)
	}
}

func TestRunOnceWithPathProbe(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = "dns=8.8.8.8"
	cfg.Trace.Enabled = true
	tracer := &fakeTracer{report: &probe.PathReport{Hops: []probe.HopStats{
		{Index: 1, Host: "192.168.1.1", Sent: 5, AvgMs: 1.2},
		{Index: 2, Host: "8.8.8.8", LossPct: 0, Sent: 5, AvgMs: 12.0},
	}}}
	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{stats: map[string]probe.Stats{"8.8.8.8": {Sent: 5, Received: 5, AvgRTTMs: 12.0}}},
		Tracer:    tracer,
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	m := sink.received[0]
	if m.MTRHopCount != 2 || len(m.MTRHops) != 2 {
		t.Fatalf("hop count = %d, hops = %d", m.MTRHopCount, len(m.MTRHops))
	}
	if m.MTRLastHost != "8.8.8.8" {
		t.Errorf("mtr_last_host = %q", m.MTRLastHost)
	}
	if tracer.calls != 1 {
		t.Errorf("tracer calls = %d, want 1", tracer.calls)
	}
}

func TestRunOnceTracerFailureYieldsNoPathFields(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = "dns=8.8.8.8"
	cfg.Trace.Enabled = true
	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{stats: map[string]probe.Stats{"8.8.8.8": {Sent: 5, Received: 5, AvgRTTMs: 12.0}}},
		Tracer:    &fakeTracer{err: errors.New("raw sockets denied")},
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	m := sink.received[0]
	if m.MTRHopCount != 0 || m.MTRHops != nil || m.MTRLastHost != "" {
		t.Errorf("path fields present after tracer failure: %+v", m)
	}
}

func TestRunOnceSkipsTracerWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = "dns=8.8.8.8"
	tracer := &fakeTracer{report: &probe.PathReport{}}
	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{},
		Tracer:    tracer,
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if tracer.calls != 0 {
		t.Errorf("tracer calls = %d, want 0", tracer.calls)
	}
}

func TestRunOnceDeliveryFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureDeliverer{err: errors.New("disk full")}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{},
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() succeeded, want error when delivery fails")
	}
}

func TestRunOnceAppliesOverlay(t *testing.T) {
	cfg := testConfig(t)
	overlay := filepath.Join(t.TempDir(), "config.env")
	if err := os.WriteFile(overlay, []byte("TARGETS=router=192.168.1.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.OverlayPath = overlay

	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{stats: map[string]probe.Stats{"192.168.1.1": {Sent: 5, Received: 5, AvgRTTMs: 0.8}}},
		Deliverer: sink,
	})

	if err := eng.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(sink.received) != 1 || sink.received[0].Target != "router" {
		t.Fatalf("records = %+v, want single router record", sink.received)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = "dns=8.8.8.8"
	sink := &captureDeliverer{}
	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{},
		Deliverer: sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// Let at least one cycle finish before stopping.
	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.received)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no cycle completed before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestWatchOverlayMissingDirectoryDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.OverlayPath = filepath.Join(t.TempDir(), "no-such-dir", "config.env")

	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{},
		Deliverer: &captureDeliverer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.WatchOverlay(ctx) }()

	// The watcher cannot register, but that must not bring the agent down;
	// the loop keeps re-reading the overlay every cycle regardless.
	select {
	case err := <-done:
		t.Fatalf("WatchOverlay() returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WatchOverlay() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchOverlay() did not stop after cancel")
	}
}

func TestWatchOverlayWakesRunLoop(t *testing.T) {
	cfg := testConfig(t)
	overlay := filepath.Join(t.TempDir(), "config.env")
	cfg.OverlayPath = overlay

	eng := newTestEngine(t, cfg, Dependencies{
		Pinger:    &fakePinger{},
		Deliverer: &captureDeliverer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.WatchOverlay(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(overlay, []byte("TARGETS=dns=8.8.8.8\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-eng.wake:
	case <-time.After(2 * time.Second):
		t.Fatal("overlay write did not wake the engine")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WatchOverlay() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchOverlay() did not stop after cancel")
	}
}
