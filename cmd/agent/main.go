package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/connwatchhq/agent/internal/config"
	"github.com/connwatchhq/agent/internal/engine"
	"github.com/connwatchhq/agent/internal/logfile"
	"github.com/connwatchhq/agent/internal/logging"
	"github.com/connwatchhq/agent/internal/metrics"
	"github.com/connwatchhq/agent/internal/netinfo"
	"github.com/connwatchhq/agent/internal/probe"
	"github.com/connwatchhq/agent/internal/sink"
)

func main() {
	ctx := context.Background()

	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args, false)
	case "once":
		err = run(ctx, args, true)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, once bool) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to optional YAML settings file")
	envFile := fs.String("env-file", "", "Path to optional .env file loaded before reading the environment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// A .env beside the binary is a convenience for container and dev
		// setups; its absence is the normal case.
		_ = godotenv.Load()
	}

	logger := logging.New()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath, cfg)
		if err != nil {
			return fmt.Errorf("load settings file: %w", err)
		}
		cfg = loaded
	}
	cfg = config.FromEnv(cfg, logger)

	logger.WithFields(log.Fields{
		"log_file":     cfg.Log.Path,
		"overlay_file": cfg.OverlayPath,
		"interval_s":   cfg.IntervalSec,
		"mtr":          cfg.Trace.Enabled,
	}).Info("agent starting")

	writer, err := logfile.New(cfg.Log.Path, logfile.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("open measurement log: %w", err)
	}

	metricsStore := metrics.NewStore()
	resolver := netinfo.NewResolver(cfg.PublicIPURL, netinfo.Dependencies{Logger: logger})
	probeDeps := probe.Dependencies{Logger: logger}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Trace.Enabled {
		probe.EnsureTracerTool(runCtx, probeDeps)
	}

	fanout := sink.NewFanout(
		sink.NewLogSink(writer),
		logger,
		metricsStore,
		buildPushSinks(cfg)...,
	)

	eng := engine.New(cfg, engine.Dependencies{
		Pinger:    probe.NewExecPinger(probeDeps, probe.NewProBingPinger(logger)),
		Tracer:    probe.NewExecTracer(probeDeps),
		Resolver:  resolver,
		Deliverer: fanout,
		Writer:    writer,
		Metrics:   metricsStore,
		Logger:    logger,
	})

	if once {
		return eng.RunOnce(runCtx)
	}

	grp, groupCtx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		return eng.Run(groupCtx)
	})
	grp.Go(func() error {
		return eng.WatchOverlay(groupCtx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("agent stopped")
	return nil
}

// buildPushSinks assembles the optional best-effort sinks from cfg. The
// mandatory log sink is wired separately because its failure is fatal.
func buildPushSinks(cfg config.Config) []sink.Sink {
	var sinks []sink.Sink
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, sink.NewWebhook(cfg.Webhook.URL, sink.WebhookOptions{
			Token:         cfg.Webhook.Token,
			SkipTLSVerify: cfg.Webhook.SkipTLSVerify,
		}))
	}
	if cfg.MQTT.Enabled {
		sinks = append(sinks, sink.NewMQTT(cfg.MQTT))
	}
	return sinks
}

func printUsage() {
	fmt.Println("ConnWatch Agent CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  connwatch-agent run [--config settings.yaml] [--env-file .env]")
	fmt.Println("  connwatch-agent once [--config settings.yaml] [--env-file .env]")
	fmt.Println()
	fmt.Println("run probes the configured targets on an interval until interrupted;")
	fmt.Println("once performs a single measurement cycle and exits.")
}
