package config

import (
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultHost is probed when no target list is configured at all.
	DefaultHost = "8.8.8.8"

	DefaultLogPath     = "/logs/connectivity.log"
	DefaultOverlayPath = "/logs/config.env"

	defaultIntervalSec  = 30
	defaultTraceCycles  = 5
	defaultTraceMaxHops = 15
	defaultTraceTimeout = 60
	defaultLogMaxBytes  = 5 << 20
	defaultLogMaxAgeSec = 7 * 24 * 3600
	defaultLogKeep      = 5
	defaultMQTTPort     = 1883
	defaultTopicPrefix  = "connectivity"
	defaultPublicIPURL  = "https://api.ipify.org"
	maxProbeConcurrency = 8
)

// Config is one immutable snapshot of the engine settings. A fresh snapshot
// is derived once per cycle by overlaying the runtime config file onto the
// startup defaults; it is never mutated in place, so every target iteration
// within a cycle observes the same values.
type Config struct {
	// Targets is the raw comma-separated target list; see target.Parse.
	Targets     string
	DefaultHost string
	IntervalSec int

	Trace   TraceConfig
	Log     LogConfig
	Webhook WebhookConfig
	MQTT    MQTTConfig

	// OverlayPath is the KEY=VALUE file re-read every cycle. The dashboard
	// writes it to change targets or the interval without a restart.
	OverlayPath string

	// PublicIPURL is the echo service consulted once per cycle for the
	// external address. Empty disables the lookup.
	PublicIPURL string

	// ProbeConcurrency bounds how many targets are probed at once within a
	// cycle (1 keeps the reference sequential behavior).
	ProbeConcurrency int
}

// TraceConfig controls the optional hop-by-hop path probe.
type TraceConfig struct {
	Enabled    bool
	Cycles     int
	MaxHops    int
	TimeoutSec int
}

// LogConfig controls the measurement log and its rotation ceilings.
type LogConfig struct {
	Path      string
	MaxBytes  int64
	MaxAgeSec int
	Keep      int
}

// WebhookConfig describes the optional HTTP push sink.
type WebhookConfig struct {
	URL           string
	Token         string
	SkipTLSVerify bool
}

// MQTTConfig describes the optional pub/sub sink.
type MQTTConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	TopicPrefix string
}

// Defaults returns the built-in configuration the process starts from.
func Defaults() Config {
	return Config{
		DefaultHost: DefaultHost,
		IntervalSec: defaultIntervalSec,
		Trace: TraceConfig{
			Cycles:     defaultTraceCycles,
			MaxHops:    defaultTraceMaxHops,
			TimeoutSec: defaultTraceTimeout,
		},
		Log: LogConfig{
			Path:      DefaultLogPath,
			MaxBytes:  defaultLogMaxBytes,
			MaxAgeSec: defaultLogMaxAgeSec,
			Keep:      defaultLogKeep,
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        defaultMQTTPort,
			TopicPrefix: defaultTopicPrefix,
		},
		OverlayPath:      DefaultOverlayPath,
		PublicIPURL:      defaultPublicIPURL,
		ProbeConcurrency: 1,
	}
}

// FromEnv overlays process environment variables onto base. Malformed
// numeric values are logged and keep the base value; they never become zero.
func FromEnv(base Config, logger *log.Logger) Config {
	cfg := base

	if v, ok := os.LookupEnv("TARGETS"); ok {
		cfg.Targets = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("TARGET_HOST")); v != "" {
		cfg.DefaultHost = v
	}
	applyPositive(&cfg.IntervalSec, os.Getenv("INTERVAL_SECONDS"), "INTERVAL_SECONDS", logger)

	if v, ok := os.LookupEnv("ENABLE_MTR"); ok {
		cfg.Trace.Enabled = Truthy(v)
	}
	applyPositive(&cfg.Trace.Cycles, os.Getenv("MTR_CYCLES"), "MTR_CYCLES", logger)
	applyPositive(&cfg.Trace.MaxHops, os.Getenv("MTR_MAX_HOPS"), "MTR_MAX_HOPS", logger)
	applyPositive(&cfg.Trace.TimeoutSec, os.Getenv("MTR_TIMEOUT_SECONDS"), "MTR_TIMEOUT_SECONDS", logger)

	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		cfg.Log.Path = v
	}
	applyPositive64(&cfg.Log.MaxBytes, os.Getenv("LOG_MAX_BYTES"), "LOG_MAX_BYTES", logger)
	applyPositive(&cfg.Log.MaxAgeSec, os.Getenv("LOG_MAX_AGE_SECONDS"), "LOG_MAX_AGE_SECONDS", logger)
	applyPositive(&cfg.Log.Keep, os.Getenv("LOG_KEEP"), "LOG_KEEP", logger)

	if v, ok := os.LookupEnv("CONFIG_FILE"); ok {
		cfg.OverlayPath = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("PUBLIC_IP_URL"); ok {
		cfg.PublicIPURL = strings.TrimSpace(v)
	}
	applyPositive(&cfg.ProbeConcurrency, os.Getenv("PROBE_CONCURRENCY"), "PROBE_CONCURRENCY", logger)

	if v, ok := os.LookupEnv("WEBHOOK_URL"); ok {
		cfg.Webhook.URL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("WEBHOOK_TOKEN"); ok {
		cfg.Webhook.Token = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("WEBHOOK_SKIP_TLS_VERIFY"); ok {
		cfg.Webhook.SkipTLSVerify = Truthy(v)
	}

	if v, ok := os.LookupEnv("ENABLE_MQTT"); ok {
		cfg.MQTT.Enabled = Truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv("MQTT_HOST")); v != "" {
		cfg.MQTT.Host = v
	}
	applyPositive(&cfg.MQTT.Port, os.Getenv("MQTT_PORT"), "MQTT_PORT", logger)
	if v, ok := os.LookupEnv("MQTT_USERNAME"); ok {
		cfg.MQTT.Username = v
	}
	if v, ok := os.LookupEnv("MQTT_PASSWORD"); ok {
		cfg.MQTT.Password = v
	}
	if v, ok := os.LookupEnv("MQTT_TLS"); ok {
		cfg.MQTT.TLS = Truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	return cfg.normalized(logger)
}

// Truthy reports whether v is one of the accepted enable tokens
// (1, true, yes, on; case-insensitive). Anything else is false.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// normalized clamps derived constraints after any merge. The trace timeout
// is floored at cycles*maxHops seconds so a full multi-hop run cannot be
// truncated, and probe concurrency stays within a small fixed ceiling.
func (c Config) normalized(logger *log.Logger) Config {
	cfg := c
	floor := cfg.Trace.Cycles * cfg.Trace.MaxHops
	if cfg.Trace.TimeoutSec < floor {
		if logger != nil {
			logger.WithFields(log.Fields{
				"configured_s": cfg.Trace.TimeoutSec,
				"floor_s":      floor,
			}).Info("raising mtr timeout to fit cycles and max hops")
		}
		cfg.Trace.TimeoutSec = floor
	}
	if cfg.ProbeConcurrency < 1 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.ProbeConcurrency > maxProbeConcurrency {
		cfg.ProbeConcurrency = maxProbeConcurrency
	}
	return cfg
}

func applyPositive(dst *int, raw, key string, logger *log.Logger) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		if logger != nil {
			logger.WithField("value", raw).Warnf("ignoring invalid %s, keeping %d", key, *dst)
		}
		return
	}
	*dst = n
}

func applyPositive64(dst *int64, raw, key string, logger *log.Logger) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		if logger != nil {
			logger.WithField("value", raw).Warnf("ignoring invalid %s, keeping %d", key, *dst)
		}
		return
	}
	*dst = n
}
