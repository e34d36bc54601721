package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Overlay keys recognized at runtime. Everything else in the file is the
// dashboard's business and is ignored here.
const (
	overlayKeyTargets     = "TARGETS"
	overlayKeyInterval    = "INTERVAL_SECONDS"
	overlayKeyTraceEnable = "ENABLE_MTR"
	overlayKeyTraceCycles = "MTR_CYCLES"
	overlayKeyTraceHops   = "MTR_MAX_HOPS"
	overlayKeyTraceTime   = "MTR_TIMEOUT_SECONDS"
)

// Reload derives the effective configuration for one cycle: base (the
// startup defaults) overlaid with the runtime KEY=VALUE file, if present.
// A missing, unreadable, or malformed overlay never fails the cycle; the
// affected fields simply keep their last-good base values.
func Reload(base Config, logger *log.Logger) Config {
	cfg := base
	if cfg.OverlayPath != "" {
		values, err := godotenv.Read(cfg.OverlayPath)
		switch {
		case err == nil:
			cfg = cfg.withOverlay(values, logger)
		case errors.Is(err, fs.ErrNotExist):
			// No overlay written yet; defaults apply.
		default:
			if logger != nil {
				logger.WithError(err).Warn("config overlay unreadable, keeping previous settings")
			}
		}
	}
	return cfg.normalized(logger)
}

// withOverlay applies the recognized overlay keys onto c. Values arrive
// already split by the env-file parser; each is scrubbed of carriage
// returns, trailing inline comments, and surrounding whitespace before
// validation. Invalid numerics revert to c's value, never to zero.
func (c Config) withOverlay(values map[string]string, logger *log.Logger) Config {
	cfg := c
	if v, ok := values[overlayKeyTargets]; ok {
		cfg.Targets = scrub(v)
	}
	if v, ok := values[overlayKeyInterval]; ok {
		applyPositive(&cfg.IntervalSec, scrub(v), overlayKeyInterval, logger)
	}
	if v, ok := values[overlayKeyTraceEnable]; ok {
		cfg.Trace.Enabled = Truthy(scrub(v))
	}
	if v, ok := values[overlayKeyTraceCycles]; ok {
		applyPositive(&cfg.Trace.Cycles, scrub(v), overlayKeyTraceCycles, logger)
	}
	if v, ok := values[overlayKeyTraceHops]; ok {
		applyPositive(&cfg.Trace.MaxHops, scrub(v), overlayKeyTraceHops, logger)
	}
	if v, ok := values[overlayKeyTraceTime]; ok {
		applyPositive(&cfg.Trace.TimeoutSec, scrub(v), overlayKeyTraceTime, logger)
	}
	return cfg
}

func scrub(v string) string {
	v = strings.ReplaceAll(v, "\r", "")
	if i := strings.Index(v, "#"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
