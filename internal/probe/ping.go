package probe

import (
	"context"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	pingBinary       = "ping"
	pingPacketCount  = 5
	pingReplyWaitSec = 1
	pingWallTimeout  = 15 * time.Second
)

var (
	// Linux iputils: "5 packets transmitted, 4 received, 20% packet loss, time 4005ms"
	// BSD/macOS:     "5 packets transmitted, 4 packets received, 20.0% packet loss"
	pingSummaryPattern = regexp.MustCompile(`(\d+) packets transmitted,\s*(\d+)(?: packets)? received.*?([\d.]+)% packet loss`)
	// Linux: "rtt min/avg/max/mdev = 11.2/12.3/15.0/1.1 ms"
	// BSD:   "round-trip min/avg/max/stddev = 11.2/12.3/15.0/1.1 ms"
	pingRTTPattern = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/(?:mdev|stddev))? = ([\d.]+)/([\d.]+)/([\d.]+)`)
)

// ExecPinger shells out to the system ping binary and parses its summary.
// When the binary is missing it hands off to an optional fallback pinger
// instead of failing the cycle.
type ExecPinger struct {
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
	look     func(name string) (string, error)
	logger   *log.Logger
	fallback Pinger
}

// NewExecPinger builds the exec-based pinger. fallback may be nil.
func NewExecPinger(deps Dependencies, fallback Pinger) *ExecPinger {
	deps = deps.withDefaults()
	return &ExecPinger{
		run:      deps.RunCommand,
		look:     deps.LookPath,
		logger:   deps.Logger,
		fallback: fallback,
	}
}

// Ping sends the fixed 5-packet burst with a 1 second per-reply wait. A
// non-zero exit is not an error here: ping exits non-zero on loss and the
// summary it printed is still the measurement.
func (p *ExecPinger) Ping(ctx context.Context, host string) Stats {
	if _, err := p.look(pingBinary); err != nil {
		if p.fallback != nil {
			p.logger.WithField("host", host).Debug("ping binary not found, using in-process prober")
			return p.fallback.Ping(ctx, host)
		}
		p.logger.Warn("ping binary not found and no fallback prober available")
		return FailureStats()
	}

	ctx, cancel := context.WithTimeout(ctx, pingWallTimeout)
	defer cancel()

	args := []string{
		"-c", strconv.Itoa(pingPacketCount),
		"-W", strconv.Itoa(pingReplyWaitSec),
		host,
	}
	out, err := p.run(ctx, pingBinary, args...)
	if err != nil {
		p.logger.WithError(err).WithField("host", host).Debug("ping exited non-zero")
	}
	return ParsePing(string(out))
}

// ParsePing extracts sent/received/loss and the average round-trip time
// from raw ping output. Missing or mangled lines degrade field-by-field to
// the all-failure default; unexpected output can never error.
func ParsePing(out string) Stats {
	stats := FailureStats()

	if m := pingSummaryPattern.FindStringSubmatch(out); m != nil {
		sent, errSent := strconv.Atoi(m[1])
		received, errRecv := strconv.Atoi(m[2])
		loss, errLoss := strconv.ParseFloat(m[3], 64)
		if errSent == nil && errRecv == nil && errLoss == nil {
			stats.Sent = sent
			stats.Received = received
			stats.LossPct = loss
		}
	}

	if m := pingRTTPattern.FindStringSubmatch(out); m != nil {
		if avg, err := strconv.ParseFloat(m[2], 64); err == nil {
			stats.AvgRTTMs = avg
		}
	}

	return stats
}
