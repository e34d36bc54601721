package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	mtrBinary = "mtr"

	// unresponsiveHopMarker labels hops that never answered; their rows
	// carry no usable statistics and are excluded from the report.
	unresponsiveHopMarker = "???"
)

// ErrTracerUnavailable means the mtr binary is not installed. The path
// probe is silently skipped for the cycle; reachability is unaffected.
var ErrTracerUnavailable = errors.New("mtr binary not found")

// Report body rows look like:
//
//	 2.|-- 10.11.0.1    0.0%     5    1.2   1.3   1.1   1.5   0.2
var mtrRowPattern = regexp.MustCompile(
	`^\s*(\d+)\.\|--\s+(\S+)\s+([\d.]+)%?\s+(\d+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s*$`)

var permissionHints = []string{
	"operation not permitted",
	"permission denied",
	"raw socket",
	"unable to get raw sockets",
	"failure to open",
}

// ExecTracer shells out to mtr in report mode and parses its table.
type ExecTracer struct {
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
	look   func(name string) (string, error)
	logger *log.Logger
}

func NewExecTracer(deps Dependencies) *ExecTracer {
	deps = deps.withDefaults()
	return &ExecTracer{run: deps.RunCommand, look: deps.LookPath, logger: deps.Logger}
}

// Available reports whether the mtr binary can be found right now. Checked
// every cycle so an install that happens mid-flight is picked up.
func (t *ExecTracer) Available() bool {
	_, err := t.look(mtrBinary)
	return err == nil
}

// Trace runs one path probe under a hard wall-clock deadline. Timeouts and
// non-zero exits are logged as warnings here, with a hint when the output
// smells like a raw-socket permission problem, and surface to the caller
// only as "no path data".
func (t *ExecTracer) Trace(ctx context.Context, host string, opts TraceOptions) (*PathReport, error) {
	if !t.Available() {
		t.logger.Debug("mtr binary not found, skipping path probe")
		return nil, ErrTracerUnavailable
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{
		"--report",
		"--report-cycles", strconv.Itoa(opts.Cycles),
		"-m", strconv.Itoa(opts.MaxHops),
		"-n",
		host,
	}
	out, err := t.run(ctx, mtrBinary, args...)
	if err != nil {
		entry := t.logger.WithError(err).WithField("host", host)
		if hintsAtPermissions(string(out) + err.Error()) {
			entry = entry.WithField("hint", "mtr needs raw sockets; grant CAP_NET_RAW or run privileged")
		}
		entry.Warn("path probe failed")
		return nil, fmt.Errorf("run mtr for %q: %w", host, err)
	}

	return ParseMTRReport(string(out)), nil
}

// ParseMTRReport turns mtr --report output into a PathReport. Header lines
// are skipped, unresponsive hops are excluded, and any row that does not
// parse cleanly is dropped rather than failing the whole report.
func ParseMTRReport(out string) *PathReport {
	report := &PathReport{}
	for _, line := range strings.Split(out, "\n") {
		m := mtrRowPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.HasPrefix(m[2], unresponsiveHopMarker) {
			continue
		}

		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		sent, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}

		floats := make([]float64, 0, 6)
		ok := true
		for _, raw := range []string{m[3], m[5], m[6], m[7], m[8], m[9]} {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				ok = false
				break
			}
			floats = append(floats, f)
		}
		if !ok {
			continue
		}

		report.Hops = append(report.Hops, HopStats{
			Index:   index,
			Host:    m[2],
			LossPct: floats[0],
			Sent:    sent,
			LastMs:  floats[1],
			AvgMs:   floats[2],
			BestMs:  floats[3],
			WorstMs: floats[4],
			StdevMs: floats[5],
		})
	}
	return report
}

func hintsAtPermissions(output string) bool {
	lowered := strings.ToLower(output)
	for _, hint := range permissionHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}
