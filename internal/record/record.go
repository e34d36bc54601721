package record

import (
	"encoding/json"
	"math"
	"time"

	"github.com/connwatchhq/agent/internal/probe"
	"github.com/connwatchhq/agent/internal/target"
)

// Unknown is the sentinel for addresses that could not be resolved.
const Unknown = "unknown"

// Millis is a latency in milliseconds. The not-a-number sentinel (no
// replies came back) marshals as JSON null, which is the documented
// contract for downstream readers of the measurement log.
type Millis float64

func (m Millis) MarshalJSON() ([]byte, error) {
	f := float64(m)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Millis(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Millis(f)
	return nil
}

// Hop is one row of a path probe, as persisted.
type Hop struct {
	Hop     int     `json:"hop"`
	Host    string  `json:"host"`
	LossPct float64 `json:"loss_pct"`
	Sent    int     `json:"sent"`
	LastMs  float64 `json:"last_ms"`
	AvgMs   float64 `json:"avg_ms"`
	BestMs  float64 `json:"best_ms"`
	WorstMs float64 `json:"worst_ms"`
	StdevMs float64 `json:"stdev_ms"`
}

// Measurement is one probe outcome for one target in one cycle, immutable
// once built. Its JSON layout is the measurement log schema the dashboard
// and roll-up readers consume: one object per line. The mtr_* fields are
// present only when the path probe actually ran; their absence is stable
// and means "no path data", never "all zeros".
type Measurement struct {
	Timestamp string  `json:"timestamp"`
	CycleID   string  `json:"cycle_id"`
	Target    string  `json:"target"`
	SrcIP     string  `json:"src_ip"`
	PublicIP  string  `json:"public_ip"`
	DstHost   string  `json:"dst_host"`
	DstIP     string  `json:"dst_ip"`
	Sent      int     `json:"sent"`
	Received  int     `json:"received"`
	LossPct   float64 `json:"loss_pct"`
	RTTAvgMs  Millis  `json:"rtt_avg_ms"`

	MTRHopCount  int      `json:"mtr_hop_count,omitempty"`
	MTRHops      []Hop    `json:"mtr_hops,omitempty"`
	MTRLastHost  string   `json:"mtr_last_host,omitempty"`
	MTRLastLoss  *float64 `json:"mtr_last_loss_pct,omitempty"`
	MTRLastAvgMs *float64 `json:"mtr_last_avg_ms,omitempty"`
}

// Inputs carries everything Build needs. Every field has already been
// defaulted by upstream components, so construction cannot fail.
type Inputs struct {
	Timestamp time.Time
	CycleID   string
	Target    target.Spec
	SrcIP     string
	PublicIP  string
	DstIP     string
	Probe     probe.Stats
	// Path is nil when the path probe did not run.
	Path *probe.PathReport
}

// Build assembles the immutable measurement for one target. Pure: no I/O,
// no failure path. String escaping is left to the JSON encoder at
// serialization time.
func Build(in Inputs) Measurement {
	m := Measurement{
		Timestamp: in.Timestamp.Format(time.RFC3339),
		CycleID:   in.CycleID,
		Target:    in.Target.Name,
		SrcIP:     orUnknown(in.SrcIP),
		PublicIP:  orUnknown(in.PublicIP),
		DstHost:   in.Target.Host,
		DstIP:     in.DstIP,
		Sent:      in.Probe.Sent,
		Received:  in.Probe.Received,
		LossPct:   in.Probe.LossPct,
		RTTAvgMs:  Millis(in.Probe.AvgRTTMs),
	}
	if m.DstIP == "" {
		m.DstIP = in.Target.Host
	}

	if in.Path != nil {
		m.MTRHopCount = len(in.Path.Hops)
		m.MTRHops = make([]Hop, 0, len(in.Path.Hops))
		for _, h := range in.Path.Hops {
			m.MTRHops = append(m.MTRHops, Hop{
				Hop:     h.Index,
				Host:    h.Host,
				LossPct: h.LossPct,
				Sent:    h.Sent,
				LastMs:  h.LastMs,
				AvgMs:   h.AvgMs,
				BestMs:  h.BestMs,
				WorstMs: h.WorstMs,
				StdevMs: h.StdevMs,
			})
		}
		if last, ok := in.Path.LastHop(); ok {
			m.MTRLastHost = last.Host
			m.MTRLastLoss = &last.LossPct
			m.MTRLastAvgMs = &last.AvgMs
		}
	}

	return m
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
