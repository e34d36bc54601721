package probe

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	log "github.com/sirupsen/logrus"
)

// ProBingPinger is the in-process reachability prober used when the ping
// binary is absent. It sends the same fixed burst in unprivileged UDP mode
// and reports the same Stats shape as the exec pinger.
type ProBingPinger struct {
	logger     *log.Logger
	privileged bool
}

func NewProBingPinger(logger *log.Logger) *ProBingPinger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ProBingPinger{logger: logger}
}

func (p *ProBingPinger) Ping(ctx context.Context, host string) Stats {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		p.logger.WithError(err).WithField("host", host).Debug("in-process pinger setup failed")
		return FailureStats()
	}

	pinger.Count = pingPacketCount
	pinger.Timeout = pingPacketCount * pingReplyWaitSec * time.Second
	pinger.SetPrivileged(p.privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		p.logger.WithError(err).WithField("host", host).Debug("in-process ping failed")
		return FailureStats()
	}

	s := pinger.Statistics()
	if s.PacketsSent == 0 || s.PacketsRecv == 0 {
		stats := FailureStats()
		stats.Sent = s.PacketsSent
		return stats
	}
	return Stats{
		Sent:     s.PacketsSent,
		Received: s.PacketsRecv,
		LossPct:  s.PacketLoss,
		AvgRTTMs: float64(s.AvgRtt) / float64(time.Millisecond),
	}
}
