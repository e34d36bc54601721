package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/connwatchhq/agent/internal/metrics"
	"github.com/connwatchhq/agent/internal/record"
	log "github.com/sirupsen/logrus"
)

// Sink delivers one serialized measurement to a destination. payload is the
// record already encoded as a single JSON line; implementations must bound
// their own I/O with short timeouts.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m record.Measurement, payload []byte) error
}

// Fanout writes every record to the mandatory log sink first, then pushes
// it to each best-effort sink independently: a webhook outage cannot
// suppress the MQTT publish and vice versa. Only the log append error
// propagates; it is the one fatal storage condition.
type Fanout struct {
	logSink Sink
	others  []Sink
	logger  *log.Logger
	store   *metrics.Store

	// warnLimit keeps a persistently dead sink from flooding the process
	// log with one warning per record.
	warnLimit *rate.Limiter
}

// NewFanout builds the fan-out. store may be nil.
func NewFanout(logSink Sink, logger *log.Logger, store *metrics.Store, others ...Sink) *Fanout {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Fanout{
		logSink:   logSink,
		others:    others,
		logger:    logger,
		store:     store,
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// Deliver serializes m once and hands it to every sink.
func (f *Fanout) Deliver(ctx context.Context, m record.Measurement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal measurement: %w", err)
	}

	if err := f.logSink.Deliver(ctx, m, payload); err != nil {
		return fmt.Errorf("append measurement: %w", err)
	}

	for _, s := range f.others {
		if err := s.Deliver(ctx, m, payload); err != nil {
			if f.store != nil {
				f.store.IncDeliveryFailures()
			}
			if f.warnLimit.Allow() {
				f.logger.WithError(err).WithField("target", m.Target).
					Warnf("%s delivery failed", s.Name())
			}
		}
	}
	return nil
}
