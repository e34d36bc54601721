package sink

import (
	"context"

	"github.com/connwatchhq/agent/internal/logfile"
	"github.com/connwatchhq/agent/internal/record"
)

// LogSink appends records to the local measurement log. It is the one
// mandatory sink; everything downstream reads from this file.
type LogSink struct {
	writer *logfile.Writer
}

func NewLogSink(w *logfile.Writer) *LogSink {
	return &LogSink{writer: w}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, m record.Measurement, payload []byte) error {
	return s.writer.Append(payload)
}
