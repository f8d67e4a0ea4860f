package audit

import (
	"context"
	"log/slog"
)

// LogSink writes override events to structured logs.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the given logger. A nil logger
// falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "Sovereign tenant override",
		"audit_id", event.ID,
		"acting_subject", event.ActingSubject,
		"claimed_tenant", event.ClaimedTenant,
		"overridden_tenant", event.OverriddenTenant,
		"operation", event.Operation,
		"timestamp", event.Timestamp)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

var _ Sink = (*LogSink)(nil)
