package activitymap

import (
	"context"
	"strings"

	tenantauth "github.com/goliatone/go-tenantauth"
)

// LogSink writes normalized activity to a structured logger. Failure events
// are logged at warn level, everything else at info.
type LogSink struct {
	logger tenantauth.Logger
	opts   []Option
}

var _ tenantauth.ActivitySink = (*LogSink)(nil)

// NewLogSink returns an ActivitySink backed by logger
func NewLogSink(logger tenantauth.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = tenantauth.NoopLogger()
	}
	return &LogSink{logger: logger, opts: opts}
}

func (s *LogSink) Record(_ context.Context, event tenantauth.ActivityEvent) error {
	record := Normalize(event, s.opts...)

	if isFailure(event.EventType) {
		s.logger.Warn("activity", record.Fields()...)
		return nil
	}
	s.logger.Info("activity", record.Fields()...)
	return nil
}

func isFailure(eventType tenantauth.ActivityEventType) bool {
	value := string(eventType)
	return strings.HasSuffix(value, ".failure") || strings.HasSuffix(value, "_failure")
}
