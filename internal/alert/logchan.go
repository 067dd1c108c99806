package alert

import (
	"context"
	"sort"

	"log/slog"
)

// LogChannel writes alerts into the structured log at the level matching
// their severity. It is always wired so alerts survive even when no external
// channel is configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With("component", "alerts")}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, msg AlertMessage) error {
	attrs := []any{"source", msg.SourceEventType}
	if msg.Body != "" {
		attrs = append(attrs, "body", msg.Body)
	}
	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, msg.Fields[k])
	}

	switch msg.Severity {
	case SeverityCritical:
		c.logger.Error(msg.Title, attrs...)
	case SeverityWarning:
		c.logger.Warn(msg.Title, attrs...)
	case SeverityInfo:
		c.logger.Info(msg.Title, attrs...)
	default:
		c.logger.Debug(msg.Title, attrs...)
	}
	return nil
}
