package events

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type Writer struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type EventPayload map[string]any

// Append records a generation event as a structured log record.
func (w Writer) Append(ctx context.Context, level slog.Level, evtType, entityKind, entityID string, payload EventPayload) {
	if w.Now == nil {
		w.Now = time.Now
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("ts", w.Now().UTC().Format(time.RFC3339)),
		slog.String("entity_kind", entityKind),
	}
	if entityID != "" {
		attrs = append(attrs, slog.String("entity_id", entityID))
	}
	if len(payload) > 0 {
		args := make([]any, 0, len(payload)*2)
		for k, v := range payload {
			args = append(args, k, v)
		}
		attrs = append(attrs, slog.Group("payload", args...))
	}
	logger.LogAttrs(ctx, level, evtType, attrs...)
}

// NewLogger builds the process logger from the --log-level and
// --log-format settings.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
