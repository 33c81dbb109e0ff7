package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkflowID is the standardized structured logging key for workflow identifiers.
	FieldWorkflowID = "workflow_id"
	// FieldMessageID is the standardized structured logging key for provider message identifiers.
	FieldMessageID = "message_id"
	// FieldGroupID is the standardized structured logging key for conversation group identifiers.
	FieldGroupID = "group_id"
	// FieldSquad is the standardized structured logging key for squad numbers.
	FieldSquad = "squad"
	// FieldEventType tags log records that monitoring filters on.
	FieldEventType = "event_type"
)

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func attrsToArgs(attrs []Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// Args converts attribute helpers into the variadic form slog methods accept.
func Args(attrs ...Attr) []any {
	return attrsToArgs(attrs)
}

// NewNop returns a logger that discards every record.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

// WithComponent creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}
