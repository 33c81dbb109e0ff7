// Package notify delivers operational alerts to administrators as direct
// messages. Delivery is best effort: failures are logged and never propagate
// into the calling flow, so a broken alert channel cannot take down polling.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"shiftwatch/internal/logging"
)

// EventKind identifies the class of operational alert.
type EventKind string

const (
	EventPollerTimeout           EventKind = "poller_timeout"
	EventWorkflowEscalation      EventKind = "workflow_escalation"
	EventMessageRetryExceeded    EventKind = "message_retry_exceeded"
	EventWorkflowExecutionFailed EventKind = "workflow_execution_failed"
)

// Event is one alert to deliver. Context carries kind-specific details; the
// formatter knows which keys each kind uses.
type Event struct {
	Kind    EventKind
	Context map[string]string
}

// Notifier delivers alerts to administrators.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// DirectSender sends a direct message to one recipient. The chat package's
// Client satisfies it.
type DirectSender interface {
	SendDirect(ctx context.Context, recipientID, text string) error
}

// AdminNotifier sends formatted alerts to each configured admin user.
type AdminNotifier struct {
	sender   DirectSender
	adminIDs []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminNotifier builds a notifier for the given admin user IDs. With no
// admin IDs configured every alert is logged and dropped.
func NewAdminNotifier(sender DirectSender, adminIDs []string, logger *slog.Logger) *AdminNotifier {
	ids := make([]string, 0, len(adminIDs))
	for _, id := range adminIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return &AdminNotifier{
		sender:   sender,
		adminIDs: ids,
		logger:   logging.WithComponent(logger, "notify"),
		now:      time.Now,
	}
}

// WithClock overrides the notifier's time source. Intended for tests.
func (n *AdminNotifier) WithClock(now func() time.Time) *AdminNotifier {
	if now != nil {
		n.now = now
	}
	return n
}

// Notify formats the event and sends it to every configured admin. Send
// failures are logged per recipient.
func (n *AdminNotifier) Notify(ctx context.Context, event Event) {
	message := n.format(event)
	if len(n.adminIDs) == 0 {
		n.logger.Warn("no admin recipients configured, dropping alert",
			logging.String(logging.FieldEventType, string(event.Kind)))
		return
	}
	for _, adminID := range n.adminIDs {
		if err := n.sender.SendDirect(ctx, adminID, message); err != nil {
			n.logger.Error("admin alert delivery failed",
				logging.String(logging.FieldEventType, string(event.Kind)),
				logging.String("recipient", adminID),
				logging.Error(err))
			continue
		}
		n.logger.Info("admin alert sent",
			logging.String(logging.FieldEventType, string(event.Kind)),
			logging.String("recipient", adminID))
	}
}

func (n *AdminNotifier) format(event Event) string {
	timestamp := n.now().Format("2006-01-02 15:04:05")
	get := func(key string) string {
		if value, ok := event.Context[key]; ok && value != "" {
			return value
		}
		return "unknown"
	}

	switch event.Kind {
	case EventPollerTimeout:
		return fmt.Sprintf(
			"POLLER TIMEOUT DETECTED\nTime: %s\nInstance ID: %s\nStarted at: %s\nAge: %s\nAction: Stale lock overridden",
			timestamp, get("instance_id"), get("started_at"), get("age"))
	case EventWorkflowEscalation:
		return fmt.Sprintf(
			"WORKFLOW ESCALATION\nTime: %s\nUser: %s\nSquad: %s\nWorkflow ID: %s\nInteractions: %s\nReason: Too many ambiguous exchanges, requires human assistance",
			timestamp, get("user_name"), get("squad"), get("workflow_id"), get("interaction_count"))
	case EventMessageRetryExceeded:
		return fmt.Sprintf(
			"MESSAGE RETRY LIMIT EXCEEDED\nTime: %s\nMessage ID: %s\nRetry count: %s\nError: %s",
			timestamp, get("message_id"), get("retry_count"), get("error_message"))
	case EventWorkflowExecutionFailed:
		return fmt.Sprintf(
			"WORKFLOW EXECUTION FAILED\nTime: %s\nWorkflow ID: %s\nSquad: %s\nError: %s",
			timestamp, get("workflow_id"), get("squad"), get("error_message"))
	default:
		keys := make([]string, 0, len(event.Context))
		for key := range event.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys)+2)
		lines = append(lines,
			"ADMIN NOTIFICATION",
			fmt.Sprintf("Time: %s", timestamp),
			fmt.Sprintf("Type: %s", event.Kind))
		for _, key := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", key, event.Context[key]))
		}
		return strings.Join(lines, "\n")
	}
}
