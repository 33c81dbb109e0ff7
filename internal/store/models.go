package store

import (
	"strings"
	"time"
)

// MessageStatus represents the lifecycle of a queued intake message.
type MessageStatus string

const (
	MessagePending    MessageStatus = "PENDING"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageDone       MessageStatus = "DONE"
	MessageFailed     MessageStatus = "FAILED"
	MessageExpired    MessageStatus = "EXPIRED"
	MessageSkipped    MessageStatus = "SKIPPED"
)

var allMessageStatuses = []MessageStatus{
	MessagePending,
	MessageProcessing,
	MessageDone,
	MessageFailed,
	MessageExpired,
	MessageSkipped,
}

var messageStatusSet = func() map[MessageStatus]struct{} {
	set := make(map[MessageStatus]struct{}, len(allMessageStatuses))
	for _, status := range allMessageStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// terminalMessageStatuses never transition to EXPIRED.
var terminalMessageStatuses = map[MessageStatus]struct{}{
	MessageDone:    {},
	MessageExpired: {},
	MessageSkipped: {},
}

// AllMessageStatuses returns the ordered list of known message statuses.
func AllMessageStatuses() []MessageStatus {
	cp := make([]MessageStatus, len(allMessageStatuses))
	copy(cp, allMessageStatuses)
	return cp
}

// ParseMessageStatus converts a string into a known MessageStatus.
func ParseMessageStatus(value string) (MessageStatus, bool) {
	normalized := MessageStatus(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := messageStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status is final for expiry purposes.
func (s MessageStatus) IsTerminal() bool {
	_, ok := terminalMessageStatuses[s]
	return ok
}

// QueuedMessage is one intake message persisted in the message_queue table.
type QueuedMessage struct {
	MessageID    string
	GroupID      string
	UserID       string
	UserName     string
	Text         string
	Timestamp    int64
	Status       MessageStatus
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// WorkflowStatus represents the lifecycle of a conversation workflow.
type WorkflowStatus string

const (
	WorkflowNew             WorkflowStatus = "NEW"
	WorkflowWaitingForInput WorkflowStatus = "WAITING_FOR_INPUT"
	WorkflowReady           WorkflowStatus = "READY"
	WorkflowExecuting       WorkflowStatus = "EXECUTING"
	WorkflowCompleted       WorkflowStatus = "COMPLETED"
	WorkflowExpired         WorkflowStatus = "EXPIRED"
)

var allWorkflowStatuses = []WorkflowStatus{
	WorkflowNew,
	WorkflowWaitingForInput,
	WorkflowReady,
	WorkflowExecuting,
	WorkflowCompleted,
	WorkflowExpired,
}

var workflowStatusSet = func() map[WorkflowStatus]struct{} {
	set := make(map[WorkflowStatus]struct{}, len(allWorkflowStatuses))
	for _, status := range allWorkflowStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeWorkflowStatuses are statuses eligible for resumption and expiry.
var activeWorkflowStatuses = []WorkflowStatus{
	WorkflowNew,
	WorkflowWaitingForInput,
	WorkflowReady,
	WorkflowExecuting,
}

// AllWorkflowStatuses returns the ordered list of known workflow statuses.
func AllWorkflowStatuses() []WorkflowStatus {
	cp := make([]WorkflowStatus, len(allWorkflowStatuses))
	copy(cp, allWorkflowStatuses)
	return cp
}

// ActiveWorkflowStatuses returns the statuses considered in-flight.
func ActiveWorkflowStatuses() []WorkflowStatus {
	cp := make([]WorkflowStatus, len(activeWorkflowStatuses))
	copy(cp, activeWorkflowStatuses)
	return cp
}

// ParseWorkflowStatus converts a string into a known WorkflowStatus.
func ParseWorkflowStatus(value string) (WorkflowStatus, bool) {
	normalized := WorkflowStatus(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := workflowStatusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the status allows the workflow to be resumed.
func (s WorkflowStatus) IsActive() bool {
	for _, status := range activeWorkflowStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Workflow is one conversation workflow persisted in the workflows table.
// StateJSON carries the serialized engine state; the store treats it as
// opaque.
type Workflow struct {
	ID           string
	GroupID      string
	WorkflowType string
	Status       WorkflowStatus
	StateJSON    string
	UserID       string
	SquadID      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// ConversationMessage is one logged dialogue turn, human or bot.
type ConversationMessage struct {
	MessageID  string
	GroupID    string
	UserID     string
	UserName   string
	Text       string
	Timestamp  int64
	WorkflowID string
	CreatedAt  time.Time
}

// QueueStats aggregates intake queue counts per status.
type QueueStats struct {
	Total      int
	Pending    int
	Processing int
	Done       int
	Failed     int
	Expired    int
	Skipped    int
}

// WorkflowStats aggregates workflow counts per status.
type WorkflowStats struct {
	Total     int
	ByStatus  map[WorkflowStatus]int
	ActiveIDs []string
}
