// Package classify wraps the language model behind small, typed
// classification calls: is a message a shift coverage request, does it
// continue an existing conversation, and what scheduling parameters does it
// carry. The routing and workflow layers consume these results; they never
// talk to the model directly.
package classify

import (
	"context"
)

// Completer is the language model surface the classifiers need. The llm
// package's Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Intent is the result of shift-coverage intent detection on a single
// message. ResolvedDays holds ISO dates (YYYY-MM-DD) the message refers to.
type Intent struct {
	ShiftCoverage bool     `json:"is_shift_coverage_message"`
	ResolvedDays  []string `json:"resolved_days"`
	Confidence    int      `json:"confidence"`
}

// Relatedness is the result of checking whether a new message continues an
// existing conversation workflow.
type Relatedness struct {
	Related    bool   `json:"is_related"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// IntentDetector decides whether a message asks for shift coverage changes.
type IntentDetector interface {
	DetectIntent(ctx context.Context, messageText string) (Intent, error)
}

// RelatednessChecker decides whether a message continues an open workflow.
type RelatednessChecker interface {
	CheckRelated(ctx context.Context, input RelatednessInput) (Relatedness, error)
}

// RelatednessInput carries the workflow context the relatedness check
// compares the new message against.
type RelatednessInput struct {
	WorkflowType   string
	WorkflowStatus string
	Squad          string
	Date           string
	InitiatingUser string
	History        []HistoryEntry
	NewMessageUser string
	NewMessageText string
}

// HistoryEntry is one prior dialogue turn supplied as relatedness context.
type HistoryEntry struct {
	UserName string
	Text     string
}
