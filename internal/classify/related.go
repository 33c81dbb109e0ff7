package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/services"
	"shiftwatch/internal/services/llm"
)

const relatedSystemPrompt = "You are a conversation continuity analyzer."

const relatedPromptTemplate = `An automated assistant is holding a multi-turn conversation about a squad shift change. Decide whether the new message below continues that conversation or is about something else.

Open conversation:
  Type: %s
  Status: %s
  Squad: %s
  Date: %s
  Started by: %s

Recent conversation history:
%s

New message from %s:
%s

Respond with JSON only:
{
  "is_related": true or false,
  "confidence": 0-100,
  "reasoning": "one sentence"
}`

// historyWindow bounds how many prior turns are included as context.
const historyWindow = 10

// LLMRelatednessChecker implements RelatednessChecker with a language model
// call.
type LLMRelatednessChecker struct {
	completer Completer
	logger    *slog.Logger
}

// NewRelatednessChecker builds a relatedness checker backed by the given
// completer.
func NewRelatednessChecker(completer Completer, logger *slog.Logger) *LLMRelatednessChecker {
	return &LLMRelatednessChecker{
		completer: completer,
		logger:    logging.WithComponent(logger, "relatedness"),
	}
}

// CheckRelated decides whether the new message continues the open workflow.
// Unparseable model output degrades to an unrelated result rather than an
// error.
func (c *LLMRelatednessChecker) CheckRelated(ctx context.Context, input RelatednessInput) (Relatedness, error) {
	if strings.TrimSpace(input.NewMessageText) == "" {
		return Relatedness{}, services.Wrap(services.ErrValidation, "relatedness", "check", "message text is required", nil)
	}

	prompt := fmt.Sprintf(relatedPromptTemplate,
		orUnknown(input.WorkflowType),
		orUnknown(input.WorkflowStatus),
		orUnknown(input.Squad),
		orUnknown(input.Date),
		orUnknown(input.InitiatingUser),
		formatHistory(input.History),
		orUnknown(input.NewMessageUser),
		input.NewMessageText,
	)

	content, err := c.completer.CompleteJSON(ctx, relatedSystemPrompt, prompt)
	if err != nil {
		return Relatedness{}, err
	}

	var result Relatedness
	if err := llm.DecodeJSON(content, &result); err != nil {
		c.logger.Warn("relatedness response unparseable", logging.Error(err))
		return Relatedness{Reasoning: "unparseable model response"}, nil
	}
	result.Confidence = clampConfidence(result.Confidence)

	c.logger.Info("relatedness checked",
		logging.Bool("related", result.Related),
		logging.Int("confidence", result.Confidence))
	return result, nil
}

func formatHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return "No previous messages"
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", entry.UserName, entry.Text))
	}
	return strings.Join(lines, "\n")
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "Unknown"
	}
	return value
}
