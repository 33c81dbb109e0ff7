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

const extractPromptTemplate = `You turn squad chat messages about shift coverage into calendar actions.

Current time: %s
Sender: %s (squad %s, %s)
Day(s) the request refers to: %s

Current schedule state:
%s

Read the user's request and produce every calendar action it implies. Valid actions:
  - noCrew: mark a squad's existing shift as uncovered
  - addShift: add a coverage shift for a squad
  - obliterateShift: remove a shift from the calendar entirely

Valid squads: 34, 35, 42, 43, 54. Dates use YYYYMMDD; times use HHMM (24-hour). Use the schedule state to fill in shift times the user did not spell out, and to decide whether any change is needed at all.

Respond with JSON only:
{
  "parsed_requests": [
    {"action": "noCrew", "squad": 34, "date": "YYYYMMDD", "shift_start": "HHMM", "shift_end": "HHMM"}
  ],
  "missing_parameters": ["squad", "date", "shift_start", "shift_end"],
  "warnings": ["messages to relay to the user"],
  "reasoning": "why, when no action is needed",
  "confidence": 0-100
}

Leave parsed_requests empty when the schedule already reflects the request or no calendar change is needed, and explain in reasoning. List in missing_parameters only what you cannot determine from the message, schedule, or sender context.`

// ParsedRequest is one calendar action the model extracted from dialogue.
type ParsedRequest struct {
	Action     string `json:"action"`
	Squad      int    `json:"squad"`
	Date       string `json:"date"`
	ShiftStart string `json:"shift_start"`
	ShiftEnd   string `json:"shift_end"`
}

// Extraction is the full result of parameter extraction over a dialogue.
type Extraction struct {
	ParsedRequests    []ParsedRequest `json:"parsed_requests"`
	MissingParameters []string        `json:"missing_parameters"`
	Warnings          []string        `json:"warnings"`
	Reasoning         string          `json:"reasoning"`
	Confidence        int             `json:"confidence"`
}

// ExtractionInput carries sender context plus the dialogue to extract from.
// Dialogue is ordered oldest first and must end with the user's latest turn.
type ExtractionInput struct {
	CurrentTime   string
	SenderName    string
	SenderSquad   string
	SenderRole    string
	ResolvedDays  []string
	ScheduleState string
	Dialogue      []string
}

// Extractor pulls calendar actions and missing-parameter lists out of a
// conversation.
type Extractor interface {
	Extract(ctx context.Context, input ExtractionInput) (Extraction, error)
}

// MessagesCompleter is the multi-turn completion surface the extractor
// needs. The llm package's Client satisfies it.
type MessagesCompleter interface {
	CompleteMessagesJSON(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMExtractor implements Extractor with a language model call.
type LLMExtractor struct {
	completer MessagesCompleter
	logger    *slog.Logger
}

// NewExtractor builds a parameter extractor backed by the given completer.
func NewExtractor(completer MessagesCompleter, logger *slog.Logger) *LLMExtractor {
	return &LLMExtractor{
		completer: completer,
		logger:    logging.WithComponent(logger, "extractor"),
	}
}

// SystemPrompt renders the extraction system prompt for the given input.
// Exposed so the workflow engine can persist the prompt alongside dialogue.
func SystemPrompt(input ExtractionInput) string {
	resolved := "Not specified"
	if len(input.ResolvedDays) > 0 {
		resolved = strings.Join(input.ResolvedDays, ", ")
	}
	schedule := input.ScheduleState
	if strings.TrimSpace(schedule) == "" {
		schedule = "Schedule state not available"
	}
	return fmt.Sprintf(extractPromptTemplate,
		orUnknown(input.CurrentTime),
		orUnknown(input.SenderName),
		orUnknown(input.SenderSquad),
		orUnknown(input.SenderRole),
		resolved,
		schedule,
	)
}

// Extract runs extraction over the dialogue. A model completion that cannot
// be parsed degrades to an extraction asking for every parameter, so a
// garbled response turns into a clarification question instead of a crash.
func (e *LLMExtractor) Extract(ctx context.Context, input ExtractionInput) (Extraction, error) {
	if len(input.Dialogue) == 0 {
		return Extraction{}, services.Wrap(services.ErrValidation, "extractor", "extract", "dialogue is required", nil)
	}

	messages := make([]llm.Message, 0, len(input.Dialogue)+1)
	messages = append(messages, llm.Message{Role: "system", Content: SystemPrompt(input)})
	for _, turn := range input.Dialogue {
		messages = append(messages, llm.Message{Role: "user", Content: turn})
	}

	content, err := e.completer.CompleteMessagesJSON(ctx, messages)
	if err != nil {
		return Extraction{}, err
	}

	var extraction Extraction
	if err := llm.DecodeJSON(content, &extraction); err != nil {
		e.logger.Warn("extraction response unparseable", logging.Error(err))
		return Extraction{
			MissingParameters: []string{"squad", "date", "shift_start", "shift_end"},
		}, nil
	}
	extraction.Confidence = clampConfidence(extraction.Confidence)

	e.logger.Info("parameters extracted",
		logging.Int("actions", len(extraction.ParsedRequests)),
		logging.Int("missing", len(extraction.MissingParameters)),
		logging.Int("confidence", extraction.Confidence))
	return extraction, nil
}
