package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/services"
	"shiftwatch/internal/services/llm"
)

const intentSystemPrompt = "You are a shift coverage message classifier."

const intentPromptTemplate = `Decide whether the message below is about emergency squad shift coverage: a squad being unable to crew a shift, needing extra coverage, or asking to add or remove shifts from the duty calendar.

Current date: %s (%s)
Current time: %s

Day reference for relative dates:
%s

Message:
%s

Respond with JSON only:
{
  "is_shift_coverage_message": true or false,
  "resolved_days": ["YYYY-MM-DD", ...],
  "confidence": 0-100
}

resolved_days lists the calendar day(s) the message refers to, resolved against the reference above. Leave it empty when no day can be determined or the message is unrelated to shift coverage.`

// LLMIntentDetector implements IntentDetector with a language model call.
type LLMIntentDetector struct {
	completer Completer
	logger    *slog.Logger
	now       func() time.Time
}

// NewIntentDetector builds an intent detector backed by the given completer.
func NewIntentDetector(completer Completer, logger *slog.Logger) *LLMIntentDetector {
	return &LLMIntentDetector{
		completer: completer,
		logger:    logging.WithComponent(logger, "intent"),
		now:       time.Now,
	}
}

// WithClock overrides the detector's time source. Intended for tests.
func (d *LLMIntentDetector) WithClock(now func() time.Time) *LLMIntentDetector {
	if now != nil {
		d.now = now
	}
	return d
}

// DetectIntent classifies a message and resolves the day(s) it refers to.
// Unparseable model output degrades to a zero-confidence negative result
// rather than an error so a garbled completion never blocks the queue.
func (d *LLMIntentDetector) DetectIntent(ctx context.Context, messageText string) (Intent, error) {
	if strings.TrimSpace(messageText) == "" {
		return Intent{}, services.Wrap(services.ErrValidation, "intent", "detect", "message text is required", nil)
	}

	now := d.now()
	prompt := fmt.Sprintf(intentPromptTemplate,
		now.Format("2006-01-02"),
		now.Weekday().String(),
		now.Format("15:04:05"),
		dayReference(now),
		messageText,
	)

	content, err := d.completer.CompleteJSON(ctx, intentSystemPrompt, prompt)
	if err != nil {
		return Intent{}, err
	}

	var intent Intent
	if err := llm.DecodeJSON(content, &intent); err != nil {
		d.logger.Warn("intent response unparseable", logging.Error(err))
		return Intent{}, nil
	}
	intent.Confidence = clampConfidence(intent.Confidence)

	d.logger.Info("intent detected",
		logging.Bool("shift_coverage", intent.ShiftCoverage),
		logging.Int("confidence", intent.Confidence),
		logging.Any("resolved_days", intent.ResolvedDays))
	return intent, nil
}

// dayReference renders the next seven days so the model can resolve
// relative phrases like "tomorrow" or "Saturday".
func dayReference(now time.Time) string {
	lines := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i)
		switch i {
		case 0:
			lines = append(lines, fmt.Sprintf("  - Today: %s (%s)", day.Weekday(), day.Format("2006-01-02")))
		case 1:
			lines = append(lines, fmt.Sprintf("  - Tomorrow: %s (%s)", day.Weekday(), day.Format("2006-01-02")))
		default:
			lines = append(lines, fmt.Sprintf("  - %s: %s", day.Weekday(), day.Format("2006-01-02")))
		}
	}
	return strings.Join(lines, "\n")
}

func clampConfidence(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
