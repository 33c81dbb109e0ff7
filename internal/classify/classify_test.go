package classify_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"shiftwatch/internal/classify"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/services/llm"
)

type fakeCompleter struct {
	response string
	err      error

	systemPrompts []string
	userPrompts   []string
	messageCalls  [][]llm.Message
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.systemPrompts = append(f.systemPrompts, systemPrompt)
	f.userPrompts = append(f.userPrompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) CompleteMessagesJSON(_ context.Context, messages []llm.Message) (string, error) {
	f.messageCalls = append(f.messageCalls, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestDetectIntentParsesResponse(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"is_shift_coverage_message": true, "resolved_days": ["2026-03-07"], "confidence": 92}`,
	}
	detector := classify.NewIntentDetector(fake, logging.NewNop()).
		WithClock(func() time.Time { return time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC) })

	intent, err := detector.DetectIntent(context.Background(), "42 can't crew Saturday night")
	if err != nil {
		t.Fatalf("DetectIntent: %v", err)
	}
	if !intent.ShiftCoverage {
		t.Fatal("expected shift coverage intent")
	}
	if intent.Confidence != 92 {
		t.Fatalf("confidence = %d, want 92", intent.Confidence)
	}
	if len(intent.ResolvedDays) != 1 || intent.ResolvedDays[0] != "2026-03-07" {
		t.Fatalf("resolved days = %v", intent.ResolvedDays)
	}

	if len(fake.userPrompts) != 1 {
		t.Fatalf("completer called %d times, want 1", len(fake.userPrompts))
	}
	prompt := fake.userPrompts[0]
	if !strings.Contains(prompt, "Today: Thursday (2026-03-05)") {
		t.Errorf("prompt missing today reference:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Tomorrow: Friday (2026-03-06)") {
		t.Errorf("prompt missing tomorrow reference:\n%s", prompt)
	}
	if !strings.Contains(prompt, "42 can't crew Saturday night") {
		t.Errorf("prompt missing message text:\n%s", prompt)
	}
}

func TestDetectIntentUnparseableDegrades(t *testing.T) {
	fake := &fakeCompleter{response: "I could not decide."}
	detector := classify.NewIntentDetector(fake, logging.NewNop())

	intent, err := detector.DetectIntent(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("DetectIntent: %v", err)
	}
	if intent.ShiftCoverage || intent.Confidence != 0 {
		t.Fatalf("expected zero-value intent, got %+v", intent)
	}
}

func TestDetectIntentEmptyMessage(t *testing.T) {
	detector := classify.NewIntentDetector(&fakeCompleter{}, logging.NewNop())
	if _, err := detector.DetectIntent(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestDetectIntentClampsConfidence(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"is_shift_coverage_message": true, "resolved_days": [], "confidence": 400}`,
	}
	detector := classify.NewIntentDetector(fake, logging.NewNop())
	intent, err := detector.DetectIntent(context.Background(), "coverage?")
	if err != nil {
		t.Fatalf("DetectIntent: %v", err)
	}
	if intent.Confidence != 100 {
		t.Fatalf("confidence = %d, want clamped 100", intent.Confidence)
	}
}

func TestCheckRelatedParsesResponse(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"is_related": true, "confidence": 85, "reasoning": "answers the squad question"}`,
	}
	checker := classify.NewRelatednessChecker(fake, logging.NewNop())

	result, err := checker.CheckRelated(context.Background(), classify.RelatednessInput{
		WorkflowType:   "shift_coverage",
		WorkflowStatus: "WAITING_FOR_INPUT",
		Squad:          "42",
		Date:           "20260307",
		InitiatingUser: "Alice N",
		History: []classify.HistoryEntry{
			{UserName: "Alice N", Text: "We can't crew Saturday"},
			{UserName: "bot", Text: "Which squad won't be available?"},
		},
		NewMessageUser: "Alice N",
		NewMessageText: "42",
	})
	if err != nil {
		t.Fatalf("CheckRelated: %v", err)
	}
	if !result.Related || result.Confidence != 85 {
		t.Fatalf("unexpected result: %+v", result)
	}

	prompt := fake.userPrompts[0]
	for _, want := range []string{"WAITING_FOR_INPUT", "Alice N: We can't crew Saturday", "New message from Alice N"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestCheckRelatedEmptyHistory(t *testing.T) {
	fake := &fakeCompleter{response: `{"is_related": false, "confidence": 10, "reasoning": "n/a"}`}
	checker := classify.NewRelatednessChecker(fake, logging.NewNop())

	if _, err := checker.CheckRelated(context.Background(), classify.RelatednessInput{NewMessageText: "hi"}); err != nil {
		t.Fatalf("CheckRelated: %v", err)
	}
	if !strings.Contains(fake.userPrompts[0], "No previous messages") {
		t.Errorf("prompt should note empty history:\n%s", fake.userPrompts[0])
	}
}

func TestCheckRelatedUnparseableDegrades(t *testing.T) {
	fake := &fakeCompleter{response: "not json"}
	checker := classify.NewRelatednessChecker(fake, logging.NewNop())

	result, err := checker.CheckRelated(context.Background(), classify.RelatednessInput{NewMessageText: "42"})
	if err != nil {
		t.Fatalf("CheckRelated: %v", err)
	}
	if result.Related {
		t.Fatal("unparseable response should not report related")
	}
}

func TestExtractParsesActions(t *testing.T) {
	fake := &fakeCompleter{
		response: `{
			"parsed_requests": [
				{"action": "noCrew", "squad": 42, "date": "20260307", "shift_start": "1800", "shift_end": "0600"}
			],
			"missing_parameters": [],
			"warnings": [],
			"confidence": 90
		}`,
	}
	extractor := classify.NewExtractor(fake, logging.NewNop())

	extraction, err := extractor.Extract(context.Background(), classify.ExtractionInput{
		CurrentTime:   "2026-03-05 18:00:00",
		SenderName:    "Alice N",
		SenderSquad:   "42",
		SenderRole:    "Chief",
		ResolvedDays:  []string{"2026-03-07"},
		ScheduleState: `{"date": "20260307", "shifts": []}`,
		Dialogue:      []string{"We can't crew Saturday night"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(extraction.ParsedRequests) != 1 {
		t.Fatalf("parsed requests = %d, want 1", len(extraction.ParsedRequests))
	}
	req := extraction.ParsedRequests[0]
	if req.Action != "noCrew" || req.Squad != 42 || req.Date != "20260307" {
		t.Fatalf("unexpected request: %+v", req)
	}

	call := fake.messageCalls[0]
	if len(call) != 2 {
		t.Fatalf("messages sent = %d, want 2", len(call))
	}
	if call[0].Role != "system" || !strings.Contains(call[0].Content, "2026-03-07") {
		t.Errorf("system prompt missing resolved days:\n%s", call[0].Content)
	}
	if call[1].Role != "user" || call[1].Content != "We can't crew Saturday night" {
		t.Errorf("unexpected user turn: %+v", call[1])
	}
}

func TestExtractUnparseableAsksForEverything(t *testing.T) {
	fake := &fakeCompleter{response: "no json here"}
	extractor := classify.NewExtractor(fake, logging.NewNop())

	extraction, err := extractor.Extract(context.Background(), classify.ExtractionInput{
		Dialogue: []string{"help"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(extraction.MissingParameters) != 4 {
		t.Fatalf("missing parameters = %v, want all four", extraction.MissingParameters)
	}
}

func TestExtractRequiresDialogue(t *testing.T) {
	extractor := classify.NewExtractor(&fakeCompleter{}, logging.NewNop())
	if _, err := extractor.Extract(context.Background(), classify.ExtractionInput{}); err == nil {
		t.Fatal("expected error for empty dialogue")
	}
}

func TestSystemPromptDefaults(t *testing.T) {
	prompt := classify.SystemPrompt(classify.ExtractionInput{})
	for _, want := range []string{"Schedule state not available", "Not specified", "Unknown"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
