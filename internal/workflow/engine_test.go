package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shiftwatch/internal/classify"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/services/calendar"
	"shiftwatch/internal/store"
	"shiftwatch/internal/testsupport"
	"shiftwatch/internal/workflow"
)

type fakeExtractor struct {
	queue  []classify.Extraction
	err    error
	inputs []classify.ExtractionInput
}

func (f *fakeExtractor) Extract(_ context.Context, input classify.ExtractionInput) (classify.Extraction, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return classify.Extraction{}, f.err
	}
	if len(f.queue) == 0 {
		return classify.Extraction{}, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next, nil
}

type fakeCalendar struct {
	failActions map[string]error
	commands    []calendar.Command
}

func (f *fakeCalendar) Submit(_ context.Context, cmd calendar.Command) (calendar.Result, error) {
	f.commands = append(f.commands, cmd)
	if err, ok := f.failActions[string(cmd.Action)]; ok {
		return calendar.Result{}, err
	}
	return calendar.Result{Status: "success", Message: "ok"}, nil
}

type fakeChat struct {
	texts    []string
	warnings []string
}

func (f *fakeChat) SendText(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeChat) SendWarning(_ context.Context, text string) error {
	f.warnings = append(f.warnings, text)
	return nil
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, event notify.Event) {
	f.events = append(f.events, event)
}

type engineHarness struct {
	engine    *workflow.Engine
	store     *store.Store
	extractor *fakeExtractor
	calendar  *fakeCalendar
	chat      *fakeChat
	notifier  *fakeNotifier
}

func newHarness(t *testing.T, extractions ...classify.Extraction) *engineHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	h := &engineHarness{
		store:     st,
		extractor: &fakeExtractor{queue: extractions},
		calendar:  &fakeCalendar{},
		chat:      &fakeChat{},
		notifier:  &fakeNotifier{},
	}
	h.engine = workflow.NewEngine(st, h.extractor, h.calendar, h.chat, h.notifier, 24*time.Hour, logging.NewNop())
	return h
}

func completeExtraction() classify.Extraction {
	return classify.Extraction{
		ParsedRequests: []classify.ParsedRequest{
			{Action: "noCrew", Squad: 42, Date: "20260307", ShiftStart: "1800", ShiftEnd: "0600"},
		},
		Confidence: 90,
	}
}

func startInput() workflow.StartInput {
	return workflow.StartInput{
		GroupID: "group-1",
		Message: store.ConversationMessage{
			MessageID: "msg-1",
			GroupID:   "group-1",
			UserID:    "user-1",
			UserName:  "Alice N",
			Text:      "Squad 42 needs coverage Saturday 6pm-6am",
			Timestamp: 1772900000,
		},
		SenderSquad: 42,
		SenderRole:  "Chief",
	}
}

func TestStartCompleteRequestExecutes(t *testing.T) {
	h := newHarness(t, completeExtraction())
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if stored.Status != store.WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}

	if len(h.calendar.commands) != 1 {
		t.Fatalf("submitted %d commands, want 1", len(h.calendar.commands))
	}
	cmd := h.calendar.commands[0]
	if cmd.Action != calendar.ActionNoCrew || cmd.Squad != 42 || cmd.Date != "20260307" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if len(h.chat.texts) != 1 {
		t.Fatalf("sent %d messages, want 1 confirmation", len(h.chat.texts))
	}
	if !strings.Contains(h.chat.texts[0], "noCrew for Squad 42 on 20260307 (1800-0600)") {
		t.Fatalf("unexpected confirmation: %s", h.chat.texts[0])
	}

	state, err := workflow.DecodeState(stored.StateJSON)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if state.ExecutionResult == nil || state.ExecutionResult.Status != workflow.ExecutionSuccess {
		t.Fatalf("execution result: %+v", state.ExecutionResult)
	}
	if state.ExecutionResult.Summary.Successful != 1 {
		t.Fatalf("summary: %+v", state.ExecutionResult.Summary)
	}
}

func TestStartMissingParameterAsksClarification(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		ParsedRequests: []classify.ParsedRequest{
			{Action: "noCrew", Squad: 42, Date: "20260307", ShiftStart: "1800"},
		},
		MissingParameters: []string{"shift_end"},
	})
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if stored.Status != store.WorkflowWaitingForInput {
		t.Fatalf("status = %s, want WAITING_FOR_INPUT", stored.Status)
	}

	if len(h.chat.texts) != 1 {
		t.Fatalf("sent %d messages, want 1 question", len(h.chat.texts))
	}
	if !strings.Contains(h.chat.texts[0], "What time does the shift end?") {
		t.Fatalf("unexpected question: %s", h.chat.texts[0])
	}
	if len(h.calendar.commands) != 0 {
		t.Fatal("no commands should be submitted while waiting for input")
	}
}

func TestClarificationPriorityAsksSquadFirst(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		ParsedRequests:    []classify.ParsedRequest{{Action: "noCrew"}},
		MissingParameters: []string{"shift_end", "squad", "date"},
	})

	if _, err := h.engine.Start(context.Background(), startInput()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.chat.texts) != 1 || !strings.Contains(h.chat.texts[0], "Which squad won't be available?") {
		t.Fatalf("expected squad question first, got %v", h.chat.texts)
	}
}

func TestStartNoActionsCompletesWithReasoning(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		Reasoning: "The schedule already shows squad 42 uncovered that night.",
	})
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if stored.Status != store.WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if len(h.chat.warnings) != 1 || !strings.Contains(h.chat.warnings[0], "already shows squad 42") {
		t.Fatalf("expected reasoning relayed as warning, got %v", h.chat.warnings)
	}
	if len(h.calendar.commands) != 0 {
		t.Fatal("no commands should be submitted for a no-action outcome")
	}
}

func TestValidationFailureKeepsStatusAndSendsWarnings(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		ParsedRequests: []classify.ParsedRequest{
			{Action: "noCrew", Squad: 99, Date: "2026037", ShiftStart: "1800", ShiftEnd: "0600"},
		},
	})
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if stored.Status != store.WorkflowNew {
		t.Fatalf("status = %s, want NEW (unchanged)", stored.Status)
	}
	if len(h.calendar.commands) != 0 {
		t.Fatal("invalid request must not be submitted")
	}

	joined := strings.Join(h.chat.warnings, "\n")
	if !strings.Contains(joined, "Invalid squad number: 99") || !strings.Contains(joined, "Invalid date format") {
		t.Fatalf("warnings missing validation details: %v", h.chat.warnings)
	}

	// Extracted fields survive for the next resume.
	state, err := workflow.DecodeState(stored.StateJSON)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if len(state.ParsedRequests) != 1 || state.ParsedRequests[0].ShiftStart != "1800" {
		t.Fatalf("extracted fields lost: %+v", state.ParsedRequests)
	}
}

func TestResumeReconstructsDialogue(t *testing.T) {
	h := newHarness(t,
		classify.Extraction{
			ParsedRequests: []classify.ParsedRequest{
				{Action: "noCrew", Squad: 42, Date: "20260307", ShiftStart: "1800"},
			},
			MissingParameters: []string{"shift_end"},
		},
		completeExtraction(),
	)
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	answer := store.ConversationMessage{
		MessageID: "msg-2",
		GroupID:   "group-1",
		UserID:    "user-1",
		UserName:  "Alice N",
		Text:      "6 AM",
		Timestamp: 1772900100,
	}
	if _, err := h.engine.Resume(ctx, stored, answer); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if len(h.extractor.inputs) != 2 {
		t.Fatalf("extractor called %d times, want 2", len(h.extractor.inputs))
	}
	dialogue := h.extractor.inputs[1].Dialogue
	if len(dialogue) != 1 {
		t.Fatalf("resumed dialogue = %v, want single reconstructed turn", dialogue)
	}
	if !strings.Contains(dialogue[0], "Squad 42 needs coverage Saturday 6pm-6am") ||
		!strings.Contains(dialogue[0], "The shift_end is 6 AM") {
		t.Fatalf("dialogue not reconstructed:\n%s", dialogue[0])
	}

	final, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if final.Status != store.WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}

	state, err := workflow.DecodeState(final.StateJSON)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if state.InteractionCount != 1 {
		t.Fatalf("interaction count = %d, want 1 after one resume", state.InteractionCount)
	}
}

func TestOutboundTurnsRecordedInConversation(t *testing.T) {
	h := newHarness(t,
		classify.Extraction{
			ParsedRequests: []classify.ParsedRequest{
				{Action: "noCrew", Squad: 42, Date: "20260307", ShiftStart: "1800"},
			},
			MissingParameters: []string{"shift_end"},
		},
		completeExtraction(),
	)
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	turns, err := h.store.WorkflowMessages(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowMessages: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("recorded %d turns, want the clarification question", len(turns))
	}
	question := turns[0]
	if question.UserID != workflow.BotSender || question.UserName != workflow.BotSender {
		t.Fatalf("turn sender = %q/%q, want bot", question.UserID, question.UserName)
	}
	if !strings.HasPrefix(question.MessageID, workflow.BotSender+"-") {
		t.Fatalf("turn id = %q, want synthetic bot id", question.MessageID)
	}
	if !strings.Contains(question.Text, "What time does the shift end?") {
		t.Fatalf("turn text = %q, want the clarification question", question.Text)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	answer := store.ConversationMessage{
		MessageID: "msg-2",
		GroupID:   "group-1",
		UserID:    "user-1",
		UserName:  "Alice N",
		Text:      "6 AM",
		Timestamp: 1772900100,
	}
	if _, err := h.engine.Resume(ctx, stored, answer); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	turns, err = h.store.WorkflowMessages(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowMessages: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("recorded %d turns, want question plus confirmation", len(turns))
	}
	joined := turns[0].Text + "\n" + turns[1].Text
	if !strings.Contains(joined, "Updated schedule") {
		t.Fatalf("confirmation not recorded: %v", joined)
	}
}

func TestExecutePartialFailureEscalates(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		ParsedRequests: []classify.ParsedRequest{
			{Action: "noCrew", Squad: 42, Date: "20260307", ShiftStart: "1800", ShiftEnd: "0600"},
			{Action: "addShift", Squad: 35, Date: "20260307", ShiftStart: "1800", ShiftEnd: "0600"},
		},
	})
	h.calendar.failActions = map[string]error{"addShift": errors.New("service unavailable")}
	ctx := context.Background()

	wf, err := h.engine.Start(ctx, startInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := h.store.WorkflowByID(ctx, wf.ID)
	if err != nil {
		t.Fatalf("WorkflowByID: %v", err)
	}
	if stored.Status != store.WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}

	state, err := workflow.DecodeState(stored.StateJSON)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if state.ExecutionResult.Status != workflow.ExecutionPartial {
		t.Fatalf("execution status = %s, want partial", state.ExecutionResult.Status)
	}
	if state.ExecutionResult.Summary.Successful != 1 || state.ExecutionResult.Summary.Failed != 1 {
		t.Fatalf("summary: %+v", state.ExecutionResult.Summary)
	}

	joined := strings.Join(h.chat.texts, "\n")
	if !strings.Contains(joined, "1 action(s) completed, 1 failed") {
		t.Fatalf("missing aggregate confirmation: %v", h.chat.texts)
	}
	if !strings.Contains(joined, "1 command(s) failed to execute") {
		t.Fatalf("missing failure notice: %v", h.chat.texts)
	}

	if len(h.notifier.events) != 1 || h.notifier.events[0].Kind != notify.EventWorkflowExecutionFailed {
		t.Fatalf("expected one execution-failed alert, got %v", h.notifier.events)
	}
}

func TestExtractionErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = errors.New("model timeout")

	if _, err := h.engine.Start(context.Background(), startInput()); err == nil {
		t.Fatal("expected extraction error to propagate")
	}
}

func TestDefaultActionIsNoCrew(t *testing.T) {
	h := newHarness(t, classify.Extraction{
		ParsedRequests: []classify.ParsedRequest{
			{Squad: 42, Date: "20260307", ShiftStart: "1800", ShiftEnd: "0600"},
		},
	})

	if _, err := h.engine.Start(context.Background(), startInput()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.calendar.commands) != 1 || h.calendar.commands[0].Action != calendar.ActionNoCrew {
		t.Fatalf("expected default noCrew action, got %+v", h.calendar.commands)
	}
}
