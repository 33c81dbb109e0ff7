// Package workflow owns the conversation state machine: one step per inbound
// message, with all memory between steps carried in the persisted state
// payload so the process can restart mid-conversation.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"shiftwatch/internal/classify"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/roster"
	"shiftwatch/internal/services"
	"shiftwatch/internal/services/calendar"
	"shiftwatch/internal/store"
)

// TypeShiftCoverage is the workflow type the engine drives.
const TypeShiftCoverage = "shift_coverage"

// CalendarService submits schedule mutations. The calendar package's Client
// satisfies it.
type CalendarService interface {
	Submit(ctx context.Context, cmd calendar.Command) (calendar.Result, error)
}

// ChatSender posts workflow output back into the group conversation. The
// chat package's Client satisfies it.
type ChatSender interface {
	SendText(ctx context.Context, text string) error
	SendWarning(ctx context.Context, text string) error
}

// Engine advances workflows one step at a time.
type Engine struct {
	store     *store.Store
	extractor classify.Extractor
	calendar  CalendarService
	chat      ChatSender
	notifier  notify.Notifier
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time
}

// NewEngine wires the engine's collaborators. ttl bounds how long a workflow
// may stay active before the expiry sweep terminates it.
func NewEngine(
	st *store.Store,
	extractor classify.Extractor,
	cal CalendarService,
	chat ChatSender,
	notifier notify.Notifier,
	ttl time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:     st,
		extractor: extractor,
		calendar:  cal,
		chat:      chat,
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "workflow"),
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// StartInput carries everything needed to open a new workflow.
type StartInput struct {
	GroupID       string
	Message       store.ConversationMessage
	SenderSquad   int
	SenderRole    string
	ResolvedDays  []string
	ScheduleState []byte
}

// Start creates a workflow for the triggering message and runs its first
// step. The returned workflow reflects the status after the step.
func (e *Engine) Start(ctx context.Context, input StartInput) (*store.Workflow, error) {
	state := &StateData{
		SchemaVersion: SchemaVersion,
		GroupID:       input.GroupID,
		SenderName:    input.Message.UserName,
		SenderSquad:   input.SenderSquad,
		SenderRole:    input.SenderRole,
		ResolvedDays:  input.ResolvedDays,
		ScheduleState: input.ScheduleState,
		Dialogue:      []string{input.Message.Text},
		CurrentStep:   StepExtract,
	}

	payload, err := EncodeState(state)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "start", "encode initial state", err)
	}
	wf, err := e.store.CreateWorkflow(ctx, input.GroupID, TypeShiftCoverage, payload, input.Message.UserID, input.SenderSquad, e.ttl)
	if err != nil {
		return nil, err
	}
	state.WorkflowID = wf.ID

	e.logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldGroupID, input.GroupID),
		logging.Int(logging.FieldSquad, input.SenderSquad))

	if err := e.advance(ctx, wf, state); err != nil {
		return wf, err
	}
	return wf, nil
}

// Resume feeds a new user turn into a waiting workflow and runs one step.
// The persisted dialogue is rebuilt from the original first turn plus the
// clarification answer; transient turns from earlier steps are discarded.
func (e *Engine) Resume(ctx context.Context, wf *store.Workflow, message store.ConversationMessage) (*store.Workflow, error) {
	state, err := DecodeState(wf.StateJSON)
	if err != nil {
		e.logger.Warn("workflow state unreadable, starting from empty payload",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.Error(err))
		state = &StateData{
			SchemaVersion: SchemaVersion,
			WorkflowID:    wf.ID,
			GroupID:       wf.GroupID,
			SenderSquad:   wf.SquadID,
		}
	}
	state.WorkflowID = wf.ID
	state.InteractionCount++

	state.Dialogue = reconstructDialogue(state, message.Text)

	e.logger.Info("workflow resumed",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.Int("interaction_count", state.InteractionCount))

	if err := e.advance(ctx, wf, state); err != nil {
		return wf, err
	}
	return wf, nil
}

// reconstructDialogue combines the original request with the latest answer.
// The state payload is the only memory across restarts, so the dialogue sent
// to extraction is always rebuilt from it rather than held in process.
func reconstructDialogue(state *StateData, answer string) []string {
	if len(state.Dialogue) == 0 {
		return []string{answer}
	}
	param := "information"
	if len(state.MissingParameters) > 0 {
		param = state.MissingParameters[0]
	}
	combined := fmt.Sprintf("%s\n\nThe %s is %s", state.Dialogue[0], param, answer)
	return []string{combined}
}

// advance runs one extraction step, persists the resulting status and state,
// and delivers any outputs.
func (e *Engine) advance(ctx context.Context, wf *store.Workflow, state *StateData) error {
	if err := e.runStep(ctx, state); err != nil {
		return err
	}

	status := statusForStep(state)
	if err := e.persist(ctx, wf, state, status); err != nil {
		return err
	}
	return e.handleOutputs(ctx, wf, state)
}

// runStep performs extraction and routes to the follow-up step, mutating
// state in place.
func (e *Engine) runStep(ctx context.Context, state *StateData) error {
	squad := ""
	if state.SenderSquad != 0 {
		squad = strconv.Itoa(state.SenderSquad)
	}
	extraction, err := e.extractor.Extract(ctx, classify.ExtractionInput{
		CurrentTime:   e.now().Format("2006-01-02 15:04:05"),
		SenderName:    state.SenderName,
		SenderSquad:   squad,
		SenderRole:    state.SenderRole,
		ResolvedDays:  state.ResolvedDays,
		ScheduleState: string(state.ScheduleState),
		Dialogue:      state.Dialogue,
	})
	if err != nil {
		return err
	}

	state.ParsedRequests = extraction.ParsedRequests
	state.MissingParameters = extraction.MissingParameters
	state.ValidationWarnings = extraction.Warnings
	state.Reasoning = extraction.Reasoning
	state.ClarificationQuestion = ""
	state.ExecutionResult = nil
	if len(extraction.ParsedRequests) > 0 {
		first := extraction.ParsedRequests[0]
		state.Action = first.Action
		state.Squad = first.Squad
		state.Date = first.Date
		state.ShiftStart = first.ShiftStart
		state.ShiftEnd = first.ShiftEnd
	}
	state.CurrentStep = StepExtract

	switch {
	case len(state.ParsedRequests) == 0:
		e.completeNoAction(state)
	case len(state.MissingParameters) > 0:
		e.requestClarification(state)
	default:
		e.validate(state)
		if state.ValidationPassed {
			e.prepareExecution(state)
		}
	}
	return nil
}

// completeNoAction closes a workflow that requires no calendar change,
// surfacing the model's reasoning as the user-facing explanation.
func (e *Engine) completeNoAction(state *StateData) {
	if len(state.ValidationWarnings) == 0 {
		if state.Reasoning != "" {
			state.ValidationWarnings = []string{state.Reasoning}
		} else {
			state.ValidationWarnings = []string{"No action needed based on the current schedule."}
		}
	}
	state.ExecutionResult = &ExecutionResult{
		Status:  ExecutionNoActionNeeded,
		Message: "No calendar changes required",
	}
	state.CurrentStep = StepCompleteNoAction
}

// clarificationQuestions maps each parameter to the question asked for it.
var clarificationQuestions = map[string]string{
	"squad":       "Which squad won't be available? (34, 35, 42, 43, or 54)",
	"date":        "What date are you referring to? (e.g., 'Saturday', 'December 25', or '12/25')",
	"shift_start": "What time does the shift start? (e.g., '6 PM' or '1800')",
	"shift_end":   "What time does the shift end? (e.g., '6 AM' or '0600')",
	"action":      "Do you want to remove the shift, add a shift, or obliterate it completely?",
}

// clarificationPriority orders which missing parameter gets asked first.
var clarificationPriority = []string{"squad", "date", "shift_start", "shift_end", "action"}

// requestClarification picks the highest-priority missing parameter and
// stages the question for delivery. The interaction counter the router
// enforces is bumped on resume, not here, so the opening clarification is
// free.
func (e *Engine) requestClarification(state *StateData) {
	param := state.MissingParameters[0]
	for _, candidate := range clarificationPriority {
		if containsString(state.MissingParameters, candidate) {
			param = candidate
			break
		}
	}
	question, ok := clarificationQuestions[param]
	if !ok {
		question = fmt.Sprintf("Can you provide the %s?", param)
	}
	state.ClarificationQuestion = question
	state.CurrentStep = StepClarify
}

// validate confirms every extracted action is well formed. Failures attach
// warnings without discarding the extracted fields, so a later resume keeps
// partial progress.
func (e *Engine) validate(state *StateData) {
	warnings := state.ValidationWarnings
	passed := true

	for i := range state.ParsedRequests {
		req := &state.ParsedRequests[i]
		if req.Action == "" {
			req.Action = string(calendar.ActionNoCrew)
		}
		if !calendar.ValidAction(calendar.ActionKind(req.Action)) {
			warnings = append(warnings, fmt.Sprintf("Unknown action: %s", req.Action))
			passed = false
		}
		if !roster.ValidSquad(req.Squad) {
			warnings = append(warnings, fmt.Sprintf("Invalid squad number: %d", req.Squad))
			passed = false
		}
		if !validDigits(req.Date, 8) {
			warnings = append(warnings, fmt.Sprintf("Invalid date format: %s (expected YYYYMMDD)", req.Date))
			passed = false
		}
		if !validDigits(req.ShiftStart, 4) {
			warnings = append(warnings, fmt.Sprintf("Invalid shift_start format: %s (expected HHMM)", req.ShiftStart))
			passed = false
		}
		if !validDigits(req.ShiftEnd, 4) {
			warnings = append(warnings, fmt.Sprintf("Invalid shift_end format: %s (expected HHMM)", req.ShiftEnd))
			passed = false
		}
	}
	if state.Action == "" {
		state.Action = string(calendar.ActionNoCrew)
	}

	state.ValidationWarnings = warnings
	state.ValidationPassed = passed
	state.CurrentStep = StepValidate
}

// prepareExecution marks the validated action list ready for submission.
func (e *Engine) prepareExecution(state *StateData) {
	state.ExecutionResult = &ExecutionResult{
		Status:  ExecutionPrepared,
		Message: fmt.Sprintf("Prepared %d command(s) for execution", len(state.ParsedRequests)),
		Summary: ExecutionSummary{Total: len(state.ParsedRequests)},
	}
	state.CurrentStep = StepExecute
}

// statusForStep maps the step outcome to the workflow status to persist.
// A failed validation leaves the status untouched; the warnings reach the
// user and extracted fields survive for the next resume.
func statusForStep(state *StateData) store.WorkflowStatus {
	switch state.CurrentStep {
	case StepClarify:
		return store.WorkflowWaitingForInput
	case StepCompleteNoAction:
		return store.WorkflowCompleted
	case StepValidate:
		return ""
	case StepExecute:
		return store.WorkflowReady
	default:
		return ""
	}
}

// persist stores the updated state payload and, when the step declared one,
// the new status.
func (e *Engine) persist(ctx context.Context, wf *store.Workflow, state *StateData, status store.WorkflowStatus) error {
	payload, err := EncodeState(state)
	if err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "persist", "encode state", err)
	}
	wf.StateJSON = payload
	if status != "" {
		wf.Status = status
	}
	return e.store.UpdateWorkflow(ctx, wf)
}

// handleOutputs delivers clarifications and warnings, then executes any
// prepared actions. Chat delivery failures are logged, never fatal: the
// state is already persisted, so a dropped message costs a repeat question
// at worst.
func (e *Engine) handleOutputs(ctx context.Context, wf *store.Workflow, state *StateData) error {
	if state.ClarificationQuestion != "" {
		if err := e.chat.SendText(ctx, state.ClarificationQuestion); err != nil {
			e.logger.Error("clarification delivery failed",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err))
		} else {
			e.logBotTurn(ctx, wf, state.ClarificationQuestion)
		}
	}

	for _, warning := range state.ValidationWarnings {
		if err := e.chat.SendWarning(ctx, warning); err != nil {
			e.logger.Error("warning delivery failed",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err))
		} else {
			e.logBotTurn(ctx, wf, warning)
		}
	}

	if state.ExecutionResult == nil || state.ExecutionResult.Status != ExecutionPrepared {
		return nil
	}
	return e.execute(ctx, wf, state)
}

// execute submits every prepared action, isolating per-action failures, and
// completes the workflow with an aggregate outcome.
func (e *Engine) execute(ctx context.Context, wf *store.Workflow, state *StateData) error {
	if err := e.persistStatus(ctx, wf, store.WorkflowExecuting); err != nil {
		return err
	}

	results := make([]ActionResult, 0, len(state.ParsedRequests))
	successful, failed := 0, 0
	for i, req := range state.ParsedRequests {
		cmd := calendar.Command{
			Action:     calendar.ActionKind(req.Action),
			Squad:      req.Squad,
			Date:       req.Date,
			ShiftStart: req.ShiftStart,
			ShiftEnd:   req.ShiftEnd,
		}
		e.logger.Info("submitting calendar command",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.Int("index", i+1),
			logging.Int("total", len(state.ParsedRequests)),
			logging.String("action", req.Action),
			logging.Int(logging.FieldSquad, req.Squad))

		result, err := e.calendar.Submit(ctx, cmd)
		if err != nil {
			e.logger.Error("calendar command failed",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err))
			results = append(results, ActionResult{Request: req, Status: "error", Error: err.Error()})
			failed++
			continue
		}
		results = append(results, ActionResult{Request: req, Status: "success", Detail: result.Message})
		successful++
	}

	state.ExecutionResult.Results = results
	state.ExecutionResult.Summary = ExecutionSummary{
		Total:      len(state.ParsedRequests),
		Successful: successful,
		Failed:     failed,
	}
	switch {
	case failed == 0:
		state.ExecutionResult.Status = ExecutionSuccess
	case successful == 0:
		state.ExecutionResult.Status = ExecutionFailed
	default:
		state.ExecutionResult.Status = ExecutionPartial
	}

	if err := e.persist(ctx, wf, state, store.WorkflowCompleted); err != nil {
		return err
	}

	e.reportExecution(ctx, wf, state, successful, failed)
	return nil
}

// reportExecution sends the user-facing confirmation or failure notice and
// escalates execution failures to admins.
func (e *Engine) reportExecution(ctx context.Context, wf *store.Workflow, state *StateData, successful, failed int) {
	if successful > 0 {
		var confirmation string
		if successful == 1 && len(state.ParsedRequests) == 1 {
			req := state.ParsedRequests[0]
			confirmation = fmt.Sprintf("Updated schedule: %s for Squad %d on %s (%s-%s)",
				req.Action, req.Squad, req.Date, req.ShiftStart, req.ShiftEnd)
		} else {
			confirmation = fmt.Sprintf("Updated schedule: %d action(s) completed", successful)
			if failed > 0 {
				confirmation += fmt.Sprintf(", %d failed", failed)
			}
		}
		if err := e.chat.SendText(ctx, confirmation); err != nil {
			e.logger.Error("confirmation delivery failed",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err))
		} else {
			e.logBotTurn(ctx, wf, confirmation)
		}
	}

	if failed > 0 {
		notice := fmt.Sprintf("%d command(s) failed to execute", failed)
		if err := e.chat.SendText(ctx, notice); err != nil {
			e.logger.Error("failure notice delivery failed",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err))
		} else {
			e.logBotTurn(ctx, wf, notice)
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, notify.Event{
				Kind: notify.EventWorkflowExecutionFailed,
				Context: map[string]string{
					"workflow_id":   wf.ID,
					"squad":         strconv.Itoa(wf.SquadID),
					"error_message": firstError(state.ExecutionResult.Results),
				},
			})
		}
	}

	e.logger.Info("calendar commands executed",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.Int("successful", successful),
		logging.Int("failed", failed))
}

// BotSender identifies outbound turns in the conversation history.
const BotSender = "bot"

// logBotTurn records a delivered outbound message against the workflow's
// conversation history, so relatedness checks see both sides of the
// dialogue. A recording failure is logged and tolerated.
func (e *Engine) logBotTurn(ctx context.Context, wf *store.Workflow, text string) {
	turn := store.ConversationMessage{
		MessageID:  BotSender + "-" + uuid.NewString(),
		GroupID:    wf.GroupID,
		UserID:     BotSender,
		UserName:   BotSender,
		Text:       text,
		Timestamp:  e.now().Unix(),
		WorkflowID: wf.ID,
	}
	if err := e.store.StoreConversationMessage(ctx, turn); err != nil {
		e.logger.Warn("outbound turn not recorded",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.Error(err))
	}
}

func (e *Engine) persistStatus(ctx context.Context, wf *store.Workflow, status store.WorkflowStatus) error {
	wf.Status = status
	return e.store.SetWorkflowStatus(ctx, wf.ID, status)
}

func firstError(results []ActionResult) string {
	for _, result := range results {
		if result.Error != "" {
			return result.Error
		}
	}
	return "unknown"
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func validDigits(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
