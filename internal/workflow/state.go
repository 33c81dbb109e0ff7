package workflow

import (
	"encoding/json"
	"fmt"

	"shiftwatch/internal/classify"
)

// SchemaVersion tags the persisted state payload layout. Bump it when a
// field changes meaning; unknown keys from newer layouts survive round-trips
// untouched.
const SchemaVersion = 1

// Step identifies what the engine did last inside a workflow.
type Step string

const (
	StepExtract          Step = "extract_parameters"
	StepClarify          Step = "request_clarification"
	StepValidate         Step = "validate"
	StepExecute          Step = "execute"
	StepCompleteNoAction Step = "complete_no_action"
)

// ActionResult is the outcome of submitting one extracted action.
type ActionResult struct {
	Request classify.ParsedRequest `json:"request"`
	Status  string                 `json:"status"`
	Detail  string                 `json:"detail,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ExecutionSummary aggregates per-action outcomes for a completed step.
type ExecutionSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Execution outcome statuses.
const (
	ExecutionPrepared       = "prepared"
	ExecutionSuccess        = "success"
	ExecutionPartial        = "partial"
	ExecutionFailed         = "failed"
	ExecutionNoActionNeeded = "no_action_needed"
)

// ExecutionResult records what happened when the workflow reached execution.
type ExecutionResult struct {
	Status  string           `json:"status"`
	Message string           `json:"message,omitempty"`
	Results []ActionResult   `json:"results,omitempty"`
	Summary ExecutionSummary `json:"summary"`
}

// StateData is the engine's durable working memory for one workflow. It is
// the only conversation memory that survives process restarts, so every
// field the engine needs across turns lives here. Unknown keys encountered
// during decoding are preserved and re-emitted on encoding so in-flight
// workflows survive deployments that change the payload shape.
type StateData struct {
	SchemaVersion int    `json:"schema_version"`
	WorkflowID    string `json:"workflow_id"`
	GroupID       string `json:"group_id"`

	SenderName  string `json:"sender_name"`
	SenderSquad int    `json:"sender_squad,omitempty"`
	SenderRole  string `json:"sender_role,omitempty"`

	ResolvedDays  []string        `json:"resolved_days,omitempty"`
	ScheduleState json.RawMessage `json:"schedule_state,omitempty"`

	// Dialogue holds the user turns fed to extraction, oldest first. The
	// system framing is regenerated from the context fields above on every
	// step, so it is never persisted.
	Dialogue []string `json:"dialogue"`

	Squad      int    `json:"squad,omitempty"`
	Date       string `json:"date,omitempty"`
	ShiftStart string `json:"shift_start,omitempty"`
	ShiftEnd   string `json:"shift_end,omitempty"`
	Action     string `json:"action,omitempty"`

	ParsedRequests []classify.ParsedRequest `json:"parsed_requests,omitempty"`

	ValidationWarnings []string `json:"validation_warnings,omitempty"`
	ValidationPassed   bool     `json:"validation_passed"`

	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`

	CurrentStep           Step     `json:"current_step"`
	MissingParameters     []string `json:"missing_parameters,omitempty"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	Reasoning             string   `json:"reasoning,omitempty"`
	InteractionCount      int      `json:"interaction_count"`

	extra map[string]json.RawMessage
}

// stateDataAlias avoids recursing into the custom codec methods.
type stateDataAlias StateData

// knownStateKeys must track the json tags on StateData.
var knownStateKeys = map[string]struct{}{
	"schema_version":         {},
	"workflow_id":            {},
	"group_id":               {},
	"sender_name":            {},
	"sender_squad":           {},
	"sender_role":            {},
	"resolved_days":          {},
	"schedule_state":         {},
	"dialogue":               {},
	"squad":                  {},
	"date":                   {},
	"shift_start":            {},
	"shift_end":              {},
	"action":                 {},
	"parsed_requests":        {},
	"validation_warnings":    {},
	"validation_passed":      {},
	"execution_result":       {},
	"current_step":           {},
	"missing_parameters":     {},
	"clarification_question": {},
	"reasoning":              {},
	"interaction_count":      {},
}

// UnmarshalJSON decodes known fields and parks unrecognized keys so they are
// emitted again by MarshalJSON.
func (s *StateData) UnmarshalJSON(data []byte) error {
	var alias stateDataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, known := knownStateKeys[key]; known {
			delete(raw, key)
		}
	}
	*s = StateData(alias)
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

// MarshalJSON emits known fields plus any preserved unknown keys. Known
// fields always win on key collision.
func (s StateData) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(stateDataAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.extra {
		if _, taken := merged[key]; !taken {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// EncodeState serializes state for persistence.
func EncodeState(state *StateData) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode workflow state: %w", err)
	}
	return string(data), nil
}

// DecodeState deserializes a persisted payload. Malformed payloads return an
// error so the caller can decide between failing the message and starting
// from an empty state.
func DecodeState(payload string) (*StateData, error) {
	if payload == "" {
		return &StateData{SchemaVersion: SchemaVersion}, nil
	}
	var state StateData
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decode workflow state: %w", err)
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	return &state, nil
}
