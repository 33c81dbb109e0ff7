// Package router decides, per inbound message, whether to resume an existing
// workflow, start a new one, reject the message, or ignore it. Squad-scoped
// relatedness is resolved before the legacy one-workflow-per-group path so
// concurrent squad threads never block each other.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiftwatch/internal/classify"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/roster"
	"shiftwatch/internal/store"
	"shiftwatch/internal/workflow"
)

// Outcome classifies what the router did with a message.
type Outcome string

const (
	OutcomeResumed   Outcome = "resumed"
	OutcomeStarted   Outcome = "started"
	OutcomeRejected  Outcome = "rejected"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeEscalated Outcome = "escalated"
	OutcomeError     Outcome = "error"
)

// Decision is the routing result for one message.
type Decision struct {
	Outcome    Outcome
	WorkflowID string
	Reason     string
	Err        error
}

// Processed reports whether the message advanced or created a workflow.
func (d Decision) Processed() bool {
	return d.Outcome == OutcomeResumed || d.Outcome == OutcomeStarted || d.Outcome == OutcomeEscalated
}

// EngineService is the workflow engine surface the router drives.
type EngineService interface {
	Start(ctx context.Context, input workflow.StartInput) (*store.Workflow, error)
	Resume(ctx context.Context, wf *store.Workflow, message store.ConversationMessage) (*store.Workflow, error)
}

// ScheduleFetcher reads the current schedule for a day so new workflows
// start with calendar context. The calendar package's Client satisfies it.
type ScheduleFetcher interface {
	Schedule(ctx context.Context, date string, squad int) (json.RawMessage, error)
}

// ChatSender posts router-level notices (rejections, escalations) into the
// group conversation.
type ChatSender interface {
	SendText(ctx context.Context, text string) error
}

// Config carries the router's policy knobs.
type Config struct {
	// ConfidenceThreshold is the minimum classifier confidence (0-100)
	// accepted for both intent and relatedness decisions.
	ConfidenceThreshold int
	// InteractionLimit is the number of clarification resumes allowed
	// before a workflow is escalated to a human.
	InteractionLimit int
}

// Router routes messages using the classifiers, roster, and workflow engine.
type Router struct {
	cfg      Config
	store    *store.Store
	engine   EngineService
	intent   classify.IntentDetector
	related  classify.RelatednessChecker
	roster   *roster.Roster
	schedule ScheduleFetcher
	chat     ChatSender
	notifier notify.Notifier
	logger   *slog.Logger
}

// New wires a router.
func New(
	cfg Config,
	st *store.Store,
	engine EngineService,
	intent classify.IntentDetector,
	related classify.RelatednessChecker,
	members *roster.Roster,
	schedule ScheduleFetcher,
	chat ChatSender,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Router {
	return &Router{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		intent:   intent,
		related:  related,
		roster:   members,
		schedule: schedule,
		chat:     chat,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "router"),
	}
}

const (
	rejectionNotice  = "Please wait - there's already a shift request in progress. Let's finish that one first!"
	escalationNotice = "This conversation has become too complex. I've notified an admin for assistance. Please stand by for human help."
)

// Route decides what to do with one inbound message. The ordering is
// load-bearing: authorization, then squad-scoped relatedness, then the
// legacy single-workflow path, then fresh intent detection.
func (r *Router) Route(ctx context.Context, message store.ConversationMessage) Decision {
	member, authorized := r.roster.MemberByName(message.UserName)
	if !authorized {
		r.logger.Warn("unauthorized sender ignored",
			logging.String("user", message.UserName),
			logging.String(logging.FieldGroupID, message.GroupID))
		return Decision{Outcome: OutcomeIgnored, Reason: "unauthorized_user"}
	}

	r.logger.Debug("routing message",
		logging.String("user", message.UserName),
		logging.Int(logging.FieldSquad, member.Squad),
		logging.String(logging.FieldMessageID, message.MessageID))

	decision, handled, squadBusy := r.routeSquadScoped(ctx, message, member)
	if handled {
		return decision
	}
	return r.routeGroupScoped(ctx, message, member, squadBusy)
}

// routeSquadScoped checks the sender's squad workflows for one the message
// continues. Returns handled=false when no candidate is related, letting the
// caller fall through to the group-scoped paths; squadBusy reports whether
// unrelated active squad workflows exist, which blocks starting a duplicate.
func (r *Router) routeSquadScoped(ctx context.Context, message store.ConversationMessage, member roster.Member) (Decision, bool, bool) {
	candidates, err := r.store.ActiveWorkflowsForSquad(ctx, member.Squad, message.GroupID)
	if err != nil {
		return Decision{Outcome: OutcomeError, Err: err}, true, false
	}
	if len(candidates) == 0 {
		return Decision{}, false, false
	}

	r.logger.Info("checking squad workflow candidates",
		logging.Int(logging.FieldSquad, member.Squad),
		logging.Int("candidates", len(candidates)))

	// Candidates arrive newest first; the first related hit wins, which is
	// also the recency tie-break for equal confidence.
	for _, candidate := range candidates {
		related, err := r.isRelated(ctx, message, candidate)
		if err != nil {
			return Decision{Outcome: OutcomeError, Err: err}, true, false
		}
		if !related {
			continue
		}
		return r.resumeOrEscalate(ctx, message, candidate, member), true, false
	}
	return Decision{}, false, true
}

// isRelated asks the relatedness classifier whether the message continues
// the candidate workflow, using its persisted dialogue turns as context.
func (r *Router) isRelated(ctx context.Context, message store.ConversationMessage, candidate *store.Workflow) (bool, error) {
	history, err := r.store.WorkflowMessages(ctx, candidate.ID)
	if err != nil {
		return false, err
	}
	entries := make([]classify.HistoryEntry, 0, len(history))
	for _, turn := range history {
		entries = append(entries, classify.HistoryEntry{UserName: turn.UserName, Text: turn.Text})
	}

	input := classify.RelatednessInput{
		WorkflowType:   candidate.WorkflowType,
		WorkflowStatus: string(candidate.Status),
		Squad:          strconv.Itoa(candidate.SquadID),
		History:        entries,
		NewMessageUser: message.UserName,
		NewMessageText: message.Text,
	}
	if state, err := workflow.DecodeState(candidate.StateJSON); err == nil {
		input.Date = state.Date
		input.InitiatingUser = state.SenderName
	}

	result, err := r.related.CheckRelated(ctx, input)
	if err != nil {
		return false, err
	}
	r.logger.Info("relatedness checked",
		logging.String(logging.FieldWorkflowID, candidate.ID),
		logging.Bool("related", result.Related),
		logging.Int("confidence", result.Confidence))
	return result.Related && result.Confidence >= r.cfg.ConfidenceThreshold, nil
}

// resumeOrEscalate enforces the interaction limit before handing the message
// to the engine.
func (r *Router) resumeOrEscalate(ctx context.Context, message store.ConversationMessage, wf *store.Workflow, member roster.Member) Decision {
	state, err := workflow.DecodeState(wf.StateJSON)
	if err != nil {
		// Unreadable state still resumes; the engine falls back to an
		// empty payload and re-asks from scratch.
		state = &workflow.StateData{}
	}

	if state.InteractionCount >= r.cfg.InteractionLimit {
		r.logger.Warn("interaction limit reached, escalating",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.Int("interaction_count", state.InteractionCount),
			logging.Int("limit", r.cfg.InteractionLimit))

		if r.notifier != nil {
			r.notifier.Notify(ctx, notify.Event{
				Kind: notify.EventWorkflowEscalation,
				Context: map[string]string{
					"workflow_id":       wf.ID,
					"user_name":         message.UserName,
					"squad":             strconv.Itoa(member.Squad),
					"interaction_count": strconv.Itoa(state.InteractionCount),
				},
			})
		}
		if err := r.chat.SendText(ctx, escalationNotice); err != nil {
			r.logger.Error("escalation notice delivery failed", logging.Error(err))
		} else {
			r.logBotTurn(ctx, wf.ID, message.GroupID, escalationNotice)
		}
		if err := r.store.SetWorkflowStatus(ctx, wf.ID, store.WorkflowExpired); err != nil {
			return Decision{Outcome: OutcomeError, WorkflowID: wf.ID, Err: err}
		}
		return Decision{Outcome: OutcomeEscalated, WorkflowID: wf.ID, Reason: "interaction_limit"}
	}

	message.WorkflowID = wf.ID
	if _, err := r.engine.Resume(ctx, wf, message); err != nil {
		return Decision{Outcome: OutcomeError, WorkflowID: wf.ID, Err: err}
	}
	return Decision{Outcome: OutcomeResumed, WorkflowID: wf.ID}
}

// routeGroupScoped handles the legacy single-workflow-per-group path and
// fresh intent detection. squadBusy blocks creating a second active workflow
// for the identical (group, squad) pair.
func (r *Router) routeGroupScoped(ctx context.Context, message store.ConversationMessage, member roster.Member, squadBusy bool) Decision {
	active, err := r.store.ActiveUnscopedWorkflowForGroup(ctx, message.GroupID)
	if err != nil {
		return Decision{Outcome: OutcomeError, Err: err}
	}

	if active != nil {
		if active.Status == store.WorkflowWaitingForInput {
			message.WorkflowID = active.ID
			if _, err := r.engine.Resume(ctx, active, message); err != nil {
				return Decision{Outcome: OutcomeError, WorkflowID: active.ID, Err: err}
			}
			return Decision{Outcome: OutcomeResumed, WorkflowID: active.ID}
		}

		// Busy workflow: reject fresh requests, ignore chatter.
		intent, err := r.intent.DetectIntent(ctx, message.Text)
		if err != nil {
			return Decision{Outcome: OutcomeError, Err: err}
		}
		if intent.ShiftCoverage && intent.Confidence >= r.cfg.ConfidenceThreshold {
			r.logger.Warn("rejecting new request, workflow in progress",
				logging.String(logging.FieldWorkflowID, active.ID))
			if err := r.chat.SendText(ctx, rejectionNotice); err != nil {
				r.logger.Error("rejection notice delivery failed", logging.Error(err))
			} else {
				r.logBotTurn(ctx, active.ID, message.GroupID, rejectionNotice)
			}
			return Decision{Outcome: OutcomeRejected, WorkflowID: active.ID, Reason: "workflow_in_progress"}
		}
		return Decision{Outcome: OutcomeIgnored, Reason: "non_shift_message_with_active_workflow"}
	}

	intent, err := r.intent.DetectIntent(ctx, message.Text)
	if err != nil {
		return Decision{Outcome: OutcomeError, Err: err}
	}
	if !intent.ShiftCoverage || intent.Confidence < r.cfg.ConfidenceThreshold {
		return Decision{Outcome: OutcomeIgnored, Reason: "not_shift_request"}
	}

	if squadBusy {
		r.logger.Warn("rejecting new request, squad workflow already active",
			logging.Int(logging.FieldSquad, member.Squad))
		if err := r.chat.SendText(ctx, rejectionNotice); err != nil {
			r.logger.Error("rejection notice delivery failed", logging.Error(err))
		}
		return Decision{Outcome: OutcomeRejected, Reason: "workflow_in_progress"}
	}

	schedule := r.fetchSchedule(ctx, intent.ResolvedDays, member.Squad)

	wf, err := r.engine.Start(ctx, workflow.StartInput{
		GroupID:       message.GroupID,
		Message:       message,
		SenderSquad:   member.Squad,
		SenderRole:    member.Title,
		ResolvedDays:  intent.ResolvedDays,
		ScheduleState: schedule,
	})
	if err != nil {
		return Decision{Outcome: OutcomeError, Err: err}
	}
	return Decision{Outcome: OutcomeStarted, WorkflowID: wf.ID}
}

// logBotTurn mirrors a delivered notice into the workflow's conversation
// history. A recording failure is logged and tolerated.
func (r *Router) logBotTurn(ctx context.Context, workflowID, groupID, text string) {
	turn := store.ConversationMessage{
		MessageID:  workflow.BotSender + "-" + uuid.NewString(),
		GroupID:    groupID,
		UserID:     workflow.BotSender,
		UserName:   workflow.BotSender,
		Text:       text,
		Timestamp:  time.Now().Unix(),
		WorkflowID: workflowID,
	}
	if err := r.store.StoreConversationMessage(ctx, turn); err != nil {
		r.logger.Warn("outbound turn not recorded",
			logging.String(logging.FieldWorkflowID, workflowID),
			logging.Error(err))
	}
}

// fetchSchedule pre-loads calendar context for the first resolved day. A
// fetch failure degrades to starting the workflow without context.
func (r *Router) fetchSchedule(ctx context.Context, resolvedDays []string, squad int) []byte {
	if len(resolvedDays) == 0 || r.schedule == nil {
		return nil
	}
	date := strings.ReplaceAll(resolvedDays[0], "-", "")
	snapshot, err := r.schedule.Schedule(ctx, date, squad)
	if err != nil {
		r.logger.Warn("schedule fetch failed, starting without context",
			logging.String("date", date),
			logging.Error(err))
		return nil
	}
	r.logger.Info("schedule state fetched", logging.String("date", date))
	return snapshot
}
