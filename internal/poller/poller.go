// Package poller runs the ingest-drain-expire cycle: fetch new chat
// messages, queue them durably, drain the queue through the router, and
// sweep expired queue entries and workflows. Every cycle is gated by the
// poller lock so only one process instance mutates the stores at a time.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shiftwatch/internal/lock"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/roster"
	"shiftwatch/internal/router"
	"shiftwatch/internal/services"
	"shiftwatch/internal/services/chat"
	"shiftwatch/internal/store"
)

// MessageSource fetches inbound chat messages and recognizes the bot's own
// traffic. The chat package's Client satisfies it.
type MessageSource interface {
	FetchMessages(ctx context.Context, limit int) ([]chat.Message, error)
	FromBot(msg chat.Message) bool
}

// RouterService routes one queued message. The router package's Router
// satisfies it.
type RouterService interface {
	Route(ctx context.Context, message store.ConversationMessage) router.Decision
}

// Config carries the poller's policy knobs.
type Config struct {
	FetchLimit           int
	MaxRetryAttempts     int
	MessageTTL           time.Duration
	ImpersonationEnabled bool
	CursorPath           string
}

// Result summarizes one poll cycle.
type Result struct {
	Skipped          bool
	Fetched          int
	Queued           int
	Processed        int
	Failed           int
	MessagesExpired  int64
	WorkflowsExpired int64
}

// Poller drives poll cycles against the stores and external services.
type Poller struct {
	cfg      Config
	store    *store.Store
	source   MessageSource
	router   RouterService
	lock     *lock.Manager
	roster   *roster.Roster
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a poller.
func New(
	cfg Config,
	st *store.Store,
	source MessageSource,
	rt RouterService,
	lockManager *lock.Manager,
	members *roster.Roster,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		cfg:      cfg,
		store:    st,
		source:   source,
		router:   rt,
		lock:     lockManager,
		roster:   members,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "poller"),
		now:      time.Now,
	}
}

// WithClock overrides the poller's time source. Intended for tests.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

// Recover repairs state after a restart: messages stranded in PROCESSING by
// a crash go back to PENDING, overdue workflows are expired, and surviving
// active workflows are logged so operators can see what resumed.
func (p *Poller) Recover(ctx context.Context) error {
	recovered, err := p.store.RecoverStalledMessages(ctx)
	if err != nil {
		return fmt.Errorf("recover stalled messages: %w", err)
	}
	if recovered > 0 {
		p.logger.Warn("recovered stalled messages", logging.Int64("count", recovered))
	}

	expired, err := p.store.ExpireWorkflows(ctx, p.now())
	if err != nil {
		return fmt.Errorf("expire workflows: %w", err)
	}
	if expired > 0 {
		p.logger.Info("expired overdue workflows", logging.Int64("count", expired))
	}

	active, err := p.store.ActiveWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	for _, wf := range active {
		p.logger.Info("restored active workflow",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.String("status", string(wf.Status)),
			logging.Int(logging.FieldSquad, wf.SquadID))
	}
	return nil
}

// Poll runs one complete cycle. When another instance holds the lock the
// cycle is skipped without error. The lock is always released on return.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	acquired, err := p.lock.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		p.logger.Info("another poller instance is active, yielding")
		return Result{Skipped: true}, nil
	}
	defer func() {
		if err := p.lock.Release(); err != nil {
			p.logger.Warn("lock release failed", logging.Error(err))
		}
	}()

	var result Result

	fetched, queued, err := p.ingest(ctx)
	if err != nil {
		// Ingest failure still drains what is already queued.
		p.logger.Error("message ingest failed", logging.Error(err))
	}
	result.Fetched = fetched
	result.Queued = queued

	if err := p.lock.Heartbeat(); err != nil {
		p.logger.Warn("lock heartbeat failed", logging.Error(err))
	}

	processed, failed := p.drain(ctx)
	result.Processed = processed
	result.Failed = failed

	result.MessagesExpired, result.WorkflowsExpired = p.expire(ctx)

	p.logger.Info("poll cycle complete",
		logging.Int("fetched", result.Fetched),
		logging.Int("queued", result.Queued),
		logging.Int("processed", result.Processed),
		logging.Int("failed", result.Failed),
		logging.Int64("messages_expired", result.MessagesExpired),
		logging.Int64("workflows_expired", result.WorkflowsExpired))
	return result, nil
}

// ingest fetches provider messages and inserts the new human ones into the
// queue, advancing the cursor after each insert.
func (p *Poller) ingest(ctx context.Context) (fetched, queued int, err error) {
	cursor := p.loadCursor()

	messages, err := p.source.FetchMessages(ctx, p.cfg.FetchLimit)
	if err != nil {
		return 0, 0, err
	}
	fetched = len(messages)

	for _, msg := range messages {
		if !newerThan(msg.ID, cursor) {
			continue
		}
		cursor = msg.ID
		p.saveCursor(cursor)

		if p.source.FromBot(msg) {
			continue
		}

		sender, text := p.resolveSender(msg.SenderName, msg.Text)
		if strings.TrimSpace(text) == "" {
			continue
		}

		created, err := p.store.InsertMessage(ctx, store.QueuedMessage{
			MessageID: msg.ID,
			GroupID:   msg.GroupID,
			UserID:    msg.SenderID,
			UserName:  sender,
			Text:      text,
			Timestamp: msg.CreatedAt,
			Status:    store.MessagePending,
		})
		if err != nil {
			p.logger.Error("queue insert failed",
				logging.String(logging.FieldMessageID, msg.ID),
				logging.Error(err))
			continue
		}
		if created {
			queued++
			p.logger.Info("message queued",
				logging.String(logging.FieldMessageID, msg.ID),
				logging.String("sender", sender))
		}
	}
	return fetched, queued, nil
}

// drain processes pending and retryable failed entries in timestamp order.
// Each message's failure is isolated: a bad message never blocks the queue
// behind it. Crossing the retry ceiling fires exactly one escalation.
func (p *Poller) drain(ctx context.Context) (processed, failed int) {
	pending, err := p.store.PendingMessages(ctx)
	if err != nil {
		p.logger.Error("pending query failed", logging.Error(err))
		return 0, 0
	}

	for _, msg := range pending {
		if msg.RetryCount >= p.cfg.MaxRetryAttempts {
			// Ceiling already crossed: leave for the expiry sweep.
			continue
		}
		if _, err := p.store.SetMessageStatus(ctx, msg.MessageID, store.MessageProcessing, ""); err != nil {
			p.logger.Error("status transition failed",
				logging.String(logging.FieldMessageID, msg.MessageID),
				logging.Error(err))
			continue
		}

		decision := p.router.Route(ctx, store.ConversationMessage{
			MessageID: msg.MessageID,
			GroupID:   msg.GroupID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			Text:      msg.Text,
			Timestamp: msg.Timestamp,
		})

		if decision.Outcome == router.OutcomeError {
			failed++
			p.recordFailure(ctx, msg.MessageID, decision.Err)
			continue
		}

		if decision.WorkflowID != "" {
			turn := store.ConversationMessage{
				MessageID:  msg.MessageID,
				GroupID:    msg.GroupID,
				UserID:     msg.UserID,
				UserName:   msg.UserName,
				Text:       msg.Text,
				Timestamp:  msg.Timestamp,
				WorkflowID: decision.WorkflowID,
			}
			if err := p.store.StoreConversationMessage(ctx, turn); err != nil {
				p.logger.Warn("conversation log write failed",
					logging.String(logging.FieldMessageID, msg.MessageID),
					logging.Error(err))
			}
		}

		if _, err := p.store.SetMessageStatus(ctx, msg.MessageID, store.MessageDone, ""); err != nil {
			p.logger.Error("status transition failed",
				logging.String(logging.FieldMessageID, msg.MessageID),
				logging.Error(err))
			continue
		}
		processed++

		p.logger.Info("message processed",
			logging.String(logging.FieldMessageID, msg.MessageID),
			logging.String("outcome", string(decision.Outcome)),
			logging.String(logging.FieldWorkflowID, decision.WorkflowID))
	}
	return processed, failed
}

// recordFailure classifies the routing error. Failures that can never
// succeed (validation, configuration, authorization) go straight to SKIPPED;
// everything else transitions to FAILED and escalates when the retry ceiling
// is reached, exactly once.
func (p *Poller) recordFailure(ctx context.Context, messageID string, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	if !services.Retryable(cause) {
		if _, err := p.store.SetMessageStatus(ctx, messageID, store.MessageSkipped, reason); err != nil {
			p.logger.Error("skip transition failed",
				logging.String(logging.FieldMessageID, messageID),
				logging.Error(err))
			return
		}
		p.logger.Warn("message skipped, error is not retryable",
			logging.String(logging.FieldMessageID, messageID),
			logging.Error(cause))
		return
	}

	updated, err := p.store.SetMessageStatus(ctx, messageID, store.MessageFailed, reason)
	if err != nil {
		p.logger.Error("failure transition failed",
			logging.String(logging.FieldMessageID, messageID),
			logging.Error(err))
		return
	}
	p.logger.Error("message processing failed",
		logging.String(logging.FieldMessageID, messageID),
		logging.Int("retry_count", updated.RetryCount),
		logging.Error(cause))

	if updated.RetryCount == p.cfg.MaxRetryAttempts && p.notifier != nil {
		p.notifier.Notify(ctx, notify.Event{
			Kind: notify.EventMessageRetryExceeded,
			Context: map[string]string{
				"message_id":    messageID,
				"retry_count":   strconv.Itoa(updated.RetryCount),
				"error_message": reason,
			},
		})
	}
}

// expire sweeps queue entries past the message TTL and workflows past their
// expiry time. Both sweeps are idempotent.
func (p *Poller) expire(ctx context.Context) (messages, workflows int64) {
	now := p.now()

	messages, err := p.store.ExpireMessages(ctx, now.Add(-p.cfg.MessageTTL))
	if err != nil {
		p.logger.Error("message expiry sweep failed", logging.Error(err))
	}
	workflows, err = p.store.ExpireWorkflows(ctx, now)
	if err != nil {
		p.logger.Error("workflow expiry sweep failed", logging.Error(err))
	}
	return messages, workflows
}

// impersonationPrefix matches a leading {{@Name}} or {{Name}} marker,
// including names with spaces.
var impersonationPrefix = regexp.MustCompile(`^\{\{@?([^}]+)\}\}\s*`)

// resolveSender applies the impersonation prefix when the feature is
// enabled: the message is attributed to the named roster member and the
// prefix stripped. Unknown names keep the original sender but still strip
// the prefix.
func (p *Poller) resolveSender(sender, text string) (string, string) {
	if !p.cfg.ImpersonationEnabled {
		return sender, text
	}
	match := impersonationPrefix.FindStringSubmatch(text)
	if match == nil {
		return sender, text
	}
	cleaned := text[len(match[0]):]
	name := strings.TrimSpace(match[1])

	member, ok := p.roster.MemberByName(name)
	if !ok {
		p.logger.Warn("impersonation target not on roster, keeping original sender",
			logging.String("target", name))
		return sender, cleaned
	}
	p.logger.Info("impersonating user",
		logging.String("target", member.ChatName),
		logging.Int(logging.FieldSquad, member.Squad))
	return member.ChatName, cleaned
}

// loadCursor reads the last processed provider message id. A missing or
// unreadable cursor means start from scratch.
func (p *Poller) loadCursor() string {
	if p.cfg.CursorPath == "" {
		return ""
	}
	data, err := os.ReadFile(p.cfg.CursorPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("cursor read failed", logging.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (p *Poller) saveCursor(id string) {
	if p.cfg.CursorPath == "" || id == "" {
		return
	}
	if err := os.WriteFile(p.cfg.CursorPath, []byte(id), 0o644); err != nil {
		p.logger.Warn("cursor write failed", logging.Error(err))
	}
}

// newerThan compares provider message ids, which are numeric strings.
// Numeric comparison is used when both sides parse; otherwise falls back to
// lexicographic ordering.
func newerThan(id, cursor string) bool {
	if cursor == "" {
		return true
	}
	a, errA := strconv.ParseUint(id, 10, 64)
	b, errB := strconv.ParseUint(cursor, 10, 64)
	if errA == nil && errB == nil {
		return a > b
	}
	return id > cursor
}
