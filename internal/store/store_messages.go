package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertMessage enqueues an intake message with status PENDING. Re-inserting
// an already-seen message ID is a no-op; the bool reports whether a new row
// was created. This keeps intake idempotent across overlapping poll cycles.
func (s *Store) InsertMessage(ctx context.Context, msg QueuedMessage) (bool, error) {
	if msg.MessageID == "" {
		return false, errors.New("message ID required")
	}
	now := formatTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO message_queue (
            message_id, group_id, user_id, user_name, message_text,
            timestamp, status, retry_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
        ON CONFLICT(message_id) DO NOTHING`,
		msg.MessageID,
		msg.GroupID,
		msg.UserID,
		msg.UserName,
		msg.Text,
		msg.Timestamp,
		MessagePending,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MessageByID fetches a queued message by its provider message ID.
func (s *Store) MessageByID(ctx context.Context, messageID string) (*QueuedMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message_queue WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// PendingMessages returns messages awaiting processing (PENDING or FAILED
// with retries remaining) ordered by provider timestamp, oldest first.
func (s *Store) PendingMessages(ctx context.Context) ([]*QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM message_queue
         WHERE status IN (?, ?) ORDER BY timestamp`,
		MessagePending, MessageFailed)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MessagesByStatus returns messages matching a status set, ordered by
// provider timestamp. No statuses means all messages.
func (s *Store) MessagesByStatus(ctx context.Context, statuses ...MessageStatus) ([]*QueuedMessage, error) {
	baseQuery := `SELECT ` + messageColumns + ` FROM message_queue`
	orderClause := ` ORDER BY timestamp`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessagesByStatus removes messages in the given statuses and returns
// how many rows were deleted. Used by queue maintenance commands to drop
// terminal entries.
func (s *Store) DeleteMessagesByStatus(ctx context.Context, statuses ...MessageStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM message_queue WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}

// SetMessageStatus records a status transition. FAILED increments the retry
// counter atomically in the same statement; DONE stamps processed_at. The
// returned message reflects the row after the update.
func (s *Store) SetMessageStatus(ctx context.Context, messageID string, status MessageStatus, errorMessage string) (*QueuedMessage, error) {
	now := formatTime(time.Now())

	var err error
	switch status {
	case MessageFailed:
		err = s.execWithoutResultRetry(ctx,
			`UPDATE message_queue
             SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
             WHERE message_id = ?`,
			status, nullableString(errorMessage), now, messageID)
	case MessageDone:
		err = s.execWithoutResultRetry(ctx,
			`UPDATE message_queue
             SET status = ?, error_message = NULL, updated_at = ?, processed_at = ?
             WHERE message_id = ?`,
			status, now, now, messageID)
	default:
		err = s.execWithoutResultRetry(ctx,
			`UPDATE message_queue
             SET status = ?, error_message = ?, updated_at = ?
             WHERE message_id = ?`,
			status, nullableString(errorMessage), now, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("set message status: %w", err)
	}
	return s.MessageByID(ctx, messageID)
}

// ExpireMessages marks non-terminal messages created before the cutoff as
// EXPIRED and returns how many transitioned. Running it twice with the same
// cutoff expires nothing further.
func (s *Store) ExpireMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE message_queue
         SET status = ?, updated_at = ?
         WHERE created_at < ? AND status NOT IN (?, ?, ?)`,
		MessageExpired,
		now,
		formatTime(cutoff),
		MessageDone, MessageExpired, MessageSkipped,
	)
	if err != nil {
		return 0, fmt.Errorf("expire messages: %w", err)
	}
	return res.RowsAffected()
}

// QueueStatistics aggregates message counts per status.
func (s *Store) QueueStatistics(ctx context.Context) (QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM message_queue GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue statistics: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return QueueStats{}, err
		}
		stats.Total += count
		switch MessageStatus(statusStr) {
		case MessagePending:
			stats.Pending = count
		case MessageProcessing:
			stats.Processing = count
		case MessageDone:
			stats.Done = count
		case MessageFailed:
			stats.Failed = count
		case MessageExpired:
			stats.Expired = count
		case MessageSkipped:
			stats.Skipped = count
		}
	}
	return stats, rows.Err()
}

// RecoverStalledMessages returns PROCESSING rows to PENDING. Called on
// startup so messages orphaned by a crash get another delivery attempt.
func (s *Store) RecoverStalledMessages(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE message_queue SET status = ?, updated_at = ? WHERE status = ?`,
		MessagePending, now, MessageProcessing)
	if err != nil {
		return 0, fmt.Errorf("recover stalled messages: %w", err)
	}
	return res.RowsAffected()
}
