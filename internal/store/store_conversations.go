package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StoreConversationMessage records one dialogue turn in the conversation log.
// Upserts by message ID so reprocessing a message never duplicates the log.
func (s *Store) StoreConversationMessage(ctx context.Context, msg ConversationMessage) error {
	if msg.MessageID == "" {
		return errors.New("message ID required")
	}
	now := formatTime(time.Now())

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO conversations (
            message_id, group_id, user_id, user_name, message_text,
            timestamp, workflow_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(message_id) DO UPDATE SET
            workflow_id = excluded.workflow_id,
            message_text = excluded.message_text`,
		msg.MessageID,
		msg.GroupID,
		msg.UserID,
		msg.UserName,
		msg.Text,
		msg.Timestamp,
		nullableString(msg.WorkflowID),
		now,
	); err != nil {
		return fmt.Errorf("store conversation message: %w", err)
	}
	return nil
}

// WorkflowMessages returns the dialogue turns linked to a workflow in
// chronological order.
func (s *Store) WorkflowMessages(ctx context.Context, workflowID string) ([]*ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
         WHERE workflow_id = ? ORDER BY timestamp`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query workflow messages: %w", err)
	}
	defer rows.Close()

	var messages []*ConversationMessage
	for rows.Next() {
		msg, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentMessages returns the latest limit messages for a group in
// chronological order, for classifier context.
func (s *Store) RecentMessages(ctx context.Context, groupID string, limit int) ([]*ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM (
            SELECT `+conversationColumns+` FROM conversations
            WHERE group_id = ? ORDER BY timestamp DESC LIMIT ?
        ) ORDER BY timestamp`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*ConversationMessage
	for rows.Next() {
		msg, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
