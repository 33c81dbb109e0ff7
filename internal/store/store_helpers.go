package store

import (
	"database/sql"
	"errors"
	"os"
	"time"
)

const messageColumns = "message_id, group_id, user_id, user_name, message_text, timestamp, status, error_message, retry_count, created_at, updated_at, processed_at"

const workflowColumns = "id, group_id, workflow_type, status, state_data, user_id, squad_id, created_at, updated_at, expires_at"

const conversationColumns = "message_id, group_id, user_id, user_name, message_text, timestamp, workflow_id, created_at"

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*QueuedMessage, error) {
	var (
		messageID    string
		groupID      string
		userID       string
		userName     string
		text         string
		timestamp    int64
		statusStr    string
		errorMessage sql.NullString
		retryCount   int
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		processedRaw sql.NullString
	)

	if err := scanner.Scan(
		&messageID,
		&groupID,
		&userID,
		&userName,
		&text,
		&timestamp,
		&statusStr,
		&errorMessage,
		&retryCount,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
	); err != nil {
		return nil, err
	}

	msg := &QueuedMessage{
		MessageID:    messageID,
		GroupID:      groupID,
		UserID:       userID,
		UserName:     userName,
		Text:         text,
		Timestamp:    timestamp,
		Status:       MessageStatus(statusStr),
		ErrorMessage: errorMessage.String,
		RetryCount:   retryCount,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		msg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		msg.UpdatedAt = updated
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			msg.ProcessedAt = &processed
		}
	}
	return msg, nil
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*Workflow, error) {
	var (
		id           string
		groupID      string
		workflowType string
		statusStr    string
		stateJSON    sql.NullString
		userID       sql.NullString
		squadID      sql.NullInt64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		expiresRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&groupID,
		&workflowType,
		&statusStr,
		&stateJSON,
		&userID,
		&squadID,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:           id,
		GroupID:      groupID,
		WorkflowType: workflowType,
		Status:       WorkflowStatus(statusStr),
		StateJSON:    stateJSON.String,
		UserID:       userID.String,
	}
	if squadID.Valid {
		wf.SquadID = int(squadID.Int64)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		wf.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		wf.UpdatedAt = updated
	}
	if expires, err := parseTimeString(expiresRaw.String); err == nil {
		wf.ExpiresAt = expires
	}
	return wf, nil
}

func scanConversation(scanner interface{ Scan(dest ...any) error }) (*ConversationMessage, error) {
	var (
		messageID  string
		groupID    string
		userID     string
		userName   string
		text       string
		timestamp  int64
		workflowID sql.NullString
		createdRaw sql.NullString
	)

	if err := scanner.Scan(
		&messageID,
		&groupID,
		&userID,
		&userName,
		&text,
		&timestamp,
		&workflowID,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	msg := &ConversationMessage{
		MessageID:  messageID,
		GroupID:    groupID,
		UserID:     userID,
		UserName:   userName,
		Text:       text,
		Timestamp:  timestamp,
		WorkflowID: workflowID.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		msg.CreatedAt = created
	}
	return msg, nil
}

// timeFormat is RFC 3339 with fixed-width nanoseconds so that the string
// comparisons in the expiry queries order chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
