package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateWorkflow inserts a new workflow with status NEW and a freshly minted
// identifier. ttl controls expires_at relative to now.
func (s *Store) CreateWorkflow(ctx context.Context, groupID, workflowType, stateJSON, userID string, squadID int, ttl time.Duration) (*Workflow, error) {
	if groupID == "" {
		return nil, errors.New("group ID required")
	}
	if stateJSON == "" {
		stateJSON = "{}"
	}
	now := time.Now().UTC()
	id := uuid.NewString()

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO workflows (
            id, group_id, workflow_type, status, state_data,
            user_id, squad_id, created_at, updated_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		groupID,
		workflowType,
		WorkflowNew,
		stateJSON,
		nullableString(userID),
		nullableInt(squadID),
		formatTime(now),
		formatTime(now),
		formatTime(now.Add(ttl)),
	); err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}

	return s.WorkflowByID(ctx, id)
}

// WorkflowByID fetches a workflow by identifier.
func (s *Store) WorkflowByID(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// ActiveUnscopedWorkflowForGroup returns the most recently created in-flight
// workflow for a group that carries no squad scope, or nil when none exists.
// Squad-scoped workflows are deliberately excluded so concurrent squad
// threads never shadow each other.
func (s *Store) ActiveUnscopedWorkflowForGroup(ctx context.Context, groupID string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
         WHERE group_id = ? AND squad_id IS NULL AND status IN (`+activeStatusPlaceholders+`)
         ORDER BY created_at DESC LIMIT 1`,
		append([]any{groupID}, activeStatusArgs()...)...)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unscoped workflow: %w", err)
	}
	return wf, nil
}

// ActiveWorkflowsForSquad returns in-flight workflows scoped to a squad
// within a group, most recent first. Squad scoping lets any squad member
// answer a clarification, not just the member who started the request.
func (s *Store) ActiveWorkflowsForSquad(ctx context.Context, squadID int, groupID string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
         WHERE squad_id = ? AND group_id = ? AND status IN (`+activeStatusPlaceholders+`)
         ORDER BY created_at DESC`,
		append([]any{squadID, groupID}, activeStatusArgs()...)...)
	if err != nil {
		return nil, fmt.Errorf("query squad workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// ActiveWorkflows returns all in-flight workflows ordered by creation time,
// oldest first. Used on startup to restore state after a restart.
func (s *Store) ActiveWorkflows(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
         WHERE status IN (`+activeStatusPlaceholders+`)
         ORDER BY created_at`,
		activeStatusArgs()...)
	if err != nil {
		return nil, fmt.Errorf("query active workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// UpdateWorkflow persists a workflow's status and state. It is the single
// entry point for workflow mutation and always stamps updated_at.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.New("workflow is nil")
	}
	wf.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE workflows
         SET status = ?, state_data = ?, updated_at = ?, expires_at = ?
         WHERE id = ?`,
		wf.Status,
		wf.StateJSON,
		formatTime(wf.UpdatedAt),
		formatTime(wf.ExpiresAt),
		wf.ID,
	); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

// SetWorkflowStatus transitions only the status, leaving state untouched.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error {
	now := formatTime(time.Now())
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id); err != nil {
		return fmt.Errorf("set workflow status: %w", err)
	}
	return nil
}

// ExpireWorkflows marks in-flight workflows past their expires_at as EXPIRED
// and returns how many transitioned. Idempotent: a second call with the same
// clock expires nothing further.
func (s *Store) ExpireWorkflows(ctx context.Context, now time.Time) (int64, error) {
	stamp := formatTime(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE workflows
         SET status = ?, updated_at = ?
         WHERE expires_at < ? AND status IN (`+activeStatusPlaceholders+`)`,
		append([]any{WorkflowExpired, stamp, stamp}, activeStatusArgs()...)...)
	if err != nil {
		return 0, fmt.Errorf("expire workflows: %w", err)
	}
	return res.RowsAffected()
}

// WorkflowStatistics aggregates workflow counts per status and collects
// the identifiers of in-flight workflows.
func (s *Store) WorkflowStatistics(ctx context.Context) (WorkflowStats, error) {
	stats := WorkflowStats{ByStatus: make(map[WorkflowStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM workflows GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("workflow statistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return stats, err
		}
		stats.Total += count
		stats.ByStatus[WorkflowStatus(statusStr)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	active, err := s.ActiveWorkflows(ctx)
	if err != nil {
		return stats, err
	}
	for _, wf := range active {
		stats.ActiveIDs = append(stats.ActiveIDs, wf.ID)
	}
	return stats, nil
}

var activeStatusPlaceholders = makePlaceholders(len(activeWorkflowStatuses))

func activeStatusArgs() []any {
	args := make([]any, len(activeWorkflowStatuses))
	for i, status := range activeWorkflowStatuses {
		args[i] = status
	}
	return args
}
