package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vibesuite/orchestrator/internal/common/errors"
)

// CreateTask inserts a mirrored task row.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.Repos == "" {
		task.Repos = "[]"
	}
	if task.Kind == "" {
		task.Kind = "feature"
	}

	_, err := s.writer().ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, kind, status, repo, repos, investigation_only, plan, assigned_agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Kind, task.Status,
		task.Repo, task.Repos, task.InvestigationOnly, task.Plan,
		task.AssignedAgentID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return errors.StoreError("failed to insert task", err)
	}
	return nil
}

// UpsertTask inserts the task or refreshes its mirrored metadata when the
// row already exists. Workflow status is not overwritten on update.
func (s *Store) UpsertTask(ctx context.Context, task *Task) error {
	existing, err := s.GetTask(ctx, task.ID)
	if errors.IsNotFound(err) {
		return s.CreateTask(ctx, task)
	}
	if err != nil {
		return err
	}

	_, err = s.writer().ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, kind = ?, repo = ?, repos = ?, investigation_only = ?, updated_at = ?
		WHERE id = ?`,
		task.Title, task.Description, task.Kind, task.Repo, task.Repos,
		task.InvestigationOnly, time.Now().UTC(), existing.ID,
	)
	if err != nil {
		return errors.StoreError("failed to update task", err)
	}
	return nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.reader().GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, errors.StoreError("failed to query task", err)
	}
	return &task, nil
}

// ListTasks returns tasks ordered by creation time, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []*Task
	err := s.reader().SelectContext(ctx, &tasks,
		`SELECT * FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StoreError("failed to list tasks", err)
	}
	return tasks, nil
}

// UpdateTaskStatus sets the workflow status. The assigned agent id is
// cleared unless the new status keeps an agent bound to the task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	var err error
	if status == TaskStatusAssigned || status == TaskStatusInProgress {
		_, err = s.writer().ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
	} else {
		_, err = s.writer().ExecContext(ctx,
			`UPDATE tasks SET status = ?, assigned_agent_id = NULL, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
	}
	if err != nil {
		return errors.StoreError("failed to update task status", err)
	}
	return nil
}

// AssignTask marks the task assigned to the given agent.
func (s *Store) AssignTask(ctx context.Context, id, agentID string) error {
	_, err := s.writer().ExecContext(ctx,
		`UPDATE tasks SET status = ?, assigned_agent_id = ?, updated_at = ? WHERE id = ?`,
		TaskStatusAssigned, agentID, time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError("failed to assign task", err)
	}
	return nil
}

// SetTaskPlan persists the serialized execution plan for a task.
func (s *Store) SetTaskPlan(ctx context.Context, id string, plan any) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return errors.ValidationError("plan", "execution plan is not serializable")
	}
	_, err = s.writer().ExecContext(ctx,
		`UPDATE tasks SET plan = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError("failed to set task plan", err)
	}
	return nil
}
