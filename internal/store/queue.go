package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/vibesuite/orchestrator/internal/common/errors"
)

// Default queue settings applied when no row exists for a key.
const (
	defaultMaxConcurrent = 3
)

// AddQueueEntry enqueues a task at the given position and marks the task
// queued. At most one entry may exist per task.
func (s *Store) AddQueueEntry(ctx context.Context, taskID string, position int) (*QueueEntry, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	var existing QueueEntry
	err := s.reader().GetContext(ctx, &existing, `SELECT * FROM queue WHERE task_id = ?`, taskID)
	if err == nil {
		return nil, errors.InvalidState("task is already queued")
	}
	if err != sql.ErrNoRows {
		return nil, errors.StoreError("failed to check queue entry", err)
	}

	if position <= 0 {
		var maxPos sql.NullInt64
		if err := s.reader().GetContext(ctx, &maxPos, `SELECT MAX(position) FROM queue`); err != nil {
			return nil, errors.StoreError("failed to compute queue position", err)
		}
		position = int(maxPos.Int64) + 1
	}

	now := time.Now().UTC()
	res, err := s.writer().ExecContext(ctx,
		`INSERT INTO queue (task_id, position, status, queued_at) VALUES (?, ?, ?, ?)`,
		taskID, position, QueueStatusQueued, now)
	if err != nil {
		return nil, errors.StoreError("failed to insert queue entry", err)
	}
	if err := s.UpdateTaskStatus(ctx, taskID, TaskStatusQueued); err != nil {
		return nil, err
	}

	id, _ := res.LastInsertId()
	return &QueueEntry{
		ID:       id,
		TaskID:   taskID,
		Position: position,
		Status:   QueueStatusQueued,
		QueuedAt: now,
	}, nil
}

// ListQueue returns all queue entries ordered by position.
func (s *Store) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := s.reader().SelectContext(ctx, &entries,
		`SELECT * FROM queue ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, errors.StoreError("failed to list queue", err)
	}
	return entries, nil
}

// GetPendingQueueHead returns the lowest-position queued entries whose
// joined task is still queued.
func (s *Store) GetPendingQueueHead(ctx context.Context, limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	var entries []QueueEntry
	err := s.reader().SelectContext(ctx, &entries, `
		SELECT q.* FROM queue q
		JOIN tasks t ON t.id = q.task_id
		WHERE q.status = ? AND t.status = ?
		ORDER BY q.position ASC, q.id ASC
		LIMIT ?`,
		QueueStatusQueued, TaskStatusQueued, limit)
	if err != nil {
		return nil, errors.StoreError("failed to query queue head", err)
	}
	return entries, nil
}

// CountProcessingQueue returns the number of entries currently processing.
func (s *Store) CountProcessingQueue(ctx context.Context) (int, error) {
	var count int
	err := s.reader().GetContext(ctx, &count,
		`SELECT COUNT(*) FROM queue WHERE status = ?`, QueueStatusProcessing)
	if err != nil {
		return 0, errors.StoreError("failed to count processing queue", err)
	}
	return count, nil
}

// HasFailedQueuedTask reports whether any task joined to a live queue entry
// has failed. Used by the stop-on-failure gate.
func (s *Store) HasFailedQueuedTask(ctx context.Context) (bool, error) {
	var count int
	err := s.reader().GetContext(ctx, &count, `
		SELECT COUNT(*) FROM queue q
		JOIN tasks t ON t.id = q.task_id
		WHERE q.status IN (?, ?) AND t.status = ?`,
		QueueStatusQueued, QueueStatusProcessing, TaskStatusFailed)
	if err != nil {
		return false, errors.StoreError("failed to check failed queued tasks", err)
	}
	return count > 0, nil
}

// MarkQueueEntryProcessing claims the entry for processing.
func (s *Store) MarkQueueEntryProcessing(ctx context.Context, taskID string) error {
	return s.setQueueStatus(ctx, taskID, QueueStatusProcessing, false)
}

// MarkQueueEntryCompleted closes the entry as completed.
func (s *Store) MarkQueueEntryCompleted(ctx context.Context, taskID string) error {
	return s.setQueueStatus(ctx, taskID, QueueStatusCompleted, true)
}

// MarkQueueEntryFailed closes the entry as failed.
func (s *Store) MarkQueueEntryFailed(ctx context.Context, taskID string) error {
	return s.setQueueStatus(ctx, taskID, QueueStatusFailed, true)
}

func (s *Store) setQueueStatus(ctx context.Context, taskID string, status QueueStatus, terminal bool) error {
	var err error
	if terminal {
		_, err = s.writer().ExecContext(ctx,
			`UPDATE queue SET status = ?, completed_at = ? WHERE task_id = ?`,
			status, time.Now().UTC(), taskID)
	} else {
		_, err = s.writer().ExecContext(ctx,
			`UPDATE queue SET status = ? WHERE task_id = ?`, status, taskID)
	}
	if err != nil {
		return errors.StoreError("failed to update queue entry", err)
	}
	return nil
}

// RequeueEntry returns a processing entry to queued, used when a spawn
// fails before the sandbox is live.
func (s *Store) RequeueEntry(ctx context.Context, taskID string) error {
	if err := s.setQueueStatus(ctx, taskID, QueueStatusQueued, false); err != nil {
		return err
	}
	return s.UpdateTaskStatus(ctx, taskID, TaskStatusQueued)
}

// DeleteQueueEntry removes the entry for a task.
func (s *Store) DeleteQueueEntry(ctx context.Context, taskID string) error {
	res, err := s.writer().ExecContext(ctx, `DELETE FROM queue WHERE task_id = ?`, taskID)
	if err != nil {
		return errors.StoreError("failed to delete queue entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("queue entry", taskID)
	}
	return nil
}

// ClearQueue removes all non-terminal queue entries and resets their
// mirrored tasks to pending.
func (s *Store) ClearQueue(ctx context.Context) (int, error) {
	var taskIDs []string
	err := s.reader().SelectContext(ctx, &taskIDs,
		`SELECT task_id FROM queue WHERE status IN (?, ?)`,
		QueueStatusQueued, QueueStatusProcessing)
	if err != nil {
		return 0, errors.StoreError("failed to list clearable queue entries", err)
	}

	for _, taskID := range taskIDs {
		if _, err := s.writer().ExecContext(ctx, `DELETE FROM queue WHERE task_id = ?`, taskID); err != nil {
			return 0, errors.StoreError("failed to clear queue entry", err)
		}
		if err := s.UpdateTaskStatus(ctx, taskID, TaskStatusPending); err != nil {
			return 0, err
		}
	}
	return len(taskIDs), nil
}

// GetQueueSettings returns the decoded queue settings, applying defaults
// for missing keys.
func (s *Store) GetQueueSettings(ctx context.Context) (*QueueSettings, error) {
	rows, err := s.reader().QueryContext(ctx, `SELECT key, value FROM queue_settings`)
	if err != nil {
		return nil, errors.StoreError("failed to query queue settings", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	settings := &QueueSettings{MaxConcurrent: defaultMaxConcurrent}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.StoreError("failed to scan queue setting", err)
		}
		switch key {
		case SettingPaused:
			settings.Paused = value == "true"
		case SettingStopOnFailure:
			settings.StopOnFailure = value == "true"
		case SettingMaxConcurrent:
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				settings.MaxConcurrent = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("failed to iterate queue settings", err)
	}
	return settings, nil
}

// SetQueueSetting upserts a single settings key.
func (s *Store) SetQueueSetting(ctx context.Context, key, value string) error {
	switch key {
	case SettingPaused, SettingStopOnFailure, SettingMaxConcurrent:
	default:
		return errors.ValidationError("key", "unrecognized queue setting")
	}
	_, err := s.writer().ExecContext(ctx, `
		INSERT INTO queue_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return errors.StoreError("failed to set queue setting", err)
	}
	return nil
}
