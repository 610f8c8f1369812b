package store

import (
	"context"
	"time"

	"github.com/vibesuite/orchestrator/internal/common/errors"
)

// AppendAgentLogs appends a batch of log lines in a single transaction.
// Insertion order within the batch is preserved by the autoincrement id.
func (s *Store) AppendAgentLogs(ctx context.Context, lines []AgentLogLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.writer().BeginTxx(ctx, nil)
	if err != nil {
		return errors.StoreError("failed to begin log transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO agent_logs (agent_id, timestamp, stream, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return errors.StoreError("failed to prepare log insert", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx, line.AgentID, line.Timestamp, line.Stream, line.Line); err != nil {
			_ = tx.Rollback()
			return errors.StoreError("failed to insert log line", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError("failed to commit log batch", err)
	}
	return nil
}

// GetAgentLogs returns all log lines for an agent in append order.
func (s *Store) GetAgentLogs(ctx context.Context, agentID string) ([]AgentLogLine, error) {
	var lines []AgentLogLine
	err := s.reader().SelectContext(ctx, &lines,
		`SELECT * FROM agent_logs WHERE agent_id = ? ORDER BY id ASC`, agentID)
	if err != nil {
		return nil, errors.StoreError("failed to query agent logs", err)
	}
	return lines, nil
}

// PurgeAgentLogs removes all log lines owned by an agent. Used only when an
// agent row itself is purged.
func (s *Store) PurgeAgentLogs(ctx context.Context, agentID string) error {
	_, err := s.writer().ExecContext(ctx, `DELETE FROM agent_logs WHERE agent_id = ?`, agentID)
	if err != nil {
		return errors.StoreError("failed to purge agent logs", err)
	}
	return nil
}

// AppendServiceLog persists an engine-level log event.
func (s *Store) AppendServiceLog(ctx context.Context, level, component, message, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.writer().ExecContext(ctx,
		`INSERT INTO logs (level, component, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		level, component, message, metadata, time.Now().UTC())
	if err != nil {
		return errors.StoreError("failed to insert service log", err)
	}
	return nil
}

// ListServiceLogs returns the most recent engine log events, newest first.
func (s *Store) ListServiceLogs(ctx context.Context, limit int) ([]ServiceLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []ServiceLogEntry
	err := s.reader().SelectContext(ctx, &entries,
		`SELECT * FROM logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StoreError("failed to list service logs", err)
	}
	return entries, nil
}
