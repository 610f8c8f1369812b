package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibesuite/orchestrator/internal/common/errors"
)

// CreateAgent inserts a new agent row in status starting.
func (s *Store) CreateAgent(ctx context.Context, agent *Agent) error {
	now := time.Now().UTC()
	if agent.StartedAt.IsZero() {
		agent.StartedAt = now
	}
	if agent.Metadata == "" {
		agent.Metadata = "{}"
	}
	agent.CreatedAt = now
	agent.UpdatedAt = now

	_, err := s.writer().ExecContext(ctx, `
		INSERT INTO agents (id, task_id, sandbox_id, kind, status, started_at, completed_at, exit_code, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.TaskID, agent.SandboxID, agent.Kind, agent.Status,
		agent.StartedAt, agent.CompletedAt, agent.ExitCode, agent.Error,
		agent.Metadata, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return errors.StoreError("failed to insert agent", err)
	}
	return nil
}

// GetAgent returns the agent with the given id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	err := s.reader().GetContext(ctx, &agent, `SELECT * FROM agents WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("agent", id)
	}
	if err != nil {
		return nil, errors.StoreError("failed to query agent", err)
	}
	return &agent, nil
}

// ListAgents returns the most recently started agents, newest first.
func (s *Store) ListAgents(ctx context.Context, limit int) ([]*Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	var agents []*Agent
	err := s.reader().SelectContext(ctx, &agents,
		`SELECT * FROM agents ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StoreError("failed to list agents", err)
	}
	return agents, nil
}

// ListAgentsByStatus returns all agents with the given status.
func (s *Store) ListAgentsByStatus(ctx context.Context, status AgentStatus) ([]*Agent, error) {
	var agents []*Agent
	err := s.reader().SelectContext(ctx, &agents,
		`SELECT * FROM agents WHERE status = ? ORDER BY started_at ASC`, status)
	if err != nil {
		return nil, errors.StoreError("failed to list agents by status", err)
	}
	return agents, nil
}

// CountRunningAgents returns the number of agents in a non-terminal state.
func (s *Store) CountRunningAgents(ctx context.Context) (int, error) {
	var count int
	err := s.reader().GetContext(ctx, &count,
		`SELECT COUNT(*) FROM agents WHERE status IN (?, ?)`,
		AgentStatusStarting, AgentStatusRunning)
	if err != nil {
		return 0, errors.StoreError("failed to count running agents", err)
	}
	return count, nil
}

// SetAgentSandboxID records the sandbox handle once the driver has created it.
func (s *Store) SetAgentSandboxID(ctx context.Context, id, sandboxID string) error {
	_, err := s.writer().ExecContext(ctx,
		`UPDATE agents SET sandbox_id = ?, updated_at = ? WHERE id = ?`,
		sandboxID, time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError("failed to set agent sandbox id", err)
	}
	return nil
}

// MarkAgentRunning flips the agent to running with its sandbox handle set.
func (s *Store) MarkAgentRunning(ctx context.Context, id, sandboxID string) error {
	_, err := s.writer().ExecContext(ctx,
		`UPDATE agents SET status = ?, sandbox_id = ?, updated_at = ? WHERE id = ?`,
		AgentStatusRunning, sandboxID, time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError("failed to mark agent running", err)
	}
	return nil
}

// CompleteAgent moves an agent to a terminal state, recording the completion
// timestamp, exit code, and sanitized error text.
func (s *Store) CompleteAgent(ctx context.Context, id string, status AgentStatus, exitCode *int, errText string) error {
	if !status.Terminal() {
		return errors.InvalidState("completion status must be terminal")
	}
	now := time.Now().UTC()
	_, err := s.writer().ExecContext(ctx,
		`UPDATE agents SET status = ?, completed_at = ?, exit_code = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, now, exitCode, errText, now, id)
	if err != nil {
		return errors.StoreError("failed to complete agent", err)
	}
	return nil
}

// UpdateAgentMetadata replaces the freeform metadata JSON for an agent.
func (s *Store) UpdateAgentMetadata(ctx context.Context, id, metadata string) error {
	_, err := s.writer().ExecContext(ctx,
		`UPDATE agents SET metadata = ?, updated_at = ? WHERE id = ?`,
		metadata, time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError("failed to update agent metadata", err)
	}
	return nil
}

// AgentAnalytics returns agent counts grouped by status and kind.
func (s *Store) AgentAnalytics(ctx context.Context) (*AgentAnalytics, error) {
	analytics := &AgentAnalytics{
		ByStatus: make(map[string]int),
		ByKind:   make(map[string]int),
	}

	rows, err := s.reader().QueryContext(ctx,
		`SELECT status, kind, COUNT(*) FROM agents GROUP BY status, kind`)
	if err != nil {
		return nil, errors.StoreError("failed to query agent analytics", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var status, kind string
		var count int
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return nil, errors.StoreError("failed to scan agent analytics row", err)
		}
		analytics.Total += count
		analytics.ByStatus[status] += count
		analytics.ByKind[kind] += count
		if AgentStatus(status).Terminal() {
			analytics.Terminal += count
		} else {
			analytics.Active += count
		}
		switch AgentStatus(status) {
		case AgentStatusCompleted:
			analytics.Succeeded += count
		case AgentStatusFailed, AgentStatusTimeout, AgentStatusKilled:
			analytics.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("failed to iterate agent analytics rows", err)
	}
	return analytics, nil
}
