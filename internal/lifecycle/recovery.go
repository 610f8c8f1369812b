package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/store"
)

// Recover reconciles agent rows left in a non-terminal state by a previous
// process. Containers that already exited are reconciled to their observed
// exit code; host processes cannot survive a restart and are marked failed.
// The sweep is best-effort and never fails startup.
func (m *Manager) Recover(ctx context.Context) {
	for _, status := range []store.AgentStatus{store.AgentStatusRunning, store.AgentStatusStarting} {
		agents, err := m.store.ListAgentsByStatus(ctx, status)
		if err != nil {
			m.logger.WithError(err).Error("Recovery sweep failed to list agents")
			continue
		}
		for _, agent := range agents {
			m.recoverAgent(ctx, agent)
		}
	}
}

func (m *Manager) recoverAgent(ctx context.Context, agent *store.Agent) {
	log := m.logger.WithAgentID(agent.ID).WithTaskID(agent.TaskID)
	log.Info("Recovering orphaned agent", zap.String("status", string(agent.Status)))

	if agent.SandboxID == "" || agent.Kind.HostMode() {
		// Host processes die with the server; a row without a handle never
		// got a sandbox at all.
		m.finalizeOrphan(ctx, agent, store.AgentStatusFailed, nil, "server restarted while agent was running")
		return
	}

	if m.docker == nil {
		m.finalizeOrphan(ctx, agent, store.AgentStatusFailed, nil, "sandbox driver unavailable during recovery")
		return
	}

	status, err := m.docker.Inspect(ctx, agent.SandboxID)
	if err != nil {
		log.WithError(err).Warn("Recovery inspect failed")
		m.finalizeOrphan(ctx, agent, store.AgentStatusFailed, nil, "recovery failed")
		return
	}

	if status.Running {
		// The container outlived the previous process but nothing monitors
		// it anymore.
		if err := m.docker.Kill(ctx, agent.SandboxID); err != nil {
			log.WithError(err).Warn("Failed to kill orphaned container")
		}
		m.finalizeOrphan(ctx, agent, store.AgentStatusFailed, nil, "server restarted while agent was running")
		if err := m.docker.Remove(ctx, agent.SandboxID); err != nil {
			log.WithError(err).Warn("Failed to remove orphaned container")
		}
		return
	}

	exitCode := status.ExitCode
	terminal := store.AgentStatusCompleted
	errText := ""
	if exitCode != 0 {
		terminal = store.AgentStatusFailed
		errText = "agent exited during restart window"
	}
	m.finalizeOrphan(ctx, agent, terminal, &exitCode, errText)
	if err := m.docker.Remove(ctx, agent.SandboxID); err != nil {
		log.WithError(err).Warn("Failed to remove reconciled container")
	}
}

func (m *Manager) finalizeOrphan(ctx context.Context, agent *store.Agent, status store.AgentStatus, exitCode *int, errText string) {
	log := m.logger.WithAgentID(agent.ID).WithTaskID(agent.TaskID)
	if err := m.store.CompleteAgent(ctx, agent.ID, status, exitCode, errText); err != nil {
		log.WithError(err).Error("Failed to finalize orphaned agent")
		return
	}
	if status == store.AgentStatusFailed {
		if err := m.store.UpdateTaskStatus(ctx, agent.TaskID, store.TaskStatusFailed); err != nil {
			log.WithError(err).Error("Failed to fail task of orphaned agent")
		}
	}
	log.Info("Orphaned agent finalized", zap.String("status", string(status)))
}
