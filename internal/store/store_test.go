package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesuite/orchestrator/internal/common/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateTaskDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Title: "Fix login", Repo: "webapp"}))

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, "feature", task.Kind)
	assert.Empty(t, task.RepoList())
	assert.Equal(t, "webapp", task.PrimaryRepo())
}

func TestGetTaskNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetTask(context.Background(), "task-missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestUpsertTaskPreservesWorkflowStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Title: "Old title", Repo: "webapp"}))
	require.NoError(t, st.UpdateTaskStatus(ctx, "task-1", TaskStatusInProgress))

	require.NoError(t, st.UpsertTask(ctx, &Task{ID: "task-1", Title: "New title", Repo: "webapp"}))

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "New title", task.Title)
	assert.Equal(t, TaskStatusInProgress, task.Status)
}

func TestAssignTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	require.NoError(t, st.AssignTask(ctx, "task-1", "triage-aaaa0001"))

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusAssigned, task.Status)
	require.NotNil(t, task.AssignedAgentID)
	assert.Equal(t, "triage-aaaa0001", *task.AssignedAgentID)
}

func TestSetTaskPlan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	require.NoError(t, st.SetTaskPlan(ctx, "task-1", map[string]any{
		"summary": "Add the endpoint",
		"steps":   []string{"write handler"},
	}))

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Contains(t, task.Plan, "Add the endpoint")
}

func TestSecondaryRepoResolution(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repos: `["api","worker"]`}))

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "worker"}, task.RepoList())
	assert.Equal(t, "api", task.PrimaryRepo())
}

func TestAgentLifecycleRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateAgent(ctx, &Agent{
		ID:     "coding-aaaa0001",
		TaskID: "task-1",
		Kind:   AgentKindCoding,
		Status: AgentStatusStarting,
	}))
	require.NoError(t, st.MarkAgentRunning(ctx, "coding-aaaa0001", "sbx-1"))

	agent, err := st.GetAgent(ctx, "coding-aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, AgentStatusRunning, agent.Status)
	assert.Equal(t, "sbx-1", agent.SandboxID)
	assert.Nil(t, agent.CompletedAt)

	count, err := st.CountRunningAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	code := 0
	require.NoError(t, st.CompleteAgent(ctx, "coding-aaaa0001", AgentStatusCompleted, &code, ""))

	agent, err = st.GetAgent(ctx, "coding-aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, AgentStatusCompleted, agent.Status)
	require.NotNil(t, agent.CompletedAt)
	require.NotNil(t, agent.ExitCode)
	assert.Equal(t, 0, *agent.ExitCode)

	count, err = st.CountRunningAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCompleteAgentRejectsNonTerminalStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateAgent(ctx, &Agent{ID: "triage-aaaa0001", TaskID: "task-1", Kind: AgentKindTriage, Status: AgentStatusStarting}))

	err := st.CompleteAgent(ctx, "triage-aaaa0001", AgentStatusRunning, nil, "")
	assert.True(t, errors.IsInvalidState(err))
}

func TestAgentAnalyticsGrouping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		id     string
		kind   AgentKind
		status AgentStatus
	}{
		{"triage-aaaa0001", AgentKindTriage, AgentStatusCompleted},
		{"coding-aaaa0002", AgentKindCoding, AgentStatusRunning},
		{"coding-aaaa0003", AgentKindCoding, AgentStatusFailed},
		{"reviewer-aaaa0004", AgentKindReviewer, AgentStatusKilled},
	}
	for _, a := range seed {
		require.NoError(t, st.CreateAgent(ctx, &Agent{ID: a.id, TaskID: "task-1", Kind: a.kind, Status: a.status}))
	}

	analytics, err := st.AgentAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, analytics.Total)
	assert.Equal(t, 1, analytics.Active)
	assert.Equal(t, 3, analytics.Terminal)
	assert.Equal(t, 1, analytics.Succeeded)
	assert.Equal(t, 2, analytics.Failed)
	assert.Equal(t, 2, analytics.ByKind["coding"])
}

func TestQueueEntryLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	entry, err := st.AddQueueEntry(ctx, "task-1", 0)
	require.NoError(t, err)
	assert.Equal(t, QueueStatusQueued, entry.Status)

	// Enqueueing marks the task queued.
	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusQueued, task.Status)

	// One entry per task.
	_, err = st.AddQueueEntry(ctx, "task-1", 0)
	assert.True(t, errors.IsInvalidState(err))

	// Unknown tasks cannot be queued.
	_, err = st.AddQueueEntry(ctx, "task-missing", 0)
	assert.True(t, errors.IsNotFound(err))
}

func TestQueueHeadOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"task-1", "task-2", "task-3"} {
		require.NoError(t, st.CreateTask(ctx, &Task{ID: id, Repo: "webapp"}))
	}
	_, err := st.AddQueueEntry(ctx, "task-1", 3)
	require.NoError(t, err)
	_, err = st.AddQueueEntry(ctx, "task-2", 1)
	require.NoError(t, err)
	_, err = st.AddQueueEntry(ctx, "task-3", 2)
	require.NoError(t, err)

	head, err := st.GetPendingQueueHead(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, "task-2", head[0].TaskID)

	// A claimed entry leaves the head.
	require.NoError(t, st.MarkQueueEntryProcessing(ctx, "task-2"))
	head, err = st.GetPendingQueueHead(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, "task-3", head[0].TaskID)

	count, err := st.CountProcessingQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueHeadSkipsNonQueuedTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	_, err := st.AddQueueEntry(ctx, "task-1", 1)
	require.NoError(t, err)
	require.NoError(t, st.UpdateTaskStatus(ctx, "task-1", TaskStatusInProgress))

	head, err := st.GetPendingQueueHead(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestHasFailedQueuedTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	_, err := st.AddQueueEntry(ctx, "task-1", 1)
	require.NoError(t, err)

	failed, err := st.HasFailedQueuedTask(ctx)
	require.NoError(t, err)
	assert.False(t, failed)

	require.NoError(t, st.UpdateTaskStatus(ctx, "task-1", TaskStatusFailed))
	failed, err = st.HasFailedQueuedTask(ctx)
	require.NoError(t, err)
	assert.True(t, failed)

	// Terminal queue entries no longer count.
	require.NoError(t, st.MarkQueueEntryFailed(ctx, "task-1"))
	failed, err = st.HasFailedQueuedTask(ctx)
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestTerminalQueueEntryKeepsRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	_, err := st.AddQueueEntry(ctx, "task-1", 1)
	require.NoError(t, err)
	require.NoError(t, st.MarkQueueEntryCompleted(ctx, "task-1"))

	queue, err := st.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, QueueStatusCompleted, queue[0].Status)
	assert.NotNil(t, queue[0].CompletedAt)
}

func TestRequeueEntry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	_, err := st.AddQueueEntry(ctx, "task-1", 1)
	require.NoError(t, err)
	require.NoError(t, st.MarkQueueEntryProcessing(ctx, "task-1"))
	require.NoError(t, st.UpdateTaskStatus(ctx, "task-1", TaskStatusAssigned))

	require.NoError(t, st.RequeueEntry(ctx, "task-1"))

	head, err := st.GetPendingQueueHead(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, "task-1", head[0].TaskID)
}

func TestClearQueueResetsTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-1", Repo: "webapp"}))
	require.NoError(t, st.CreateTask(ctx, &Task{ID: "task-2", Repo: "webapp"}))
	_, err := st.AddQueueEntry(ctx, "task-1", 1)
	require.NoError(t, err)
	_, err = st.AddQueueEntry(ctx, "task-2", 2)
	require.NoError(t, err)
	require.NoError(t, st.MarkQueueEntryCompleted(ctx, "task-2"))

	removed, err := st.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The live entry is gone and its task is back to pending; the terminal
	// entry stays for audit.
	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, task.Status)

	queue, err := st.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "task-2", queue[0].TaskID)
}

func TestQueueSettingsDefaultsAndUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	settings, err := st.GetQueueSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.Paused)
	assert.False(t, settings.StopOnFailure)
	assert.Equal(t, 3, settings.MaxConcurrent)

	require.NoError(t, st.SetQueueSetting(ctx, SettingPaused, "true"))
	require.NoError(t, st.SetQueueSetting(ctx, SettingMaxConcurrent, "5"))

	settings, err = st.GetQueueSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Paused)
	assert.Equal(t, 5, settings.MaxConcurrent)

	err = st.SetQueueSetting(ctx, "unknown_key", "1")
	assert.True(t, errors.IsValidationError(err))
}

func TestAgentLogOrderSurvivesEqualTimestamps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ts := time.Now().UTC()
	batch := make([]AgentLogLine, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, AgentLogLine{
			AgentID:   "coding-aaaa0001",
			Timestamp: ts,
			Stream:    LogStreamOut,
			Line:      string(rune('a' + i)),
		})
	}
	require.NoError(t, st.AppendAgentLogs(ctx, batch))

	lines, err := st.GetAgentLogs(ctx, "coding-aaaa0001")
	require.NoError(t, err)
	require.Len(t, lines, 10)
	for i, line := range lines {
		assert.Equal(t, string(rune('a'+i)), line.Line)
	}
}

func TestServiceLogsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendServiceLog(ctx, "info", "router", "first", ""))
	require.NoError(t, st.AppendServiceLog(ctx, "warn", "queue", "second", ""))

	logs, err := st.ListServiceLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "second", logs[0].Message)
	assert.Equal(t, "warn", logs[0].Level)
}
