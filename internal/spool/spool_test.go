package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/events"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := Open(t.TempDir(), logger.Default())
	require.NoError(t, err)
	return s
}

func TestAppendWritesPendingFile(t *testing.T) {
	s := newTestSpool(t)

	ev, err := s.Append(events.TaskAssigned, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)

	entries, err := os.ReadDir(s.pendingDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	name := entries[0].Name()
	assert.Contains(t, name, "task-assigned")
	assert.Contains(t, name, ev.ID[:8])
	assert.NotContains(t, name, ":")
	assert.True(t, filepath.Ext(name) == ".json")
}

func TestListPendingOrder(t *testing.T) {
	s := newTestSpool(t)

	first, err := s.Append(events.TaskAssigned, "test", map[string]string{"taskId": "a"})
	require.NoError(t, err)
	second, err := s.Append(events.PRCreated, "test", map[string]string{"taskId": "b"})
	require.NoError(t, err)
	third, err := s.Append(events.PRMerged, "test", map[string]string{"taskId": "c"})
	require.NoError(t, err)

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, third.ID, pending[2].ID)
}

func TestMarkProcessedMovesFile(t *testing.T) {
	s := newTestSpool(t)

	ev, err := s.Append(events.DeployCompleted, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ev.ID))

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	processed, err := s.ListProcessed(0)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, ev.ID, processed[0].ID)
}

func TestMarkProcessedTwiceFailsNotFound(t *testing.T) {
	s := newTestSpool(t)

	ev, err := s.Append(events.VerifyPassed, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ev.ID))
	err = s.MarkProcessed(ev.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetByShortPrefix(t *testing.T) {
	s := newTestSpool(t)

	ev, err := s.Append(events.AuditRequested, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)

	got, err := s.Get(ev.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.AuditRequested, got.Kind)

	got, err = s.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
}

func TestGetRejectsTooShortPrefix(t *testing.T) {
	s := newTestSpool(t)

	_, err := s.Append(events.TaskClosed, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)

	_, err = s.Get("abc")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestGetSearchesProcessed(t *testing.T) {
	s := newTestSpool(t)

	ev, err := s.Append(events.TaskClosed, "test", map[string]string{"taskId": "task-1"})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ev.ID))

	got, err := s.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
}

func TestGetUnknownIDNotFound(t *testing.T) {
	s := newTestSpool(t)

	_, err := s.Get("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSameTimestampEventsDoNotCollide(t *testing.T) {
	s := newTestSpool(t)

	// Appends within the same millisecond share a timestamp prefix; the
	// short id suffix keeps the filenames distinct.
	for i := 0; i < 10; i++ {
		_, err := s.Append(events.AgentEscalation, "test", map[string]string{"taskId": "task-1"})
		require.NoError(t, err)
	}

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 10)
}

func TestListAllMergesBothDirectories(t *testing.T) {
	s := newTestSpool(t)

	first, err := s.Append(events.TaskAssigned, "test", map[string]string{"taskId": "a"})
	require.NoError(t, err)
	second, err := s.Append(events.PRCreated, "test", map[string]string{"taskId": "b"})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(first.ID))

	all, err := s.ListAll(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	limited, err := s.ListAll(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)
}

func TestPayloadRoundTrip(t *testing.T) {
	s := newTestSpool(t)

	payload := events.TaskAssignedPayload{
		TaskID: "task-7",
		Title:  "Fix login redirect",
		Repo:   "webapp",
	}
	ev, err := s.Append(events.TaskAssigned, "queue-processor", payload)
	require.NoError(t, err)

	got, err := s.Get(ev.ID)
	require.NoError(t, err)

	var decoded events.TaskAssignedPayload
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, payload, decoded)
}
