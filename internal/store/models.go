package store

import (
	"encoding/json"
	"time"
)

// AgentKind identifies the specialized role of an agent execution.
type AgentKind string

const (
	AgentKindTriage      AgentKind = "triage"
	AgentKindCoding      AgentKind = "coding"
	AgentKindReviewer    AgentKind = "reviewer"
	AgentKindDeployer    AgentKind = "deployer"
	AgentKindVerifier    AgentKind = "verifier"
	AgentKindAuditor     AgentKind = "auditor"
	AgentKindHealthcheck AgentKind = "healthcheck"
)

// ValidAgentKind reports whether k is a recognized agent kind.
func ValidAgentKind(k AgentKind) bool {
	switch k {
	case AgentKindTriage, AgentKindCoding, AgentKindReviewer, AgentKindDeployer,
		AgentKindVerifier, AgentKindAuditor, AgentKindHealthcheck:
		return true
	}
	return false
}

// HostMode reports whether agents of this kind run as host processes
// rather than containers.
func (k AgentKind) HostMode() bool {
	return k == AgentKindDeployer || k == AgentKindHealthcheck
}

// AgentStatus is the lifecycle state of an agent execution.
type AgentStatus string

const (
	AgentStatusStarting  AgentStatus = "starting"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusTimeout   AgentStatus = "timeout"
	AgentStatusKilled    AgentStatus = "killed"
)

// Terminal reports whether the status is a terminal state.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusTimeout, AgentStatusKilled:
		return true
	}
	return false
}

// Agent is one execution of a sandboxed assistant. Rows are created by the
// lifecycle manager and kept as a historical record.
type Agent struct {
	ID          string      `db:"id" json:"id"`
	TaskID      string      `db:"task_id" json:"taskId"`
	SandboxID   string      `db:"sandbox_id" json:"sandboxId,omitempty"`
	Kind        AgentKind   `db:"kind" json:"kind"`
	Status      AgentStatus `db:"status" json:"status"`
	StartedAt   time.Time   `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
	ExitCode    *int        `db:"exit_code" json:"exitCode,omitempty"`
	Error       string      `db:"error" json:"error,omitempty"`
	Metadata    string      `db:"metadata" json:"-"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

// MetadataMap decodes the freeform metadata JSON column.
func (a *Agent) MetadataMap() map[string]any {
	if a.Metadata == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(a.Metadata), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// LogStream identifies the origin of an agent log line.
type LogStream string

const (
	LogStreamOut      LogStream = "out"
	LogStreamErr      LogStream = "err"
	LogStreamCombined LogStream = "combined"
)

// AgentLogLine is one captured output line of an agent. Append-only;
// insertion order is the observation order.
type AgentLogLine struct {
	ID        int64     `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agentId"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Stream    LogStream `db:"stream" json:"stream"`
	Line      string    `db:"line" json:"line"`
}

// TaskStatus is the workflow state of a mirrored task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the task status is terminal.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task mirrors the minimal subset of upstream task metadata needed to
// route workflow.
type Task struct {
	ID                string     `db:"id" json:"id"`
	Title             string     `db:"title" json:"title"`
	Description       string     `db:"description" json:"description"`
	Kind              string     `db:"kind" json:"kind"`
	Status            TaskStatus `db:"status" json:"status"`
	Repo              string     `db:"repo" json:"repo"`
	Repos             string     `db:"repos" json:"-"` // JSON array of secondary repositories
	InvestigationOnly bool       `db:"investigation_only" json:"investigationOnly"`
	Plan              string     `db:"plan" json:"-"` // serialized execution plan
	AssignedAgentID   *string    `db:"assigned_agent_id" json:"assignedAgentId,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
}

// RepoList decodes the secondary repositories column.
func (t *Task) RepoList() []string {
	if t.Repos == "" {
		return nil
	}
	var repos []string
	if err := json.Unmarshal([]byte(t.Repos), &repos); err != nil {
		return nil
	}
	return repos
}

// PrimaryRepo resolves the repository an agent should operate on:
// the primary repo when set, otherwise the first secondary repository.
func (t *Task) PrimaryRepo() string {
	if t.Repo != "" {
		return t.Repo
	}
	if repos := t.RepoList(); len(repos) > 0 {
		return repos[0]
	}
	return ""
}

// QueueStatus is the scheduling state of a queue entry.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueEntry pairs a task with a processing position. Terminal entries keep
// their row for audit.
type QueueEntry struct {
	ID          int64       `db:"id" json:"id"`
	TaskID      string      `db:"task_id" json:"taskId"`
	Position    int         `db:"position" json:"position"`
	Status      QueueStatus `db:"status" json:"status"`
	QueuedAt    time.Time   `db:"queued_at" json:"queuedAt"`
	CompletedAt *time.Time  `db:"completed_at" json:"completedAt,omitempty"`
}

// Queue settings keys.
const (
	SettingPaused        = "paused"
	SettingStopOnFailure = "stop_on_failure"
	SettingMaxConcurrent = "max_concurrent"
)

// QueueSettings holds the decoded queue processor gates.
type QueueSettings struct {
	Paused        bool `json:"paused"`
	StopOnFailure bool `json:"stopOnFailure"`
	MaxConcurrent int  `json:"maxConcurrent"`
}

// ServiceLogEntry is an engine-level persisted log event.
type ServiceLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Level     string    `db:"level" json:"level"`
	Component string    `db:"component" json:"component"`
	Message   string    `db:"message" json:"message"`
	Metadata  string    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// AgentAnalytics holds agent counts grouped by status.
type AgentAnalytics struct {
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Terminal  int            `json:"terminal"`
	ByStatus  map[string]int `json:"byStatus"`
	ByKind    map[string]int `json:"byKind"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}
