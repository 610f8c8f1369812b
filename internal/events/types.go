// Package events defines the domain event kinds that advance workflow
// state, and the typed payloads carried by each kind.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event kinds for tasks
const (
	TaskAssigned    = "task.assigned"
	TaskPlanCreated = "task.plan.created"
	TaskClosed      = "task.closed"
)

// Event kinds for pull requests
const (
	PRCreated          = "pr.created"
	PRUpdated          = "pr.updated"
	PRChangesRequested = "pr.changes.requested"
	PRMerged           = "pr.merged"
)

// Event kinds for deployments
const (
	DeployRequested = "deploy.requested"
	DeployCompleted = "deploy.completed"
	DeployFailed    = "deploy.failed"
)

// Event kinds for verification
const (
	VerifyPassed = "verify.passed"
	VerifyFailed = "verify.failed"
)

// Event kinds for audits
const (
	AuditRequested = "audit.requested"
	AuditFinding   = "audit.finding"
	AuditCompleted = "audit.completed"
)

// Event kinds for agents
const (
	AgentEscalation = "agent.escalation"
)

// Kinds lists every recognized event kind.
var Kinds = []string{
	TaskAssigned, TaskPlanCreated, TaskClosed,
	PRCreated, PRUpdated, PRChangesRequested, PRMerged,
	DeployRequested, DeployCompleted, DeployFailed,
	VerifyPassed, VerifyFailed,
	AuditRequested, AuditFinding, AuditCompleted,
	AgentEscalation,
}

// KnownKind reports whether kind is part of the closed event set.
func KnownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Event is one append-only record on the spool.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// New creates an event with a fresh UUID and the current UTC timestamp.
func New(kind, source string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into the given typed payload struct.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
