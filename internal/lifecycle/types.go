// Package lifecycle owns the set of active agents: spawning sandboxes,
// buffering their logs into the store, enforcing per-kind timeouts,
// handling exit, and reclaiming orphans after a restart.
package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibesuite/orchestrator/internal/store"
)

// KillReason distinguishes an operator kill from a watchdog kill.
type KillReason string

const (
	KillReasonKilled  KillReason = "killed"
	KillReasonTimeout KillReason = "timeout"
)

// Status returns the terminal agent status for the reason.
func (r KillReason) Status() store.AgentStatus {
	if r == KillReasonTimeout {
		return store.AgentStatusTimeout
	}
	return store.AgentStatusKilled
}

// AgentSpawnRequest carries everything needed to start one agent run.
// Kind defaults to triage.
type AgentSpawnRequest struct {
	TaskID      string          `json:"taskId"`
	Repo        string          `json:"repo"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Kind        store.AgentKind `json:"kind"`

	// Kind-specific fields.
	PRNumber       int      `json:"prNumber,omitempty"`
	PRURL          string   `json:"prUrl,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	DeploymentURL  string   `json:"deploymentUrl,omitempty"`
	FocusAreas     []string `json:"focusAreas,omitempty"`
	ReviewFeedback string   `json:"reviewFeedback,omitempty"`
	ExistingBranch string   `json:"existingBranch,omitempty"`

	// Prompt overrides the generated prompt when set.
	Prompt string `json:"prompt,omitempty"`
	// CallbackURL receives a completion notification when the agent exits.
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// Timeout budgets, fixed per kind.
var kindTimeouts = map[store.AgentKind]time.Duration{
	store.AgentKindTriage:      10 * time.Minute,
	store.AgentKindCoding:      120 * time.Minute,
	store.AgentKindReviewer:    30 * time.Minute,
	store.AgentKindDeployer:    30 * time.Minute,
	store.AgentKindVerifier:    30 * time.Minute,
	store.AgentKindAuditor:     45 * time.Minute,
	store.AgentKindHealthcheck: 60 * time.Minute,
}

// TimeoutFor returns the watchdog duration for an agent kind.
func TimeoutFor(kind store.AgentKind) time.Duration {
	if d, ok := kindTimeouts[kind]; ok {
		return d
	}
	return 30 * time.Minute
}

// newAgentID mints an agent id of the form <kind>-<random8>.
func newAgentID(kind store.AgentKind) string {
	return string(kind) + "-" + strings.Split(uuid.New().String(), "-")[0]
}
