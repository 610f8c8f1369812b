package events

// ExecutionPlan is the structured plan a triage agent produces for a task.
type ExecutionPlan struct {
	Summary             string         `json:"summary"`
	AffectedFiles       []AffectedFile `json:"affectedFiles"`
	Steps               []string       `json:"steps"`
	TestingStrategy     string         `json:"testingStrategy"`
	Risks               []string       `json:"risks,omitempty"`
	EstimatedComplexity string         `json:"estimatedComplexity,omitempty"` // simple, medium, complex
}

// AffectedFile describes one file touched by an execution plan.
type AffectedFile struct {
	Path        string `json:"path"`
	Action      string `json:"action"` // create, modify, delete
	Description string `json:"description"`
}

// TaskAssignedPayload carries the task metadata needed to spawn triage.
type TaskAssignedPayload struct {
	TaskID            string   `json:"taskId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Repo              string   `json:"repo"`
	Repos             []string `json:"repos,omitempty"`
	InvestigationOnly bool     `json:"investigationOnly,omitempty"`
}

// TaskPlanCreatedPayload carries the plan produced by triage.
type TaskPlanCreatedPayload struct {
	TaskID string        `json:"taskId"`
	Repo   string        `json:"repo"`
	Plan   ExecutionPlan `json:"plan"`
}

// TaskClosedPayload marks a task resolved without further work.
type TaskClosedPayload struct {
	TaskID     string `json:"taskId"`
	Reason     string `json:"reason"`
	Resolution string `json:"resolution"` // already_resolved, duplicate, invalid, wont_fix, no_action_needed
}

// DeployRequestedPayload requests a direct deployment, skipping coding and review.
type DeployRequestedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	Reason string `json:"reason"`
	Commit string `json:"commit,omitempty"`
}

// PRCreatedPayload announces a new pull request opened by a coding agent.
type PRCreatedPayload struct {
	TaskID   string `json:"taskId"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"prNumber"`
	PRURL    string `json:"prUrl"`
	Branch   string `json:"branch"`
}

// PRUpdatedPayload announces new commits on an existing pull request.
type PRUpdatedPayload = PRCreatedPayload

// PRChangesRequestedPayload carries review feedback requiring a fix-up pass.
type PRChangesRequestedPayload struct {
	TaskID         string `json:"taskId"`
	Repo           string `json:"repo"`
	PRNumber       int    `json:"prNumber"`
	Branch         string `json:"branch"`
	ReviewComments string `json:"reviewComments"`
}

// PRMergedPayload announces a merged pull request.
type PRMergedPayload struct {
	TaskID      string `json:"taskId"`
	Repo        string `json:"repo"`
	PRNumber    int    `json:"prNumber"`
	MergeCommit string `json:"mergeCommit"`
	Branch      string `json:"branch,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
}

// DeployCompletedPayload announces a successful deployment.
type DeployCompletedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// DeployFailedPayload announces a failed deployment.
type DeployFailedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	Error  string `json:"error"`
	Logs   string `json:"logs,omitempty"`
}

// VerifyPassedPayload announces successful post-deploy verification.
type VerifyPassedPayload struct {
	TaskID  string `json:"taskId"`
	Repo    string `json:"repo"`
	Summary string `json:"summary"`
}

// BugReport is a structured reproduction description.
type BugReport struct {
	Description string `json:"description"`
	Steps       string `json:"steps"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

// VerifyFailedPayload announces failed verification with a reproducible bug.
type VerifyFailedPayload struct {
	TaskID string    `json:"taskId"`
	Repo   string    `json:"repo"`
	Bug    BugReport `json:"bug"`
}

// AuditRequestedPayload requests an audit of a deployed service.
type AuditRequestedPayload struct {
	TaskID     string   `json:"taskId"`
	Repo       string   `json:"repo"`
	URL        string   `json:"url"`
	FocusAreas []string `json:"focusAreas,omitempty"`
}

// Finding is one issue discovered during an audit.
type Finding struct {
	Severity    string `json:"severity"` // low, medium, high, critical
	Category    string `json:"category"` // bug, ux, performance, security, accessibility
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       string `json:"steps,omitempty"`
	Screenshot  string `json:"screenshot,omitempty"`
}

// AuditFindingPayload carries one audit finding.
type AuditFindingPayload struct {
	TaskID   string  `json:"taskId"`
	Repo     string  `json:"repo"`
	ParentID string  `json:"parentId,omitempty"`
	Finding  Finding `json:"finding"`
}

// AuditCompletedPayload announces a finished audit.
type AuditCompletedPayload struct {
	TaskID        string `json:"taskId"`
	Repo          string `json:"repo"`
	Summary       string `json:"summary"`
	FindingsCount int    `json:"findingsCount"`
	Duration      string `json:"duration"`
}

// AgentEscalationPayload signals that an agent needs human attention.
type AgentEscalationPayload struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}
