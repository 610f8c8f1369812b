// Package workspace prepares per-agent working directories: a cloned
// repository checked out on the right branch, plus the task prompt file
// the agent reads on startup.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/masking"
)

// PromptFilename is the file inside each workspace holding the agent's
// task prompt.
const PromptFilename = "task-prompt.md"

// RepoDirname is the directory inside each workspace holding the clone.
const RepoDirname = "repo"

// CheckoutSpec selects the branch an agent starts on.
type CheckoutSpec struct {
	// Branch is an explicit remote branch to fetch and check out
	// (reviewer flow).
	Branch string
	// ExistingBranch is a previously created agent branch to continue on
	// (fix-up coding flow).
	ExistingBranch string
	// CreateBranch, when non-empty, names a fresh branch to create from
	// the default head (coding flow).
	CreateBranch string
}

// Manager prepares and purges agent workspaces.
type Manager struct {
	workspacesDir string
	projectsDir   string
	github        config.GitHubConfig
	logger        *logger.Logger
}

// NewManager creates a workspace manager rooted at cfg.WorkspacesDir.
func NewManager(cfg config.WorkspaceConfig, github config.GitHubConfig, log *logger.Logger) *Manager {
	return &Manager{
		workspacesDir: cfg.WorkspacesDir,
		projectsDir:   cfg.ProjectsDir,
		github:        github,
		logger:        log,
	}
}

// Dir returns the workspace directory for an agent.
func (m *Manager) Dir(agentID string) string {
	return filepath.Join(m.workspacesDir, agentID)
}

// RepoDir returns the cloned repository directory for an agent.
func (m *Manager) RepoDir(agentID string) string {
	return filepath.Join(m.Dir(agentID), RepoDirname)
}

// PromptPath returns the prompt file path for an agent.
func (m *Manager) PromptPath(agentID string) string {
	return filepath.Join(m.Dir(agentID), PromptFilename)
}

// Create makes a fresh empty workspace directory for the agent.
func (m *Manager) Create(agentID string) (string, error) {
	dir := m.Dir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.SandboxError("failed to create workspace directory", err)
	}
	return dir, nil
}

// Clone clones the repository into the agent's workspace and checks out a
// branch per the spec. Local project directories are preferred over GitHub
// when configured.
func (m *Manager) Clone(ctx context.Context, agentID, repo string, checkout CheckoutSpec) error {
	source := m.cloneSource(repo)
	repoDir := m.RepoDir(agentID)

	m.logger.Info("Cloning repository",
		zap.String("agent_id", agentID),
		zap.String("repo", repo),
	)

	if err := m.git(ctx, m.Dir(agentID), "clone", source, RepoDirname); err != nil {
		return err
	}

	switch {
	case checkout.Branch != "":
		return m.checkoutRemote(ctx, repoDir, checkout.Branch)
	case checkout.ExistingBranch != "":
		return m.checkoutRemote(ctx, repoDir, checkout.ExistingBranch)
	case checkout.CreateBranch != "":
		return m.git(ctx, repoDir, "checkout", "-b", checkout.CreateBranch)
	default:
		// Stay on the default branch.
		return nil
	}
}

func (m *Manager) checkoutRemote(ctx context.Context, repoDir, branch string) error {
	if err := m.git(ctx, repoDir, "fetch", "origin", branch); err != nil {
		return err
	}
	return m.git(ctx, repoDir, "checkout", branch)
}

// cloneSource resolves the clone URL: a local project directory when one
// exists, otherwise GitHub with the configured owner and token.
func (m *Manager) cloneSource(repo string) string {
	if m.projectsDir != "" {
		local := filepath.Join(m.projectsDir, repo)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local
		}
	}
	if m.github.Token != "" {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", m.github.Token, m.github.Owner, repo)
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", m.github.Owner, repo)
}

// WritePrompt writes the task prompt file into the agent's workspace.
func (m *Manager) WritePrompt(agentID, prompt string) error {
	if err := os.WriteFile(m.PromptPath(agentID), []byte(prompt), 0o644); err != nil {
		return errors.SandboxError("failed to write task prompt", err)
	}
	return nil
}

// Purge removes the agent's workspace directory.
func (m *Manager) Purge(agentID string) error {
	dir := m.Dir(agentID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.SandboxError("failed to purge workspace", err)
	}
	m.logger.Debug("Workspace purged", zap.String("agent_id", agentID))
	return nil
}

// git runs a git command in dir. Command output is folded into the error
// with credentials scrubbed, since clone URLs can carry tokens.
func (m *Manager) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := masking.Scrub(strings.TrimSpace(string(out)))
		return errors.SandboxError(fmt.Sprintf("git %s failed: %s", args[0], detail), nil)
	}
	return nil
}
