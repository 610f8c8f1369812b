package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// RepoInfo describes one local project the orchestrator can assign agents to.
type RepoInfo struct {
	Name     string `json:"name"`
	Owner    string `json:"owner,omitempty"`
	CloneURL string `json:"cloneUrl"`
	Local    bool   `json:"local"`
}

// GetHealth reports liveness of the store, spool, and sandbox daemon.
// GET /health
func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()

	storeOK := true
	if _, err := h.store.GetQueueSettings(ctx); err != nil {
		storeOK = false
	}
	spoolOK := true
	if _, err := h.spool.ListPending(); err != nil {
		spoolOK = false
	}
	dockerOK := h.docker != nil && h.docker.Ping(ctx) == nil

	status := "ok"
	code := http.StatusOK
	if !storeOK || !spoolOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"store":        storeOK,
		"spool":        spoolOK,
		"docker":       dockerOK,
		"activeAgents": h.agents.ActiveCount(),
	})
}

// GetServiceLogs returns recent engine-level log events.
// GET /logs?limit=N
func (h *Handler) GetServiceLogs(c *gin.Context) {
	logs, err := h.store.ListServiceLogs(c.Request.Context(), queryInt(c, "limit", defaultListLimit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": len(logs)})
}

// ListRepos returns the repositories agents can be assigned to: local
// project checkouts plus their remote clone URLs. PR operations happen
// inside the agent sandboxes, not here.
// GET /repos
func (h *Handler) ListRepos(c *gin.Context) {
	repos := make([]RepoInfo, 0)
	if h.workspace.ProjectsDir != "" {
		entries, err := os.ReadDir(h.workspace.ProjectsDir)
		if err != nil && !os.IsNotExist(err) {
			h.respondError(c, err)
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			repos = append(repos, RepoInfo{
				Name:     entry.Name(),
				Owner:    h.github.Owner,
				CloneURL: h.cloneURL(entry.Name()),
				Local:    true,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"repos": repos, "total": len(repos)})
}

// cloneURL composes the tokenless remote URL for a repository. Credentials
// are injected only inside workspace clones, never in API responses.
func (h *Handler) cloneURL(repo string) string {
	if h.github.Owner == "" {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", h.github.Owner, repo)
}
