package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
)

const defaultListLimit = 100

// SpawnAgent starts an agent for a task.
// POST /agents/spawn
func (h *Handler) SpawnAgent(c *gin.Context) {
	var req lifecycle.AgentSpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.ValidationError("request", err.Error()))
		return
	}

	agent, err := h.agents.Spawn(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// ListAgents returns recent agents, newest first.
// GET /agents?limit=N
func (h *Handler) ListAgents(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	agents, err := h.agents.List(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "total": len(agents)})
}

// ListActiveAgents returns agents in a non-terminal state.
// GET /agents/active
func (h *Handler) ListActiveAgents(c *gin.Context) {
	agents, err := h.agents.Active(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "total": len(agents)})
}

// GetAgentAnalytics returns grouped agent status counts.
// GET /agents/analytics
func (h *Handler) GetAgentAnalytics(c *gin.Context) {
	analytics, err := h.agents.Analytics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// GetAgent returns a single agent.
// GET /agents/:id
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetAgentLogs returns the agent's persisted log lines in append order,
// flushing any buffered lines first.
// GET /agents/:id/logs
func (h *Handler) GetAgentLogs(c *gin.Context) {
	agentID := c.Param("id")
	if _, err := h.agents.Get(c.Request.Context(), agentID); err != nil {
		h.respondError(c, err)
		return
	}
	lines, err := h.agents.GetLogs(c.Request.Context(), agentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agentID, "logs": lines, "total": len(lines)})
}

// KillAgent terminates a running agent.
// POST /agents/:id/kill
func (h *Handler) KillAgent(c *gin.Context) {
	agentID := c.Param("id")
	if _, err := h.agents.Get(c.Request.Context(), agentID); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.agents.Kill(c.Request.Context(), agentID, lifecycle.KillReasonKilled); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"agentId": agentID, "status": "killing"})
}

// RetryAgent spawns a fresh agent replaying the original spawn request.
// POST /agents/:id/retry
func (h *Handler) RetryAgent(c *gin.Context) {
	agent, err := h.agents.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
