// Package api exposes the orchestrator's HTTP surface: agent lifecycle
// control, the event spool, the task queue, and operational endpoints.
package api

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
	"github.com/vibesuite/orchestrator/internal/masking"
	"github.com/vibesuite/orchestrator/internal/spool"
	"github.com/vibesuite/orchestrator/internal/store"
)

// AgentManager is the slice of the lifecycle manager the API serves.
type AgentManager interface {
	Spawn(ctx context.Context, req lifecycle.AgentSpawnRequest) (*store.Agent, error)
	Kill(ctx context.Context, agentID string, reason lifecycle.KillReason) error
	Retry(ctx context.Context, agentID string) (*store.Agent, error)
	Get(ctx context.Context, agentID string) (*store.Agent, error)
	List(ctx context.Context, limit int) ([]*store.Agent, error)
	Active(ctx context.Context) ([]*store.Agent, error)
	ActiveCount() int
	GetLogs(ctx context.Context, agentID string) ([]store.AgentLogLine, error)
	Analytics(ctx context.Context) (*store.AgentAnalytics, error)
}

// DockerPinger reports sandbox daemon liveness for the health endpoint.
type DockerPinger interface {
	Ping(ctx context.Context) error
}

// Options wires the API's collaborators.
type Options struct {
	Agents AgentManager
	Store  *store.Store
	Spool  *spool.Spool
	// Docker may be nil when the daemon was unreachable at startup.
	Docker    DockerPinger
	Workspace config.WorkspaceConfig
	GitHub    config.GitHubConfig
	Logger    *logger.Logger
}

// Handler contains the HTTP handlers for the orchestrator API.
type Handler struct {
	agents    AgentManager
	store     *store.Store
	spool     *spool.Spool
	docker    DockerPinger
	workspace config.WorkspaceConfig
	github    config.GitHubConfig
	logger    *logger.Logger
}

// NewRouter builds the gin engine with all routes and middleware attached.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger.WithFields(zap.String("component", "api"))
	h := &Handler{
		agents:    opts.Agents,
		store:     opts.Store,
		spool:     opts.Spool,
		docker:    opts.Docker,
		workspace: opts.Workspace,
		github:    opts.GitHub,
		logger:    log,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log), CORS())

	agents := router.Group("/agents")
	{
		agents.POST("/spawn", h.SpawnAgent)
		agents.GET("", h.ListAgents)
		agents.GET("/active", h.ListActiveAgents)
		agents.GET("/analytics", h.GetAgentAnalytics)
		agents.GET("/:id", h.GetAgent)
		agents.GET("/:id/logs", h.GetAgentLogs)
		agents.POST("/:id/kill", h.KillAgent)
		agents.POST("/:id/retry", h.RetryAgent)
	}

	events := router.Group("/events")
	{
		events.GET("", h.ListEvents)
		events.POST("", h.AppendEvent)
		events.GET("/pending", h.ListPendingEvents)
		events.GET("/processed", h.ListProcessedEvents)
		events.GET("/:id", h.GetEvent)
		events.POST("/:id/processed", h.MarkEventProcessed)
	}

	queue := router.Group("/queue")
	{
		queue.GET("", h.GetQueue)
		queue.GET("/settings", h.GetQueueSettings)
		queue.POST("/settings", h.UpdateQueueSettings)
		queue.POST("/add/:taskId", h.AddToQueue)
		queue.DELETE("/:taskId", h.RemoveFromQueue)
		queue.POST("/clear", h.ClearQueue)
	}

	router.GET("/repos", h.ListRepos)
	router.GET("/logs", h.GetServiceLogs)
	router.GET("/health", h.GetHealth)

	return router
}

// respondError writes a structured error body with the error's stable kind.
// Any credential material in the message is scrubbed before it leaves the
// process.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	message := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	if kind == "" {
		kind = errors.KindStoreError
	}
	h.logger.WithError(err).Warn("Request failed", zap.String("path", c.Request.URL.Path))
	c.JSON(errors.GetHTTPStatus(err), gin.H{
		"error": gin.H{"kind": kind, "message": masking.Scrub(message)},
	})
}
