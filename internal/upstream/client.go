// Package upstream is the HTTP client for the task store that owns the
// canonical task records. All calls are best-effort: the orchestrator
// tolerates an absent or failing upstream and relies on its polling to
// reconverge.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/logger"
)

// requestTimeout is the hard cap on any outbound upstream call.
const requestTimeout = 10 * time.Second

// CompletionNotification is the payload POSTed to a spawn-supplied callback
// URL when an agent reaches a terminal state.
type CompletionNotification struct {
	AgentID     string `json:"agentId"`
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	CompletedAt string `json:"completedAt"`
	Error       string `json:"error,omitempty"`
}

// Client talks to the upstream task store.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates an upstream client. An empty base URL yields a client
// whose task-store calls are no-ops.
func NewClient(cfg config.UpstreamConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: requestTimeout},
		logger:  log,
	}
}

// Enabled reports whether an upstream endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// PostComment posts a comment onto the upstream task. Failures are logged
// and swallowed.
func (c *Client) PostComment(ctx context.Context, taskID, body string) {
	if !c.Enabled() {
		return
	}
	payload := map[string]string{"body": body}
	if err := c.post(ctx, fmt.Sprintf("%s/api/tasks/%s/comments", c.baseURL, taskID), payload); err != nil {
		c.logger.WithTaskID(taskID).WithError(err).Warn("Failed to post task comment upstream")
	}
}

// UpdateTaskStatus mirrors a task status change upstream. Failures are
// logged and swallowed.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) {
	if !c.Enabled() {
		return
	}
	payload := map[string]string{"status": status}
	if err := c.post(ctx, fmt.Sprintf("%s/api/tasks/%s/status", c.baseURL, taskID), payload); err != nil {
		c.logger.WithTaskID(taskID).WithError(err).Warn("Failed to update task status upstream")
	}
}

// NotifyCompletion POSTs a completion notification to an arbitrary callback
// URL supplied at spawn time. Failures are logged and swallowed.
func (c *Client) NotifyCompletion(ctx context.Context, callbackURL string, n CompletionNotification) {
	if callbackURL == "" {
		return
	}
	if err := c.post(ctx, callbackURL, n); err != nil {
		c.logger.WithAgentID(n.AgentID).WithError(err).Warn("Completion callback failed",
			zap.String("url", callbackURL))
	}
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
