package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/masking"
	"github.com/vibesuite/orchestrator/internal/prompt"
	"github.com/vibesuite/orchestrator/internal/sandbox"
	"github.com/vibesuite/orchestrator/internal/store"
	"github.com/vibesuite/orchestrator/internal/ticker"
	"github.com/vibesuite/orchestrator/internal/upstream"
	"github.com/vibesuite/orchestrator/internal/workspace"
)

// agentCommand is the executable every sandbox runs; it reads the task
// prompt file and drives the underlying assistant.
const agentCommand = "vibesuite-agent"

// Options wires the manager's collaborators.
type Options struct {
	Store      *store.Store
	Docker     sandbox.Driver
	Host       sandbox.Driver
	Workspaces *workspace.Manager
	Prompts    prompt.Builder
	Upstream   *upstream.Client

	// APIBaseURL is handed to agents so they can post events back.
	APIBaseURL string
	// GitHubToken is injected into agent environments for repository access.
	GitHubToken string

	Logger  *logger.Logger
	Tickers ticker.Factory
}

// Manager owns all active agents.
type Manager struct {
	store      *store.Store
	docker     sandbox.Driver
	host       sandbox.Driver
	workspaces *workspace.Manager
	prompts    prompt.Builder
	upstream   *upstream.Client

	apiBaseURL  string
	githubToken string

	logger    *logger.Logger
	instances *instanceStore

	tickers  ticker.Factory
	stopCh   chan struct{}
	stopOnce sync.Once
	flushWG  sync.WaitGroup
	agentWG  sync.WaitGroup
}

// NewManager creates a lifecycle manager. Start must be called before
// spawning to begin the periodic log flush.
func NewManager(opts Options) *Manager {
	tickers := opts.Tickers
	if tickers == nil {
		tickers = ticker.Real
	}
	return &Manager{
		store:       opts.Store,
		docker:      opts.Docker,
		host:        opts.Host,
		workspaces:  opts.Workspaces,
		prompts:     opts.Prompts,
		upstream:    opts.Upstream,
		apiBaseURL:  opts.APIBaseURL,
		githubToken: opts.GitHubToken,
		logger:      opts.Logger,
		instances:   newInstanceStore(),
		tickers:     tickers,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the periodic log flush loop.
func (m *Manager) Start() {
	m.flushWG.Add(1)
	go m.flushLoop()
}

// Stop halts the flush loop, waits for agent goroutines until the context
// expires, then flushes every remaining buffer. Monitors block in the
// driver until their sandbox exits, so a still-running agent is abandoned
// rather than allowed to pin shutdown.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.flushWG.Wait()

	done := make(chan struct{})
	go func() {
		m.agentWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	for _, inst := range m.instances.list() {
		m.flushBuffer(context.Background(), inst)
	}
}

func (m *Manager) flushLoop() {
	defer m.flushWG.Done()
	t := m.tickers(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C():
			ctx := context.Background()
			for _, inst := range m.instances.list() {
				m.flushBuffer(ctx, inst)
			}
		}
	}
}

func (m *Manager) flushBuffer(ctx context.Context, inst *Instance) {
	lines := inst.buffer.Drain()
	if len(lines) == 0 {
		return
	}
	if err := m.store.AppendAgentLogs(ctx, lines); err != nil {
		m.logger.WithAgentID(inst.AgentID).WithError(err).Error("Failed to flush agent logs")
	}
}

func (m *Manager) driverFor(kind store.AgentKind) sandbox.Driver {
	if kind.HostMode() {
		return m.host
	}
	return m.docker
}

// Spawn starts one agent run for a task and returns the agent row once the
// sandbox is live. Any failure before the exit monitor attaches unwinds
// partial resources, marks the agent failed with scrubbed error text, and
// reverts the task to queued.
func (m *Manager) Spawn(ctx context.Context, req AgentSpawnRequest) (*store.Agent, error) {
	if req.TaskID == "" {
		return nil, errors.ValidationError("taskId", "task id is required")
	}
	if req.Kind == "" {
		req.Kind = store.AgentKindTriage
	}
	if !store.ValidAgentKind(req.Kind) {
		return nil, errors.ValidationError("kind", fmt.Sprintf("unknown agent kind %q", req.Kind))
	}
	if m.driverFor(req.Kind) == nil {
		return nil, errors.SandboxError("sandbox driver is not available", nil)
	}

	task, err := m.ensureTask(ctx, &req)
	if err != nil {
		return nil, err
	}
	if req.Repo == "" {
		req.Repo = task.PrimaryRepo()
	}

	agentID := newAgentID(req.Kind)
	log := m.logger.WithAgentID(agentID).WithTaskID(req.TaskID)
	log.Info("Spawning agent", zap.String("kind", string(req.Kind)), zap.String("repo", req.Repo))

	metadata, _ := json.Marshal(req)
	agent := &store.Agent{
		ID:       agentID,
		TaskID:   req.TaskID,
		Kind:     req.Kind,
		Status:   store.AgentStatusStarting,
		Metadata: string(metadata),
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	if err := m.store.AssignTask(ctx, req.TaskID, agentID); err != nil {
		m.failSpawn(ctx, agentID, req.TaskID, "", req.Kind, err)
		return nil, err
	}

	handle, err := m.prepareSandbox(ctx, agentID, task, req)
	if err != nil {
		m.failSpawn(ctx, agentID, req.TaskID, handle, req.Kind, err)
		return nil, err
	}

	driver := m.driverFor(req.Kind)
	if err := driver.Start(ctx, handle); err != nil {
		m.failSpawn(ctx, agentID, req.TaskID, handle, req.Kind, err)
		return nil, err
	}
	if err := m.store.MarkAgentRunning(ctx, agentID, handle); err != nil {
		m.failSpawn(ctx, agentID, req.TaskID, handle, req.Kind, err)
		return nil, err
	}

	inst := &Instance{
		AgentID:     agentID,
		TaskID:      req.TaskID,
		Kind:        req.Kind,
		Handle:      handle,
		CallbackURL: req.CallbackURL,
		buffer:      NewLogBuffer(agentID),
	}
	inst.timer = time.AfterFunc(TimeoutFor(req.Kind), func() {
		log.Warn("Agent watchdog fired", zap.Duration("timeout", TimeoutFor(req.Kind)))
		_ = m.Kill(context.Background(), agentID, KillReasonTimeout)
	})
	m.instances.add(inst)

	if streams, err := driver.Logs(ctx, handle); err != nil {
		log.WithError(err).Warn("Failed to attach agent log stream")
	} else {
		inst.streams = streams
		m.agentWG.Add(2)
		go m.pump(inst, streams.Stdout, store.LogStreamOut)
		go m.pump(inst, streams.Stderr, store.LogStreamErr)
	}

	m.agentWG.Add(1)
	go m.monitor(inst)

	log.Info("Agent running", zap.String("sandbox_id", handle))
	return m.store.GetAgent(ctx, agentID)
}

// ensureTask loads the task mirror, creating it from the request when the
// upstream pushed a spawn for a task the engine has not seen yet.
func (m *Manager) ensureTask(ctx context.Context, req *AgentSpawnRequest) (*store.Task, error) {
	task, err := m.store.GetTask(ctx, req.TaskID)
	if err == nil {
		return task, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	task = &store.Task{
		ID:          req.TaskID,
		Title:       req.Title,
		Description: req.Description,
		Repo:        req.Repo,
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// prepareSandbox builds the workspace, prompt, and sandbox for the run and
// returns the created (not yet started) sandbox handle.
func (m *Manager) prepareSandbox(ctx context.Context, agentID string, task *store.Task, req AgentSpawnRequest) (string, error) {
	hostMode := req.Kind.HostMode()
	driver := m.driverFor(req.Kind)

	if !hostMode {
		if err := driver.EnsureImage(ctx); err != nil {
			return "", err
		}
	}

	if _, err := m.workspaces.Create(agentID); err != nil {
		return "", err
	}

	if !hostMode && req.Repo != "" {
		checkout := workspace.CheckoutSpec{
			Branch:         req.Branch,
			ExistingBranch: req.ExistingBranch,
		}
		if checkout.Branch == "" && checkout.ExistingBranch == "" && req.Kind == store.AgentKindCoding {
			checkout.CreateBranch = "agent/" + agentID
		}
		if err := m.workspaces.Clone(ctx, agentID, req.Repo, checkout); err != nil {
			return "", err
		}
	}

	promptText := req.Prompt
	if promptText == "" {
		promptText = m.prompts.Build(prompt.Context{
			Kind:           req.Kind,
			TaskID:         req.TaskID,
			Title:          firstNonEmpty(req.Title, task.Title),
			Description:    firstNonEmpty(req.Description, task.Description),
			Repo:           req.Repo,
			Plan:           task.Plan,
			PRNumber:       req.PRNumber,
			PRURL:          req.PRURL,
			Branch:         req.Branch,
			DeploymentURL:  req.DeploymentURL,
			FocusAreas:     req.FocusAreas,
			ReviewFeedback: req.ReviewFeedback,
		})
	}
	if err := m.workspaces.WritePrompt(agentID, promptText); err != nil {
		return "", err
	}

	spec := sandbox.Spec{
		Name:    agentID,
		AgentID: agentID,
		TaskID:  req.TaskID,
		Env: []string{
			"TASK_ID=" + req.TaskID,
			"AGENT_ID=" + agentID,
			"AGENT_KIND=" + string(req.Kind),
			"ORCHESTRATOR_URL=" + m.apiBaseURL,
			"GITHUB_TOKEN=" + m.githubToken,
		},
	}
	if hostMode {
		spec.Cmd = []string{agentCommand, "--prompt", m.workspaces.PromptPath(agentID)}
		spec.WorkingDir = m.workspaces.Dir(agentID)
	} else {
		spec.Cmd = []string{agentCommand, "--prompt", "/workspace/" + workspace.PromptFilename}
		spec.WorkingDir = "/workspace/" + workspace.RepoDirname
		spec.Mounts = []sandbox.Mount{{
			Source: m.workspaces.Dir(agentID),
			Target: "/workspace",
		}}
	}

	return driver.Create(ctx, spec)
}

// failSpawn unwinds a spawn that died before the monitor attached.
func (m *Manager) failSpawn(ctx context.Context, agentID, taskID, handle string, kind store.AgentKind, cause error) {
	log := m.logger.WithAgentID(agentID).WithTaskID(taskID)
	log.WithError(cause).Error("Agent spawn failed")

	scrubbed := masking.ScrubError(cause)
	if err := m.store.CompleteAgent(ctx, agentID, store.AgentStatusFailed, nil, scrubbed); err != nil {
		log.WithError(err).Error("Failed to mark agent failed")
	}
	if err := m.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusQueued); err != nil {
		log.WithError(err).Error("Failed to revert task to queued")
	}
	if handle != "" {
		if err := m.driverFor(kind).Remove(ctx, handle); err != nil {
			log.WithError(err).Warn("Failed to remove sandbox during unwind")
		}
	}
	if err := m.workspaces.Purge(agentID); err != nil {
		log.WithError(err).Warn("Failed to purge workspace during unwind")
	}
}

// pump splits one sandbox output stream into lines and feeds the ring,
// flushing whenever the ring fills.
func (m *Manager) pump(inst *Instance, r io.Reader, stream store.LogStream) {
	defer m.agentWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if inst.buffer.Add(stream, scanner.Text()) {
			m.flushBuffer(context.Background(), inst)
		}
	}
}

// monitor waits for the sandbox to exit and runs exit handling.
func (m *Manager) monitor(inst *Instance) {
	defer m.agentWG.Done()
	driver := m.driverFor(inst.Kind)

	exitCode, err := driver.Wait(context.Background(), inst.Handle)
	if err != nil {
		m.logger.WithAgentID(inst.AgentID).WithError(err).Error("Sandbox wait failed")
	}
	m.handleExit(inst, exitCode)
}

// handleExit finalizes a terminal agent: flushes logs, writes the terminal
// row, propagates task failure, posts the extracted result and completion
// callback, and releases resources.
func (m *Manager) handleExit(inst *Instance, exitCode int) {
	ctx := context.Background()
	log := m.logger.WithAgentID(inst.AgentID).WithTaskID(inst.TaskID)

	if inst.timer != nil {
		inst.timer.Stop()
	}
	if inst.streams != nil {
		_ = inst.streams.Close()
	}
	m.flushBuffer(ctx, inst)

	status := store.AgentStatusCompleted
	errText := ""
	switch {
	case inst.KillReason() == KillReasonTimeout:
		status = store.AgentStatusTimeout
		errText = fmt.Sprintf("timed out after %s", TimeoutFor(inst.Kind))
	case inst.KillReason() == KillReasonKilled:
		status = store.AgentStatusKilled
		errText = "killed"
	case exitCode != 0:
		status = store.AgentStatusFailed
		errText = fmt.Sprintf("agent exited with code %d", exitCode)
	}

	if err := m.store.CompleteAgent(ctx, inst.AgentID, status, &exitCode, errText); err != nil {
		log.WithError(err).Error("Failed to record agent completion")
	}
	if status != store.AgentStatusCompleted {
		if err := m.store.UpdateTaskStatus(ctx, inst.TaskID, store.TaskStatusFailed); err != nil {
			log.WithError(err).Error("Failed to mark task failed")
		}
		m.upstream.UpdateTaskStatus(ctx, inst.TaskID, string(store.TaskStatusFailed))
	}

	if lines, err := m.store.GetAgentLogs(ctx, inst.AgentID); err == nil {
		if result := ExtractResult(lines); result != "" {
			m.upstream.PostComment(ctx, inst.TaskID, TruncateComment(result))
		}
	}

	completedAt := time.Now().UTC().Format(time.RFC3339)
	m.upstream.NotifyCompletion(ctx, inst.CallbackURL, upstream.CompletionNotification{
		AgentID:     inst.AgentID,
		TaskID:      inst.TaskID,
		Status:      string(status),
		ExitCode:    &exitCode,
		CompletedAt: completedAt,
		Error:       errText,
	})

	if err := m.driverFor(inst.Kind).Remove(ctx, inst.Handle); err != nil {
		log.WithError(err).Warn("Failed to remove sandbox")
	}
	m.instances.remove(inst.AgentID)

	if status == store.AgentStatusCompleted {
		if err := m.workspaces.Purge(inst.AgentID); err != nil {
			log.WithError(err).Warn("Failed to purge workspace")
		}
	}

	log.Info("Agent finished",
		zap.String("status", string(status)),
		zap.Int("exit_code", exitCode),
	)
}

// Kill terminates a running agent. Unknown or already terminal agents are
// a no-op.
func (m *Manager) Kill(ctx context.Context, agentID string, reason KillReason) error {
	inst, ok := m.instances.get(agentID)
	if !ok {
		return nil
	}
	inst.setKillReason(reason)
	if inst.timer != nil {
		inst.timer.Stop()
	}

	if err := m.driverFor(inst.Kind).Kill(ctx, inst.Handle); err != nil && !errors.IsNotFound(err) {
		return err
	}
	m.logger.WithAgentID(agentID).Info("Agent kill requested", zap.String("reason", string(reason)))
	return nil
}

// Retry spawns a new agent for the same task as a previous run, replaying
// the original spawn request.
func (m *Manager) Retry(ctx context.Context, agentID string) (*store.Agent, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.GetTask(ctx, agent.TaskID); err != nil {
		return nil, err
	}

	var req AgentSpawnRequest
	if agent.Metadata != "" {
		_ = json.Unmarshal([]byte(agent.Metadata), &req)
	}
	req.TaskID = agent.TaskID
	if req.Kind == "" {
		req.Kind = agent.Kind
	}
	return m.Spawn(ctx, req)
}

// Get returns one agent row.
func (m *Manager) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	return m.store.GetAgent(ctx, agentID)
}

// List returns recent agent rows.
func (m *Manager) List(ctx context.Context, limit int) ([]*store.Agent, error) {
	return m.store.ListAgents(ctx, limit)
}

// Active returns the rows of agents with a live tracking entry.
func (m *Manager) Active(ctx context.Context) ([]*store.Agent, error) {
	agents := make([]*store.Agent, 0, m.instances.count())
	for _, inst := range m.instances.list() {
		agent, err := m.store.GetAgent(ctx, inst.AgentID)
		if err != nil {
			continue
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// ActiveCount returns the number of live tracking entries.
func (m *Manager) ActiveCount() int {
	return m.instances.count()
}

// GetLogs returns an agent's persisted log lines after flushing any pending
// buffer, so callers always see the latest output.
func (m *Manager) GetLogs(ctx context.Context, agentID string) ([]store.AgentLogLine, error) {
	if _, err := m.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if inst, ok := m.instances.get(agentID); ok {
		m.flushBuffer(ctx, inst)
	}
	return m.store.GetAgentLogs(ctx, agentID)
}

// Analytics returns agent counts grouped by status and kind.
func (m *Manager) Analytics(ctx context.Context) (*store.AgentAnalytics, error) {
	return m.store.AgentAnalytics(ctx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
