// Package router translates spool events into side effects: agent spawns
// and terminal task state changes. It polls the spool on a fixed interval
// and handles pending events strictly in filename order.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/events"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
	"github.com/vibesuite/orchestrator/internal/spool"
	"github.com/vibesuite/orchestrator/internal/store"
	"github.com/vibesuite/orchestrator/internal/ticker"
	"github.com/vibesuite/orchestrator/internal/upstream"
)

// dedupCapacity bounds the recently-processed id set guarding against
// double handling when an event is marked processed manually mid-poll.
const dedupCapacity = 1000

// Spawner is the slice of the lifecycle manager the router needs.
type Spawner interface {
	Spawn(ctx context.Context, req lifecycle.AgentSpawnRequest) (*store.Agent, error)
}

// Router drives the event-routed workflow.
type Router struct {
	store    *store.Store
	spool    *spool.Spool
	spawner  Spawner
	upstream *upstream.Client
	logger   *logger.Logger

	interval time.Duration
	tickers  ticker.Factory

	recent *lru.Cache[string, struct{}]
	gate   singleflight.Group

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options wires the router's collaborators.
type Options struct {
	Store    *store.Store
	Spool    *spool.Spool
	Spawner  Spawner
	Upstream *upstream.Client
	Interval time.Duration
	Logger   *logger.Logger
	Tickers  ticker.Factory
}

// New creates a router.
func New(opts Options) *Router {
	recent, _ := lru.New[string, struct{}](dedupCapacity)
	tickers := opts.Tickers
	if tickers == nil {
		tickers = ticker.Real
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Router{
		store:    opts.Store,
		spool:    opts.Spool,
		spawner:  opts.Spawner,
		upstream: opts.Upstream,
		logger:   opts.Logger,
		interval: interval,
		tickers:  tickers,
		recent:   recent,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the poll loop.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Router) run() {
	defer r.wg.Done()
	t := r.tickers(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C():
			r.Poll(context.Background())
		}
	}
}

// Poll processes all pending events once. Concurrent polls collapse into
// one via the single-flight gate.
func (r *Router) Poll(ctx context.Context) {
	_, _, _ = r.gate.Do("poll", func() (any, error) {
		r.poll(ctx)
		return nil, nil
	})
}

func (r *Router) poll(ctx context.Context) {
	pending, err := r.spool.ListPending()
	if err != nil {
		r.logger.WithError(err).Error("Failed to list pending events")
		return
	}

	for _, ev := range pending {
		if _, seen := r.recent.Get(ev.ID); seen {
			continue
		}
		log := r.logger.WithFields(zap.String("event_id", ev.ID), zap.String("kind", ev.Kind))

		processed, err := r.handle(ctx, ev)
		if err != nil {
			// The event stays pending; the next tick retries it. One
			// poisoned event must not block the rest.
			log.WithError(err).Error("Event handler failed")
			continue
		}
		if !processed {
			continue
		}

		if err := r.spool.MarkProcessed(ev.ID); err != nil {
			if errors.IsNotFound(err) {
				// Someone marked it processed concurrently; the side
				// effects raced but the dedup set stops a re-run.
				log.Warn("Event already marked processed")
			} else {
				log.WithError(err).Error("Failed to mark event processed")
			}
		}
		r.recent.Add(ev.ID, struct{}{})
	}
}

// handle runs one event's side effects. It returns false for events that
// must stay pending without being an error (unknown kinds).
func (r *Router) handle(ctx context.Context, ev *events.Event) (bool, error) {
	switch ev.Kind {
	case events.TaskAssigned:
		return true, r.onTaskAssigned(ctx, ev)
	case events.TaskPlanCreated:
		return true, r.onTaskPlanCreated(ctx, ev)
	case events.TaskClosed:
		return true, r.onTaskClosed(ctx, ev)
	case events.DeployRequested:
		return true, r.onDeployRequested(ctx, ev)
	case events.PRCreated, events.PRUpdated:
		return true, r.onPROpened(ctx, ev)
	case events.PRChangesRequested:
		return true, r.onPRChangesRequested(ctx, ev)
	case events.PRMerged:
		return true, r.onPRMerged(ctx, ev)
	case events.DeployCompleted:
		return true, r.onDeployCompleted(ctx, ev)
	case events.DeployFailed:
		return true, r.onDeployFailed(ctx, ev)
	case events.VerifyPassed:
		return true, r.onVerifyPassed(ctx, ev)
	case events.VerifyFailed:
		return true, r.onVerifyFailed(ctx, ev)
	case events.AuditRequested:
		return true, r.onAuditRequested(ctx, ev)
	case events.AuditFinding:
		return true, r.onAuditFinding(ctx, ev)
	case events.AuditCompleted:
		return true, r.onAuditCompleted(ctx, ev)
	case events.AgentEscalation:
		return true, r.onAgentEscalation(ctx, ev)
	default:
		r.logger.Warn("Unknown event kind left pending",
			zap.String("event_id", ev.ID), zap.String("kind", ev.Kind))
		return false, nil
	}
}

func (r *Router) onTaskAssigned(ctx context.Context, ev *events.Event) error {
	var p events.TaskAssignedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed task.assigned payload")
	}

	task := &store.Task{
		ID:                p.TaskID,
		Title:             p.Title,
		Description:       p.Description,
		Repo:              p.Repo,
		InvestigationOnly: p.InvestigationOnly,
	}
	if len(p.Repos) > 0 {
		task.Repos = jsonArray(p.Repos)
	}
	if err := r.store.UpsertTask(ctx, task); err != nil {
		return err
	}

	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:      p.TaskID,
		Repo:        p.Repo,
		Title:       p.Title,
		Description: p.Description,
		Kind:        store.AgentKindTriage,
	})
	return err
}

func (r *Router) onTaskPlanCreated(ctx context.Context, ev *events.Event) error {
	var p events.TaskPlanCreatedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed task.plan.created payload")
	}

	if err := r.store.SetTaskPlan(ctx, p.TaskID, p.Plan); err != nil {
		return err
	}

	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID: p.TaskID,
		Repo:   p.Repo,
		Kind:   store.AgentKindCoding,
	})
	return err
}

func (r *Router) onTaskClosed(ctx context.Context, ev *events.Event) error {
	var p events.TaskClosedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed task.closed payload")
	}
	r.logger.WithTaskID(p.TaskID).Info("Task closed without further work",
		zap.String("resolution", p.Resolution))
	return r.completeTask(ctx, p.TaskID)
}

func (r *Router) onDeployRequested(ctx context.Context, ev *events.Event) error {
	var p events.DeployRequestedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed deploy.requested payload")
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID: p.TaskID,
		Repo:   p.Repo,
		Kind:   store.AgentKindDeployer,
	})
	return err
}

func (r *Router) onPROpened(ctx context.Context, ev *events.Event) error {
	var p events.PRCreatedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed pull request payload")
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:   p.TaskID,
		Repo:     p.Repo,
		Kind:     store.AgentKindReviewer,
		PRNumber: p.PRNumber,
		PRURL:    p.PRURL,
		Branch:   p.Branch,
	})
	return err
}

func (r *Router) onPRChangesRequested(ctx context.Context, ev *events.Event) error {
	var p events.PRChangesRequestedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed pr.changes.requested payload")
	}
	if err := r.store.UpdateTaskStatus(ctx, p.TaskID, store.TaskStatusInProgress); err != nil {
		return err
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:         p.TaskID,
		Repo:           p.Repo,
		Kind:           store.AgentKindCoding,
		PRNumber:       p.PRNumber,
		ExistingBranch: p.Branch,
		ReviewFeedback: p.ReviewComments,
	})
	return err
}

func (r *Router) onPRMerged(ctx context.Context, ev *events.Event) error {
	var p events.PRMergedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed pr.merged payload")
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID: p.TaskID,
		Repo:   p.Repo,
		Kind:   store.AgentKindDeployer,
	})
	return err
}

func (r *Router) onDeployCompleted(ctx context.Context, ev *events.Event) error {
	var p events.DeployCompletedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed deploy.completed payload")
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:        p.TaskID,
		Repo:          p.Repo,
		Kind:          store.AgentKindVerifier,
		DeploymentURL: p.URL,
	})
	return err
}

func (r *Router) onDeployFailed(ctx context.Context, ev *events.Event) error {
	var p events.DeployFailedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed deploy.failed payload")
	}
	r.logger.WithTaskID(p.TaskID).Warn("Deployment failed", zap.String("error", p.Error))
	return r.failTask(ctx, p.TaskID)
}

func (r *Router) onVerifyPassed(ctx context.Context, ev *events.Event) error {
	var p events.VerifyPassedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed verify.passed payload")
	}
	return r.completeTask(ctx, p.TaskID)
}

func (r *Router) onVerifyFailed(ctx context.Context, ev *events.Event) error {
	var p events.VerifyFailedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed verify.failed payload")
	}

	description := fmt.Sprintf(
		"%s\n\nSteps to reproduce:\n%s\n\nExpected: %s\nActual: %s",
		p.Bug.Description, p.Bug.Steps, p.Bug.Expected, p.Bug.Actual,
	)
	if err := r.insertBugTask(ctx, p.Repo, "Verification failure: "+firstLine(p.Bug.Description), description); err != nil {
		return err
	}
	return r.failTask(ctx, p.TaskID)
}

func (r *Router) onAuditRequested(ctx context.Context, ev *events.Event) error {
	var p events.AuditRequestedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed audit.requested payload")
	}
	_, err := r.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:        p.TaskID,
		Repo:          p.Repo,
		Kind:          store.AgentKindAuditor,
		DeploymentURL: p.URL,
		FocusAreas:    p.FocusAreas,
	})
	return err
}

func (r *Router) onAuditFinding(ctx context.Context, ev *events.Event) error {
	var p events.AuditFindingPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed audit.finding payload")
	}

	title := fmt.Sprintf("[%s/%s] %s", p.Finding.Severity, p.Finding.Category, p.Finding.Title)
	description := p.Finding.Description
	if p.Finding.Steps != "" {
		description += "\n\nSteps to reproduce:\n" + p.Finding.Steps
	}
	return r.insertBugTask(ctx, p.Repo, title, description)
}

func (r *Router) onAuditCompleted(ctx context.Context, ev *events.Event) error {
	var p events.AuditCompletedPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed audit.completed payload")
	}
	r.logger.WithTaskID(p.TaskID).Info("Audit completed",
		zap.Int("findings", p.FindingsCount), zap.String("duration", p.Duration))
	return r.completeTask(ctx, p.TaskID)
}

func (r *Router) onAgentEscalation(ctx context.Context, ev *events.Event) error {
	var p events.AgentEscalationPayload
	if err := ev.Decode(&p); err != nil {
		return errors.ValidationError("payload", "malformed agent.escalation payload")
	}
	r.logger.WithTaskID(p.TaskID).WithAgentID(p.AgentID).Warn("Agent escalation",
		zap.String("reason", p.Reason))
	return nil
}

// completeTask closes out a task and its queue entry at the end of a
// workflow chain.
func (r *Router) completeTask(ctx context.Context, taskID string) error {
	if err := r.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusCompleted); err != nil {
		return err
	}
	if err := r.store.MarkQueueEntryCompleted(ctx, taskID); err != nil {
		r.logger.WithTaskID(taskID).WithError(err).Debug("No queue entry to complete")
	}
	r.upstream.UpdateTaskStatus(ctx, taskID, string(store.TaskStatusCompleted))
	return nil
}

func (r *Router) failTask(ctx context.Context, taskID string) error {
	if err := r.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed); err != nil {
		return err
	}
	if err := r.store.MarkQueueEntryFailed(ctx, taskID); err != nil {
		r.logger.WithTaskID(taskID).WithError(err).Debug("No queue entry to fail")
	}
	r.upstream.UpdateTaskStatus(ctx, taskID, string(store.TaskStatusFailed))
	return nil
}

// insertBugTask records a discovered bug as a fresh pending task so the
// queue can pick it up as its own workflow.
func (r *Router) insertBugTask(ctx context.Context, repo, title, description string) error {
	id := "bug-" + strings.Split(uuid.New().String(), "-")[0]
	task := &store.Task{
		ID:          id,
		Title:       title,
		Description: description,
		Kind:        "bug",
		Repo:        repo,
	}
	if err := r.store.CreateTask(ctx, task); err != nil {
		return err
	}
	if _, err := r.store.AddQueueEntry(ctx, id, 0); err != nil {
		return err
	}
	r.logger.WithTaskID(id).Info("Bug task inserted", zap.String("title", title))
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func jsonArray(items []string) string {
	data, _ := json.Marshal(items)
	return string(data)
}
