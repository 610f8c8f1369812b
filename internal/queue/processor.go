// Package queue drives the task queue: a periodic tick claims the next
// eligible task, honoring the pause, stop-on-failure, and max-concurrent
// gates, and hands it to the workflow either through a task.assigned event
// or a direct triage spawn.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/events"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
	"github.com/vibesuite/orchestrator/internal/spool"
	"github.com/vibesuite/orchestrator/internal/store"
	"github.com/vibesuite/orchestrator/internal/ticker"
)

// eventSource identifies this component on events it appends.
const eventSource = "queue-processor"

// Spawner is the slice of the lifecycle manager the processor needs.
type Spawner interface {
	Spawn(ctx context.Context, req lifecycle.AgentSpawnRequest) (*store.Agent, error)
}

// Options wires the processor's collaborators.
type Options struct {
	Store   *store.Store
	Spool   *spool.Spool
	Spawner Spawner

	// UseEvents routes claims through the event spool instead of spawning
	// directly.
	UseEvents bool
	Interval  time.Duration

	Logger  *logger.Logger
	Tickers ticker.Factory
}

// Processor claims queued tasks for processing.
type Processor struct {
	store     *store.Store
	spool     *spool.Spool
	spawner   Spawner
	useEvents bool
	interval  time.Duration

	logger  *logger.Logger
	tickers ticker.Factory

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a queue processor.
func New(opts Options) *Processor {
	tickers := opts.Tickers
	if tickers == nil {
		tickers = ticker.Real
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Processor{
		store:     opts.Store,
		spool:     opts.Spool,
		spawner:   opts.Spawner,
		useEvents: opts.UseEvents,
		interval:  interval,
		logger:    opts.Logger,
		tickers:   tickers,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *Processor) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the poll loop.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Processor) run() {
	defer p.wg.Done()
	t := p.tickers(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C():
			p.Tick(context.Background())
		}
	}
}

// Tick runs one scheduling pass. At most one task is claimed per tick; all
// errors are logged and swallowed so the loop never dies.
func (p *Processor) Tick(ctx context.Context) {
	settings, err := p.store.GetQueueSettings(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Failed to read queue settings")
		return
	}
	if settings.Paused {
		return
	}

	if settings.StopOnFailure {
		failed, err := p.store.HasFailedQueuedTask(ctx)
		if err != nil {
			p.logger.WithError(err).Error("Failed to check for failed queued tasks")
			return
		}
		if failed {
			p.logger.Debug("Queue halted: a queued task has failed")
			return
		}
	}

	processing, err := p.store.CountProcessingQueue(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Failed to count processing entries")
		return
	}
	if processing >= settings.MaxConcurrent {
		return
	}

	entries, err := p.store.GetPendingQueueHead(ctx, 1)
	if err != nil {
		p.logger.WithError(err).Error("Failed to read queue head")
		return
	}
	if len(entries) == 0 {
		return
	}
	entry := entries[0]
	log := p.logger.WithTaskID(entry.TaskID)

	task, err := p.store.GetTask(ctx, entry.TaskID)
	if err != nil {
		log.WithError(err).Error("Queued task missing")
		return
	}

	repo := task.PrimaryRepo()
	if repo == "" {
		log.Warn("Task has no repository; failing it")
		if err := p.store.UpdateTaskStatus(ctx, task.ID, store.TaskStatusFailed); err != nil {
			log.WithError(err).Error("Failed to fail repoless task")
		}
		if err := p.store.DeleteQueueEntry(ctx, task.ID); err != nil {
			log.WithError(err).Error("Failed to drop repoless queue entry")
		}
		return
	}

	if err := p.store.MarkQueueEntryProcessing(ctx, task.ID); err != nil {
		log.WithError(err).Error("Failed to claim queue entry")
		return
	}
	log.Info("Claimed task from queue", zap.Int("position", entry.Position))

	if p.useEvents {
		p.dispatchEvent(ctx, task, repo)
		return
	}
	p.dispatchSpawn(ctx, task, repo)
}

// dispatchEvent hands the claimed task to the event router. The task keeps
// status queued until the router's task.assigned handler spawns an agent
// and assigns it; only the queue entry is processing in between.
func (p *Processor) dispatchEvent(ctx context.Context, task *store.Task, repo string) {
	log := p.logger.WithTaskID(task.ID)
	_, err := p.spool.Append(events.TaskAssigned, eventSource, events.TaskAssignedPayload{
		TaskID:            task.ID,
		Title:             task.Title,
		Description:       task.Description,
		Repo:              repo,
		Repos:             task.RepoList(),
		InvestigationOnly: task.InvestigationOnly,
	})
	if err != nil {
		log.WithError(err).Error("Failed to append task.assigned event; requeueing")
		if err := p.store.RequeueEntry(ctx, task.ID); err != nil {
			log.WithError(err).Error("Failed to requeue entry")
		}
	}
}

// dispatchSpawn starts the triage agent directly.
func (p *Processor) dispatchSpawn(ctx context.Context, task *store.Task, repo string) {
	log := p.logger.WithTaskID(task.ID)
	_, err := p.spawner.Spawn(ctx, lifecycle.AgentSpawnRequest{
		TaskID:      task.ID,
		Repo:        repo,
		Title:       task.Title,
		Description: task.Description,
		Kind:        store.AgentKindTriage,
	})
	if err != nil {
		// Spawn already reverted the task to queued; mirror that on the
		// queue entry so the next tick retries.
		log.WithError(err).Error("Failed to spawn triage agent; requeueing")
		if err := p.store.RequeueEntry(ctx, task.ID); err != nil {
			log.WithError(err).Error("Failed to requeue entry")
		}
	}
}
