// Package main is the entry point for the agent orchestrator. It wires the
// durable stores, the sandbox drivers, the agent lifecycle manager, the
// event router, and the queue processor behind a single HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vibesuite/orchestrator/internal/api"
	"github.com/vibesuite/orchestrator/internal/common/config"
	"github.com/vibesuite/orchestrator/internal/common/logger"
	"github.com/vibesuite/orchestrator/internal/lifecycle"
	"github.com/vibesuite/orchestrator/internal/prompt"
	"github.com/vibesuite/orchestrator/internal/queue"
	"github.com/vibesuite/orchestrator/internal/router"
	"github.com/vibesuite/orchestrator/internal/sandbox"
	"github.com/vibesuite/orchestrator/internal/spool"
	"github.com/vibesuite/orchestrator/internal/store"
	"github.com/vibesuite/orchestrator/internal/upstream"
	"github.com/vibesuite/orchestrator/internal/workspace"
)

func main() {
	// 1. Load .env (optional) and configuration
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()
	logger.SetDefault(log)

	log.Info("Starting orchestrator...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Open the durable store
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		_ = st.Close()
	}()
	log.Info("Store ready", zap.String("path", cfg.Store.DatabasePath))

	// 4. Open the event spool
	sp, err := spool.Open(cfg.Spool.EventDir, log)
	if err != nil {
		log.Fatal("Failed to open event spool", zap.Error(err))
	}
	log.Info("Event spool ready", zap.String("dir", cfg.Spool.EventDir))

	// 5. Initialize sandbox drivers
	var docker *sandbox.DockerDriver
	docker, err = sandbox.NewDockerDriver(cfg.Docker, log)
	if err != nil {
		log.Warn("Failed to initialize Docker driver - container agents disabled", zap.Error(err))
		docker = nil
	} else if err := docker.Ping(ctx); err != nil {
		log.Warn("Docker daemon not available - container agents disabled", zap.Error(err))
		docker = nil
	} else {
		log.Info("Connected to Docker daemon")
	}
	host := sandbox.NewHostDriver(log)

	// 6. Agent lifecycle manager
	workspaces := workspace.NewManager(cfg.Workspace, cfg.GitHub, log)
	up := upstream.NewClient(cfg.Upstream, log)
	apiBaseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	var dockerDriver sandbox.Driver
	if docker != nil {
		dockerDriver = docker
	}
	manager := lifecycle.NewManager(lifecycle.Options{
		Store:       st,
		Docker:      dockerDriver,
		Host:        host,
		Workspaces:  workspaces,
		Prompts:     prompt.NewTemplateBuilder(),
		Upstream:    up,
		APIBaseURL:  apiBaseURL,
		GitHubToken: cfg.GitHub.Token,
		Logger:      log,
	})
	manager.Start()

	// Reconcile agents orphaned by a previous process before accepting work.
	manager.Recover(ctx)

	// 7. Event router
	eventRouter := router.New(router.Options{
		Store:    st,
		Spool:    sp,
		Spawner:  manager,
		Upstream: up,
		Interval: cfg.Router.Interval(),
		Logger:   log,
	})
	eventRouter.Start()

	// 8. Queue processor
	var processor *queue.Processor
	if cfg.Queue.Enabled {
		processor = queue.New(queue.Options{
			Store:     st,
			Spool:     sp,
			Spawner:   manager,
			UseEvents: cfg.Queue.UseEvents,
			Interval:  cfg.Queue.Interval(),
			Logger:    log,
		})
		processor.Start()
		log.Info("Queue processor running", zap.Bool("useEvents", cfg.Queue.UseEvents))
	} else {
		log.Info("Queue processor disabled")
	}

	// 9. HTTP server
	var pinger api.DockerPinger
	if docker != nil {
		pinger = docker
	}
	engine := api.NewRouter(api.Options{
		Agents:    manager,
		Store:     st,
		Spool:     sp,
		Docker:    pinger,
		Workspace: cfg.Workspace,
		GitHub:    cfg.GitHub,
		Logger:    log,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 10. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if processor != nil {
		processor.Stop()
	}
	eventRouter.Stop()
	// Stop flushes every remaining log buffer before the store closes.
	manager.Stop(shutdownCtx)

	log.Info("Shutdown complete")
}
