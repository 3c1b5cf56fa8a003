// Command worker consumes run-execution jobs from asynq and drives each
// one through the scheduler, grounded on the teacher's cmd/worker/main.go
// wiring order (config -> logger -> db -> redis -> repos -> services ->
// queue -> signal-handling shutdown).
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/database"
	"github.com/loomwork/loom/internal/events"
	"github.com/loomwork/loom/internal/logger"
	"github.com/loomwork/loom/internal/mcp"
	"github.com/loomwork/loom/internal/models"
	"github.com/loomwork/loom/internal/queue"
	"github.com/loomwork/loom/internal/redisclient"
	"github.com/loomwork/loom/internal/store"
	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/executor"
	"github.com/loomwork/loom/internal/workflow/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(cfg.App.Environment, cfg.App.Debug)
	log.Info().Str("app", cfg.App.Name).Str("service", "worker").Msg("starting worker")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	runRepo := store.NewRunRepository(db)
	serverRepo := store.NewServerRepository(db)
	approvalRepo := store.NewApprovalRepository(db)

	publisher := events.NewPublisher(redisClient.Client)

	mcpManager := mcp.NewManager(cfg.MCP.InitTimeout, cfg.MCP.RequestTimeout,
		func(serverID string, status mcp.Status, connErr error) {
			if err := serverRepo.UpdateServerStatus(context.Background(), serverID, string(status), connErr); err != nil {
				log.Error().Err(err).Str("server_id", serverID).Msg("persist server status")
			}
		},
		func(serverID, name string, serverInfo map[string]any, tools []mcp.ToolDescriptor, connectedAt time.Time) {
			toolCache := make(models.JSONArray, len(tools))
			for i, t := range tools {
				toolCache[i] = map[string]any{"name": t.Name, "description": t.Description}
			}
			if err := serverRepo.UpdateServerInfo(context.Background(), serverID, name, models.JSON(serverInfo), toolCache, connectedAt); err != nil {
				log.Error().Err(err).Str("server_id", serverID).Msg("persist server info")
			}
		},
	)

	registry := executor.NewRegistry()
	registry.Register(workflow.KindLLM, executor.NewLLMExecutor(executor.NewAnthropicCollaborator(os.Getenv("ANTHROPIC_API_KEY"))))
	registry.Register(workflow.KindTool, executor.NewToolExecutor(executor.NewLocalShellCollaborator()))
	registry.Register(workflow.KindHuman, executor.NewHumanExecutor(approvalRepo))
	registry.Register(workflow.KindMCP, executor.NewMcpExecutor(mcpManager))

	sched := scheduler.New(registry, runRepo, publisher, cfg.Scheduler.MaxConcurrent, cfg.Scheduler.NodeTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconnectRegisteredServers(ctx, serverRepo, mcpManager)

	const resumeLockKey = "loom:resume-interrupted-runs"
	lockOwner := cfg.App.Name + "-" + os.Getenv("HOSTNAME")
	acquired, err := redisClient.AcquireLock(ctx, resumeLockKey, lockOwner, 30*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("failed to acquire resume lock, skipping interrupted-run resume on this process")
	} else if acquired {
		resumeInterruptedRuns(ctx, runRepo, sched)
		if err := redisClient.ReleaseLock(ctx, resumeLockKey, lockOwner); err != nil {
			log.Warn().Err(err).Msg("failed to release resume lock")
		}
	} else {
		log.Info().Msg("another worker process is resuming interrupted runs, skipping")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRunExecution, runHandler(runRepo, sched))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB},
		asynq.Config{
			Concurrency: cfg.Scheduler.MaxConcurrent,
			Queues:      map[string]int{queue.QueueCritical: 6, queue.QueueDefault: 3},
		},
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down worker")
		cancel()
		srv.Shutdown()
	}()

	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker server error")
	}
}

func runHandler(runRepo *store.RunRepository, sched *scheduler.Scheduler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload queue.RunExecutionPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return err
		}

		w, err := workflow.ParseWorkflow(marshalDefinition(payload.Definition))
		if err != nil {
			return err
		}

		runCtx := workflow.NewContext(payload.RunID, payload.WorkflowID, payload.TenantID, payload.Variables)

		var preCompleted map[string]bool
		if payload.Resume {
			rows, err := runRepo.LoadRunNodes(ctx, payload.RunID)
			if err != nil {
				return err
			}
			preCompleted = map[string]bool{}
			for _, row := range rows {
				if row.Status == models.NodeStatusCompleted {
					preCompleted[row.NodeID] = true
				}
			}
		}

		return sched.Execute(ctx, w, runCtx, preCompleted)
	}
}

func marshalDefinition(def map[string]any) []byte {
	blob, _ := json.Marshal(def)
	return blob
}

func reconnectRegisteredServers(ctx context.Context, serverRepo *store.ServerRepository, manager *mcp.Manager) {
	servers, err := serverRepo.LoadAllServers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load registered tool servers")
		return
	}
	for _, s := range servers {
		spec := mcp.ServerSpec{
			ID:         s.ID,
			TenantID:   s.TenantID,
			Transport:  mcp.TransportKind(s.Transport),
			Command:    s.Command,
			URL:        s.URL,
			CachedName: s.Name,
			CachedInfo: s.ServerInfo,
		}
		for _, a := range s.Args {
			if str, ok := a.(string); ok {
				spec.Args = append(spec.Args, str)
			}
		}
		for _, t := range s.Tools {
			if m, ok := t.(map[string]any); ok {
				name, _ := m["name"].(string)
				desc, _ := m["description"].(string)
				spec.CachedTools = append(spec.CachedTools, mcp.ToolDescriptor{Name: name, Description: desc})
			}
		}
		if err := manager.Register(ctx, spec); err != nil {
			log.Warn().Err(err).Str("server_id", s.ID).Msg("failed to reconnect tool server on startup")
		}
	}
}

func resumeInterruptedRuns(ctx context.Context, runRepo *store.RunRepository, sched *scheduler.Scheduler) {
	runs, err := runRepo.ListInterruptedRuns(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list interrupted runs")
		return
	}
	for _, r := range runs {
		log.Info().Str("run_id", r.ID).Msg("resuming interrupted run")
		w, err := workflow.ParseWorkflow(marshalDefinition(r.Definition))
		if err != nil {
			log.Error().Err(err).Str("run_id", r.ID).Msg("parse definition for resume")
			continue
		}

		rows, err := runRepo.LoadRunNodes(ctx, r.ID)
		if err != nil {
			log.Error().Err(err).Str("run_id", r.ID).Msg("load run nodes for resume")
			continue
		}
		preCompleted := map[string]bool{}
		for _, row := range rows {
			if row.Status == models.NodeStatusCompleted {
				preCompleted[row.NodeID] = true
			}
		}

		runCtx := workflow.NewContext(r.ID, r.WorkflowID, r.TenantID, map[string]any(r.Variables))

		go func(w *workflow.Workflow, runCtx *workflow.Context, preCompleted map[string]bool) {
			if err := sched.Execute(ctx, w, runCtx, preCompleted); err != nil {
				log.Error().Err(err).Str("run_id", runCtx.RunID).Msg("resumed run failed")
			}
		}(w, runCtx, preCompleted)
	}
}
