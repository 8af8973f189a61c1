package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	zlog "github.com/rs/zerolog/log"

	"leadgen/internal/engine/approval"
	"leadgen/internal/engine/dispatch"
	"leadgen/internal/engine/executor"
	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/registry"
	"leadgen/internal/engine/steps"
	"leadgen/internal/pkg/logger"
	"leadgen/internal/platform/config"
	"leadgen/internal/platform/database"
	"leadgen/internal/platform/repositories"
	"leadgen/internal/workers"
)

const sweepBatch = 100

func main() {
	configPath := os.Getenv("LEADGEN_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Repositories
	workflowRepo := repositories.NewWorkflowRepository(db)
	eventRepo := repositories.NewWebhookEventRepository(db)
	executionRepo := repositories.NewExecutionRepository(db)
	approvalRepo := repositories.NewApprovalRepository(db)
	monitoringRepo := repositories.NewMonitoringRepository(db)

	// Engine
	sink := monitor.NewSink(monitoringRepo)
	defer sink.Close()

	q := queue.New(eventRepo, sink, queue.Options{
		Backoff:           cfg.Queue.Backoff,
		MaxRetries:        cfg.Queue.MaxRetries,
		DedupWindow:       cfg.Webhook.DedupWindow,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})

	reg := registry.NewService(workflowRepo, cfg.Cache.WorkflowTTL, registry.Defaults{
		MaxRetries:          cfg.Queue.MaxRetries,
		ApprovalTimeout:     cfg.Approval.DefaultTimeout,
		MaxEscalations:      cfg.Approval.MaxEscalations,
		ConfidenceThreshold: cfg.Approval.ConfidenceThreshold,
		MinConfidence:       cfg.Approval.MinConfidence,
	})

	gate := approval.NewGate(approvalRepo, workflowRepo, q, sink, approval.Defaults{
		Timeout:        cfg.Approval.DefaultTimeout,
		MaxEscalations: cfg.Approval.MaxEscalations,
		Threshold:      cfg.Approval.ConfidenceThreshold,
		MinConfidence:  cfg.Approval.MinConfidence,
	})

	stepHandlers := steps.Builtins()
	stepHandlers["webhook"] = dispatch.New(cfg.Dispatch.Timeout).Handler()

	exec := executor.New(executionRepo, approvalRepo, workflowRepo, gate, stepHandlers, sink)

	pool := workers.NewPool(q, reg, exec, executionRepo, workers.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	// Sweeps. Each one is cheap and idempotent, so overlap with the
	// claim loops is harmless.
	c := cron.New()
	c.AddFunc("@every 30s", func() {
		if _, err := exec.SweepTimeouts(sweepBatch); err != nil {
			zlog.Error().Err(err).Msg("execution timeout sweep failed")
		}
	})
	c.AddFunc("@every 30s", func() {
		if _, _, err := gate.SweepExpired(sweepBatch); err != nil {
			zlog.Error().Err(err).Msg("approval expiry sweep failed")
		}
	})
	c.AddFunc("@every 1m", func() {
		if _, _, err := q.ReclaimStuck(); err != nil {
			zlog.Error().Err(err).Msg("stuck claim sweep failed")
		}
	})
	c.AddFunc("@every 15s", func() {
		if err := q.UpdateDepthGauge(); err != nil {
			zlog.Error().Err(err).Msg("queue depth refresh failed")
		}
	})
	c.AddFunc("@daily", func() {
		if _, err := q.DeadLetterReport(24 * time.Hour); err != nil {
			zlog.Error().Err(err).Msg("dead letter report failed")
		}
	})
	c.Start()

	log.Printf("Worker pool started with %d workers", cfg.Worker.Concurrency)

	<-ctx.Done()
	log.Println("Shutting down...")

	<-c.Stop().Done()
	pool.Stop()
}
