package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"leadgen/internal/api"
	"leadgen/internal/api/handlers"
	"leadgen/internal/api/middleware"
	"leadgen/internal/engine/approval"
	"leadgen/internal/engine/dispatch"
	"leadgen/internal/engine/executor"
	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/registry"
	"leadgen/internal/engine/signature"
	"leadgen/internal/engine/steps"
	"leadgen/internal/pkg/logger"
	"leadgen/internal/platform/auth"
	"leadgen/internal/platform/config"
	"leadgen/internal/platform/database"
	"leadgen/internal/platform/repositories"
)

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
	userRepo := repositories.NewUserRepository(db)
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

	verifier := signature.NewVerifier(func(source string) string {
		return cfg.Webhook.SourceSecrets[source]
	}, cfg.Webhook.SignatureWindow, cfg.Webhook.UnverifiedSources)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Router
	deps := &api.Dependencies{
		WebhookHandler:    handlers.NewWebhookHandler(verifier, q, cfg.Webhook.MaxBodyBytes),
		AuthHandler:       handlers.NewAuthHandler(userRepo, tokenSvc),
		WorkflowHandler:   handlers.NewWorkflowHandler(reg, executionRepo),
		ExecutionHandler:  handlers.NewExecutionHandler(executionRepo, exec),
		ApprovalHandler:   handlers.NewApprovalHandler(gate),
		EventHandler:      handlers.NewEventHandler(eventRepo, q),
		MonitoringHandler: handlers.NewMonitoringHandler(monitoringRepo),
		HealthHandler:     handlers.NewHealthHandler(db),
		MetricsHandler:    handlers.NewMetricsHandler(),
		AuthMiddleware:    middleware.NewAuthMiddleware(tokenSvc),
		RateLimiter:       middleware.NewRateLimiter(cfg.Webhook.RatePerSecond, cfg.Webhook.RateBurst),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
