package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/api/handlers"
	"leadgen/internal/api/middleware"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/auth"
	"leadgen/internal/platform/models"
)

type Dependencies struct {
	WebhookHandler    *handlers.WebhookHandler
	AuthHandler       *handlers.AuthHandler
	WorkflowHandler   *handlers.WorkflowHandler
	ExecutionHandler  *handlers.ExecutionHandler
	ApprovalHandler   *handlers.ApprovalHandler
	EventHandler      *handlers.EventHandler
	MonitoringHandler *handlers.MonitoringHandler
	HealthHandler     *handlers.HealthHandler
	MetricsHandler    *handlers.MetricsHandler
	AuthMiddleware    *middleware.AuthMiddleware
	RateLimiter       *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	logged := middleware.RequestLogger
	authMid := deps.AuthMiddleware
	limiter := deps.RateLimiter

	// Ingestion. No bearer auth: the signature is the auth.
	router.POST("/webhooks/:source",
		chain(deps.WebhookHandler.Ingest, logged, limiter.BySource))
	router.POST("/webhooks/:source/workflows/:workflow_id",
		chain(deps.WebhookHandler.Ingest, logged, limiter.BySource))

	// Authentication
	router.POST("/api/v1/auth/register", chain(deps.AuthHandler.Register, logged))
	router.POST("/api/v1/auth/login", chain(deps.AuthHandler.Login, logged))

	// Workflow management
	router.POST("/api/v1/workflows",
		chain(deps.WorkflowHandler.Create, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))
	router.GET("/api/v1/workflows",
		chain(deps.WorkflowHandler.List, logged, authMid.Handle))
	router.GET("/api/v1/workflows/:id",
		chain(deps.WorkflowHandler.Get, logged, authMid.Handle))
	router.PATCH("/api/v1/workflows/:id",
		chain(deps.WorkflowHandler.Update, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))
	router.DELETE("/api/v1/workflows/:id",
		chain(deps.WorkflowHandler.Delete, logged, authMid.Handle, requireRole(models.RoleAdmin)))
	router.POST("/api/v1/workflows/:id/pause",
		chain(deps.WorkflowHandler.Pause, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))
	router.POST("/api/v1/workflows/:id/resume",
		chain(deps.WorkflowHandler.Resume, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))
	router.POST("/api/v1/workflows/:id/rotate-secret",
		chain(deps.WorkflowHandler.RotateSecret, logged, authMid.Handle, requireRole(models.RoleAdmin)))
	router.GET("/api/v1/workflows/:id/stats",
		chain(deps.WorkflowHandler.Stats, logged, authMid.Handle))

	// Executions
	router.GET("/api/v1/executions",
		chain(deps.ExecutionHandler.List, logged, authMid.Handle))
	router.GET("/api/v1/executions/:id",
		chain(deps.ExecutionHandler.Get, logged, authMid.Handle))
	router.POST("/api/v1/executions/:id/cancel",
		chain(deps.ExecutionHandler.Cancel, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))

	// Approvals
	router.GET("/api/v1/approvals",
		chain(deps.ApprovalHandler.List, logged, authMid.Handle))
	router.GET("/api/v1/approvals/:id",
		chain(deps.ApprovalHandler.Get, logged, authMid.Handle))
	router.POST("/api/v1/approvals/:id/decide",
		chain(deps.ApprovalHandler.Decide, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleReviewer)))
	router.GET("/api/v1/approvals/:id/history",
		chain(deps.ApprovalHandler.History, logged, authMid.Handle))

	// Event queue
	router.GET("/api/v1/events",
		chain(deps.EventHandler.List, logged, authMid.Handle))
	router.GET("/api/v1/events/:id",
		chain(deps.EventHandler.Get, logged, authMid.Handle))
	router.POST("/api/v1/events/:id/replay",
		chain(deps.EventHandler.Replay, logged, authMid.Handle, requireRole(models.RoleAdmin, models.RoleOperator)))

	// Monitoring
	router.GET("/api/v1/monitoring/events",
		chain(deps.MonitoringHandler.List, logged, authMid.Handle))

	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
