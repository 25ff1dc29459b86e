package main

import (
	"net/http"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/app"
	"github.com/pablodelmoral/gritoncall/internal/auth"
	"github.com/pablodelmoral/gritoncall/internal/httpapi"
	"github.com/pablodelmoral/gritoncall/internal/rbac"
	"github.com/pablodelmoral/gritoncall/internal/reconcile"
	"github.com/pablodelmoral/gritoncall/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db_pool": utils.Stats(a.DB)})
	})

	// Provider webhooks (public, optionally secret-protected).
	webhook := reconcile.WebhookHandler{Reconciler: a.Reconciler, Secret: a.Config.Vapi.WebhookSecret}
	r.POST("/v1/webhooks/vapi", webhook.Handle)

	h := httpapi.Handlers{
		Auth:        authManager,
		Scheduler:   a.Scheduler,
		Dispatcher:  a.Dispatcher,
		Plans:       a.Plans,
		Preferences: a.Store,
		Coaches:     a.Store,
		Reporting:   a.Reporting,
		Audit:       a.Audit,
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.GET("/me", func(c *gin.Context) {
			sub, _ := auth.Subject(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"subject": sub, "role": role})
		})

		// JOB routes, the same operations the worker runs on its timers.
		jobs := v1.Group("/jobs")
		jobs.Use(rbac.RequireAnyRole(rbac.RoleScheduler))
		{
			jobs.POST("/schedule-calls", h.ScheduleCalls)
			jobs.POST("/initiate-calls", h.InitiateCalls)
		}

		// READ-ONLY admin routes
		read := v1.Group("/admin")
		read.Use(rbac.RequireAnyRole(rbac.RoleViewer))
		{
			read.GET("/calls/summary", h.CallsSummary)
			read.GET("/coaches", h.ListCoaches)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/tokens", h.IssueToken)
			admin.POST("/users/:user_id/plans", h.SavePlan)
			admin.GET("/users/:user_id/plan", h.GetActivePlan)
			admin.GET("/users/:user_id/plan/progress", h.GetPlanProgress)
			admin.PUT("/users/:user_id/call-preferences", h.UpdateCallPreferences)
			admin.POST("/activities/:activity_id/complete", h.CompleteActivity)
		}
	}
}
