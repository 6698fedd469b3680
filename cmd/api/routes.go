package main

import (
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/httpapi"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/rbac"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/reconcile"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, webhook reconcile.WebhookHandler) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; HMAC-validated by the handler).
	r.POST("/webhooks/bolna/status", webhook.HandleStatusEvent)

	// Token issuance is public; everything else under /v1 needs a token.
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireUser())
	{
		// CALLS
		v1.POST("/calls", h.StartCall)
		v1.GET("/calls", h.ListCalls)

		// QUEUE
		v1.GET("/queue", h.ListQueue)
		v1.GET("/queue/active", h.ActiveCount)
		v1.DELETE("/queue/:entry_id", h.CancelEntry)

		// CAMPAIGNS
		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("/:campaign_id", h.GetCampaign)
			campaigns.POST("/:campaign_id/pause", h.PauseCampaign)
			campaigns.POST("/:campaign_id/resume", h.ResumeCampaign)
		}

		// CREDIT
		v1.GET("/credit/balance", h.GetBalance)

		// ADMIN
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		{
			admin.POST("/credit/topup", h.AdminTopUp)
		}
	}
}
