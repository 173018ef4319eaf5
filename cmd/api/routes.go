package main

import (
	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/gateway"
	"voicecall-platform/internal/httpapi"
	"voicecall-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gw *gateway.Gateway, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// The websocket control channel: join, initiate, accept, decline,
		// cancel, end, heartbeat all flow through here.
		v1.GET("/ws", gw.Serve)

		// USERS routes
		users := v1.Group("/users")
		users.Use(rbac.RequireUser())
		{
			users.GET("/:user_id/availability", h.GetAvailability)
			users.PUT("/:user_id/preference", h.SetPreference)
		}

		// WALLET routes
		wallets := v1.Group("/wallet")
		wallets.Use(rbac.RequireUser())
		{
			wallets.GET("/balance", h.GetBalance)
		}

		// REPORT routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireUser())
		{
			reports.GET("/calls", h.CallsReport)
			reports.GET("/spend", h.SpendReport)
		}

		// PUSH token routes
		pushGroup := v1.Group("/push")
		pushGroup.Use(rbac.RequireUser())
		{
			pushGroup.PUT("/token", h.RegisterPushToken)
			pushGroup.DELETE("/token", h.DeletePushToken)
		}

		// ADMIN routes
		// Only admin/super_admin can access admin endpoints by default.
		// Hidden trust_ops is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireUser())
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.GET("/calls/:call_id", h.GetCallStatus)
			admin.POST("/wallets/manual-credit", h.AdminManualCredit)
		}
	}
}
