package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradechat/internal/middleware"
	"tradechat/internal/observability"
	"tradechat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		userID := middleware.UserID(c)
		var userRef *string
		if userID != "" {
			userRef = &userID
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", observability.RequestIDFromRequest(c.Request), userRef)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
