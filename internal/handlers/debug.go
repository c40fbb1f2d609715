package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/telemetry"
)

// ConnectionCounter reports how many sockets are registered on this instance.
type ConnectionCounter interface {
	Len() int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, connections ConnectionCounter, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	debug.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": connections.Len()})
	})
}
