package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-backend/internal/middleware"
	"chat-backend/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) int {
	return c.GetInt("userID")
}

func emitAudit(audit *telemetry.AuditEmitter, c *gin.Context, level, text string) {
	if audit == nil {
		return
	}
	audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
