package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext prefers the authenticated id and falls back to the X-User-ID header.
func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID > 0 {
		value := strconv.Itoa(userID)
		return &value
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if _, err := strconv.Atoi(header); err == nil {
			return &header
		}
	}

	return nil
}
