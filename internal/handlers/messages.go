package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/logger"
	"realtime-service/internal/repositories"
)

// MessageHandler serves direct-message history.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	log         logger.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, log logger.Logger) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo, log: log}
}

// GetConversation returns the messages exchanged with peer_id, oldest first,
// and marks the peer's messages to the caller as read.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	peerID, err := strconv.Atoi(c.Param("peer_id"))
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	userID := c.GetInt("userID")
	msgs, err := h.messageRepo.ListConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	if _, err := h.messageRepo.MarkConversationRead(c.Request.Context(), userID, peerID); err != nil {
		h.log.Warn("mark conversation read failed", "user_id", userID, "peer_id", peerID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
