package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
	"realtime-service/internal/telemetry"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// Notifier pushes stored notifications to connected users.
type Notifier interface {
	Notify(ctx context.Context, userID int, n models.Notification)
}

// NotificationHandler exposes the notification inbox and the internal create endpoint.
type NotificationHandler struct {
	repo     repositories.NotificationRepository
	notifier Notifier
	audit    *telemetry.AuditEmitter
	log      logger.Logger
}

// NewNotificationHandler builds a NotificationHandler.
func NewNotificationHandler(repo repositories.NotificationRepository, notifier Notifier, audit *telemetry.AuditEmitter, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{repo: repo, notifier: notifier, audit: audit, log: log}
}

// ListNotifications returns the caller's notifications, newest first.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxNotificationLimit)
	}

	list, err := h.repo.ListForUser(c.Request.Context(), c.GetInt("userID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// MarkRead flags one of the caller's notifications as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	err = h.repo.MarkRead(c.Request.Context(), id, c.GetInt("userID"))
	switch {
	case errors.Is(err, repositories.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
	default:
		c.Status(http.StatusNoContent)
	}
}

type createNotificationRequest struct {
	UserIDs  []int   `json:"userIds" binding:"required,min=1,dive,gt=0"`
	SenderID *int    `json:"senderId"`
	Type     string  `json:"type" binding:"required"`
	EntityID *int    `json:"entityId"`
	Content  *string `json:"content"`
}

// CreateNotifications is called by other services (follow, like, comment).
// Each recipient gets a stored notification which is then pushed if they are
// online. Recipients whose row could not be stored are reported in "failed".
func (h *NotificationHandler) CreateNotifications(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	created := make([]models.Notification, 0, len(req.UserIDs))
	failed := []int{}
	for _, userID := range req.UserIDs {
		n, err := h.repo.CreateNotification(ctx, models.NewNotification{
			UserID:   userID,
			SenderID: req.SenderID,
			Type:     req.Type,
			EntityID: req.EntityID,
			Content:  req.Content,
		})
		if err != nil {
			h.log.Error("create notification failed", "user_id", userID, "type", req.Type, "error", err)
			failed = append(failed, userID)
			continue
		}
		created = append(created, n)
		h.notifier.Notify(ctx, userID, n)
	}

	if len(failed) > 0 {
		h.audit.Emit(ctx, "ERROR", "notification persistence failed for "+strconv.Itoa(len(failed))+" recipients", requestIDFromContext(c), nil)
	}
	if len(created) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store notifications", "failed": failed})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notifications": created, "failed": failed})
}
