package http

import (
	"context"
	"net/http"
	"strconv"

	"sfulink/internal/core/domain"
	"sfulink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// SessionController is the part of the session manager driven by the admin API
type SessionController interface {
	Snapshot(ctx context.Context) ([]domain.SessionSnapshot, error)
	Desired(ctx context.Context) (domain.DesiredUpdate, error)
	UpdateDesired(update domain.DesiredUpdate)
	Stop(ctx context.Context, id domain.StreamID) error
}

type NotificationHistory interface {
	Recent(limit int) []domain.Notification
}

type ConnectionStatusReporter interface {
	Status() domain.ConnectionStatus
}

// DesiredPublisher shares a desired set with other instances
type DesiredPublisher interface {
	Publish(ctx context.Context, update domain.DesiredUpdate) error
}

type SessionHandler struct {
	sessions      SessionController
	notifications NotificationHistory
	status        ConnectionStatusReporter
	health        *monitoring.HealthChecker
	publisher     DesiredPublisher
}

func NewSessionHandler(
	sessions SessionController,
	notifications NotificationHistory,
	status ConnectionStatusReporter,
	health *monitoring.HealthChecker,
	publisher DesiredPublisher,
) *SessionHandler {
	return &SessionHandler{
		sessions:      sessions,
		notifications: notifications,
		status:        status,
		health:        health,
		publisher:     publisher,
	}
}

// SetupRoutes registers the probes at the root and the API under /api/v1
// behind middleware.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1", middleware...)
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/streams", h.GetDesired)
		api.PUT("/streams", h.ReplaceDesired)
		api.DELETE("/streams/:id", h.StopStream)
		api.GET("/notifications", h.ListNotifications)
		api.GET("/connection-status", h.ConnectionStatus)
	}
}

func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.Snapshot(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetDesired(c *gin.Context) {
	desired, err := h.sessions.Desired(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, desired)
}

func (h *SessionHandler) ReplaceDesired(c *gin.Context) {
	var req domain.DesiredUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	update, err := req.Normalize()
	if err != nil {
		c.Error(err)
		return
	}

	h.sessions.UpdateDesired(update)
	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), update); err != nil {
			c.Error(err)
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"streams":      len(update.Streams),
		"page_changed": update.PageChanged,
	})
}

func (h *SessionHandler) StopStream(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))
	if err := h.sessions.Stop(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ListNotifications(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"notifications": h.notifications.Recent(limit)})
}

func (h *SessionHandler) ConnectionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}
