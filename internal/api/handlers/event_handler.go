package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/dompay/services/esocial/internal/esocial"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/scheduler"
	"example.com/dompay/services/esocial/internal/services"
)

// EventHandler exposes event intake, inspection and the scheduler control
// surface
type EventHandler struct {
	eventService *services.EventService
	scheduler    *scheduler.Scheduler
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService *services.EventService, sched *scheduler.Scheduler) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		scheduler:    sched,
	}
}

// RegisterRoutes registers the handler's routes
func (h *EventHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", h.createEvent)
		v1.GET("/events", h.listEvents)
		v1.GET("/events/:id", h.getEvent)
		v1.POST("/events/:id/resend", h.resendEvent)

		v1.POST("/esocial/process-now", h.processNow)
		v1.GET("/esocial/status", h.schedulerStatus)
	}
}

type createEventRequest struct {
	EventType string          `json:"eventType" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

func (h *EventHandler) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.eventService.CreateEvent(c.Request.Context(), req.EventType, req.Payload)
	if err != nil {
		if esocial.IsValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to create event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create event"})
		return
	}

	c.JSON(http.StatusCreated, event)
}

func (h *EventHandler) listEvents(c *gin.Context) {
	status := models.EventStatus(c.Query("status"))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := h.eventService.ListEvents(c.Request.Context(), status, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *EventHandler) getEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.eventService.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	logs, err := h.eventService.GetEventLogs(c.Request.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("event_id", id.String()).Msg("Failed to load event logs")
	}

	c.JSON(http.StatusOK, gin.H{"event": event, "logs": logs})
}

func (h *EventHandler) resendEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.eventService.ResendEvent(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *EventHandler) processNow(c *gin.Context) {
	if err := h.scheduler.ProcessNow(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Manual batch run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *EventHandler) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": h.scheduler.IsRunning(),
	})
}
