package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ticketgate/internal/models"
)

// CreateEvent - POST /api/events
// Создать событие с вместимостью
func (h *Handlers) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	event, err := h.services.Events.CreateEvent(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, "create event", err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// GetSnapshot - GET /api/events/:eventId/snapshot
func (h *Handlers) GetSnapshot(c *gin.Context) {
	snapshot, err := h.services.Events.Snapshot(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.handleServiceError(c, "load snapshot", err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// ReconcileEvent - POST /api/events/:eventId/reconcile
// Пересчитать счетчики события по билетам
func (h *Handlers) ReconcileEvent(c *gin.Context) {
	event, err := h.services.Events.Reconcile(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.handleServiceError(c, "reconcile event", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// ListEventTickets - GET /api/events/:eventId/tickets
func (h *Handlers) ListEventTickets(c *gin.Context) {
	filter := models.TicketFilter{
		Cursor: c.Query("cursor"),
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	if raw := c.Query("state"); raw != "" {
		state := models.TicketState(raw)
		filter.State = &state
	}

	page, err := h.services.Tickets.ListByEvent(c.Request.Context(), c.Param("eventId"), filter)
	if err != nil {
		h.handleServiceError(c, "list tickets", err)
		return
	}

	c.JSON(http.StatusOK, page)
}
