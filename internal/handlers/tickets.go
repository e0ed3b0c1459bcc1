package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketgate/internal/middleware"
	"ticketgate/internal/models"
	"ticketgate/internal/service"
)

// IssueTicket - POST /api/tickets
// Выпустить билет
func (h *Handlers) IssueTicket(c *gin.Context) {
	var req models.IssueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	ticket, err := h.services.Tickets.Issue(c.Request.Context(), &req, middleware.Operator(c))
	if err != nil {
		h.handleServiceError(c, "issue ticket", err)
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// GetTicket - GET /api/tickets/:code
func (h *Handlers) GetTicket(c *gin.Context) {
	ticket, err := h.services.Tickets.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.handleServiceError(c, "get ticket", err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// ConfirmTicket - PATCH /api/tickets/:id/confirm
// Подтвердить оплату вручную
func (h *Handlers) ConfirmTicket(c *gin.Context) {
	h.transition(c, "confirm ticket", func(ctx context.Context, id, _ string, op service.Operator) (*models.TransitionResponse, error) {
		return h.services.Tickets.ConfirmPayment(ctx, id, op)
	})
}

// CancelTicket - PATCH /api/tickets/:id/cancel
func (h *Handlers) CancelTicket(c *gin.Context) {
	h.transition(c, "cancel ticket", h.services.Tickets.Cancel)
}

// RefundTicket - PATCH /api/tickets/:id/refund
func (h *Handlers) RefundTicket(c *gin.Context) {
	h.transition(c, "refund ticket", h.services.Tickets.Refund)
}

type transitionFunc func(ctx context.Context, ticketID, reason string, op service.Operator) (*models.TransitionResponse, error)

func (h *Handlers) transition(c *gin.Context, action string, apply transitionFunc) {
	var req models.TransitionRequest
	// The body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	response, err := apply(c.Request.Context(), c.Param("id"), req.Reason, middleware.Operator(c))
	if err != nil {
		h.handleServiceError(c, action, err)
		return
	}

	c.JSON(http.StatusOK, response)
}
