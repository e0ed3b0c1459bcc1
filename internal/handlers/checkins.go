package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/middleware"
	"ticketgate/internal/models"
	"ticketgate/internal/search"
)

// ValidateCheckIn - POST /api/checkins/validate
// Проверить билет на входе
func (h *Handlers) ValidateCheckIn(c *gin.Context) {
	var req models.ValidateCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.services.CheckIns.Validate(c.Request.Context(), &req, middleware.Operator(c))
	if err != nil {
		if apperrors.IsTransient(err) {
			// The scanner must retry; this is never an invalid verdict
			c.Header("Retry-After", retryAfterSeconds)
			c.JSON(http.StatusServiceUnavailable, models.CheckInResult{
				Outcome: models.OutcomeTransientError,
				Message: "ticket store temporarily unavailable, retry the scan",
			})
			return
		}
		h.handleServiceError(c, "validate check-in", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchCheckIns - GET /api/events/:eventId/checkins
// Журнал попыток прохода
func (h *Handlers) SearchCheckIns(c *gin.Context) {
	if h.attempts == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse{Error: "audit log is disabled"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))

	if page < 1 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "page must be >= 1"})
		return
	}
	if pageSize < 1 || pageSize > 200 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "pageSize must be between 1 and 200"})
		return
	}

	outcome := models.CheckInOutcome(c.Query("outcome"))
	if outcome != "" && !outcome.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unknown outcome " + string(outcome)})
		return
	}

	result, err := h.attempts.SearchAttempts(c.Request.Context(), search.AttemptQuery{
		EventID:  c.Param("eventId"),
		Outcome:  outcome,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.handleServiceError(c, "search check-ins", err)
		return
	}

	c.JSON(http.StatusOK, result)
}
