package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/live"
	"ticketgate/internal/logger"
	"ticketgate/internal/models"
	"ticketgate/internal/search"
	"ticketgate/internal/service"
)

// retryAfterSeconds is advertised to scanners on transient store failures
const retryAfterSeconds = "1"

const defaultPingInterval = 30 * time.Second

// AttemptSearcher reads the check-in audit log
type AttemptSearcher interface {
	SearchAttempts(ctx context.Context, q search.AttemptQuery) (*search.AttemptPage, error)
}

type Handlers struct {
	services     *service.Services
	hub          *live.Hub
	attempts     AttemptSearcher
	pingInterval time.Duration
}

// NewHandlers wires the HTTP surface. attempts may be nil when the audit log
// is disabled.
func NewHandlers(services *service.Services, hub *live.Hub, attempts AttemptSearcher, pingInterval time.Duration) *Handlers {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Handlers{
		services:     services,
		hub:          hub,
		attempts:     attempts,
		pingInterval: pingInterval,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest),
		errors.Is(err, apperrors.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrEventExists),
		errors.Is(err, apperrors.ErrDuplicateCode),
		errors.Is(err, apperrors.ErrIllegalTransition),
		errors.Is(err, apperrors.ErrCapacityExceeded),
		errors.Is(err, apperrors.ErrAggregateInvariant):
		return http.StatusConflict
	case apperrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError maps service errors onto HTTP replies
func (h *Handlers) handleServiceError(c *gin.Context, action string, err error) {
	status := statusFor(err)
	log := logger.WithContext(c.Request.Context())

	switch {
	case status >= http.StatusInternalServerError:
		_ = c.Error(err)
		log.Error("Failed to "+action, "error", err)
	default:
		log.Info("Rejected "+action, "error", err, "status_code", status)
	}

	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", retryAfterSeconds)
		message = apperrors.ErrTransientStore.Error()
	case http.StatusInternalServerError:
		message = "Failed to " + action
	}

	c.JSON(status, models.ErrorResponse{Error: message})
}
