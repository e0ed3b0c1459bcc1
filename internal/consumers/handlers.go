package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/stan.go"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/lifecycle"
	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
	"ticketgate/internal/service"
)

// PaymentTransitions is the part of the ticket service driven by payments
type PaymentTransitions interface {
	ConfirmPayment(ctx context.Context, ticketID string, op service.Operator) (*models.TransitionResponse, error)
	FailPayment(ctx context.Context, ticketID, reason string, op service.Operator) (*models.TransitionResponse, error)
}

// paymentOperator attributes payment-driven transitions in logs and events
var paymentOperator = service.Operator{ID: "payment-collaborator", Role: "system"}

// soldOutReason goes out with the ticket.cancelled event of a paid ticket
// that found no seat left; the payment side refunds on it
const soldOutReason = "event sold out after payment, refund required"

// errRefundRequired marks a payment that was taken but cannot be honoured.
// The ticket has been cancelled already; the message needs no retry.
var errRefundRequired = errors.New("payment needs a refund")

type Handlers struct {
	tickets PaymentTransitions
	timeout time.Duration
}

func NewHandlers(tickets PaymentTransitions, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handlers{tickets: tickets, timeout: timeout}
}

func (h *Handlers) PaymentCompleted(ctx context.Context, data []byte) error {
	var event models.PaymentCompletedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	if event.TicketID == "" {
		return fmt.Errorf("%w: ticket_id missing", apperrors.ErrInvalidRequest)
	}

	resp, err := h.tickets.ConfirmPayment(ctx, event.TicketID, paymentOperator)
	if errors.Is(err, apperrors.ErrCapacityExceeded) {
		// Pending tickets hold no seat, so a late payment can find the event
		// full. Cancel the ticket so it does not stay pending forever.
		if _, cancelErr := h.tickets.FailPayment(ctx, event.TicketID, soldOutReason, paymentOperator); cancelErr != nil {
			return fmt.Errorf("cancel sold out ticket %s: %w", event.TicketID, cancelErr)
		}
		return fmt.Errorf("ticket %s payment %s: %w", event.TicketID, event.PaymentID, errRefundRequired)
	}
	if err != nil {
		return err
	}

	slog.Info("Payment confirmed ticket",
		"ticket_id", event.TicketID, "payment_id", event.PaymentID, "changed", resp.Changed)
	return nil
}

func (h *Handlers) PaymentFailed(ctx context.Context, data []byte) error {
	var event models.PaymentFailedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	if event.TicketID == "" {
		return fmt.Errorf("%w: ticket_id missing", apperrors.ErrInvalidRequest)
	}

	resp, err := h.tickets.FailPayment(ctx, event.TicketID, event.Reason, paymentOperator)
	if err != nil {
		return err
	}

	slog.Info("Payment failure cancelled ticket",
		"ticket_id", event.TicketID, "payment_id", event.PaymentID, "changed", resp.Changed)
	return nil
}

// MessageHandler adapts a handler to a manual-ack NATS subscription.
// Transient failures are left unacked so the server redelivers; everything
// else is acked because a retry would fail the same way.
func (h *Handlers) MessageHandler(subject string, handle func(context.Context, []byte) error) stan.MsgHandler {
	return func(m *stan.Msg) {
		if h.process(subject, m.Data, handle) {
			if err := m.Ack(); err != nil {
				slog.Error("Failed to ack message", "subject", subject, "sequence", m.Sequence, "error", err)
			}
		}
	}
}

// process reports whether the message is done with
func (h *Handlers) process(subject string, data []byte, handle func(context.Context, []byte) error) bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err := handle(ctx, data)
	switch {
	case err == nil:
		metrics.MessagesConsumed.WithLabelValues(subject, "ok").Inc()
		return true
	case apperrors.IsTransient(err):
		metrics.MessagesConsumed.WithLabelValues(subject, "retry").Inc()
		slog.Warn("Transient failure, message will be redelivered", "subject", subject, "error", err)
		return false
	case errors.Is(err, errRefundRequired):
		metrics.MessagesConsumed.WithLabelValues(subject, "refund_required").Inc()
		slog.Error("Paid ticket cancelled, event is sold out", "subject", subject, "error", err)
		return true
	case paidClosedTicket(subject, err):
		metrics.MessagesConsumed.WithLabelValues(subject, "refund_required").Inc()
		slog.Error("Payment arrived for a closed ticket, refund required", "subject", subject, "error", err)
		return true
	case errors.Is(err, apperrors.ErrIllegalTransition), errors.Is(err, apperrors.ErrNotFound):
		metrics.MessagesConsumed.WithLabelValues(subject, "rejected").Inc()
		slog.Warn("Payment event does not apply to ticket", "subject", subject, "error", err)
		return true
	default:
		metrics.MessagesConsumed.WithLabelValues(subject, "failed").Inc()
		slog.Error("Failed to process message", "subject", subject, "error", err)
		return true
	}
}

// paidClosedTicket reports a completed payment for a ticket that can no
// longer become valid
func paidClosedTicket(subject string, err error) bool {
	if subject != models.EventPaymentCompleted {
		return false
	}
	var rejected *lifecycle.TransitionError
	return errors.As(err, &rejected) && lifecycle.Terminal(rejected.From)
}
