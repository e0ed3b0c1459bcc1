package consumers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/lifecycle"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
	"ticketgate/internal/service"
)

type fakeTickets struct {
	confirmed  []string
	failed     map[string]string
	err        error
	confirmErr error
}

func (f *fakeTickets) ConfirmPayment(_ context.Context, ticketID string, op service.Operator) (*models.TransitionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.confirmed = append(f.confirmed, ticketID)
	return &models.TransitionResponse{Ticket: &models.Ticket{ID: ticketID}, Changed: true}, nil
}

func (f *fakeTickets) FailPayment(_ context.Context, ticketID, reason string, op service.Operator) (*models.TransitionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[ticketID] = reason
	return &models.TransitionResponse{Ticket: &models.Ticket{ID: ticketID}, Changed: true}, nil
}

func TestPaymentCompleted(t *testing.T) {
	tickets := &fakeTickets{}
	h := NewHandlers(tickets, time.Second)

	err := h.PaymentCompleted(context.Background(), []byte(`{"ticket_id":"t-1","payment_id":"p-1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, tickets.confirmed)
}

func TestPaymentFailedKeepsReason(t *testing.T) {
	tickets := &fakeTickets{}
	h := NewHandlers(tickets, time.Second)

	err := h.PaymentFailed(context.Background(), []byte(`{"ticket_id":"t-2","reason":"card declined"}`))
	require.NoError(t, err)
	assert.Equal(t, "card declined", tickets.failed["t-2"])
}

func TestPaymentCompletedRejectsBadPayload(t *testing.T) {
	h := NewHandlers(&fakeTickets{}, time.Second)

	assert.ErrorIs(t, h.PaymentCompleted(context.Background(), []byte(`not json`)), apperrors.ErrInvalidRequest)
	assert.ErrorIs(t, h.PaymentCompleted(context.Background(), []byte(`{}`)), apperrors.ErrInvalidRequest)
}

func TestProcessAckDecisions(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantAck bool
	}{
		{"success", nil, true},
		{"transient", fmt.Errorf("get ticket: %w", apperrors.ErrTransientStore), false},
		{"illegal", fmt.Errorf("cannot confirm: %w", apperrors.ErrIllegalTransition), true},
		{"not found", apperrors.ErrNotFound, true},
		{"closed ticket", &lifecycle.TransitionError{From: models.TicketCancelled, Action: lifecycle.ConfirmPayment}, true},
		{"refund required", fmt.Errorf("ticket t-1: %w", errRefundRequired), true},
		{"bad payload", apperrors.ErrInvalidRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(&fakeTickets{}, time.Second)
			acked := h.process(models.EventPaymentCompleted, nil, func(context.Context, []byte) error {
				return tt.err
			})
			assert.Equal(t, tt.wantAck, acked)
		})
	}
}

func TestPaymentCompletedOnSoldOutEventCancelsTicket(t *testing.T) {
	tickets := &fakeTickets{confirmErr: fmt.Errorf("event E1: %w", apperrors.ErrCapacityExceeded)}
	h := NewHandlers(tickets, time.Second)

	err := h.PaymentCompleted(context.Background(), []byte(`{"ticket_id":"t-3","payment_id":"p-3"}`))
	assert.ErrorIs(t, err, errRefundRequired)
	assert.Equal(t, soldOutReason, tickets.failed["t-3"])

	acked := h.process(models.EventPaymentCompleted, []byte(`{"ticket_id":"t-3"}`), h.PaymentCompleted)
	assert.True(t, acked)
}

func TestPaymentCompletedOnSoldOutEventRetriesWhenCancelFails(t *testing.T) {
	tickets := &failingCancel{
		fakeTickets: &fakeTickets{confirmErr: apperrors.ErrCapacityExceeded},
		err:         fmt.Errorf("update: %w", apperrors.ErrTransientStore),
	}
	h := NewHandlers(tickets, time.Second)

	acked := h.process(models.EventPaymentCompleted, []byte(`{"ticket_id":"t-4"}`), h.PaymentCompleted)
	assert.False(t, acked)
}

type failingCancel struct {
	*fakeTickets
	err error
}

func (f *failingCancel) FailPayment(context.Context, string, string, service.Operator) (*models.TransitionResponse, error) {
	return nil, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]models.TicketTransitionEvent
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]models.TicketTransitionEvent{}
	}
	if event, ok := data.(models.TicketTransitionEvent); ok {
		p.events[subject] = append(p.events[subject], event)
	}
	return nil
}

func TestPaymentCompletedSoldOutAgainstStore(t *testing.T) {
	store := repository.NewMemoryStore()
	publisher := &recordingPublisher{}
	services := service.NewServices(service.Dependencies{
		Repos:     &repository.Repositories{Tickets: store, Aggregates: store},
		Publisher: publisher,
	}, service.Options{StoreTimeout: time.Second})
	t.Cleanup(services.Close)

	ctx := context.Background()
	organizer := service.Operator{ID: "organizer-1", Role: "organizer"}
	_, err := services.Events.CreateEvent(ctx, &models.CreateEventRequest{EventID: "E1", Name: "Club night", Capacity: 1})
	require.NoError(t, err)

	pending, err := services.Tickets.Issue(ctx, &models.IssueTicketRequest{
		EventID: "E1", TicketCode: "LATE-0001", TicketType: models.TicketRegular, Price: decimal.NewFromInt(30),
	}, organizer)
	require.NoError(t, err)
	_, err = services.Tickets.Issue(ctx, &models.IssueTicketRequest{
		EventID: "E1", TicketCode: "DOOR-0001", TicketType: models.TicketRegular, Price: decimal.NewFromInt(30), Paid: true,
	}, organizer)
	require.NoError(t, err)

	h := NewHandlers(services.Tickets, time.Second)
	payload := []byte(`{"ticket_id":"` + pending.ID + `","payment_id":"p-9"}`)
	assert.True(t, h.process(models.EventPaymentCompleted, payload, h.PaymentCompleted))

	ticket, err := services.Tickets.GetByCode(ctx, "LATE-0001")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, ticket.State)

	agg, err := store.GetAggregate(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.SoldCount)

	services.Close()
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	cancelled := publisher.events[models.EventTicketCancelled]
	require.Len(t, cancelled, 1)
	assert.Equal(t, soldOutReason, cancelled[0].Reason)
	assert.Equal(t, models.TicketPending, cancelled[0].From)
}
