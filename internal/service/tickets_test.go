package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/aggregate"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

var admin = Operator{ID: "admin-1", Role: "admin"}

func TestIssue_GeneratesCodeAndCountsPaidTickets(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	f.event(t, "E1", 2)

	ticket, err := f.services.Tickets.Issue(context.Background(), &models.IssueTicketRequest{
		EventID:    "E1",
		TicketType: models.TicketVIP,
		Price:      decimal.RequireFromString("99.999"),
		Paid:       true,
	}, admin)
	require.NoError(t, err)

	assert.NotEmpty(t, ticket.TicketCode)
	assert.Equal(t, models.TicketValid, ticket.State)
	assert.True(t, ticket.Price.Equal(decimal.RequireFromString("100.00")))

	agg, err := f.store.GetAggregate(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.SoldCount)
	f.services.Close()
	assert.Equal(t, 1, f.publisher.count(models.EventTicketIssued))
}

func TestIssue_Rejections(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	f.event(t, "E1", 1)
	f.ticket(t, "E1", "TAKEN-001", true)

	tests := []struct {
		name string
		req  models.IssueTicketRequest
		want error
	}{
		{"unknown type", models.IssueTicketRequest{EventID: "E1", TicketType: "balcony"}, apperrors.ErrInvalidRequest},
		{"negative price", models.IssueTicketRequest{EventID: "E1", TicketType: models.TicketRegular, Price: decimal.NewFromInt(-1)}, apperrors.ErrInvalidRequest},
		{"bad code", models.IssueTicketRequest{EventID: "E1", TicketType: models.TicketRegular, TicketCode: "a b"}, apperrors.ErrInvalidRequest},
		{"duplicate code", models.IssueTicketRequest{EventID: "E1", TicketType: models.TicketRegular, TicketCode: "TAKEN-001"}, apperrors.ErrDuplicateCode},
		{"unknown event", models.IssueTicketRequest{EventID: "E9", TicketType: models.TicketRegular}, apperrors.ErrEventNotFound},
		{"sold out", models.IssueTicketRequest{EventID: "E1", TicketType: models.TicketRegular, Paid: true}, apperrors.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.services.Tickets.Issue(context.Background(), &req, admin)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfirmPayment_IsIdempotent(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	f.event(t, "E1", 5)
	ticket := f.ticket(t, "E1", "PAY-00001", false)

	first, err := f.services.Tickets.ConfirmPayment(context.Background(), ticket.ID, admin)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, models.TicketValid, first.Ticket.State)

	second, err := f.services.Tickets.ConfirmPayment(context.Background(), ticket.ID, admin)
	require.NoError(t, err)
	assert.False(t, second.Changed)

	agg, err := f.store.GetAggregate(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.SoldCount)
	assert.True(t, agg.Revenue.Equal(decimal.NewFromInt(25)))
	f.services.Close()
	assert.Equal(t, 1, f.publisher.count(models.EventTicketConfirmed))
}

func TestFailPayment_CancelsPendingTicket(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	f.event(t, "E1", 5)
	ticket := f.ticket(t, "E1", "FAIL-0001", false)

	resp, err := f.services.Tickets.FailPayment(context.Background(), ticket.ID, "card declined", admin)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, resp.Ticket.State)

	_, err = f.services.Tickets.ConfirmPayment(context.Background(), ticket.ID, admin)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestRefundAfterCheckIn_FollowsPolicy(t *testing.T) {
	tests := []struct {
		name          string
		policy        aggregate.RefundPolicy
		wantSold      int64
		wantCheckedIn int64
	}{
		{"release attendance", aggregate.RefundPolicy{}, 0, 0},
		{"retain attendance", aggregate.RefundPolicy{RetainAttendance: true}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			f.event(t, "E1", 5)
			ticket := f.ticket(t, "E1", "REFUND-01", true)

			result, err := f.services.CheckIns.Validate(context.Background(), scan("REFUND-01", "E1"), staff)
			require.NoError(t, err)
			require.Equal(t, models.OutcomeSuccess, result.Outcome)

			resp, err := f.services.Tickets.Refund(context.Background(), ticket.ID, "event cancelled", admin)
			require.NoError(t, err)
			assert.Equal(t, models.TicketRefunded, resp.Ticket.State)

			agg, err := f.store.GetAggregate(context.Background(), "E1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSold, agg.SoldCount)
			assert.Equal(t, tt.wantCheckedIn, agg.CheckedInCount)
			assert.True(t, agg.Revenue.IsZero())

			// reconciliation must agree with the incremental counters
			reconciled, err := f.services.Events.Reconcile(context.Background(), "E1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSold, reconciled.SoldCount)
			assert.Equal(t, tt.wantCheckedIn, reconciled.CheckedInCount)
		})
	}
}

func TestCancel_UsedTicketIsIllegal(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	f.event(t, "E1", 5)
	ticket := f.ticket(t, "E1", "USED-0001", true)

	_, err := f.services.CheckIns.Validate(context.Background(), scan("USED-0001", "E1"), staff)
	require.NoError(t, err)

	_, err = f.services.Tickets.Cancel(context.Background(), ticket.ID, "", admin)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.services.Tickets.Cancel(context.Background(), "missing", "", admin)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListByEvent_RejectsUnknownState(t *testing.T) {
	f := newFixture(t, aggregate.RefundPolicy{})
	bogus := models.TicketState("lost")

	_, err := f.services.Tickets.ListByEvent(context.Background(), "E1", models.TicketFilter{State: &bogus})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}
