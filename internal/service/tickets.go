package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"

	"ticketgate/internal/aggregate"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/lifecycle"
	"ticketgate/internal/logger"
	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
)

// maxTransitionAttempts bounds the re-read loop of administrative transitions
const maxTransitionAttempts = 3

type TicketService struct {
	tickets      repository.TicketStore
	notify       *notifier
	policy       aggregate.RefundPolicy
	storeTimeout time.Duration
	now          func() time.Time
}

// Issue creates a ticket. Paid tickets start valid and count as sold at once;
// the rest wait for payment as pending.
func (s *TicketService) Issue(ctx context.Context, req *models.IssueTicketRequest, op Operator) (*models.Ticket, error) {
	if strings.TrimSpace(req.EventID) == "" {
		return nil, fmt.Errorf("%w: event_id is required", apperrors.ErrInvalidRequest)
	}
	if !req.TicketType.Valid() {
		return nil, fmt.Errorf("%w: unknown ticket type %q", apperrors.ErrInvalidRequest, req.TicketType)
	}
	if req.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", apperrors.ErrInvalidRequest)
	}

	code := strings.TrimSpace(req.TicketCode)
	if code == "" {
		code = cuid.New()
	} else if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: ticket code must match %s", apperrors.ErrInvalidRequest, codePattern)
	}

	state := models.TicketPending
	if req.Paid.Bool() {
		state = models.TicketValid
	}

	ticket := &models.Ticket{
		ID:          uuid.New().String(),
		EventID:     req.EventID,
		TicketCode:  code,
		HolderID:    req.HolderID,
		TicketType:  req.TicketType,
		Price:       req.Price.Round(2),
		State:       state,
		PurchasedAt: s.now(),
	}
	deltas := aggregate.ForIssue(state, ticket.Price)

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	err := s.tickets.Create(storeCtx, ticket, deltas)
	cancel()
	if err != nil {
		return nil, transient("issue ticket", err)
	}

	logger.WithContext(ctx).Info("Ticket issued",
		"ticket_id", ticket.ID, "event_id", ticket.EventID, "state", ticket.State)

	s.notify.issued(ctx, ticket, op.ID, len(deltas) > 0)

	return ticket, nil
}

func (s *TicketService) GetByCode(ctx context.Context, code string) (*models.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	ticket, err := s.tickets.GetByCode(storeCtx, code)
	return ticket, transient("get ticket by code", err)
}

func (s *TicketService) ListByEvent(ctx context.Context, eventID string, filter models.TicketFilter) (*models.TicketPage, error) {
	if filter.State != nil && !filter.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", apperrors.ErrInvalidRequest, *filter.State)
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	page, err := s.tickets.ListByEvent(storeCtx, eventID, filter)
	return page, transient("list tickets", err)
}

func (s *TicketService) ConfirmPayment(ctx context.Context, ticketID string, op Operator) (*models.TransitionResponse, error) {
	return s.apply(ctx, ticketID, lifecycle.ConfirmPayment, op, "")
}

func (s *TicketService) FailPayment(ctx context.Context, ticketID, reason string, op Operator) (*models.TransitionResponse, error) {
	return s.apply(ctx, ticketID, lifecycle.FailPayment, op, reason)
}

func (s *TicketService) Cancel(ctx context.Context, ticketID, reason string, op Operator) (*models.TransitionResponse, error) {
	return s.apply(ctx, ticketID, lifecycle.Cancel, op, reason)
}

func (s *TicketService) Refund(ctx context.Context, ticketID, reason string, op Operator) (*models.TransitionResponse, error) {
	return s.apply(ctx, ticketID, lifecycle.Refund, op, reason)
}

// apply runs one administrative transition. A lost race re-reads the ticket
// and decides again; repeating a request that already took effect reports
// Changed=false.
func (s *TicketService) apply(ctx context.Context, ticketID string, action lifecycle.Action, op Operator, reason string) (*models.TransitionResponse, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		ticket, err := s.getByID(ctx, ticketID)
		if err != nil {
			return nil, err
		}

		next, err := lifecycle.Transition(ticket.State, action)
		if errors.Is(err, apperrors.ErrAlreadyInTargetState) {
			return &models.TransitionResponse{Ticket: ticket, Changed: false}, nil
		}
		if err != nil {
			return nil, err
		}

		meta := repository.TransitionMeta{
			Deltas: s.policy.DeltasFor(ticket.State, next, ticket.Price),
		}

		storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
		updated, err := s.tickets.CompareAndSwapState(storeCtx, ticket.ID, ticket.State, next, meta)
		cancel()

		if errors.Is(err, apperrors.ErrConflictStateChanged) {
			metrics.StoreConflicts.WithLabelValues(string(action)).Inc()
			continue
		}
		if err != nil {
			return nil, transient(string(action), err)
		}

		logger.WithContext(ctx).Info("Ticket transitioned",
			"ticket_id", updated.ID, "from", ticket.State, "to", updated.State, "action", action)

		s.notify.transitioned(ctx, transitionNote{
			ticket:     updated,
			from:       ticket.State,
			operatorID: op.ID,
			reason:     reason,
		})

		return &models.TransitionResponse{Ticket: updated, Changed: true}, nil
	}

	return nil, fmt.Errorf("%s ticket %s: %w: state kept changing", action, ticketID, apperrors.ErrTransientStore)
}

func (s *TicketService) getByID(ctx context.Context, id string) (*models.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	ticket, err := s.tickets.GetByID(storeCtx, id)
	return ticket, transient("get ticket by id", err)
}
