package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticketgate/internal/aggregate"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/lifecycle"
	"ticketgate/internal/logger"
	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
)

// CheckInService is the single entry point of every scan
type CheckInService struct {
	tickets      repository.TicketStore
	notify       *notifier
	audit        AuditRecorder
	policy       aggregate.RefundPolicy
	storeTimeout time.Duration
	now          func() time.Time
}

// Validate decides one scan. Terminal verdicts come back as a result; an
// error means the verdict is unknown, and is ErrTransientStore when retrying
// may help.
func (s *CheckInService) Validate(ctx context.Context, req *models.ValidateCheckInRequest, op Operator) (*models.CheckInResult, error) {
	start := time.Now()

	scan, result, err := s.validate(ctx, req, op)

	outcome := models.OutcomeTransientError
	message := ""
	if result != nil {
		outcome = result.Outcome
		message = result.Message
	} else if err != nil {
		message = err.Error()
	}

	elapsed := time.Since(start)
	metrics.CheckIns.WithLabelValues(string(outcome)).Inc()
	metrics.CheckInDuration.Observe(elapsed.Seconds())

	attempt := models.CheckInAttempt{
		ID:         uuid.New().String(),
		TicketCode: scan.TicketCode,
		EventID:    req.EventID,
		OperatorID: op.ID,
		Gate:       req.Gate,
		Outcome:    outcome,
		Message:    message,
		LatencyMs:  elapsed.Milliseconds(),
		Timestamp:  s.now(),
	}
	if result != nil && result.Ticket != nil {
		attempt.TicketID = result.Ticket.ID
	}
	s.audit.Record(attempt)

	log := logger.WithContext(ctx)
	if err != nil {
		log.Warn("Check-in failed", "error", err, "event_id", req.EventID, "ticket_code", scan.TicketCode)
	} else {
		log.Info("Check-in decided", "outcome", outcome, "event_id", req.EventID,
			"ticket_code", scan.TicketCode, "gate", req.Gate, "latency_ms", attempt.LatencyMs)
	}

	return result, err
}

func (s *CheckInService) validate(ctx context.Context, req *models.ValidateCheckInRequest, op Operator) (ScannedPayload, *models.CheckInResult, error) {
	scan, err := ParsePayload(req.Payload)
	if err != nil {
		return ScannedPayload{TicketCode: clip(req.Payload, 128)}, verdict(models.OutcomeInvalid, apperrors.ErrMalformedInput.Error(), nil), nil
	}

	ticket, err := s.getByCode(ctx, scan.TicketCode)
	if errors.Is(err, apperrors.ErrNotFound) {
		return *scan, verdict(models.OutcomeInvalid, "ticket not found", nil), nil
	}
	if err != nil {
		return *scan, nil, err
	}

	if (scan.TicketID != "" && scan.TicketID != ticket.ID) ||
		(scan.EventID != "" && scan.EventID != ticket.EventID) {
		return *scan, verdict(models.OutcomeInvalid, "payload does not match ticket", nil), nil
	}

	if ticket.EventID != req.EventID {
		return *scan, verdict(models.OutcomeWrongEvent,
			fmt.Sprintf("ticket is for event %s", ticket.EventID), ticket), nil
	}

	if ticket.State != models.TicketValid {
		return *scan, stateVerdict(ticket), nil
	}

	next, err := lifecycle.Transition(ticket.State, lifecycle.CheckIn)
	if err != nil {
		return *scan, stateVerdict(ticket), nil
	}

	checkedInAt := s.now()
	meta := repository.TransitionMeta{
		CheckedInAt: &checkedInAt,
		Deltas:      s.policy.DeltasFor(ticket.State, next, ticket.Price),
	}

	updated, err := s.compareAndSwap(ctx, ticket.ID, ticket.State, next, meta)
	if errors.Is(err, apperrors.ErrConflictStateChanged) {
		// Another scanner won; report what it left behind
		metrics.StoreConflicts.WithLabelValues(string(lifecycle.CheckIn)).Inc()

		current, err := s.getByID(ctx, ticket.ID)
		if err != nil {
			return *scan, nil, err
		}
		return *scan, stateVerdict(current), nil
	}
	if err != nil {
		return *scan, nil, err
	}

	s.notify.transitioned(ctx, transitionNote{
		ticket:     updated,
		from:       ticket.State,
		operatorID: op.ID,
		gate:       req.Gate,
	})

	return *scan, verdict(models.OutcomeSuccess, "checked in", updated), nil
}

func (s *CheckInService) getByCode(ctx context.Context, code string) (*models.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	ticket, err := s.tickets.GetByCode(storeCtx, code)
	return ticket, transient("get ticket by code", err)
}

func (s *CheckInService) getByID(ctx context.Context, id string) (*models.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	ticket, err := s.tickets.GetByID(storeCtx, id)
	return ticket, transient("get ticket by id", err)
}

func (s *CheckInService) compareAndSwap(ctx context.Context, id string, expected, next models.TicketState, meta repository.TransitionMeta) (*models.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	ticket, err := s.tickets.CompareAndSwapState(storeCtx, id, expected, next, meta)
	return ticket, transient("check in", err)
}

func verdict(outcome models.CheckInOutcome, message string, ticket *models.Ticket) *models.CheckInResult {
	return &models.CheckInResult{Outcome: outcome, Message: message, Ticket: ticket}
}

// stateVerdict answers a scan of a ticket that is not valid
func stateVerdict(ticket *models.Ticket) *models.CheckInResult {
	switch ticket.State {
	case models.TicketUsed:
		message := "ticket already used"
		if ticket.CheckedInAt != nil {
			message = fmt.Sprintf("ticket already used at %s", ticket.CheckedInAt.UTC().Format(time.RFC3339))
		}
		return verdict(models.OutcomeAlreadyUsed, message, ticket)
	case models.TicketValid:
		// only reachable when a conflicting writer left it valid again
		return verdict(models.OutcomeInvalid, "ticket state changed during scan", ticket)
	default:
		return verdict(models.OutcomeInvalid, fmt.Sprintf("ticket is %s", ticket.State), ticket)
	}
}
