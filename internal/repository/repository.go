package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/database"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// TransitionMeta travels with a state swap and commits with it
type TransitionMeta struct {
	CheckedInAt *time.Time
	Deltas      []aggregate.Delta
}

// TicketStore is the only writer of ticket state.
//
// CompareAndSwapState is linearizable per ticket: of several callers racing
// from the same expected state exactly one succeeds, the rest receive
// ErrConflictStateChanged. The aggregate deltas in meta commit in the same
// unit as the swap or not at all.
type TicketStore interface {
	Create(ctx context.Context, ticket *models.Ticket, deltas []aggregate.Delta) error
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	GetByCode(ctx context.Context, code string) (*models.Ticket, error)
	CompareAndSwapState(ctx context.Context, id string, expected, next models.TicketState, meta TransitionMeta) (*models.Ticket, error)
	ListByEvent(ctx context.Context, eventID string, filter models.TicketFilter) (*models.TicketPage, error)
}

// RecountFunc rebuilds agg from the full ticket list of its event
type RecountFunc func(agg *models.EventAggregate, tickets []models.Ticket)

// AggregateStore owns the per-event counters
type AggregateStore interface {
	CreateEvent(ctx context.Context, agg *models.EventAggregate) error
	GetAggregate(ctx context.Context, eventID string) (*models.EventAggregate, error)
	ListEventIDs(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, eventID string, recount RecountFunc) (*models.EventAggregate, error)
}

type Repositories struct {
	Tickets    TicketStore
	Aggregates AggregateStore
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Tickets:    NewTicketRepository(db),
		Aggregates: NewAggregateRepository(db),
	}
}

func NewMemoryRepositories() *Repositories {
	store := NewMemoryStore()
	return &Repositories{
		Tickets:    store,
		Aggregates: store,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

var domainErrors = []error{
	apperrors.ErrNotFound,
	apperrors.ErrConflictStateChanged,
	apperrors.ErrDuplicateCode,
	apperrors.ErrCapacityExceeded,
	apperrors.ErrAggregateInvariant,
	apperrors.ErrEventNotFound,
	apperrors.ErrEventExists,
	apperrors.ErrTransientStore,
}

const eventsPrimaryKey = "event_aggregates_pkey"

// storeError maps driver errors onto the store's error vocabulary
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}

	for _, domainErr := range domainErrors {
		if errors.Is(err, domainErr) {
			return err
		}
	}

	switch {
	case database.IsUniqueViolation(err, eventsPrimaryKey):
		return apperrors.ErrEventExists
	case database.IsUniqueViolation(err, ""):
		return apperrors.ErrDuplicateCode
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return apperrors.ErrEventNotFound
		case "22P02":
			return apperrors.ErrNotFound
		}
	}

	if database.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrTransientStore, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
