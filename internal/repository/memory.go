package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ticketgate/internal/aggregate"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

// MemoryStore keeps tickets and aggregates in process. It implements both
// TicketStore and AggregateStore; a single mutex makes every swap and its
// deltas one atomic step.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
	byCode  map[string]string
	events  map[string]*models.EventAggregate
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[string]*models.Ticket),
		byCode:  make(map[string]string),
		events:  make(map[string]*models.EventAggregate),
		now:     time.Now,
	}
}

func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrTransientStore, err)
	}
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, ticket *models.Ticket, deltas []aggregate.Delta) error {
	if err := checkContext(ctx, "create ticket"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[ticket.TicketCode]; ok {
		return apperrors.ErrDuplicateCode
	}
	if _, ok := s.tickets[ticket.ID]; ok {
		return apperrors.ErrDuplicateCode
	}

	agg, ok := s.events[ticket.EventID]
	if !ok {
		return apperrors.ErrEventNotFound
	}

	next := *agg
	if err := aggregate.Apply(&next, deltas); err != nil {
		return err
	}
	if len(deltas) > 0 {
		next.UpdatedAt = s.now()
		next.Version++
	}

	ticket.Version = 1
	ticket.UpdatedAt = ticket.PurchasedAt
	s.tickets[ticket.ID] = ticket.Clone()
	s.byCode[ticket.TicketCode] = ticket.ID
	*agg = next

	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	if err := checkContext(ctx, "get ticket by id"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return ticket.Clone(), nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*models.Ticket, error) {
	if err := checkContext(ctx, "get ticket by code"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.tickets[id].Clone(), nil
}

func (s *MemoryStore) CompareAndSwapState(ctx context.Context, id string, expected, next models.TicketState, meta TransitionMeta) (*models.Ticket, error) {
	if err := checkContext(ctx, "compare and swap ticket state"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if ticket.State != expected {
		return nil, apperrors.ErrConflictStateChanged
	}

	agg, ok := s.events[ticket.EventID]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}

	now := s.now()
	nextAgg := *agg
	if err := aggregate.Apply(&nextAgg, meta.Deltas); err != nil {
		return nil, err
	}
	if len(meta.Deltas) > 0 {
		nextAgg.UpdatedAt = now
		nextAgg.Version++
	}

	ticket.State = next
	if meta.CheckedInAt != nil {
		ts := *meta.CheckedInAt
		ticket.CheckedInAt = &ts
	}
	ticket.UpdatedAt = now
	ticket.Version++
	*agg = nextAgg

	return ticket.Clone(), nil
}

func (s *MemoryStore) ListByEvent(ctx context.Context, eventID string, filter models.TicketFilter) (*models.TicketPage, error) {
	if err := checkContext(ctx, "list tickets"); err != nil {
		return nil, err
	}

	limit := normalizeLimit(filter.Limit)

	s.mu.RLock()
	matched := make([]models.Ticket, 0)
	for _, t := range s.tickets {
		if t.EventID != eventID {
			continue
		}
		if filter.State != nil && t.State != *filter.State {
			continue
		}
		if filter.Cursor != "" && t.ID <= filter.Cursor {
			continue
		}
		matched = append(matched, *t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	page := &models.TicketPage{Tickets: matched}
	if len(matched) > limit {
		page.Tickets = matched[:limit]
		page.NextCursor = matched[limit-1].ID
	}

	return page, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, agg *models.EventAggregate) error {
	if err := checkContext(ctx, "create event"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[agg.EventID]; ok {
		return apperrors.ErrEventExists
	}

	now := s.now()
	stored := &models.EventAggregate{
		EventID:   agg.EventID,
		Name:      agg.Name,
		Capacity:  agg.Capacity,
		Revenue:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	s.events[agg.EventID] = stored
	*agg = *stored

	return nil
}

func (s *MemoryStore) GetAggregate(ctx context.Context, eventID string) (*models.EventAggregate, error) {
	if err := checkContext(ctx, "get aggregate"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.events[eventID]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}

	copied := *agg
	return &copied, nil
}

func (s *MemoryStore) ListEventIDs(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx, "list events"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, eventID string, recount RecountFunc) (*models.EventAggregate, error) {
	if err := checkContext(ctx, "reconcile aggregate"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.events[eventID]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}

	var tickets []models.Ticket
	for _, t := range s.tickets {
		if t.EventID == eventID {
			tickets = append(tickets, *t)
		}
	}

	recount(agg, tickets)
	agg.UpdatedAt = s.now()
	agg.Version++

	copied := *agg
	return &copied, nil
}
