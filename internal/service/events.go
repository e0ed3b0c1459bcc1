package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/cache"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/logger"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
)

type EventService struct {
	aggregates   repository.AggregateStore
	cache        SnapshotCache
	policy       aggregate.RefundPolicy
	storeTimeout time.Duration
	now          func() time.Time
}

func (s *EventService) CreateEvent(ctx context.Context, req *models.CreateEventRequest) (*models.EventAggregate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidRequest)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", apperrors.ErrInvalidRequest)
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.New().String()
	}

	agg := &models.EventAggregate{
		EventID:  eventID,
		Name:     name,
		Capacity: req.Capacity,
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.aggregates.CreateEvent(storeCtx, agg); err != nil {
		return nil, transient("create event", err)
	}

	logger.WithContext(ctx).Info("Event created",
		"event_id", agg.EventID, "capacity", agg.Capacity)

	return agg, nil
}

// Snapshot serves the dashboard read model, through the cache when one is
// configured
func (s *EventService) Snapshot(ctx context.Context, eventID string) (*models.Snapshot, error) {
	if s.cache != nil {
		cached, err := s.cache.GetSnapshot(ctx, eventID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			logger.WithContext(ctx).Warn("Snapshot cache unavailable", "error", err, "event_id", eventID)
		}
	}

	snapshot, err := s.readSnapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, snapshot)
	return snapshot, nil
}

func (s *EventService) readSnapshot(ctx context.Context, eventID string) (*models.Snapshot, error) {
	agg, err := s.getAggregate(ctx, eventID)
	if err != nil {
		return nil, err
	}

	snapshot := aggregate.Snapshot(agg, s.now())
	return &snapshot, nil
}

// cacheSnapshot hands snapshot to the cache, which keeps whichever of the
// cached and the given snapshot has the higher version. A read that raced a
// commit therefore cannot overwrite the counters written after it.
func (s *EventService) cacheSnapshot(ctx context.Context, snapshot *models.Snapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSnapshot(ctx, snapshot); err != nil {
		logger.WithContext(ctx).Warn("Failed to cache snapshot", "error", err, "event_id", snapshot.EventID)
	}
}

func (s *EventService) invalidate(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSnapshot(ctx, eventID); err != nil {
		logger.WithContext(ctx).Warn("Failed to invalidate snapshot", "error", err, "event_id", eventID)
	}
}

// Reconcile rebuilds the counters of one event from its tickets
func (s *EventService) Reconcile(ctx context.Context, eventID string) (*models.EventAggregate, error) {
	before, err := s.getAggregate(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// Recount reads every ticket of the event, so it gets a wider budget
	storeCtx, cancel := withStoreTimeout(ctx, 10*s.storeTimeout)
	defer cancel()

	after, err := s.aggregates.Reconcile(storeCtx, eventID, s.policy.Recount)
	if err != nil {
		return nil, transient("reconcile", err)
	}

	snapshot := aggregate.Snapshot(after, s.now())
	s.cacheSnapshot(ctx, &snapshot)

	if before.SoldCount != after.SoldCount ||
		before.CheckedInCount != after.CheckedInCount ||
		!before.Revenue.Equal(after.Revenue) {
		logger.WithContext(ctx).Warn("Aggregate drift corrected",
			"event_id", eventID,
			"sold_before", before.SoldCount, "sold_after", after.SoldCount,
			"checked_in_before", before.CheckedInCount, "checked_in_after", after.CheckedInCount,
			"revenue_before", before.Revenue.String(), "revenue_after", after.Revenue.String())
	}

	return after, nil
}

// ReconcileAll reconciles every known event and stops at the first error
func (s *EventService) ReconcileAll(ctx context.Context) ([]*models.EventAggregate, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	ids, err := s.aggregates.ListEventIDs(storeCtx)
	cancel()
	if err != nil {
		return nil, transient("list events", err)
	}

	results := make([]*models.EventAggregate, 0, len(ids))
	for _, id := range ids {
		agg, err := s.Reconcile(ctx, id)
		if err != nil {
			return results, fmt.Errorf("event %s: %w", id, err)
		}
		results = append(results, agg)
	}

	return results, nil
}

func (s *EventService) getAggregate(ctx context.Context, eventID string) (*models.EventAggregate, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	agg, err := s.aggregates.GetAggregate(storeCtx, eventID)
	if err != nil {
		return nil, transient("get aggregate", err)
	}
	return agg, nil
}
