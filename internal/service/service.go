package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketgate/internal/aggregate"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/messaging"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
	"ticketgate/internal/search"
)

const DefaultStoreTimeout = 2 * time.Second

// Operator is the authenticated caller of a service operation
type Operator struct {
	ID   string
	Role string
}

// SnapshotCache is a read-through cache for dashboard snapshots. SetSnapshot
// must not replace a cached snapshot of the same or a higher version.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, eventID string) (*models.Snapshot, error)
	SetSnapshot(ctx context.Context, snapshot *models.Snapshot) error
	InvalidateSnapshot(ctx context.Context, eventID string) error
}

// AuditRecorder receives every check-in attempt; Record must not block
type AuditRecorder interface {
	Record(attempt models.CheckInAttempt)
}

// LiveDispatcher queues updates for dashboard subscribers; Enqueue must not
// block
type LiveDispatcher interface {
	Enqueue(update models.LiveUpdate) bool
}

type Dependencies struct {
	Repos     *repository.Repositories
	Publisher messaging.Publisher
	Cache     SnapshotCache
	Audit     AuditRecorder
	Live      LiveDispatcher
}

type Options struct {
	StoreTimeout time.Duration
	RefundPolicy aggregate.RefundPolicy
	Now          func() time.Time
	// NotifyQueueSize bounds the committed changes waiting for their
	// cache refresh, live update and NATS publish
	NotifyQueueSize int
}

type Services struct {
	CheckIns *CheckInService
	Tickets  *TicketService
	Events   *EventService

	notify *notifier
}

func NewServices(deps Dependencies, opts Options) *Services {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NopPublisher{}
	}
	if deps.Audit == nil {
		deps.Audit = search.LogRecorder{}
	}

	events := &EventService{
		aggregates:   deps.Repos.Aggregates,
		cache:        deps.Cache,
		policy:       opts.RefundPolicy,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}

	notify := newNotifier(events, deps.Publisher, deps.Live, opts.Now, opts.NotifyQueueSize)

	return &Services{
		CheckIns: &CheckInService{
			tickets:      deps.Repos.Tickets,
			notify:       notify,
			audit:        deps.Audit,
			policy:       opts.RefundPolicy,
			storeTimeout: opts.StoreTimeout,
			now:          opts.Now,
		},
		Tickets: &TicketService{
			tickets:      deps.Repos.Tickets,
			notify:       notify,
			policy:       opts.RefundPolicy,
			storeTimeout: opts.StoreTimeout,
			now:          opts.Now,
		},
		Events: events,
		notify: notify,
	}
}

// Close finishes the notifications of changes that already committed. Call
// it before closing the live dispatcher and the publisher.
func (s *Services) Close() {
	s.notify.close()
}

// withStoreTimeout bounds a single store call
func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// transient makes sure deadline and cancellation errors that escaped the
// store still read as retryable.
func transient(op string, err error) error {
	if apperrors.IsTransient(err) {
		return err
	}
	if isContextError(err) {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrTransientStore, err)
	}
	return err
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
