package service

import (
	"context"
	"sync"
	"time"

	"ticketgate/internal/logger"
	"ticketgate/internal/messaging"
	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
)

const (
	defaultNotifyQueueSize = 8192
	defaultNotifyTimeout   = 5 * time.Second
)

var transitionSubjects = map[models.TicketState]string{
	models.TicketValid:     models.EventTicketConfirmed,
	models.TicketUsed:      models.EventTicketCheckedIn,
	models.TicketCancelled: models.EventTicketCancelled,
	models.TicketRefunded:  models.EventTicketRefunded,
}

// notifier runs the side effects of a ticket change that already committed.
// Callers only enqueue; a single worker refreshes the snapshot cache, pushes
// counter updates and publishes to NATS. Nothing here can fail the caller.
type notifier struct {
	events    *EventService
	publisher messaging.Publisher
	live      LiveDispatcher
	now       func() time.Time
	timeout   time.Duration

	queue chan transitionNote
	// highest snapshot version pushed per event; owned by the worker
	pushed map[string]int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// transitionNote describes one committed change. An empty from means the
// ticket was just issued.
type transitionNote struct {
	ctx             context.Context
	ticket          *models.Ticket
	from            models.TicketState
	operatorID      string
	reason          string
	gate            string
	countersChanged bool
}

func newNotifier(events *EventService, publisher messaging.Publisher, live LiveDispatcher, now func() time.Time, queueSize int) *notifier {
	if queueSize <= 0 {
		queueSize = defaultNotifyQueueSize
	}
	n := &notifier{
		events:    events,
		publisher: publisher,
		live:      live,
		now:       now,
		timeout:   defaultNotifyTimeout,
		queue:     make(chan transitionNote, queueSize),
		pushed:    make(map[string]int64),
	}

	n.wg.Add(1)
	go n.run()

	return n
}

func (n *notifier) transitioned(ctx context.Context, note transitionNote) {
	ticket := note.ticket
	metrics.Transitions.WithLabelValues(string(note.from), string(ticket.State)).Inc()

	// The dispatcher queue never blocks, so the scanner event goes out
	// ahead of the counters
	if ticket.State == models.TicketUsed && n.live != nil {
		checkedInAt := n.now()
		if ticket.CheckedInAt != nil {
			checkedInAt = *ticket.CheckedInAt
		}
		n.live.Enqueue(models.LiveUpdate{
			Type:    models.UpdateCheckInSuccess,
			EventID: ticket.EventID,
			Payload: models.CheckInSuccessPayload{
				TicketID:    ticket.ID,
				TicketCode:  ticket.TicketCode,
				TicketType:  ticket.TicketType,
				Gate:        note.gate,
				CheckedInAt: checkedInAt,
			},
			Timestamp: n.now(),
		})
	}

	note.countersChanged = true
	n.enqueue(ctx, note)
}

func (n *notifier) issued(ctx context.Context, ticket *models.Ticket, operatorID string, countersChanged bool) {
	n.enqueue(ctx, transitionNote{
		ticket:          ticket,
		operatorID:      operatorID,
		countersChanged: countersChanged,
	})
}

func (n *notifier) enqueue(ctx context.Context, note transitionNote) {
	// Keeps request-scoped log fields; the client may already be gone
	note.ctx = context.WithoutCancel(ctx)

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		logger.WithContext(ctx).Warn("Notifier closed, dropping ticket change",
			"ticket_id", note.ticket.ID, "event_id", note.ticket.EventID)
		return
	}

	select {
	case n.queue <- note:
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		logger.WithContext(ctx).Error("Notify queue full, dropping ticket change",
			"ticket_id", note.ticket.ID, "event_id", note.ticket.EventID, "state", note.ticket.State)
	}
}

func (n *notifier) run() {
	defer n.wg.Done()

	for note := range n.queue {
		n.handle(note)
	}
}

func (n *notifier) handle(note transitionNote) {
	ctx, cancel := context.WithTimeout(note.ctx, n.timeout)
	defer cancel()

	ticket := note.ticket

	if note.countersChanged {
		n.countersChanged(ctx, ticket.EventID)
	}

	subject := models.EventTicketIssued
	if note.from != "" {
		var ok bool
		if subject, ok = transitionSubjects[ticket.State]; !ok {
			return
		}
	}

	event := models.TicketTransitionEvent{
		TicketID:   ticket.ID,
		EventID:    ticket.EventID,
		TicketCode: ticket.TicketCode,
		From:       note.from,
		To:         ticket.State,
		Price:      ticket.Price,
		OperatorID: note.operatorID,
		Reason:     note.reason,
		Timestamp:  n.now(),
	}
	if err := n.publisher.Publish(subject, event); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		logger.WithContext(ctx).Error("Failed to publish ticket change",
			"error", err, "ticket_id", ticket.ID, "subject", subject)
		return
	}
	metrics.Notifications.WithLabelValues("published").Inc()
}

// countersChanged stores a fresh snapshot in the cache and pushes it to
// dashboards. The snapshot carries the aggregate version, so neither the
// cache nor a dashboard goes back to older counters.
func (n *notifier) countersChanged(ctx context.Context, eventID string) {
	snapshot, err := n.events.readSnapshot(ctx, eventID)
	if err != nil {
		logger.WithContext(ctx).Warn("Failed to read counters after commit",
			"error", err, "event_id", eventID)
		n.events.invalidate(ctx, eventID)
		return
	}

	n.events.cacheSnapshot(ctx, snapshot)

	if n.live == nil || snapshot.Version <= n.pushed[eventID] {
		return
	}
	n.pushed[eventID] = snapshot.Version
	n.live.Enqueue(models.LiveUpdate{
		Type:      models.UpdateCounter,
		EventID:   eventID,
		Payload:   snapshot,
		Timestamp: n.now(),
	})
}

// close handles what is already queued, then stops the worker
func (n *notifier) close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	n.wg.Wait()
}
