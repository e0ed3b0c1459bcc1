package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *fakePublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// blockingPublisher holds every publish until release is closed
type blockingPublisher struct {
	release chan struct{}
}

func (p blockingPublisher) Publish(string, any) error {
	<-p.release
	return nil
}

type fakeAudit struct {
	mu       sync.Mutex
	attempts []models.CheckInAttempt
}

func (a *fakeAudit) Record(attempt models.CheckInAttempt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, attempt)
}

func (a *fakeAudit) outcomes() []models.CheckInOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.CheckInOutcome, len(a.attempts))
	for i, at := range a.attempts {
		out[i] = at.Outcome
	}
	return out
}

type fakeLive struct {
	mu      sync.Mutex
	updates []models.LiveUpdate
}

func (l *fakeLive) Enqueue(update models.LiveUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, update)
	return true
}

func (l *fakeLive) counters() []*models.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Snapshot
	for _, u := range l.updates {
		if s, ok := u.Payload.(*models.Snapshot); ok {
			out = append(out, s)
		}
	}
	return out
}

func (l *fakeLive) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.updates))
	for i, u := range l.updates {
		out[i] = u.Type
	}
	return out
}

type fixture struct {
	services  *Services
	store     *repository.MemoryStore
	publisher *fakePublisher
	audit     *fakeAudit
	live      *fakeLive
}

func newFixture(t *testing.T, policy aggregate.RefundPolicy) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	f := &fixture{
		store:     store,
		publisher: &fakePublisher{},
		audit:     &fakeAudit{},
		live:      &fakeLive{},
	}

	f.services = NewServices(Dependencies{
		Repos:     &repository.Repositories{Tickets: store, Aggregates: store},
		Publisher: f.publisher,
		Audit:     f.audit,
		Live:      f.live,
	}, Options{
		StoreTimeout: time.Second,
		RefundPolicy: policy,
	})
	t.Cleanup(f.services.Close)

	return f
}

func (f *fixture) event(t *testing.T, eventID string, capacity int64) {
	t.Helper()
	_, err := f.services.Events.CreateEvent(context.Background(), &models.CreateEventRequest{
		EventID:  eventID,
		Name:     "Event " + eventID,
		Capacity: capacity,
	})
	require.NoError(t, err)
}

func (f *fixture) ticket(t *testing.T, eventID, code string, paid bool) *models.Ticket {
	t.Helper()
	ticket, err := f.services.Tickets.Issue(context.Background(), &models.IssueTicketRequest{
		EventID:    eventID,
		TicketCode: code,
		TicketType: models.TicketRegular,
		Price:      decimal.NewFromInt(25),
		Paid:       models.FlexibleBool(paid),
	}, Operator{ID: "organizer-1", Role: "organizer"})
	require.NoError(t, err)
	return ticket
}

func scan(code, eventID string) *models.ValidateCheckInRequest {
	return &models.ValidateCheckInRequest{Payload: code, EventID: eventID, Gate: "north"}
}

var staff = Operator{ID: "staff-1", Role: "staff"}
