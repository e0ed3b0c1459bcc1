// Package live fans committed check-ins and counter changes out to dashboard
// subscribers.
package live

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
)

var ErrHubClosed = errors.New("live hub closed")

const DefaultBufferSize = 64

// Subscription is one dashboard connection's feed. The channel returned by
// Updates is closed when the subscriber is evicted, unsubscribes, or the hub
// shuts down.
type Subscription struct {
	ID      string
	EventID string

	updates chan models.LiveUpdate
	hub     *Hub
	evicted atomic.Bool
}

func (s *Subscription) Updates() <-chan models.LiveUpdate {
	return s.updates
}

// Evicted reports whether the hub dropped this subscriber for falling behind
func (s *Subscription) Evicted() bool {
	return s.evicted.Load()
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub keeps per-event subscriber sets. Publish never blocks: a subscriber
// whose buffer is full is evicted instead of slowing the check-in path.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[string]*Subscription
	bufferSize int
	closed     bool
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[string]map[string]*Subscription),
		bufferSize: bufferSize,
	}
}

func (h *Hub) Subscribe(eventID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		EventID: eventID,
		updates: make(chan models.LiveUpdate, h.bufferSize),
		hub:     h,
	}

	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[string]*Subscription)
	}
	h.subs[eventID][sub.ID] = sub
	metrics.LiveSubscribers.Inc()

	slog.Debug("Live subscriber added", "event_id", eventID, "subscription_id", sub.ID)
	return sub, nil
}

// Publish hands update to every subscriber of its event and returns how many
// accepted it.
func (h *Hub) Publish(update models.LiveUpdate) int {
	var delivered int
	var lagging []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs[update.EventID] {
		select {
		case sub.updates <- update:
			delivered++
		default:
			lagging = append(lagging, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagging {
		sub.evicted.Store(true)
		h.remove(sub)
		metrics.LiveDropped.WithLabelValues("evicted").Inc()
		slog.Warn("Evicted slow live subscriber",
			"event_id", sub.EventID, "subscription_id", sub.ID)
	}

	return delivered
}

func (h *Hub) SubscriberCount(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[eventID])
}

// remove closes the subscription channel once; channels are only closed under
// the write lock so Publish never sends on a closed channel.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.EventID]
	if !ok {
		return
	}
	if _, ok := set[sub.ID]; !ok {
		return
	}

	delete(set, sub.ID)
	if len(set) == 0 {
		delete(h.subs, sub.EventID)
	}
	close(sub.updates)
	metrics.LiveSubscribers.Dec()
}

// Close ends every subscription and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for eventID, set := range h.subs {
		for _, sub := range set {
			close(sub.updates)
			metrics.LiveSubscribers.Dec()
		}
		delete(h.subs, eventID)
	}
}
