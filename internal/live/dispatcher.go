package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
)

// Sink is where the dispatcher delivers updates: the local hub, or a relay
// that reaches the hubs of every replica.
type Sink interface {
	Deliver(ctx context.Context, update models.LiveUpdate) error
}

// HubSink delivers straight into a local hub
type HubSink struct {
	Hub *Hub
}

func (s HubSink) Deliver(_ context.Context, update models.LiveUpdate) error {
	s.Hub.Publish(update)
	return nil
}

// Dispatcher decouples the check-in path from delivery. Enqueue never blocks;
// when the queue is full the update is dropped and logged.
type Dispatcher struct {
	sink    Sink
	queue   chan models.LiveUpdate
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 4096
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan models.LiveUpdate, queueSize),
		timeout: 2 * time.Second,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Enqueue reports whether the update was accepted
func (d *Dispatcher) Enqueue(update models.LiveUpdate) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- update:
		return true
	default:
		metrics.LiveDropped.WithLabelValues("queue_full").Inc()
		slog.Warn("Live dispatch queue full, dropping update",
			"event_id", update.EventID, "type", update.Type)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for update := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Deliver(ctx, update); err != nil {
			metrics.LiveDropped.WithLabelValues("delivery_failed").Inc()
			slog.Error("Failed to deliver live update",
				"event_id", update.EventID, "type", update.Type, "error", err)
		}
		cancel()
	}
}

// Close delivers what is already queued, then stops
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
