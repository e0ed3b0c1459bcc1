package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
)

// AttemptIndexer persists one audit entry
type AttemptIndexer interface {
	IndexAttempt(ctx context.Context, attempt *models.CheckInAttempt) error
}

// Recorder ships check-in attempts to the audit index off the request path.
// Record never blocks; entries beyond the queue size are dropped and logged.
type Recorder struct {
	indexer AttemptIndexer
	queue   chan models.CheckInAttempt
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewRecorder(indexer AttemptIndexer, queueSize int, timeout time.Duration) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		indexer: indexer,
		queue:   make(chan models.CheckInAttempt, queueSize),
		timeout: timeout,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

func (r *Recorder) Record(attempt models.CheckInAttempt) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- attempt:
	default:
		metrics.AuditRecords.WithLabelValues("dropped").Inc()
		slog.Warn("Audit queue full, dropping check-in attempt",
			"ticket_code", attempt.TicketCode, "outcome", attempt.Outcome)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for attempt := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.indexer.IndexAttempt(ctx, &attempt)
		cancel()

		if err != nil {
			metrics.AuditRecords.WithLabelValues("failed").Inc()
			slog.Error("Failed to index check-in attempt", "attempt_id", attempt.ID, "error", err)
			continue
		}
		metrics.AuditRecords.WithLabelValues("indexed").Inc()
	}
}

// Close drains queued attempts and stops the worker
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// LogRecorder writes attempts to the structured log only
type LogRecorder struct{}

func (LogRecorder) Record(attempt models.CheckInAttempt) {
	slog.Info("Check-in attempt",
		"attempt_id", attempt.ID,
		"ticket_code", attempt.TicketCode,
		"event_id", attempt.EventID,
		"operator_id", attempt.OperatorID,
		"gate", attempt.Gate,
		"outcome", attempt.Outcome,
		"latency_ms", attempt.LatencyMs)
}
