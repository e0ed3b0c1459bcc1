package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"ticketgate/internal/metrics"
	"ticketgate/internal/models"
)

const (
	channelPrefix = "ticketgate:live:"

	minRelayBackoff = 100 * time.Millisecond
	maxRelayBackoff = 10 * time.Second
)

func channelFor(eventID string) string {
	return channelPrefix + eventID
}

// Relay carries live updates between replicas over Valkey pub/sub. Every
// replica publishes through it and runs Listen to feed its own hub.
type Relay struct {
	client rueidis.Client
	hub    *Hub

	// receive holds the subscription open until it fails or ctx ends
	receive    func(ctx context.Context, fn func(rueidis.PubSubMessage)) error
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRelay(addr, password string, hub *Hub) (*Relay, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect live relay: %w", err)
	}

	r := &Relay{
		client:     client,
		hub:        hub,
		minBackoff: minRelayBackoff,
		maxBackoff: maxRelayBackoff,
	}
	r.receive = func(ctx context.Context, fn func(rueidis.PubSubMessage)) error {
		cmd := client.B().Psubscribe().Pattern(channelPrefix + "*").Build()
		return client.Receive(ctx, cmd, fn)
	}
	return r, nil
}

func encodeUpdate(update models.LiveUpdate) (string, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return "", fmt.Errorf("failed to marshal live update: %w", err)
	}
	return string(payload), nil
}

// decodeUpdate restores counter payloads as *models.Snapshot, the type the
// local dispatcher delivers, so subscribers can compare versions
func decodeUpdate(channel, message string) (models.LiveUpdate, error) {
	var wire struct {
		Type      string          `json:"type"`
		EventID   string          `json:"event_id"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(message), &wire); err != nil {
		return models.LiveUpdate{}, fmt.Errorf("failed to decode live update: %w", err)
	}

	update := models.LiveUpdate{
		Type:      wire.Type,
		EventID:   wire.EventID,
		Timestamp: wire.Timestamp,
	}
	if update.EventID == "" {
		update.EventID = strings.TrimPrefix(channel, channelPrefix)
	}

	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		switch wire.Type {
		case models.UpdateCounter, models.UpdateSnapshot:
			var snapshot models.Snapshot
			if err := json.Unmarshal(wire.Payload, &snapshot); err != nil {
				return update, fmt.Errorf("failed to decode %s payload: %w", wire.Type, err)
			}
			update.Payload = &snapshot
		default:
			var payload any
			if err := json.Unmarshal(wire.Payload, &payload); err != nil {
				return update, fmt.Errorf("failed to decode %s payload: %w", wire.Type, err)
			}
			update.Payload = payload
		}
	}
	return update, nil
}

func (r *Relay) Deliver(ctx context.Context, update models.LiveUpdate) error {
	message, err := encodeUpdate(update)
	if err != nil {
		return err
	}

	cmd := r.client.B().Publish().Channel(channelFor(update.EventID)).Message(message).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to publish live update: %w", err)
	}
	return nil
}

// Listen forwards relayed updates to the local hub until ctx ends. A dropped
// subscription is opened again with exponential backoff.
func (r *Relay) Listen(ctx context.Context) {
	backoff := r.minBackoff

	for {
		slog.Info("Live relay listening", "pattern", channelPrefix+"*")

		started := time.Now()
		err := r.receive(ctx, r.forward)
		if ctx.Err() != nil {
			return
		}

		// A subscription that held for a while starts over from the
		// shortest wait
		if time.Since(started) > r.maxBackoff {
			backoff = r.minBackoff
		}

		metrics.LiveDropped.WithLabelValues("relay_reconnect").Inc()
		slog.Error("Live relay subscription lost, resubscribing",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, r.maxBackoff)
	}
}

func (r *Relay) forward(msg rueidis.PubSubMessage) {
	update, err := decodeUpdate(msg.Channel, msg.Message)
	if err != nil {
		slog.Warn("Dropping malformed relayed update", "channel", msg.Channel, "error", err)
		return
	}
	r.hub.Publish(update)
}

func (r *Relay) Close() {
	r.client.Close()
}
