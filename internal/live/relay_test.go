package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/models"
)

func TestRelayListenResubscribesAfterDrop(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()
	sub, err := hub.Subscribe("evt-1")
	require.NoError(t, err)

	var calls atomic.Int32
	r := &Relay{hub: hub, minBackoff: time.Millisecond, maxBackoff: 5 * time.Millisecond}
	r.receive = func(ctx context.Context, fn func(rueidis.PubSubMessage)) error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset by peer")
		}
		fn(rueidis.PubSubMessage{
			Channel: channelFor("evt-1"),
			Message: `{"type":"counter_update","payload":{"event_id":"evt-1","sold":2,"version":7}}`,
		})
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Listen(ctx)
		close(done)
	}()

	select {
	case got := <-sub.Updates():
		snapshot, ok := got.Payload.(*models.Snapshot)
		require.True(t, ok)
		assert.Equal(t, int64(7), snapshot.Version)
		assert.Equal(t, int64(2), snapshot.Sold)
	case <-time.After(time.Second):
		t.Fatal("relay did not resubscribe")
	}
	assert.Equal(t, int32(2), calls.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen kept running after cancel")
	}
}

func TestRelayListenStopsWhileBackingOff(t *testing.T) {
	r := &Relay{hub: NewHub(1), minBackoff: time.Hour, maxBackoff: time.Hour}
	defer r.hub.Close()

	failed := make(chan struct{}, 1)
	r.receive = func(context.Context, func(rueidis.PubSubMessage)) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("no route to host")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Listen(ctx)
		close(done)
	}()

	<-failed
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen ignored cancel during backoff")
	}
}

func TestRelayCodecKeepsOtherPayloadsGeneric(t *testing.T) {
	message, err := encodeUpdate(models.LiveUpdate{
		Type:    models.UpdateCheckInSuccess,
		EventID: "evt-1",
		Payload: models.CheckInSuccessPayload{TicketCode: "CODE-1", Gate: "north"},
	})
	require.NoError(t, err)

	got, err := decodeUpdate(channelFor("evt-1"), message)
	require.NoError(t, err)
	payload, ok := got.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "CODE-1", payload["ticket_code"])
}
