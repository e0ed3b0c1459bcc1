package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ticketgate/internal/logger"
	"ticketgate/internal/models"
)

const (
	writeWait      = 5 * time.Second
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// StreamUpdates - GET /api/events/:eventId/updates (WebSocket)
// Every connection starts with a snapshot, so a reconnecting dashboard
// resyncs before it sees further updates.
func (h *Handlers) StreamUpdates(c *gin.Context) {
	eventID := c.Param("eventId")
	ctx := c.Request.Context()
	log := logger.WithContext(ctx).With("event_id", eventID)

	// Subscribe before reading the snapshot so nothing committed in between
	// is missed
	sub, err := h.hub.Subscribe(eventID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}
	defer sub.Close()

	snapshot, err := h.services.Events.Snapshot(ctx, eventID)
	if err != nil {
		h.handleServiceError(c, "load snapshot", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("Error upgrading connection", "error", err)
		return
	}
	defer conn.Close()

	log.Info("Dashboard connected",
		"subscription_id", sub.ID, "subscribers", h.hub.SubscriberCount(eventID))

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Dashboards only listen; reading is needed for pongs and close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first := models.LiveUpdate{
		Type:      models.UpdateSnapshot,
		EventID:   eventID,
		Payload:   snapshot,
		Timestamp: time.Now().UTC(),
	}
	if err := writeUpdate(conn, first); err != nil {
		log.Warn("Failed to send snapshot", "error", err)
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	// Counters not newer than what the dashboard already has are skipped
	seen := snapshot.Version

	for {
		select {
		case update, ok := <-sub.Updates():
			if !ok {
				reason := "server shutting down"
				code := websocket.CloseGoingAway
				if sub.Evicted() {
					reason = "too slow, reconnect to resync"
					code = websocket.CloseTryAgainLater
				}
				log.Info("Closing dashboard stream", "reason", reason)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(writeWait))
				return
			}
			if counters, ok := update.Payload.(*models.Snapshot); ok {
				if counters.Version <= seen {
					continue
				}
				seen = counters.Version
			}
			if err := writeUpdate(conn, update); err != nil {
				log.Debug("Dashboard write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("Dashboard ping failed", "error", err)
				return
			}

		case <-done:
			log.Info("Dashboard disconnected", "subscription_id", sub.ID)
			return
		}
	}
}

func writeUpdate(conn *websocket.Conn, update models.LiveUpdate) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(update)
}
