package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/stan.go"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/config"
	"ticketgate/internal/database"
	"ticketgate/internal/live"
	"ticketgate/internal/messaging"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
	"ticketgate/internal/service"
)

const queueGroup = "ticketgate-consumers"

type ConsumerService struct {
	db         *database.DB
	nats       *messaging.NATSClient
	relay      *live.Relay
	dispatcher *live.Dispatcher
	services   *service.Services
	handlers   *Handlers
	subs       []stan.Subscription
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	cs := &ConsumerService{}

	var repos *repository.Repositories
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("Consumers running against the in-memory store")
		repos = repository.NewMemoryRepositories()
	} else {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		cs.db = db
		repos = repository.NewRepositories(db)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		cs.Shutdown(context.Background())
		return nil, err
	}
	cs.nats = natsClient

	deps := service.Dependencies{
		Repos:     repos,
		Publisher: natsClient,
	}

	// Payment confirmations move counters; dashboards on API replicas hear
	// about it through the relay
	if cfg.Live.RelayEnabled {
		relay, err := live.NewRelay(cfg.Live.RelayAddr, cfg.Cache.Password, nil)
		if err != nil {
			cs.Shutdown(context.Background())
			return nil, err
		}
		cs.relay = relay
		cs.dispatcher = live.NewDispatcher(relay, cfg.Live.QueueSize)
		deps.Live = cs.dispatcher
	}

	cs.services = service.NewServices(deps, service.Options{
		StoreTimeout:    cfg.StoreTimeout,
		RefundPolicy:    aggregate.RefundPolicy{RetainAttendance: cfg.RefundRetainAttendance},
		NotifyQueueSize: cfg.NotifyQueueSize,
	})

	cs.handlers = NewHandlers(cs.services.Tickets, cfg.RequestTimeout)
	return cs, nil
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	routes := map[string]func(context.Context, []byte) error{
		models.EventPaymentCompleted: cs.handlers.PaymentCompleted,
		models.EventPaymentFailed:    cs.handlers.PaymentFailed,
	}

	for subject, handle := range routes {
		sub, err := cs.nats.SubscribeQueue(subject, queueGroup, cs.handlers.MessageHandler(subject, handle))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cs.subs = append(cs.subs, sub)
	}

	slog.Info("All consumers started successfully")
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	for _, sub := range cs.subs {
		// Close keeps the durable position, Unsubscribe would drop it
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}

	if cs.services != nil {
		cs.services.Close()
	}
	if cs.dispatcher != nil {
		cs.dispatcher.Close()
	}
	if cs.relay != nil {
		cs.relay.Close()
	}

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
