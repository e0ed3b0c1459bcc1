package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/cache"
	"ticketgate/internal/config"
	"ticketgate/internal/database"
	"ticketgate/internal/handlers"
	"ticketgate/internal/live"
	"ticketgate/internal/messaging"
	"ticketgate/internal/metrics"
	"ticketgate/internal/middleware"
	"ticketgate/internal/repository"
	"ticketgate/internal/search"
	"ticketgate/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	cache    *cache.ValkeyClient
	audit    *search.Recorder
	attempts *search.ElasticsearchClient
	hub      *live.Hub
	dispatch *live.Dispatcher
	relay    *live.Relay
	stopLive context.CancelFunc
	services *service.Services
}

// NewServer создает сервер и подключает включенные зависимости
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	s := &Server{config: cfg}

	if err := s.connect(); err != nil {
		_ = s.Cleanup()
		return nil, err
	}

	s.router = gin.New()
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.CORS(cfg.CORSOrigins))
	s.router.Use(middleware.Logger())
	s.router.Use(metrics.PrometheusMiddleware())

	s.setupRoutes()

	return s, nil
}

func (s *Server) connect() error {
	cfg := s.config

	var repos *repository.Repositories
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		slog.Warn("Using in-memory ticket store, data is lost on restart")
		repos = repository.NewMemoryRepositories()
	case config.StoreBackendPostgres:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		if err := db.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		repos = repository.NewRepositories(db)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	deps := service.Dependencies{Repos: repos}

	if cfg.NATS.Enabled {
		natsClient, err := messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			return err
		}
		s.nats = natsClient
		deps.Publisher = natsClient
	}

	if cfg.CacheEnabled {
		valkeyClient, err := cache.NewValkeyClient(cfg.Cache)
		if err != nil {
			return err
		}
		s.cache = valkeyClient
		deps.Cache = valkeyClient
	}

	if cfg.Audit.Enabled {
		es, err := search.NewElasticsearchClient(cfg.Audit)
		if err != nil {
			return err
		}
		s.attempts = es
		s.audit = search.NewRecorder(es, cfg.Audit.QueueSize, cfg.Audit.Timeout)
		deps.Audit = s.audit
	}

	s.hub = live.NewHub(cfg.Live.BufferSize)

	var sink live.Sink = live.HubSink{Hub: s.hub}
	if cfg.Live.RelayEnabled {
		relay, err := live.NewRelay(cfg.Live.RelayAddr, cfg.Cache.Password, s.hub)
		if err != nil {
			return err
		}
		s.relay = relay
		sink = relay

		ctx, cancel := context.WithCancel(context.Background())
		s.stopLive = cancel
		go relay.Listen(ctx)
	}
	s.dispatch = live.NewDispatcher(sink, cfg.Live.QueueSize)
	deps.Live = s.dispatch

	s.services = service.NewServices(deps, service.Options{
		StoreTimeout:    cfg.StoreTimeout,
		RefundPolicy:    aggregate.RefundPolicy{RetainAttendance: cfg.RefundRetainAttendance},
		NotifyQueueSize: cfg.NotifyQueueSize,
	})

	return nil
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	var attempts handlers.AttemptSearcher
	if s.attempts != nil {
		attempts = s.attempts
	}
	h := handlers.NewHandlers(s.services, s.hub, attempts, s.config.Live.PingInterval)

	if s.config.Auth.JWTSecret == "" {
		slog.Warn("JWT_SECRET is empty, operator authentication is disabled")
	}

	managers := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOrganizer)
	anyone := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOrganizer, middleware.RoleStaff)

	api := s.router.Group("/api")
	api.Use(middleware.JWTAuth([]byte(s.config.Auth.JWTSecret), s.config.Auth.Issuer))
	{
		api.POST("/checkins/validate", anyone, h.ValidateCheckIn)

		events := api.Group("/events")
		{
			events.POST("", managers, h.CreateEvent)
			events.GET("/:eventId/snapshot", anyone, h.GetSnapshot)
			events.GET("/:eventId/updates", anyone, h.StreamUpdates)
			events.GET("/:eventId/tickets", managers, h.ListEventTickets)
			events.GET("/:eventId/checkins", managers, h.SearchCheckIns)
			events.POST("/:eventId/reconcile", middleware.RequireRole(middleware.RoleAdmin), h.ReconcileEvent)
		}

		tickets := api.Group("/tickets")
		{
			tickets.POST("", managers, h.IssueTicket)
			tickets.GET("/:code", managers, h.GetTicket)
			tickets.PATCH("/:id/confirm", managers, h.ConfirmTicket)
			tickets.PATCH("/:id/cancel", managers, h.CancelTicket)
			tickets.PATCH("/:id/refund", managers, h.RefundTicket)
		}
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "ticketgate-api",
		"store":   s.config.StoreBackend,
	}

	if s.db != nil {
		health := s.db.HealthCheck(c.Request.Context())
		body["database"] = health
		if health.Status != "healthy" {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	c.JSON(http.StatusOK, body)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Services exposes the domain services, e.g. for seeding in tests
func (s *Server) Services() *service.Services {
	return s.services
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	// Pending notifications still need the dispatcher, cache and NATS
	if s.services != nil {
		s.services.Close()
	}
	if s.dispatch != nil {
		s.dispatch.Close()
	}
	if s.stopLive != nil {
		s.stopLive()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	// Ends open dashboard streams; hijacked connections outlive http.Server.Shutdown
	if s.hub != nil {
		s.hub.Close()
	}
	if s.audit != nil {
		s.audit.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("Error closing Valkey connection", "error", err)
		}
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
