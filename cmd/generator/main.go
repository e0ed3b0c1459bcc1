package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/config"
	"ticketgate/internal/database"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/logger"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
	"ticketgate/internal/service"
)

type options struct {
	eventID   string
	name      string
	capacity  int64
	tickets   int
	paidRatio float64
	price     string
	workers   int
	dryRun    bool
}

var ticketTypes = []models.TicketType{
	models.TicketEarlyBird,
	models.TicketRegular,
	models.TicketRegular,
	models.TicketRegular,
	models.TicketVIP,
}

var seeder = service.Operator{ID: "generator", Role: "admin"}

func main() {
	var opts options

	flagSet := pflag.NewFlagSet("generator", pflag.ContinueOnError)
	flagSet.StringVar(&opts.eventID, "event", "", "event id to seed (created when missing)")
	flagSet.StringVar(&opts.name, "name", "Load test event", "event name for a new event")
	flagSet.Int64Var(&opts.capacity, "capacity", 10000, "capacity of a new event")
	flagSet.IntVarP(&opts.tickets, "tickets", "n", 1000, "number of tickets to issue")
	flagSet.Float64Var(&opts.paidRatio, "paid-ratio", 0.9, "share of tickets issued as paid (valid), the rest stay pending")
	flagSet.StringVar(&opts.price, "price", "25.00", "base ticket price")
	flagSet.IntVarP(&opts.workers, "workers", "w", 8, "concurrent issuers")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "show what would be generated without making changes")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, opts); err != nil {
		logger.Fatal("Ticket generation failed", "error", err)
	}
}

func run(cfg *config.Config, opts options) error {
	if opts.eventID == "" {
		return errors.New("--event is required")
	}
	if opts.tickets <= 0 || opts.workers <= 0 {
		return errors.New("--tickets and --workers must be positive")
	}
	if opts.paidRatio < 0 || opts.paidRatio > 1 {
		return errors.New("--paid-ratio must be within [0, 1]")
	}
	price, err := decimal.NewFromString(opts.price)
	if err != nil {
		return fmt.Errorf("invalid --price: %w", err)
	}

	if opts.dryRun {
		slog.Info("Dry run: would issue tickets",
			"event_id", opts.eventID,
			"tickets", opts.tickets,
			"paid", int(float64(opts.tickets)*opts.paidRatio),
			"price", price.StringFixed(2))
		return nil
	}

	if cfg.StoreBackend != config.StoreBackendPostgres {
		return fmt.Errorf("generator needs the postgres store, got %q", cfg.StoreBackend)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	services := service.NewServices(service.Dependencies{
		Repos: repository.NewRepositories(db),
	}, service.Options{
		StoreTimeout: cfg.StoreTimeout,
		RefundPolicy: aggregate.RefundPolicy{RetainAttendance: cfg.RefundRetainAttendance},
	})
	defer services.Close()

	ctx := context.Background()

	_, err = services.Events.CreateEvent(ctx, &models.CreateEventRequest{
		EventID:  opts.eventID,
		Name:     opts.name,
		Capacity: opts.capacity,
	})
	switch {
	case err == nil:
		slog.Info("Created event", "event_id", opts.eventID, "capacity", opts.capacity)
	case errors.Is(err, apperrors.ErrEventExists):
		slog.Info("Seeding existing event", "event_id", opts.eventID)
	default:
		return err
	}

	return issue(ctx, services.Tickets, opts, price)
}

func issue(ctx context.Context, tickets *service.TicketService, opts options, price decimal.Decimal) error {
	start := time.Now()
	jobs := make(chan int)
	var issued, failed atomic.Int64
	var capacityHit atomic.Bool

	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for range jobs {
				ticketType := ticketTypes[rng.Intn(len(ticketTypes))]
				req := &models.IssueTicketRequest{
					EventID:    opts.eventID,
					TicketType: ticketType,
					Price:      priceFor(ticketType, price),
					Paid:       models.FlexibleBool(rng.Float64() < opts.paidRatio),
				}

				if _, err := tickets.Issue(ctx, req, seeder); err != nil {
					failed.Add(1)
					if errors.Is(err, apperrors.ErrCapacityExceeded) {
						capacityHit.Store(true)
						continue
					}
					slog.Warn("Failed to issue ticket", "error", err)
					continue
				}

				if n := issued.Add(1); n%1000 == 0 {
					slog.Info("Progress", "issued", n)
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}

	for i := 0; i < opts.tickets; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if capacityHit.Load() {
		slog.Warn("Event capacity reached, some paid tickets were not issued")
	}

	slog.Info("Ticket generation completed",
		"event_id", opts.eventID,
		"issued", issued.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func priceFor(ticketType models.TicketType, base decimal.Decimal) decimal.Decimal {
	switch ticketType {
	case models.TicketEarlyBird:
		return base.Mul(decimal.NewFromFloat(0.8)).Round(2)
	case models.TicketVIP:
		return base.Mul(decimal.NewFromInt(3)).Round(2)
	case models.TicketComp:
		return decimal.Zero
	default:
		return base
	}
}
