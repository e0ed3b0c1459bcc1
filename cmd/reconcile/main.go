package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/config"
	"ticketgate/internal/database"
	"ticketgate/internal/logger"
	"ticketgate/internal/models"
	"ticketgate/internal/repository"
	"ticketgate/internal/service"
)

// reconcile recomputes event counters from ticket states, e.g. after manual
// edits of the tickets table
func main() {
	var eventID string

	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	flagSet.StringVarP(&eventID, "event", "e", "", "event id to reconcile (empty = all events)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	services := service.NewServices(service.Dependencies{
		Repos: repository.NewRepositories(db),
	}, service.Options{
		StoreTimeout: cfg.StoreTimeout,
		RefundPolicy: aggregate.RefundPolicy{RetainAttendance: cfg.RefundRetainAttendance},
	})
	defer services.Close()

	ctx := context.Background()

	var results []*models.EventAggregate
	if eventID != "" {
		agg, err := services.Events.Reconcile(ctx, eventID)
		if err != nil {
			db.Close()
			logger.Fatal("Reconciliation failed", "event_id", eventID, "error", err)
		}
		results = append(results, agg)
	} else {
		results, err = services.Events.ReconcileAll(ctx)
		if err != nil {
			db.Close()
			logger.Fatal("Reconciliation failed", "error", err)
		}
	}

	for _, agg := range results {
		slog.Info("Reconciled event",
			"event_id", agg.EventID,
			"sold", agg.SoldCount,
			"checked_in", agg.CheckedInCount,
			"revenue", agg.Revenue.StringFixed(2))
	}
}
