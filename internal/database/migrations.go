package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createEventAggregatesTable,
		createTicketsTable,
		createTicketsEventIndex,
		addEventAggregatesVersion,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createEventAggregatesTable = `
CREATE TABLE IF NOT EXISTS event_aggregates (
    event_id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    capacity BIGINT NOT NULL,
    sold_count BIGINT NOT NULL DEFAULT 0,
    checked_in_count BIGINT NOT NULL DEFAULT 0,
    revenue NUMERIC(14,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 1,

    CHECK (capacity > 0),
    CHECK (sold_count >= 0 AND sold_count <= capacity),
    CHECK (checked_in_count >= 0 AND checked_in_count <= sold_count)
);`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id UUID PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL REFERENCES event_aggregates(event_id),
    ticket_code VARCHAR(128) NOT NULL UNIQUE,
    holder_id VARCHAR(64),
    ticket_type VARCHAR(20) NOT NULL,
    price NUMERIC(12,2) NOT NULL DEFAULT 0,
    state VARCHAR(20) NOT NULL,
    purchased_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    checked_in_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 1,

    CHECK (state IN ('pending', 'valid', 'used', 'cancelled', 'refunded')),
    CHECK (ticket_type IN ('early_bird', 'regular', 'vip', 'comp')),
    CHECK (state <> 'used' OR checked_in_at IS NOT NULL),
    CHECK (checked_in_at IS NULL OR state IN ('used', 'refunded'))
);`

const createTicketsEventIndex = `
CREATE INDEX IF NOT EXISTS tickets_event_id_id_idx
ON tickets (event_id, id);`

// Tables created before counters were versioned
const addEventAggregatesVersion = `
ALTER TABLE event_aggregates
ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1;`
