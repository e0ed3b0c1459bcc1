package repository

import (
	"context"
	"database/sql"
	"fmt"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/database"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

const aggregateColumns = `event_id, name, capacity, sold_count, checked_in_count, revenue, created_at, updated_at, version`

func scanAggregate(row rowScanner) (*models.EventAggregate, error) {
	agg := &models.EventAggregate{}
	err := row.Scan(
		&agg.EventID,
		&agg.Name,
		&agg.Capacity,
		&agg.SoldCount,
		&agg.CheckedInCount,
		&agg.Revenue,
		&agg.CreatedAt,
		&agg.UpdatedAt,
		&agg.Version,
	)
	return agg, err
}

type AggregateRepository struct {
	db *database.DB
}

func NewAggregateRepository(db *database.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

func (r *AggregateRepository) CreateEvent(ctx context.Context, agg *models.EventAggregate) error {
	query := `
		INSERT INTO event_aggregates (event_id, name, capacity)
		VALUES ($1, $2, $3)
		RETURNING ` + aggregateColumns

	created, err := scanAggregate(r.db.QueryRowContext(ctx, query, agg.EventID, agg.Name, agg.Capacity))
	if err != nil {
		return storeError("create event", err)
	}

	*agg = *created
	return nil
}

func (r *AggregateRepository) GetAggregate(ctx context.Context, eventID string) (*models.EventAggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM event_aggregates WHERE event_id = $1`

	agg, err := scanAggregate(r.db.QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, storeError("get aggregate", err)
	}

	return agg, nil
}

func (r *AggregateRepository) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id FROM event_aggregates ORDER BY event_id`)
	if err != nil {
		return nil, storeError("list events", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan event id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list events", err)
	}

	return ids, nil
}

// Reconcile recounts the aggregate from its tickets while holding the
// aggregate row lock, so no transition can commit in between.
func (r *AggregateRepository) Reconcile(ctx context.Context, eventID string, recount RecountFunc) (*models.EventAggregate, error) {
	var result *models.EventAggregate

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		lockQuery := `SELECT ` + aggregateColumns + ` FROM event_aggregates WHERE event_id = $1 FOR UPDATE`

		agg, err := scanAggregate(tx.QueryRowContext(ctx, lockQuery, eventID))
		if err == sql.ErrNoRows {
			return apperrors.ErrEventNotFound
		}
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1`, eventID)
		if err != nil {
			return err
		}

		var tickets []models.Ticket
		for rows.Next() {
			ticket, err := scanTicket(rows)
			if err != nil {
				rows.Close()
				return err
			}
			tickets = append(tickets, *ticket)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		recount(agg, tickets)

		updateQuery := `
			UPDATE event_aggregates
			SET sold_count = $2, checked_in_count = $3, revenue = $4,
			    updated_at = NOW(), version = version + 1
			WHERE event_id = $1
			RETURNING updated_at, version`

		if err := tx.QueryRowContext(ctx, updateQuery,
			eventID, agg.SoldCount, agg.CheckedInCount, agg.Revenue,
		).Scan(&agg.UpdatedAt, &agg.Version); err != nil {
			return err
		}

		result = agg
		return nil
	})
	if err != nil {
		return nil, storeError("reconcile aggregate", err)
	}

	return result, nil
}

// applyDeltas adds deltas to the aggregate row inside tx. The guard in the
// WHERE clause keeps sold within capacity and checked_in within sold; when it
// rejects the row a second read tells the failures apart.
func applyDeltas(ctx context.Context, tx *sql.Tx, eventID string, deltas []aggregate.Delta) error {
	sum := aggregate.Total(deltas)
	if sum.IsZero() {
		return nil
	}

	query := `
		UPDATE event_aggregates
		SET sold_count = sold_count + $2,
		    checked_in_count = checked_in_count + $3,
		    revenue = revenue + $4,
		    updated_at = NOW(),
		    version = version + 1
		WHERE event_id = $1
		  AND sold_count + $2 <= capacity
		  AND sold_count + $2 >= 0
		  AND checked_in_count + $3 >= 0
		  AND checked_in_count + $3 <= sold_count + $2`

	result, err := tx.ExecContext(ctx, query, eventID, sum.Sold, sum.CheckedIn, sum.Revenue)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var capacity, sold int64
	lookup := `SELECT capacity, sold_count FROM event_aggregates WHERE event_id = $1`
	if err := tx.QueryRowContext(ctx, lookup, eventID).Scan(&capacity, &sold); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.ErrEventNotFound
		}
		return err
	}

	if sold+sum.Sold > capacity {
		return fmt.Errorf("event %s: %w", eventID, apperrors.ErrCapacityExceeded)
	}
	return fmt.Errorf("event %s: %w", eventID, apperrors.ErrAggregateInvariant)
}
