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

const ticketColumns = `id, event_id, ticket_code, holder_id, ticket_type, price, state,
		       purchased_at, checked_in_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := row.Scan(
		&ticket.ID,
		&ticket.EventID,
		&ticket.TicketCode,
		&ticket.HolderID,
		&ticket.TicketType,
		&ticket.Price,
		&ticket.State,
		&ticket.PurchasedAt,
		&ticket.CheckedInAt,
		&ticket.UpdatedAt,
		&ticket.Version,
	)
	return ticket, err
}

// TicketRepository is the PostgreSQL TicketStore
type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Create(ctx context.Context, ticket *models.Ticket, deltas []aggregate.Delta) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO tickets (id, event_id, ticket_code, holder_id, ticket_type, price, state,
			                     purchased_at, checked_in_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8, 1)
			RETURNING version`

		err := tx.QueryRowContext(ctx, query,
			ticket.ID,
			ticket.EventID,
			ticket.TicketCode,
			ticket.HolderID,
			ticket.TicketType,
			ticket.Price,
			ticket.State,
			ticket.PurchasedAt,
			ticket.CheckedInAt,
		).Scan(&ticket.Version)
		if err != nil {
			return err
		}

		return applyDeltas(ctx, tx, ticket.EventID, deltas)
	})
	if err != nil {
		return storeError("create ticket", err)
	}

	ticket.UpdatedAt = ticket.PurchasedAt
	return nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get ticket by id", err)
	}

	return ticket, nil
}

func (r *TicketRepository) GetByCode(ctx context.Context, code string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_code = $1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get ticket by code", err)
	}

	return ticket, nil
}

// CompareAndSwapState moves the ticket only while it still sits in expected.
// The conditional UPDATE is the synchronization point; the aggregate row is
// updated afterwards in the same transaction.
func (r *TicketRepository) CompareAndSwapState(ctx context.Context, id string, expected, next models.TicketState, meta TransitionMeta) (*models.Ticket, error) {
	var updated *models.Ticket

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE tickets
			SET state = $1, checked_in_at = COALESCE($2, checked_in_at),
			    updated_at = NOW(), version = version + 1
			WHERE id = $3 AND state = $4
			RETURNING ` + ticketColumns

		ticket, err := scanTicket(tx.QueryRowContext(ctx, query, next, meta.CheckedInAt, id, expected))
		if err == sql.ErrNoRows {
			var exists bool
			lookup := `SELECT EXISTS(SELECT 1 FROM tickets WHERE id = $1)`
			if err := tx.QueryRowContext(ctx, lookup, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return apperrors.ErrNotFound
			}
			return apperrors.ErrConflictStateChanged
		}
		if err != nil {
			return err
		}

		if err := applyDeltas(ctx, tx, ticket.EventID, meta.Deltas); err != nil {
			return err
		}

		updated = ticket
		return nil
	})
	if err != nil {
		return nil, storeError("compare and swap ticket state", err)
	}

	return updated, nil
}

func (r *TicketRepository) ListByEvent(ctx context.Context, eventID string, filter models.TicketFilter) (*models.TicketPage, error) {
	limit := normalizeLimit(filter.Limit)
	args := []any{eventID}
	argIndex := 2

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = $1`

	if filter.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argIndex)
		args = append(args, *filter.State)
		argIndex++
	}

	if filter.Cursor != "" {
		query += fmt.Sprintf(" AND id > $%d", argIndex)
		args = append(args, filter.Cursor)
		argIndex++
	}

	// One extra row tells whether another page exists
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list tickets", err)
	}
	defer rows.Close()

	page := &models.TicketPage{Tickets: make([]models.Ticket, 0, limit)}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, storeError("scan ticket", err)
		}
		page.Tickets = append(page.Tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list tickets", err)
	}

	if len(page.Tickets) > limit {
		page.Tickets = page.Tickets[:limit]
		page.NextCursor = page.Tickets[limit-1].ID
	}

	return page, nil
}
