package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/aggregate"
	"ticketgate/internal/database"
	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

var ticketRowColumns = []string{
	"id", "event_id", "ticket_code", "holder_id", "ticket_type", "price", "state",
	"purchased_at", "checked_in_at", "updated_at", "version",
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: db}, mock
}

func TestTicketRepository_GetByCode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(ticketRowColumns).
		AddRow("11111111-1111-1111-1111-111111111111", "evt-1", "CODE-0001", nil, "regular", "50.00", "valid", now, nil, now, int64(1))
	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE ticket_code = \\$1").
		WithArgs("CODE-0001").
		WillReturnRows(rows)

	ticket, err := repo.GetByCode(context.Background(), "CODE-0001")
	require.NoError(t, err)
	assert.Equal(t, models.TicketValid, ticket.State)
	assert.Equal(t, models.TicketRegular, ticket.TicketType)
	assert.True(t, ticket.Price.Equal(decimal.NewFromInt(50)))
	assert.Nil(t, ticket.HolderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_GetByCodeNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE ticket_code").
		WillReturnRows(sqlmock.NewRows(ticketRowColumns))

	_, err := repo.GetByCode(context.Background(), "CODE-0404")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTicketRepository_GetByIDTransient(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id").
		WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})

	_, err := repo.GetByID(context.Background(), "11111111-1111-1111-1111-111111111111")
	assert.ErrorIs(t, err, apperrors.ErrTransientStore)
}

func TestTicketRepository_CompareAndSwapState(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	now := time.Now()
	id := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WithArgs(models.TicketUsed, &now, id, models.TicketValid).
		WillReturnRows(sqlmock.NewRows(ticketRowColumns).
			AddRow(id, "evt-1", "CODE-0001", nil, "regular", "50.00", "used", now, now, now, int64(2)))
	mock.ExpectExec("UPDATE event_aggregates").
		WithArgs("evt-1", int64(0), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket, err := repo.CompareAndSwapState(context.Background(), id, models.TicketValid, models.TicketUsed, TransitionMeta{
		CheckedInAt: &now,
		Deltas:      []aggregate.Delta{{Field: aggregate.FieldCheckedIn, Count: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, ticket.State)
	assert.Equal(t, int64(2), ticket.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_CompareAndSwapStateConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	id := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").WillReturnRows(sqlmock.NewRows(ticketRowColumns))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.CompareAndSwapState(context.Background(), id, models.TicketValid, models.TicketUsed, TransitionMeta{})
	assert.ErrorIs(t, err, apperrors.ErrConflictStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_CompareAndSwapStateNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").WillReturnRows(sqlmock.NewRows(ticketRowColumns))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.CompareAndSwapState(context.Background(), "22222222-2222-2222-2222-222222222222", models.TicketValid, models.TicketUsed, TransitionMeta{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTicketRepository_CompareAndSwapStateInvariantRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	now := time.Now()
	id := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WillReturnRows(sqlmock.NewRows(ticketRowColumns).
			AddRow(id, "evt-1", "CODE-0001", nil, "regular", "50.00", "valid", now, nil, now, int64(2)))
	mock.ExpectExec("UPDATE event_aggregates").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT capacity, sold_count FROM event_aggregates").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "sold_count"}).AddRow(int64(10), int64(10)))
	mock.ExpectRollback()

	price := decimal.NewFromInt(50)
	_, err := repo.CompareAndSwapState(context.Background(), id, models.TicketPending, models.TicketValid, TransitionMeta{
		Deltas: aggregate.RefundPolicy{}.DeltasFor(models.TicketPending, models.TicketValid, price),
	})
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_CreateDuplicateCode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tickets_ticket_code_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Ticket{
		ID:          "11111111-1111-1111-1111-111111111111",
		EventID:     "evt-1",
		TicketCode:  "CODE-0001",
		TicketType:  models.TicketRegular,
		State:       models.TicketPending,
		PurchasedAt: time.Now(),
	}, nil)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateCode)
}

func TestTicketRepository_ListByEventKeyset(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(ticketRowColumns).
		AddRow("a", "evt-1", "CODE-000A", nil, "vip", "120.00", "valid", now, nil, now, int64(1)).
		AddRow("b", "evt-1", "CODE-000B", nil, "vip", "120.00", "valid", now, nil, now, int64(1)).
		AddRow("c", "evt-1", "CODE-000C", nil, "vip", "120.00", "valid", now, nil, now, int64(1))

	valid := models.TicketValid
	mock.ExpectQuery("FROM tickets WHERE event_id = \\$1 AND state = \\$2 AND id > \\$3 ORDER BY id LIMIT \\$4").
		WithArgs("evt-1", valid, "0", 3).
		WillReturnRows(rows)

	page, err := repo.ListByEvent(context.Background(), "evt-1", models.TicketFilter{State: &valid, Cursor: "0", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Tickets, 2)
	assert.Equal(t, "b", page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateRepository_CreateEventExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAggregateRepository(db)

	mock.ExpectQuery("INSERT INTO event_aggregates").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "event_aggregates_pkey"})

	err := repo.CreateEvent(context.Background(), &models.EventAggregate{EventID: "evt-1", Name: "Gala", Capacity: 100})
	assert.ErrorIs(t, err, apperrors.ErrEventExists)
}

func TestAggregateRepository_GetAggregateNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAggregateRepository(db)

	mock.ExpectQuery("FROM event_aggregates WHERE event_id").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	_, err := repo.GetAggregate(context.Background(), "evt-x")
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func TestStoreErrorPassesDomainErrorsThrough(t *testing.T) {
	wrapped := storeError("op", apperrors.ErrConflictStateChanged)
	assert.True(t, errors.Is(wrapped, apperrors.ErrConflictStateChanged))
	assert.False(t, errors.Is(wrapped, apperrors.ErrTransientStore))

	plain := storeError("op", errors.New("syntax error at or near"))
	assert.False(t, errors.Is(plain, apperrors.ErrTransientStore))
}

func TestStoreErrorClassifiesDriverErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"event exists", fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "event_aggregates_pkey"}), apperrors.ErrEventExists},
		{"duplicate code", &pq.Error{Code: "23505", Constraint: "tickets_ticket_code_key"}, apperrors.ErrDuplicateCode},
		{"missing event", &pq.Error{Code: "23503"}, apperrors.ErrEventNotFound},
		{"bad uuid", &pq.Error{Code: "22P02"}, apperrors.ErrNotFound},
		{"connection lost", &pq.Error{Code: "08006"}, apperrors.ErrTransientStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, storeError("op", tt.err), tt.want)
		})
	}
}

var aggregateRowColumns = []string{
	"event_id", "name", "capacity", "sold_count", "checked_in_count", "revenue", "created_at", "updated_at", "version",
}

func TestAggregateRepository_GetAggregateReadsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAggregateRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM event_aggregates WHERE event_id = \\$1").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows(aggregateRowColumns).
			AddRow("evt-1", "Gala", int64(100), int64(40), int64(10), "2000.00", now, now, int64(51)))

	agg, err := repo.GetAggregate(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(51), agg.Version)
	assert.Equal(t, int64(40), agg.SoldCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDeltasBumpsAggregateVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	now := time.Now()
	id := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WillReturnRows(sqlmock.NewRows(ticketRowColumns).
			AddRow(id, "evt-1", "CODE-0001", nil, "regular", "50.00", "valid", now, nil, now, int64(2)))
	mock.ExpectExec("UPDATE event_aggregates(.+)version = version \\+ 1").
		WithArgs("evt-1", int64(1), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.CompareAndSwapState(context.Background(), id, models.TicketPending, models.TicketValid, TransitionMeta{
		Deltas: aggregate.RefundPolicy{}.DeltasFor(models.TicketPending, models.TicketValid, decimal.NewFromInt(50)),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
