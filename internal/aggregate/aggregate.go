// Package aggregate computes the per-event counter changes caused by ticket
// transitions and checks the counter invariants.
package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

// Field names a counter of the event aggregate
type Field string

const (
	FieldSold      Field = "sold"
	FieldCheckedIn Field = "checked_in"
	FieldRevenue   Field = "revenue"
)

// Delta is one counter change. Count applies to sold/checked_in, Amount to
// revenue.
type Delta struct {
	Field  Field
	Count  int64
	Amount decimal.Decimal
}

// RefundPolicy settles what a refund after check-in does to the counters.
//
// With RetainAttendance the attendee stays counted as sold and checked in and
// only the revenue is returned. Without it the ticket leaves every counter.
type RefundPolicy struct {
	RetainAttendance bool
}

// Sum folds deltas into per-field totals
type Sum struct {
	Sold      int64
	CheckedIn int64
	Revenue   decimal.Decimal
}

func (s Sum) IsZero() bool {
	return s.Sold == 0 && s.CheckedIn == 0 && s.Revenue.IsZero()
}

// Total folds a delta list
func Total(deltas []Delta) Sum {
	var s Sum
	for _, d := range deltas {
		switch d.Field {
		case FieldSold:
			s.Sold += d.Count
		case FieldCheckedIn:
			s.CheckedIn += d.Count
		case FieldRevenue:
			s.Revenue = s.Revenue.Add(d.Amount)
		}
	}
	return s
}

// ForIssue returns the deltas of creating a ticket directly in state
func ForIssue(state models.TicketState, price decimal.Decimal) []Delta {
	switch state {
	case models.TicketValid:
		return sale(price)
	case models.TicketUsed:
		return append(sale(price), Delta{Field: FieldCheckedIn, Count: 1})
	}
	return nil
}

// DeltasFor returns the counter changes of moving a ticket from one state to
// another
func (p RefundPolicy) DeltasFor(from, to models.TicketState, price decimal.Decimal) []Delta {
	switch {
	case from == models.TicketPending && to == models.TicketValid:
		return sale(price)
	case from == models.TicketValid && to == models.TicketUsed:
		return []Delta{{Field: FieldCheckedIn, Count: 1}}
	case from == models.TicketValid && (to == models.TicketCancelled || to == models.TicketRefunded):
		return unsale(price)
	case from == models.TicketUsed && to == models.TicketRefunded:
		if p.RetainAttendance {
			return []Delta{{Field: FieldRevenue, Amount: price.Neg()}}
		}
		return append(unsale(price), Delta{Field: FieldCheckedIn, Count: -1})
	}
	return nil
}

func sale(price decimal.Decimal) []Delta {
	return []Delta{
		{Field: FieldSold, Count: 1},
		{Field: FieldRevenue, Amount: price},
	}
}

func unsale(price decimal.Decimal) []Delta {
	return []Delta{
		{Field: FieldSold, Count: -1},
		{Field: FieldRevenue, Amount: price.Neg()},
	}
}

// Apply adds deltas to agg in place. On error agg is left untouched.
func Apply(agg *models.EventAggregate, deltas []Delta) error {
	s := Total(deltas)

	sold := agg.SoldCount + s.Sold
	checkedIn := agg.CheckedInCount + s.CheckedIn

	if sold > agg.Capacity {
		return fmt.Errorf("event %s: %w", agg.EventID, apperrors.ErrCapacityExceeded)
	}
	if sold < 0 || checkedIn < 0 || checkedIn > sold {
		return fmt.Errorf("event %s sold=%d checked_in=%d: %w",
			agg.EventID, sold, checkedIn, apperrors.ErrAggregateInvariant)
	}

	agg.SoldCount = sold
	agg.CheckedInCount = checkedIn
	agg.Revenue = agg.Revenue.Add(s.Revenue)
	return nil
}

// Recount rebuilds counters from the states and prices of all tickets of an
// event
func (p RefundPolicy) Recount(agg *models.EventAggregate, tickets []models.Ticket) {
	agg.SoldCount = 0
	agg.CheckedInCount = 0
	agg.Revenue = decimal.Zero

	for _, t := range tickets {
		switch t.State {
		case models.TicketValid:
			agg.SoldCount++
			agg.Revenue = agg.Revenue.Add(t.Price)
		case models.TicketUsed:
			agg.SoldCount++
			agg.CheckedInCount++
			agg.Revenue = agg.Revenue.Add(t.Price)
		case models.TicketRefunded:
			if p.RetainAttendance && t.CheckedInAt != nil {
				agg.SoldCount++
				agg.CheckedInCount++
			}
		}
	}
}

// Snapshot derives the dashboard read model
func Snapshot(agg *models.EventAggregate, now time.Time) models.Snapshot {
	var rate float64
	if agg.SoldCount > 0 {
		rate = float64(agg.CheckedInCount) / float64(agg.SoldCount)
	}

	return models.Snapshot{
		EventID:   agg.EventID,
		Capacity:  agg.Capacity,
		Sold:      agg.SoldCount,
		CheckedIn: agg.CheckedInCount,
		Remaining: agg.Capacity - agg.SoldCount,
		Rate:      rate,
		Revenue:   agg.Revenue,
		AsOf:      now,
		Version:   agg.Version,
	}
}
