package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketState is the lifecycle state of a ticket
type TicketState string

const (
	TicketPending   TicketState = "pending"
	TicketValid     TicketState = "valid"
	TicketUsed      TicketState = "used"
	TicketCancelled TicketState = "cancelled"
	TicketRefunded  TicketState = "refunded"
)

func (s TicketState) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states
func (s TicketState) Valid() bool {
	switch s {
	case TicketPending, TicketValid, TicketUsed, TicketCancelled, TicketRefunded:
		return true
	}
	return false
}

// TicketType is fixed by the event at issue time
type TicketType string

const (
	TicketEarlyBird TicketType = "early_bird"
	TicketRegular   TicketType = "regular"
	TicketVIP       TicketType = "vip"
	TicketComp      TicketType = "comp"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketEarlyBird, TicketRegular, TicketVIP, TicketComp:
		return true
	}
	return false
}

// Ticket represents an issued ticket
type Ticket struct {
	ID          string          `json:"id" db:"id"`
	EventID     string          `json:"event_id" db:"event_id"`
	TicketCode  string          `json:"ticket_code" db:"ticket_code"`
	HolderID    *string         `json:"holder_id" db:"holder_id"`
	TicketType  TicketType      `json:"ticket_type" db:"ticket_type"`
	Price       decimal.Decimal `json:"price" db:"price"`
	State       TicketState     `json:"state" db:"state"`
	PurchasedAt time.Time       `json:"purchased_at" db:"purchased_at"`
	CheckedInAt *time.Time      `json:"checked_in_at" db:"checked_in_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	Version     int64           `json:"version" db:"version"`
}

// Clone returns a copy that shares no pointers with t
func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.HolderID != nil {
		h := *t.HolderID
		c.HolderID = &h
	}
	if t.CheckedInAt != nil {
		ts := *t.CheckedInAt
		c.CheckedInAt = &ts
	}
	return &c
}

// EventAggregate holds the derived per-event counters
type EventAggregate struct {
	EventID        string          `json:"event_id" db:"event_id"`
	Name           string          `json:"name" db:"name"`
	Capacity       int64           `json:"capacity" db:"capacity"`
	SoldCount      int64           `json:"sold_count" db:"sold_count"`
	CheckedInCount int64           `json:"checked_in_count" db:"checked_in_count"`
	Revenue        decimal.Decimal `json:"revenue" db:"revenue"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	// Version grows by one with every committed counter change
	Version int64 `json:"version" db:"version"`
}

// Snapshot is the read model served to dashboards
type Snapshot struct {
	EventID   string          `json:"event_id"`
	Capacity  int64           `json:"capacity"`
	Sold      int64           `json:"sold"`
	CheckedIn int64           `json:"checked_in"`
	Remaining int64           `json:"remaining"`
	Rate      float64         `json:"rate"`
	Revenue   decimal.Decimal `json:"revenue"`
	AsOf      time.Time       `json:"as_of"`
	// Version of the aggregate the counters were read from. Consumers keep
	// the highest version they have seen and drop older snapshots.
	Version int64 `json:"version"`
}

// NewerThan reports whether s was read from a later aggregate than other
func (s Snapshot) NewerThan(other Snapshot) bool {
	return s.Version > other.Version
}

// CheckInOutcome is the verdict returned to the scanner
type CheckInOutcome string

const (
	OutcomeSuccess        CheckInOutcome = "success"
	OutcomeAlreadyUsed    CheckInOutcome = "already_used"
	OutcomeInvalid        CheckInOutcome = "invalid"
	OutcomeWrongEvent     CheckInOutcome = "wrong_event"
	OutcomeTransientError CheckInOutcome = "transient_error"
)

func (o CheckInOutcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeAlreadyUsed, OutcomeInvalid, OutcomeWrongEvent, OutcomeTransientError:
		return true
	}
	return false
}

// CheckInAttempt is written to the audit log only
type CheckInAttempt struct {
	ID         string         `json:"id"`
	TicketCode string         `json:"ticket_code"`
	TicketID   string         `json:"ticket_id,omitempty"`
	EventID    string         `json:"event_id"`
	OperatorID string         `json:"operator_id,omitempty"`
	Gate       string         `json:"gate,omitempty"`
	Outcome    CheckInOutcome `json:"outcome"`
	Message    string         `json:"message"`
	LatencyMs  int64          `json:"latency_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// TicketFilter narrows ListByEvent. Cursor is the last ticket id of the
// previous page.
type TicketFilter struct {
	State  *TicketState
	Cursor string
	Limit  int
}

// TicketPage is one page of ListByEvent
type TicketPage struct {
	Tickets    []Ticket `json:"tickets"`
	NextCursor string   `json:"next_cursor,omitempty"`
}
