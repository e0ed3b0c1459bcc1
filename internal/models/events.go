package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NATS subjects
const (
	EventTicketIssued     = "ticket.issued"
	EventTicketConfirmed  = "ticket.confirmed"
	EventTicketCheckedIn  = "ticket.checked_in"
	EventTicketCancelled  = "ticket.cancelled"
	EventTicketRefunded   = "ticket.refunded"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// TicketTransitionEvent is published after every committed transition
type TicketTransitionEvent struct {
	TicketID   string          `json:"ticket_id"`
	EventID    string          `json:"event_id"`
	TicketCode string          `json:"ticket_code"`
	From       TicketState     `json:"from"`
	To         TicketState     `json:"to"`
	Price      decimal.Decimal `json:"price"`
	OperatorID string          `json:"operator_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PaymentCompletedEvent is produced by the payment collaborator
type PaymentCompletedEvent struct {
	TicketID  string    `json:"ticket_id"`
	PaymentID string    `json:"payment_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentFailedEvent is produced by the payment collaborator
type PaymentFailedEvent struct {
	TicketID  string    `json:"ticket_id"`
	PaymentID string    `json:"payment_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Live update types
const (
	UpdateSnapshot       = "snapshot"
	UpdateCheckInSuccess = "checkin_success"
	UpdateCounter        = "counter_update"
)

// LiveUpdate is one message on an event's dashboard stream
type LiveUpdate struct {
	Type      string    `json:"type"`
	EventID   string    `json:"event_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckInSuccessPayload is the payload of a checkin_success update
type CheckInSuccessPayload struct {
	TicketID    string     `json:"ticket_id"`
	TicketCode  string     `json:"ticket_code"`
	TicketType  TicketType `json:"ticket_type"`
	Gate        string     `json:"gate,omitempty"`
	CheckedInAt time.Time  `json:"checked_in_at"`
}
