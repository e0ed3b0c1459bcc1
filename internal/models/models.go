package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexibleBool accepts booleans encoded as strings or numbers
type FlexibleBool bool

func (fb *FlexibleBool) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)

	switch strings.ToLower(str) {
	case "true", "1", "yes", "on":
		*fb = true
	case "false", "0", "no", "off":
		*fb = false
	default:
		return fmt.Errorf("invalid boolean value: %s", str)
	}
	return nil
}

func (fb FlexibleBool) Bool() bool {
	return bool(fb)
}

// ValidateCheckInRequest - POST /api/checkins/validate
type ValidateCheckInRequest struct {
	Payload string `json:"payload" binding:"required"`
	EventID string `json:"event_id" binding:"required"`
	Gate    string `json:"gate,omitempty"`
}

// UnmarshalJSON also takes eventId, the key older scanner firmware sends.
// event_id wins when both are present.
func (r *ValidateCheckInRequest) UnmarshalJSON(data []byte) error {
	type plain ValidateCheckInRequest
	var wire struct {
		plain
		CamelEventID string `json:"eventId"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = ValidateCheckInRequest(wire.plain)
	if r.EventID == "" {
		r.EventID = wire.CamelEventID
	}
	return nil
}

// CheckInResult is the verdict of a single scan
type CheckInResult struct {
	Outcome CheckInOutcome `json:"outcome"`
	Message string         `json:"message"`
	Ticket  *Ticket        `json:"ticket,omitempty"`
}

// CreateEventRequest - POST /api/events
type CreateEventRequest struct {
	EventID  string `json:"event_id,omitempty"`
	Name     string `json:"name" binding:"required"`
	Capacity int64  `json:"capacity" binding:"required,min=1"`
}

// IssueTicketRequest - POST /api/tickets
type IssueTicketRequest struct {
	EventID    string          `json:"event_id" binding:"required"`
	TicketCode string          `json:"ticket_code,omitempty"`
	HolderID   *string         `json:"holder_id,omitempty"`
	TicketType TicketType      `json:"ticket_type" binding:"required"`
	Price      decimal.Decimal `json:"price"`
	// Paid issues the ticket directly as valid (box office, comps)
	Paid FlexibleBool `json:"paid,omitempty"`
}

// TransitionRequest - PATCH /api/tickets/:id/{cancel,refund}
type TransitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TransitionResponse reports whether the call changed the ticket
type TransitionResponse struct {
	Ticket  *Ticket `json:"ticket"`
	Changed bool    `json:"changed"`
}

// ErrorResponse is returned for every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}
