package errors

import "errors"

var ErrUnauthorized = errors.New("operator is not authorized")
var ErrForbidden = errors.New("operation is forbidden for operator")
var ErrInvalidRequest = errors.New("invalid request")

// Scan and lifecycle outcomes.
var (
	ErrMalformedInput       = errors.New("malformed code")
	ErrNotFound             = errors.New("ticket not found")
	ErrWrongEvent           = errors.New("ticket belongs to another event")
	ErrAlreadyInTargetState = errors.New("ticket already in target state")
	ErrIllegalTransition    = errors.New("illegal ticket transition")
)

// ErrConflictStateChanged is the store's race signal: the ticket left the
// expected state between read and write. Services resolve it before replying.
var ErrConflictStateChanged = errors.New("ticket state changed concurrently")

// ErrTransientStore marks store failures the caller may retry with backoff.
var ErrTransientStore = errors.New("ticket store temporarily unavailable")

// Store constraint violations.
var (
	ErrDuplicateCode      = errors.New("ticket code already issued")
	ErrCapacityExceeded   = errors.New("event capacity exceeded")
	ErrAggregateInvariant = errors.New("event counters would break invariants")
	ErrEventNotFound      = errors.New("event not found")
	ErrEventExists        = errors.New("event already exists")
)

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}
