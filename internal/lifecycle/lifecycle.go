// Package lifecycle decides which ticket state transitions are legal.
//
// It holds no state and performs no I/O; the store applies whatever this
// package allows.
package lifecycle

import (
	"fmt"

	apperrors "ticketgate/internal/errors"
	"ticketgate/internal/models"
)

// Action is a request to move a ticket
type Action string

const (
	ConfirmPayment Action = "confirm_payment"
	FailPayment    Action = "fail_payment"
	CheckIn        Action = "check_in"
	Cancel         Action = "cancel"
	Refund         Action = "refund"
)

type edge struct {
	from   models.TicketState
	action Action
}

var transitions = map[edge]models.TicketState{
	{models.TicketPending, ConfirmPayment}: models.TicketValid,
	{models.TicketPending, FailPayment}:    models.TicketCancelled,
	{models.TicketValid, CheckIn}:          models.TicketUsed,
	{models.TicketValid, Cancel}:           models.TicketCancelled,
	{models.TicketValid, Refund}:           models.TicketRefunded,
	{models.TicketUsed, Refund}:            models.TicketRefunded,
}

var targets = map[Action]models.TicketState{
	ConfirmPayment: models.TicketValid,
	FailPayment:    models.TicketCancelled,
	CheckIn:        models.TicketUsed,
	Cancel:         models.TicketCancelled,
	Refund:         models.TicketRefunded,
}

// TransitionError describes a rejected transition
type TransitionError struct {
	From   models.TicketState
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s ticket", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return apperrors.ErrIllegalTransition
}

// Transition returns the state reached by applying action to current.
//
// A ticket already sitting in the action's target state yields
// ErrAlreadyInTargetState together with that state, so repeated requests are
// distinguishable from illegal ones.
func Transition(current models.TicketState, action Action) (models.TicketState, error) {
	if next, ok := transitions[edge{current, action}]; ok {
		return next, nil
	}

	if target, ok := targets[action]; ok && target == current {
		return current, apperrors.ErrAlreadyInTargetState
	}

	return current, &TransitionError{From: current, Action: action}
}

// Terminal reports whether no action can move s any further
func Terminal(s models.TicketState) bool {
	for e := range transitions {
		if e.from == s {
			return false
		}
	}
	return true
}
