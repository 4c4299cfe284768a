package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy is returned when a lock could not be acquired in time or
	// transient store errors outlasted the retry budget. Callers may retry.
	ErrBusy = errors.New("store busy")
)

// AuthorizationError means the actor lacks the role or ownership an
// operation requires. It is never retried.
type AuthorizationError struct {
	Actor  string
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s not authorized to %s: %s", e.Actor, e.Action, e.Reason)
}

// ConflictError reports an invariant violation caused by a race or stale
// state, such as taking an already assigned session.
type ConflictError struct {
	SessionID string
	Reason    string
}

func (e *ConflictError) Error() string {
	if e.SessionID == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
}

const (
	ReasonAlreadyAssigned = "already assigned"
	ReasonAlreadyClosed   = "already closed"
	ReasonNotClosed       = "not closed"
	ReasonNotAssigned     = "not assigned"
	ReasonCapacityReached = "capacity reached"
)

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}
