package booking

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed input.  It is safe to retry after the
// caller fixes the request.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown trip, ticket or seat.  IDs lists the
// offending ids when more than one can be missing at once.
type NotFoundError struct {
	Resource string
	IDs      []uint64
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	if len(e.IDs) > 0 {
		ids := make([]string, 0, len(e.IDs))
		for _, id := range e.IDs {
			ids = append(ids, fmt.Sprint(id))
		}
		return fmt.Sprintf("%s not found: %s", e.Resource, strings.Join(ids, ", "))
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

// ConflictError reports seats already held by another reservation, or a
// state transition that the reservation no longer allows.  Seats holds
// seat numbers, never ids.
type ConflictError struct {
	Resource string
	Msg      string
	Seats    []string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case len(e.Seats) > 0:
		return fmt.Sprintf("seats already taken: %s", strings.Join(e.Seats, ", "))
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// LimitError reports that the per-user seat cap would be exceeded.
type LimitError struct {
	Max       int
	Remaining int
}

func (e LimitError) Error() string {
	if e.Remaining == 0 {
		return fmt.Sprintf("seat limit of %d per trip reached", e.Max)
	}
	return fmt.Sprintf("seat limit of %d per trip exceeded: %d more seat(s) allowed", e.Max, e.Remaining)
}

// ForbiddenError reports an actor acting on a ticket they do not own.
type ForbiddenError struct {
	Msg string
}

func (e ForbiddenError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "forbidden"
}

// InternalError is a data-integrity or infrastructure fault.  Msg is safe
// to show; Err is logged only.
type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsLimit(err error) bool {
	var target LimitError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target ForbiddenError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}
