package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so the transport layer can map them to
// a user-facing status.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
)

// Error is a classified engine error. All validation, authorization,
// conflict, and not-found failures propagate synchronously to the actor
// that initiated the operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationErr(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func unauthorizedErr(code, format string, args ...any) *Error {
	return newError(KindUnauthorized, code, format, args...)
}

func conflictErr(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func notFoundErr(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Expected, frequent conflicts under contention. Never retried by the
// engine; the losing caller decides what to do.
var (
	ErrRideTaken = conflictErr("ride_taken", "ride already taken or not available")

	ErrVehicleMismatch = conflictErr("vehicle_mismatch",
		"driver's registered vehicle does not match the requested vehicle type")
)

// KindOf extracts the classification, defaulting unknown errors to an
// empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
