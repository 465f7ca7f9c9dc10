package combat

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeConflict           Code = "CONFLICT"
	CodeStaleVersion       Code = "STALE_VERSION"
	CodeInvalidTurn        Code = "INVALID_TURN"
	CodeEncounterNotActive Code = "ENCOUNTER_NOT_ACTIVE"
	CodeOutOfRange         Code = "OUT_OF_RANGE"
	CodeNotFound           Code = "NOT_FOUND"
)

// Error is a recoverable combat error surfaced verbatim to the caller.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code, so callers can test against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrStaleVersion       = &Error{Code: CodeStaleVersion, Message: "stale version"}
	ErrInvalidTurn        = &Error{Code: CodeInvalidTurn, Message: "not the actor's turn"}
	ErrEncounterNotActive = &Error{Code: CodeEncounterNotActive, Message: "encounter not active"}
	ErrOutOfRange         = &Error{Code: CodeOutOfRange, Message: "out of range"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput builds an INVALID_INPUT error naming the offending field.
func InvalidInput(field, format string, args ...any) *Error {
	err := newError(CodeInvalidInput, format, args...)
	err.Metadata = map[string]string{"field": field}
	return err
}

// StaleVersion reports an optimistic concurrency mismatch.
func StaleVersion(expected, current int64) *Error {
	err := newError(CodeStaleVersion, "stale version: expected %d, current %d", expected, current)
	err.Metadata = map[string]string{
		"expected_version": fmt.Sprint(expected),
		"current_version":  fmt.Sprint(current),
	}
	return err
}

// Conflict reports a second pending or active encounter for one actor.
// existingID may be empty when the open encounter could not be read back.
func Conflict(actorID, existingID string) *Error {
	if existingID == "" {
		err := newError(CodeConflict, "actor %s already has an open encounter", actorID)
		err.Metadata = map[string]string{"actor_id": actorID}
		return err
	}
	err := newError(CodeConflict, "actor %s already has an open encounter %s", actorID, existingID)
	err.Metadata = map[string]string{"actor_id": actorID, "encounter_id": existingID}
	return err
}

// CodeOf returns the code of a combat error in err's chain, or "".
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
