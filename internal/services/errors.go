package services

import (
	"errors"
	"fmt"
)

// Kind enumerates the domain failure categories. Errors are a single
// tagged type carrying structured payload instead of a hierarchy; the
// transport boundary maps kinds to status codes and nothing below it
// catches-and-continues.
type Kind int

const (
	// KindValidation is a recoverable input failure carrying one or
	// more field-level causes, reported together.
	KindValidation Kind = iota

	// KindUniqueViolation is a uniqueness conflict on a named field.
	KindUniqueViolation

	// KindNotFound means the target entity is absent.
	KindNotFound

	// KindUnauthenticated covers bad login credentials and every
	// flavor of invalid token. Decode failure, revocation, and owner
	// mismatch are deliberately indistinguishable to callers.
	KindUnauthenticated

	// KindUnauthorized means the caller is authenticated but lacks
	// permission for the specific resource.
	KindUnauthorized

	// KindTokenAllocation is a fatal internal fault: the bounded
	// token-id collision retry was exhausted.
	KindTokenAllocation
)

// Cause codes attached to validation failures.
const (
	CauseMissing                 = "missing"
	CauseTooShort                = "too_short"
	CauseTooLong                 = "too_long"
	CauseIllegal                 = "illegal_value"
	CauseUppercaseMissing        = "uppercase_missing"
	CauseLowercaseMissing        = "lowercase_missing"
	CauseNumberMissing           = "number_missing"
	CauseSpecialCharacterMissing = "special_character_missing"
)

// FieldCause is one field-level reason inside a validation failure.
type FieldCause struct {
	Field   string `json:"field"`
	Cause   string `json:"cause"`
	Message string `json:"message"`
}

// Error is the single domain error type.
type Error struct {
	Kind    Kind
	Message string
	// Field names the conflicting field on unique violations.
	Field string
	// Causes lists the field-level reasons on validation failures,
	// in the order they were detected.
	Causes []FieldCause
}

func (e *Error) Error() string {
	if len(e.Causes) > 0 {
		return fmt.Sprintf("%s (%d causes)", e.Message, len(e.Causes))
	}
	return e.Message
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	var domainErr *Error
	return errors.As(err, &domainErr) && domainErr.Kind == kind
}

func validationError(causes ...FieldCause) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Causes: causes}
}

func uniqueViolation(field, message string) *Error {
	return &Error{Kind: KindUniqueViolation, Message: message, Field: field}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// invalidCredentials is returned for both an unknown username and a
// wrong password; the two cases must be indistinguishable to the caller.
func invalidCredentials() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "invalid credentials"}
}

// invalidToken collapses decode failure, revocation, and owner mismatch
// into one undifferentiated failure, so callers cannot be used as an
// oracle for token internals.
func invalidToken() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "invalid token"}
}

func unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func tokenAllocationFailure(tries int) *Error {
	return &Error{
		Kind:    KindTokenAllocation,
		Message: fmt.Sprintf("could not allocate a token id after %d tries", tries),
	}
}
