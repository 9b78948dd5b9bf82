package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on the failure
// mode (HTTP status mapping, retry decisions) without parsing messages.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindAccountInactive   Kind = "ACCOUNT_INACTIVE"
	KindConflict          Kind = "CONFLICT"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInternal          Kind = "INTERNAL"
)

// Error is the single error type the engine surfaces to callers. Field is set
// for validation failures, RetryAfterSeconds for rate-limit rejections.
type Error struct {
	Kind              Kind
	Message           string
	Field             string
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

func NewInsufficientFunds(message string) *Error {
	return &Error{Kind: KindInsufficientFunds, Message: message}
}

func NewAccountInactive(message string) *Error {
	return &Error{Kind: KindAccountInactive, Message: message}
}

func NewConflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func NewRateLimited(message string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfterSeconds: retryAfterSeconds}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func NewInternal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// KindOf extracts the Kind from err, or KindInternal if err is not a
// domain Error. Wrapped errors are unwrapped on the way.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
