// Package ledgererr defines the single tagged error type returned by every
// summa component. The taxonomy is closed: new conditions must pick one of
// the existing codes rather than invent a new one.
package ledgererr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound                Code = "NOT_FOUND"
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeAlreadyExists           Code = "ALREADY_EXISTS"
	CodeConflict                Code = "CONFLICT"
	CodeAccountFrozen           Code = "ACCOUNT_FROZEN"
	CodeAccountClosed           Code = "ACCOUNT_CLOSED"
	CodeInsufficientBalance     Code = "INSUFFICIENT_BALANCE"
	CodeCurrencyMismatch        Code = "CURRENCY_MISMATCH"
	CodeChainIntegrityViolation Code = "CHAIN_INTEGRITY_VIOLATION"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeInternal                Code = "INTERNAL"
)

// HTTPStatus mirrors the status mapping table.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return 404
	case CodeInvalidArgument:
		return 400
	case CodeAlreadyExists, CodeConflict, CodeAccountFrozen, CodeAccountClosed, CodeInsufficientBalance, CodeCurrencyMismatch:
		return 409
	case CodeRateLimited:
		return 429
	case CodeChainIntegrityViolation, CodeInternal:
		return 500
	default:
		return 500
	}
}

type Error struct {
	Code    Code
	Message string
	DocsURL string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Status() int { return e.Code.HTTPStatus() }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func AlreadyExists(format string, args ...any) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

func Internal(cause error) *Error {
	return Wrap(CodeInternal, "internal error", cause)
}

// As extracts a *Error from err, following the same errors.As idiom
// storage uses to unwrap *pgconn.PgError.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
