// Package engineerr carries the error taxonomy of spec.md §7 across
// component boundaries as typed sentinel errors, so the HTTP layer can map
// them to the six codes of spec.md §6 without string-matching messages.
package engineerr

import "errors"

type Code string

const (
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// Error wraps an underlying cause with the code the transport layer should
// surface. RetryAfter is only meaningful for CodeRateLimited.
type Error struct {
	Code       Code
	RetryAfter int
	cause      error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, cause: errors.New(msg)}
}

func Wrap(code Code, err error) *Error {
	return &Error{Code: code, cause: err}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Code: CodeRateLimited, RetryAfter: retryAfterSeconds, cause: errors.New("rate limited")}
}

func (e *Error) Error() string {
	if e == nil || e.cause == nil {
		return string(CodeInternalError)
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

var (
	ErrNotFound     = New(CodeNotFound, "not found")
	ErrUnauthorized = New(CodeAuthRequired, "unauthorized")
	ErrInvalidState = New(CodeInvalidState, "invalid state")
)
