package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers. Each kind maps to one HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindGone
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGone:
		return "gone"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGone:
		return http.StatusGone
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrQuoteExpired       = errors.New("quote expired")
	ErrTransferExpired    = errors.New("transfer expired")
	ErrReferenceExhausted = errors.New("reference code allocation exhausted")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// Error is a classified error. Message is safe to show to callers; Err
// carries the underlying cause for logs.
type Error struct {
	Kind       Kind
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Err: err}
}

func Gone(err error, format string, args ...any) *Error {
	return &Error{Kind: KindGone, Message: fmt.Sprintf(format, args...), Err: err}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
