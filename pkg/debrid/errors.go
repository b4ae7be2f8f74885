package debrid

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a debrid service failure so callers can decide
// whether to retry, re-authenticate or give up.
type ErrorKind string

const (
	ErrUnauthorized       ErrorKind = "UNAUTHORIZED"
	ErrStoreLimitExceeded ErrorKind = "STORE_LIMIT_EXCEEDED"
	ErrTooManyRequests    ErrorKind = "TOO_MANY_REQUESTS"
	ErrNotFound           ErrorKind = "NOT_FOUND"
	ErrNoMatchingFile     ErrorKind = "NO_MATCHING_FILE"
	ErrNotImplemented     ErrorKind = "NOT_IMPLEMENTED"
	ErrUnknown            ErrorKind = "UNKNOWN"
)

// Error is a classified debrid service failure. It keeps the raw HTTP
// response details for logging.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Status     string
	Body       string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	if e.Status != "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error of the given kind wrapping a cause.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// NewHTTPError classifies an HTTP error response.
func NewHTTPError(statusCode int, status, body string) *Error {
	return &Error{
		Kind:       kindFromStatusCode(statusCode),
		StatusCode: statusCode,
		Status:     status,
		Body:       body,
	}
}

// KindOf returns the ErrorKind of err, or ErrUnknown for errors that
// aren't debrid errors.
func KindOf(err error) ErrorKind {
	var debridErr *Error
	if errors.As(err, &debridErr) {
		return debridErr.Kind
	}
	return ErrUnknown
}

// IsKind reports whether err is a debrid error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func kindFromStatusCode(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return ErrStoreLimitExceeded
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusNotImplemented:
		return ErrNotImplemented
	default:
		return ErrUnknown
	}
}
