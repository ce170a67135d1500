package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindConnectorFailure Kind = "connector_failure"
	KindIntegrityFailure Kind = "integrity_failure"
	KindInvalid          Kind = "invalid"
)

// Error is the error type shared by the stores and engines.
type Error struct {
	Kind       Kind
	Message    string
	Retryable  bool
	StatusCode int // upstream status for connector failures, 0 otherwise
	Err        error
	meta       map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

func (e *Error) AddMeta(key string, value any) *Error {
	if e.meta == nil {
		e.meta = map[string]any{}
	}
	e.meta[key] = value
	return e
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.httpStatus(), e.Error()).AddMetaValue("kind", string(e.Kind))
	for k, v := range e.meta {
		herr = herr.AddMetaValue(k, v)
	}
	return herr
}

func (e *Error) httpStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindConnectorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrConnectorFailure = &Error{Kind: KindConnectorFailure}
	ErrIntegrityFailure = &Error{Kind: KindIntegrityFailure}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Integrityf(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrityFailure, Message: fmt.Sprintf(format, args...)}
}

func Invalidf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// NewConnectorFailure builds a connector error. 429 and 5xx responses are retryable,
// a zero status (transport error) is retryable too, everything else is fatal.
func NewConnectorFailure(statusCode int, err error, format string, args ...any) *Error {
	return &Error{
		Kind:       KindConnectorFailure,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
		Retryable:  IsRetryableStatus(statusCode),
		Err:        err,
	}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func IsRetryableStatus(statusCode int) bool {
	return statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

func IsIntegrityFailure(err error) bool {
	return errors.Is(err, ErrIntegrityFailure)
}

// IsRetryable reports whether err is a connector failure worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindConnectorFailure && e.Retryable
	}
	return false
}

// ToHTTPError converts any error for the API error handler.
func ToHTTPError(err error) *httperror.HTTPError {
	var e *Error
	if errors.As(err, &e) {
		return e.ToHTTPError()
	}
	if httperror.IsHTTPError(err) {
		return httperror.ToHTTPError(err)
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}
