// Package apperr defines the engine's error taxonomy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindInputValidation Kind = "InputValidation"
	KindInfeasible      Kind = "Infeasible"
	KindTimeout         Kind = "Timeout"
	KindDataSource      Kind = "DataSource"
	KindInternal        Kind = "Internal"
)

// Error is a classified engine error. Shortfall is only meaningful for
// Infeasible errors.
type Error struct {
	Kind      Kind
	Message   string
	Shortfall float64
	Details   map[string]any
	Cause     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Kind == KindInfeasible && e.Shortfall > 0 {
		msg = fmt.Sprintf("%s (shortfall %.6g)", msg, e.Shortfall)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail returns e after recording a diagnostic key.
func (e *Error) WithDetail(key string, v any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = v
	return e
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindInputValidation, Message: fmt.Sprintf(format, args...)}
}

func Infeasible(shortfall float64, format string, args ...any) *Error {
	return &Error{Kind: KindInfeasible, Message: fmt.Sprintf(format, args...), Shortfall: shortfall}
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func DataSource(format string, args ...any) *Error {
	return &Error{Kind: KindDataSource, Message: fmt.Sprintf(format, args...)}
}

func Internal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}

// ShortfallOf returns the diagnostic shortfall of an Infeasible error.
func ShortfallOf(err error) (float64, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInfeasible {
		return e.Shortfall, true
	}
	return 0, false
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInputValidation:
		return http.StatusBadRequest
	case KindInfeasible:
		return http.StatusUnprocessableEntity
	case KindDataSource:
		return http.StatusFailedDependency
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
