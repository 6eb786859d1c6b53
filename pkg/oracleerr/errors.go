// Package oracleerr defines the tagged error taxonomy shared by every
// protocol boundary: the task coordinator, the peer server, and the
// external API surface all speak this type so that a caller can recover
// {kind, context} without reaching into implementation-specific errors.
package oracleerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error tag. The set is closed and matches the
// taxonomy the coordinator relies on to decide which errors convert to a
// vacuous Task success (PermanentError, NonError) versus propagate.
type Kind string

const (
	KindPluginError              Kind = "plugin_error"
	KindPrepareError             Kind = "prepare_error"
	KindProcessError             Kind = "process_error"
	KindValidationError          Kind = "validation_error"
	KindExecuteError             Kind = "execute_error"
	KindPermanentError           Kind = "permanent_error"
	KindNonError                 Kind = "non_error"
	KindTimeout                  Kind = "timeout"
	KindInsufficientPeers        Kind = "insufficient_peers"
	KindThrottleError            Kind = "throttle_error"
	KindUnsupportedContractType  Kind = "unsupported_contract_type"
	KindNotFound                 Kind = "not_found"
	KindInternal                 Kind = "internal_error"
)

var kindHTTPStatus = map[Kind]int{
	KindPluginError:             http.StatusInternalServerError,
	KindPrepareError:            http.StatusInternalServerError,
	KindProcessError:            http.StatusInternalServerError,
	KindValidationError:        http.StatusBadRequest,
	KindExecuteError:            http.StatusInternalServerError,
	KindPermanentError:          http.StatusOK,
	KindNonError:                http.StatusOK,
	KindTimeout:                 http.StatusGatewayTimeout,
	KindInsufficientPeers:       http.StatusServiceUnavailable,
	KindThrottleError:           http.StatusTooManyRequests,
	KindUnsupportedContractType: http.StatusNotFound,
	KindNotFound:                http.StatusNotFound,
	KindInternal:                http.StatusInternalServerError,
}

// Error is the structured error type used at every boundary.
type Error struct {
	Kind       Kind
	Message    string
	Context    map[string]any
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus maps the error's Kind to the status code a boundary should
// return. KindPermanentError and KindNonError map to 200 because the
// coordinator converts them to a vacuous Task success before any caller
// sees them as an error at all; they are listed here for completeness.
func (e *Error) HTTPStatus() int {
	if status, ok := kindHTTPStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithContext attaches a context field and returns the receiver for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a kind and message, preserving it
// as Underlying for errors.Unwrap / errors.As chains.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ContextOf extracts the Context map of err, or nil.
func ContextOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// IsKind reports whether err's Kind equals kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
