// Package apierr defines the orchestrator's machine-readable error kinds
// and their mapping onto Control API HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category. Every domain error the
// orchestrator returns carries one, alongside a human message, so callers
// (the CLI, the Control API, the dashboard) can branch on it without
// string-matching.
type Kind string

const (
	KindConfigInvalid     Kind = "ConfigInvalid"
	KindMissingCoreService Kind = "MissingCoreService"
	KindDuplicatePort      Kind = "DuplicatePort"
	KindNotFound           Kind = "NotFound"
	KindPortInUse          Kind = "PortInUse"
	KindAlreadyRunning     Kind = "AlreadyRunning"
	KindAlreadyStopped     Kind = "AlreadyStopped"
	KindSpawnFailed        Kind = "SpawnFailed"
	KindStartTimeout       Kind = "StartTimeout"
	KindStopFailed         Kind = "StopFailed"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindMalformedRequest   Kind = "MalformedRequest"
	KindUpstreamError      Kind = "UpstreamError"
	KindStorageError       Kind = "StorageError"
	KindInternal           Kind = "Internal"
)

// Error is the orchestrator's standard domain error type: a kind plus a
// human-readable message, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind onto the Control API's HTTP status contract.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindPortInUse:
		return http.StatusUnprocessableEntity
	case KindAlreadyRunning:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindMalformedRequest, KindConfigInvalid, KindDuplicatePort, KindMissingCoreService:
		return http.StatusBadRequest
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindSpawnFailed, KindStartTimeout, KindStopFailed, KindStorageError, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AggregateError collects failures from a parallel batch of operations
// (e.g. a shutdown band where two of five services failed) without losing
// which element failed with which kind.
type AggregateError struct {
	Failures map[string]error
}

func (e *AggregateError) Error() string {
	if len(e.Failures) == 0 {
		return "aggregate error: no failures recorded"
	}
	msg := fmt.Sprintf("%d element(s) failed:", len(e.Failures))
	for name, err := range e.Failures {
		msg += fmt.Sprintf(" %s=[%s]", name, err.Error())
	}
	return msg
}

// NewAggregate returns nil if failures is empty, otherwise an *AggregateError.
func NewAggregate(failures map[string]error) error {
	if len(failures) == 0 {
		return nil
	}
	return &AggregateError{Failures: failures}
}
