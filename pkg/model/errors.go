// Package model defines the canonical data model shared across every
// strategy, action, and executor in biomapper: datasets, the execution
// context, the StandardMappingResult record, and the error taxonomy.
package model

import "fmt"

// Kind identifies a class of engine error, per the taxonomy in the
// specification's error handling design.
type Kind string

// Error kinds. Each carries a step name, action type, message, and a
// retriable flag describing how the executor should treat it.
const (
	KindStrategyLoadError       Kind = "STRATEGY_LOAD_ERROR"
	KindUnknownActionType       Kind = "UNKNOWN_ACTION_TYPE"
	KindDuplicateActionType     Kind = "DUPLICATE_ACTION_TYPE"
	KindExpressionError         Kind = "EXPRESSION_ERROR"
	KindParamValidationError    Kind = "PARAM_VALIDATION_ERROR"
	KindDatasetNotFound         Kind = "DATASET_NOT_FOUND"
	KindMissingColumn           Kind = "MISSING_COLUMN"
	KindJoinColumnUnspecified   Kind = "JOIN_COLUMN_UNSPECIFIED"
	KindJoinColumnNotFound      Kind = "JOIN_COLUMN_NOT_FOUND"
	KindFileNotFound            Kind = "FILE_NOT_FOUND"
	KindFileWriteFailed         Kind = "FILE_WRITE_FAILED"
	KindResolverUnavailable     Kind = "RESOLVER_UNAVAILABLE"
	KindResolverRateLimited     Kind = "RESOLVER_RATE_LIMITED"
	KindResolverTimeout         Kind = "RESOLVER_TIMEOUT"
	KindResolverMalformedResp   Kind = "RESOLVER_MALFORMED_RESPONSE"
	KindValidationError         Kind = "VALIDATION_ERROR"
	KindCancelled               Kind = "CANCELLED"
	KindInternalError           Kind = "INTERNAL_ERROR"
)

// retriableKinds are the error kinds the executor's on_error=retry policy
// may legitimately re-attempt.
var retriableKinds = map[Kind]bool{
	KindResolverUnavailable: true,
	KindResolverRateLimited: true,
	KindResolverTimeout:     true,
}

// Error is the engine's structured error type. It wraps an optional
// underlying cause and attributes the failure to a step and action type,
// the way the teacher attributes config errors to a file path.
type Error struct {
	Kind       Kind
	StepName   string
	ActionType string
	Message    string
	Cause      error
}

// NewError constructs an Error of the given kind.
func NewError(kind Kind, stepName, actionType, message string) *Error {
	return &Error{Kind: kind, StepName: stepName, ActionType: actionType, Message: message}
}

// Wrap constructs an Error of the given kind around an underlying cause.
func Wrap(kind Kind, stepName, actionType string, cause error) *Error {
	return &Error{Kind: kind, StepName: stepName, ActionType: actionType, Message: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	if e.StepName == "" && e.ActionType == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: step=%q action=%q: %s", e.Kind, e.StepName, e.ActionType, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Retriable reports whether the executor's retry policy may reattempt a
// step that failed with this error.
func (e *Error) Retriable() bool { return retriableKinds[e.Kind] }

// Is supports errors.Is comparisons against a bare Kind sentinel created
// via &Error{Kind: k}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
