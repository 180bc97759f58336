// Package apperr defines the typed error taxonomy shared across the engine.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError indicates a malformed rule, condition, action or request
// payload that failed structural or semantic validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError indicates a named resource (rule, fact, timer, trace entry)
// does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError indicates an operation could not proceed because of an
// existing, incompatible resource state (duplicate rule name, version
// mismatch on optimistic locking, and so on).
type ConflictError struct {
	Kind   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s: %s", e.Kind, e.Reason)
}

func NewConflictError(kind, reason string) *ConflictError {
	return &ConflictError{Kind: kind, Reason: reason}
}

// ServiceUnavailableError indicates a downstream dependency (storage,
// notification channel, ingress) could not be reached.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service unavailable: %s: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func NewServiceUnavailableError(service string, err error) *ServiceUnavailableError {
	return &ServiceUnavailableError{Service: service, Err: err}
}

// ActionError wraps a failure raised by a specific action within a rule's
// action list, preserving which action and rule produced it.
type ActionError struct {
	RuleID     string
	ActionKind string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed for rule %q: %v", e.ActionKind, e.RuleID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func NewActionError(ruleID, actionKind string, err error) *ActionError {
	return &ActionError{RuleID: ruleID, ActionKind: actionKind, Err: err}
}

// TimerError wraps a failure arming, cancelling or firing a named timer.
type TimerError struct {
	TimerName string
	Err       error
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("timer %q: %v", e.TimerName, e.Err)
}

func (e *TimerError) Unwrap() error { return e.Err }

func NewTimerError(name string, err error) *TimerError {
	return &TimerError{TimerName: name, Err: err}
}

// ChainDepthExceededError is raised when a rule's own actions would cause
// forward-chained evaluation to exceed the configured maximum chain depth.
type ChainDepthExceededError struct {
	RuleID   string
	MaxDepth int
}

func (e *ChainDepthExceededError) Error() string {
	return fmt.Sprintf("rule %q exceeded max chain depth %d", e.RuleID, e.MaxDepth)
}

func NewChainDepthExceededError(ruleID string, maxDepth int) *ChainDepthExceededError {
	return &ChainDepthExceededError{RuleID: ruleID, MaxDepth: maxDepth}
}

// Is* helpers let callers (notably internal/api) classify an error without
// importing concrete types directly.

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsServiceUnavailable(err error) bool {
	var e *ServiceUnavailableError
	return errors.As(err, &e)
}

func IsChainDepthExceeded(err error) bool {
	var e *ChainDepthExceededError
	return errors.As(err, &e)
}
