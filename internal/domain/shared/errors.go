// Package shared contains the error taxonomy and small value helpers used by
// every domain package. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, checked with errors.Is().
var (
	// Input errors
	ErrValidation = errors.New("validation error")
	ErrParse      = errors.New("parse error")

	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// State errors
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "donor", "request", "matching"
	Op      string // Operation that failed, e.g. "Classify", "Rank"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewValidationError reports missing or malformed caller input.
func NewValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// NewParseError reports malformed textual input such as coordinate strings.
func NewParseError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrParse, message)
}

// NewNotFoundError reports a referenced entity that does not exist.
func NewNotFoundError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, message)
}

// NewExternalServiceError wraps a failure of a third-party dependency.
func NewExternalServiceError(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrExternalService, message, err)
}

// Message returns the human-readable message of a DomainError, or err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrStateTransition)
}

// IsParse checks if the error is a parse error.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
