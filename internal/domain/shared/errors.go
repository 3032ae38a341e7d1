// Package shared contains common domain types, errors and events that are used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrBusy            = errors.New("resource busy")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "student", "tutoring", "assessment"
	Op      string // Operation that failed, e.g., "Turn", "Compare"
	Kind    error  // Base error type for errors.Is() checking
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

// Student domain errors
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidStudentID     = NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")
	ErrInvalidCohort        = NewDomainError("student", "Validate", ErrInvalidInput, "invalid cohort")
	ErrInvalidDifficulty    = NewDomainError("student", "Validate", ErrInvalidInput, "invalid difficulty level")
)

// Tutoring domain errors
var (
	ErrDecomposition      = NewDomainError("decompose", "Decompose", ErrInvalidFormat, "problem could not be decomposed into steps")
	ErrEmptyProblem       = NewDomainError("tutoring", "Start", ErrEmptyValue, "problem statement is empty")
	ErrSessionNotFound    = NewDomainError("tutoring", "FindSession", ErrNotFound, "session not found")
	ErrSessionBusy        = NewDomainError("tutoring", "AcquireSlot", ErrBusy, "another turn is in progress for this student")
	ErrSessionActive      = NewDomainError("tutoring", "Start", ErrAlreadyExists, "student already has an active session")
	ErrSessionClosed      = NewDomainError("tutoring", "Turn", ErrStateTransition, "session is already closed")
	ErrEmptyUtterance     = NewDomainError("tutoring", "Turn", ErrEmptyValue, "utterance is empty")
	ErrTutorUnavailable   = NewDomainError("tutoring", "Turn", ErrServiceUnavailable, "tutor is temporarily unavailable, your progress is saved")
	ErrWrongCohortSession = NewDomainError("tutoring", "Start", ErrInvalidState, "student cohort does not use the Socratic tutor")
	ErrWrongCohortChat    = NewDomainError("qa", "Ask", ErrInvalidState, "student cohort does not use the chat interface")
)

// Assessment domain errors
var (
	ErrInsufficientData     = NewDomainError("assessment", "Compare", ErrValidation, "cohort has no students with both pre and final records")
	ErrInvalidAssessment    = NewDomainError("assessment", "Validate", ErrInvalidInput, "invalid assessment")
	ErrInvalidAssessmentKey = NewDomainError("assessment", "Validate", ErrInvalidInput, "invalid assessment kind")
)

// Gateway errors
var (
	ErrGatewayTimeout = NewDomainError("completion", "Complete", ErrTimeout, "text completion timed out")
	ErrGatewayError   = NewDomainError("completion", "Complete", ErrExternalService, "text completion failed")
	ErrGatewayParse   = NewDomainError("completion", "Parse", ErrInvalidFormat, "text completion returned unusable content")

	ErrGatewayRateLimited = NewDomainError("completion", "Complete", ErrRateLimited, "provider rate limit reached")
)

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
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrRateLimited)
}
