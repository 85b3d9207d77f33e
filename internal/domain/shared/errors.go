// Package shared contains common domain types, errors and events used across
// all domain packages. This package has zero external dependencies.
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

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrStale           = errors.New("stale state")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Concurrency errors
	ErrConflict               = errors.New("conflict")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progression", "belt"
	Op      string // operation that failed, e.g. "ApplyPromotion"
	Kind    error  // base error for errors.Is()
	Code    string // stable machine-readable code, e.g. "STALE_INELIGIBLE"
	Message string // human-readable message
	Err     error  // underlying error (optional)
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

// Is matches the error kind, the underlying error, or another DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) && other.Code != "" && other.Code == e.Code {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// WithMessage returns a copy carrying a more specific message.
func (e *DomainError) WithMessage(msg string) *DomainError {
	cp := *e
	cp.Message = msg
	return &cp
}

// WithOp returns a copy attributed to another operation.
func (e *DomainError) WithOp(op string) *DomainError {
	cp := *e
	cp.Op = op
	return &cp
}

// Wrap returns a copy with err as the underlying cause.
func (e *DomainError) Wrap(err error) *DomainError {
	cp := *e
	cp.Err = err
	return &cp
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, code, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Code:    code,
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

// Belt catalog errors
var (
	ErrBeltNotFound   = NewDomainError("belt", "Find", ErrNotFound, "BELT_NOT_FOUND", "belt not found")
	ErrInvalidCatalog = NewDomainError("belt", "Load", ErrValidation, "INVALID_CATALOG", "invalid belt catalog")
)

// Progression errors. The codes are part of the public API.
var (
	ErrPractitionerNotFound = NewDomainError("progression", "Find", ErrNotFound, "NOT_FOUND", "practitioner not found")
	ErrAlreadyEnrolled      = NewDomainError("progression", "Enroll", ErrAlreadyExists, "ALREADY_ENROLLED", "practitioner already enrolled")
	ErrStaleIneligible      = NewDomainError("progression", "ApplyPromotion", ErrStale, "STALE_INELIGIBLE", "practitioner is no longer eligible")
	ErrInvalidTarget        = NewDomainError("progression", "ApplyPromotion", ErrValidation, "INVALID_TARGET", "invalid promotion target")
	ErrAlreadyPending       = NewDomainError("progression", "RequestPromotion", ErrConflict, "ALREADY_PENDING", "a promotion request is already pending")
	ErrBusy                 = NewDomainError("progression", "ApplyPromotion", ErrConflict, "BUSY", "another promotion for this practitioner is in flight")
	ErrUnauthorizedActor    = NewDomainError("progression", "Authorize", ErrUnauthorized, "UNAUTHORIZED", "actor may not grant promotions")
	ErrNotEligible          = NewDomainError("progression", "RequestPromotion", ErrValidation, "NOT_ELIGIBLE", "practitioner is not eligible")
	ErrRequestNotFound      = NewDomainError("progression", "FindRequest", ErrNotFound, "REQUEST_NOT_FOUND", "promotion request not found")
	ErrRequestDecided       = NewDomainError("progression", "DecideRequest", ErrStateTransition, "REQUEST_DECIDED", "promotion request already decided")
	ErrInvalidDegree        = NewDomainError("progression", "Validate", ErrValueOutOfRange, "INVALID_DEGREE", "degree out of range for belt")
)

// Code extracts the first non-empty DomainError code in the chain, or "".
func Code(err error) string {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return ""
		}
		if de.Code != "" {
			return de.Code
		}
		err = de.Unwrap()
	}
	return ""
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
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is a conflict with concurrent or pending work.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsRetryable checks if the operation can be retried, possibly after re-evaluation or a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStale) ||
		IsConflict(err) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
