package models

import (
	"errors"
	"fmt"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes for the persistence engine failure taxonomy.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeIntegrity      = "INTEGRITY_ERROR"
	CodeReconciliation = "RECONCILIATION_ERROR"
	CodeScheduling     = "SCHEDULING_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// Predefined error constructors

// NewValidationError rejects malformed input before it touches storage.
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewIntegrityError signals structural corruption detected at startup. It is
// fatal to continuing with the existing store.
func NewIntegrityError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeIntegrity,
		Message: message,
		Err:     err,
	}
}

// NewReconciliationError wraps a failed or rejected remote expiry call.
func NewReconciliationError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeReconciliation,
		Message: message,
		Err:     err,
	}
}

// NewSchedulingError signals an internal scheduler invariant violation, e.g. a
// deadline with no start timestamp.
func NewSchedulingError(message string) *AppError {
	return &AppError{
		Code:    CodeScheduling,
		Message: message,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal error",
		Err:     err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool { return HasCode(err, CodeValidation) }

// IsIntegrityError reports whether err is fatal storage corruption.
func IsIntegrityError(err error) bool { return HasCode(err, CodeIntegrity) }

// IsReconciliationError reports whether err came from the swarm expiry path.
func IsReconciliationError(err error) bool { return HasCode(err, CodeReconciliation) }
