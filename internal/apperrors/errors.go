// Package apperrors implements the fatal half of the engine's error
// taxonomy: a closed set of typed errors, each mapped to a CLI exit code.
// The non-fatal half of the taxonomy (UnmappedTerritory, SolverFailure,
// CapacityExceeded, HierarchyConflict) is represented as model.Warning
// values instead, since those never abort a run.
package apperrors

import "fmt"

// Type is the closed set of fatal error kinds the engine can return.
type Type string

const (
	TypeNoEligibleReps     Type = "no_eligible_reps"
	TypeTimeout            Type = "timeout"
	TypeCancelled          Type = "cancelled"
	TypeWriteFailed        Type = "write_failed"
	TypeInvariantViolation Type = "invariant_violation"
)

// ExitCode maps a fatal error type to the CLI surface's contracted exit
// code (spec §6: 0 success, 2 NoEligibleReps, 3 Timeout, 4 Cancelled,
// 5 WriteFailed). InvariantViolation has no dedicated exit code in the
// spec's CLI table; it is surfaced like any other unexpected failure.
func (t Type) ExitCode() int {
	switch t {
	case TypeNoEligibleReps:
		return 2
	case TypeTimeout:
		return 3
	case TypeCancelled:
		return 4
	case TypeWriteFailed:
		return 5
	default:
		return 1
	}
}

// AppError is the engine's typed error carrier.
type AppError struct {
	Type    Type
	Message string
	Details string
	Cause   error
}

// New creates an AppError with no cause.
func New(t Type, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(t Type, format string, args ...any) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an AppError around an existing error.
func Wrap(cause error, t Type, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: cause}
}

// Wrapf creates an AppError around an existing error with a formatted
// message.
func Wrapf(cause error, t Type, format string, args ...any) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails attaches extra context to the error in place and returns it
// for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted extra context to the error in place.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, apperrors.New(t, "")) style type checks by
// comparing only the Type field.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == other.Type
}

func NoEligibleReps(message string) *AppError     { return New(TypeNoEligibleReps, message) }
func Timeout(message string) *AppError            { return New(TypeTimeout, message) }
func Cancelled(message string) *AppError          { return New(TypeCancelled, message) }
func WriteFailed(message string) *AppError        { return New(TypeWriteFailed, message) }
func InvariantViolation(message string) *AppError { return New(TypeInvariantViolation, message) }
