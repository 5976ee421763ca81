package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine. Typed errors below unwrap to one of these
// so callers can branch with errors.Is.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidData indicates a malformed record that was rejected
	ErrInvalidData = errors.New("invalid data")

	// ErrConvergence indicates a ranking pass stopped at its iteration cap
	ErrConvergence = errors.New("ranking did not converge")

	// ErrConsistency indicates a broken graph or score invariant
	ErrConsistency = errors.New("consistency violation")

	// ErrConfiguration indicates an engine parameter outside its domain
	ErrConfiguration = errors.New("invalid configuration")
)

// IsRecoverable reports whether err leaves the engine usable: a rejected
// record or an approximate ranking. Consistency and configuration errors
// abort the operation.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidData) || errors.Is(err, ErrConvergence)
}

// ValidationError represents a validation error with detailed field information.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets a ValidationError match ErrInvalidData.
func (e *ValidationError) Unwrap() error { return ErrInvalidData }

// DataError reports a rejected record. It is recoverable: the offending
// record is skipped and processing of the rest continues.
type DataError struct {
	EntryID int64
	Field   string
	Message string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error on entry %d (%s): %s", e.EntryID, e.Field, e.Message)
}

func (e *DataError) Unwrap() error { return ErrInvalidData }

// ConvergenceWarning is returned alongside a usable but approximate ranking.
type ConvergenceWarning struct {
	Iterations int
	Residual   float64
	Tolerance  float64
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("ranking stopped after %d iterations: residual %.3g above tolerance %.3g",
		e.Iterations, e.Residual, e.Tolerance)
}

func (e *ConvergenceWarning) Unwrap() error { return ErrConvergence }

// ConsistencyViolation aborts the computation that detected it. Previously
// committed state must be left untouched.
type ConsistencyViolation struct {
	Check  string
	A, B   int64
	Detail string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation [%s] between %d and %d: %s", e.Check, e.A, e.B, e.Detail)
}

func (e *ConsistencyViolation) Unwrap() error { return ErrConsistency }

// ConfigurationError is raised at construction time; the component refuses to start.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on '%s': %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
