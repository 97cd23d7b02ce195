package services

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrTokenExpired is returned when an action token is past its TTL
	ErrTokenExpired = errors.New("action token expired")

	// ErrTokenConsumed is returned when a one-time token was already used
	ErrTokenConsumed = errors.New("action token already consumed")

	// ErrPublishInProgress is returned when another publish attempt holds the lease
	ErrPublishInProgress = errors.New("publish already in progress")

	// ErrPreviousAttemptFailed is returned when a prior publish attempt failed
	// and an explicit resume is required
	ErrPreviousAttemptFailed = errors.New("previous publish attempt failed; use resume")

	// ErrPolicyRejected is returned when the stored draft no longer passes policy
	ErrPolicyRejected = errors.New("policy check failed")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505). Contended inserts rely on this for correctness.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
