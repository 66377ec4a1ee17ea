/*
errors.go - Centralized error types for the clubs domain

ERROR CATEGORIES:
  1. Client errors - bad input or a request that contradicts stored state
     (event of another club, not enough points). The API maps these to 400.
  2. Not found - missing club, event, role or membership. Mapped to 404.
  3. Everything else - persistence failures, propagated as-is. Mapped to 500.

USAGE:
  if errors.Is(err, clubs.ErrClubMismatch) { ... }
  if clubs.IsClientError(err) { ... }
*/
package clubs

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrClubMismatch is returned when an event or template belongs to a
	// different club than the one named in the request.
	ErrClubMismatch = errors.New("record does not belong to club")

	ErrNotMember        = errors.New("user is not a member of club")
	ErrNotEnoughPoints  = errors.New("not enough coins to decrease")
	ErrRoleNotFound     = errors.New("role not found")
	ErrInvalidEventTime = errors.New("the event start time must be before the end time")

	// ErrInvalid is the sentinel behind ValidationError.
	ErrInvalid = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// MismatchError names the record that was found under the wrong club.
type MismatchError struct {
	Kind   string // "event" or "recurring event"
	Name   string
	ClubID int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s %q does not belong to club %d", e.Kind, e.Name, e.ClubID)
}

func (e *MismatchError) Unwrap() error { return ErrClubMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrClubMismatch) ||
		errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrNotEnoughPoints) ||
		errors.Is(err, ErrInvalidEventTime) ||
		errors.Is(err, ErrInvalid)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRoleNotFound)
}

// IsConflict returns true for unique constraint violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
