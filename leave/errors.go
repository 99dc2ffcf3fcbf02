/*
errors.go - Centralized error taxonomy for the leave engine

PURPOSE:
  All expected business failures in one place. Sibling packages (ledger,
  workflow, rollover) return these rather than defining their own, so the
  HTTP layer has a single taxonomy to map onto status codes.

ERROR CATEGORIES:
  1. Input errors       - malformed request data, rejected before any state change
  2. Policy errors      - policy configuration violates an invariant
  3. Balance errors     - reservation denied, rollover blocked
  4. Workflow errors    - wrong role, wrong state, overlapping dates

USAGE:
  Expected outcomes are errors, not panics, and never carry stack traces:

    if errors.Is(err, leave.ErrInsufficientBalance) {
        // tell the user, don't retry
    }

  Structured variants carry context and Unwrap() to the sentinel so both
  errors.Is and errors.As work.
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed request data. Validation
	// happens before any state change.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPolicyValidation is returned when a policy configuration violates
	// an invariant. See PolicyValidationError for the violated field.
	ErrPolicyValidation = errors.New("policy validation failed")

	// ErrInsufficientBalance is returned when a reservation would overdraw
	// the balance. The caller decides whether to prompt again; the engine
	// never waits for capacity.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidRange is returned for a bad date range, or one that overlaps
	// an existing pending/approved application.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrNotAuthorized is returned when the approver's role does not match
	// the hierarchy level being acted on.
	ErrNotAuthorized = errors.New("not authorized for approval level")

	// ErrInvalidState is returned when an operation is attempted on an
	// application in a terminal or otherwise wrong state.
	ErrInvalidState = errors.New("invalid application state")

	// ErrPendingReservations is returned when rollover is attempted for a
	// balance that still has outstanding reservations.
	ErrPendingReservations = errors.New("pending reservations exist")

	// ErrTypeInUse is returned when a leave type referenced by history would
	// be hard-deleted or structurally modified. Deactivation is always
	// permitted instead.
	ErrTypeInUse = errors.New("leave type in use")

	// Not-found errors.
	ErrTypeNotFound        = errors.New("leave type not found")
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrTokenNotFound       = errors.New("reservation token not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// PolicyValidationError carries the specific violated field.
type PolicyValidationError struct {
	Field  string
	Reason string
}

func (e *PolicyValidationError) Error() string {
	return fmt.Sprintf("policy validation failed: %s: %s", e.Field, e.Reason)
}

func (e *PolicyValidationError) Unwrap() error { return ErrPolicyValidation }

// InsufficientBalanceError provides details about a denied reservation.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Available   int
	Requested   int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s/%d: available %d, requested %d",
		e.EmployeeID, e.LeaveTypeID, e.Year, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OverlapError reports a date range colliding with an existing application.
type OverlapError struct {
	ApplicationID ApplicationID
	Range         DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("range overlaps application %s (%s)", e.ApplicationID, e.Range)
}

func (e *OverlapError) Unwrap() error { return ErrInvalidRange }

// NotAuthorizedError reports a role mismatch at an approval level.
type NotAuthorizedError struct {
	Level    int
	Required Role
	Got      Role
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("role %q not authorized at level %d (requires %q)", e.Got, e.Level, e.Required)
}

func (e *NotAuthorizedError) Unwrap() error { return ErrNotAuthorized }

// PendingReservationsError reports the key that blocked a rollover.
type PendingReservationsError struct {
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Year         int
	ReservedDays int
}

func (e *PendingReservationsError) Error() string {
	return fmt.Sprintf("pending reservations exist for %s/%s/%d: %d days reserved",
		e.EmployeeID, e.LeaveTypeID, e.Year, e.ReservedDays)
}

func (e *PendingReservationsError) Unwrap() error { return ErrPendingReservations }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the caller's input or
// an expected business outcome, as opposed to an engine/storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPolicyValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrTypeInUse)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTypeNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}
