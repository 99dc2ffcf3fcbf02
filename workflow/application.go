/*
Package workflow implements the leave application state machine.

PURPOSE:
  Drives one leave request from submission through sequential multi-role
  approval, rejection, or cancellation, and is the only code that turns
  ledger reservations into usage.

STATE MACHINE:

  (none) --Submit--> Pending(level=1)
  Pending(L) --Approve(role matches level L)--> Pending(L+1)   [L < N]
  Pending(L) --Approve(role matches level L)--> Approved       [L == N]
  Pending(L) --Reject(role matches level >= L)--> Rejected
  Pending    --Cancel(applicant, no approvals yet)--> Cancelled

  Terminal states (Approved/Rejected/Cancelled) are immutable.

LEDGER COUPLING:
  Submit reserves days before the application exists; if the reservation is
  denied no application record is created at all. The terminal transitions
  settle the reservation: Approve at the final level commits it, Reject and
  Cancel release it. Each step commits independently; the chain survives
  restarts because the token, not in-memory state, carries the held amount.

KEY CONCEPTS IN THIS FILE (application.go):
  - Application: The request entity with its approval trail
  - Status / TrailEntry: Lifecycle bookkeeping

SEE ALSO:
  - service.go: Submit/Approve/Reject/Cancel
  - ../ledger: Reserve/Commit/Release
*/
package workflow

import (
	"context"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// APPLICATION
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool { return s != StatusPending }

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// TrailEntry records one approver action. The trail is append-only.
type TrailEntry struct {
	Level      int
	ApproverID leave.EmployeeID
	Decision   Decision
	Comment    string
	At         time.Time
}

// Application is one leave request. RequestedDays is computed at submission
// and frozen; date edits require a new application.
type Application struct {
	ID          leave.ApplicationID
	EmployeeID  leave.EmployeeID
	LeaveTypeID leave.LeaveTypeID
	PolicyID    leave.PolicyID

	StartDate     time.Time
	EndDate       time.Time
	RequestedDays int
	Reason        string

	Status       Status
	CurrentLevel int // 1..N while Pending
	Trail        []TrailEntry

	RejectionReason string

	// TokenID references the ledger hold placed at submission.
	TokenID leave.TokenID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Range returns the application's inclusive date range.
func (a *Application) Range() leave.DateRange {
	return leave.DateRange{Start: a.StartDate, End: a.EndDate}
}

// =============================================================================
// APPLICATION STORE
// =============================================================================

// Filter narrows ListApplications. Nil fields match everything.
type Filter struct {
	EmployeeID *leave.EmployeeID
	Status     *Status
}

// ApplicationStore persists applications.
type ApplicationStore interface {
	SaveApplication(ctx context.Context, a Application) error

	// GetApplication returns nil (no error) when the application does not
	// exist.
	GetApplication(ctx context.Context, id leave.ApplicationID) (*Application, error)

	ListApplications(ctx context.Context, f Filter) ([]Application, error)

	// ListActive returns an employee's Pending and Approved applications,
	// the set the double-booking check runs against.
	ListActive(ctx context.Context, id leave.EmployeeID) ([]Application, error)
}
