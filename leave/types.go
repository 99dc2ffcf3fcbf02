/*
Package leave defines the core domain of the leave engine.

PURPOSE:
  This package contains the shared vocabulary of the system: leave types,
  leave policies with their numeric rules and approval hierarchies, and the
  catalog/policy services that maintain them. The consistency-critical pieces
  live in sibling packages: package ledger owns balances and reservations,
  package workflow owns the application state machine, package rollover owns
  the year-end batch.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType: A named category of leave ("Sick", "Casual"), soft-deletable
  - PolicyLeaveTypeRule: Numeric entitlement rules binding a type to a policy
  - ApprovalLevel: One step of the ordered approval hierarchy
  - LeavePolicy: The complete ruleset an employee is entitled under

DESIGN PRINCIPLES:
  1. Type Safety: Strong typing for IDs prevents mixing employee/policy IDs
  2. Precision: decimal.Decimal for money (encashment rates and payouts)
  3. Whole days: Entitlements are integer day counts; there are no half days
  4. History preserved: Types are deactivated, never deleted, once referenced

SEE ALSO:
  - catalog.go: Leave type lifecycle
  - policy.go: Policy validation rules
  - ../ledger: Balance records and reservations
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type PolicyID string
type ApplicationID string
type TokenID string

// Role is an approver role supplied by the identity collaborator.
// The engine only compares roles against hierarchy levels; it never
// authenticates them.
type Role string

// =============================================================================
// LEAVE TYPE - Named, versionable leave category
// =============================================================================

// LeaveType is a category of leave an employee can apply for.
// Once a type is referenced by a balance with recorded usage it becomes
// immutable except for deactivation.
type LeaveType struct {
	ID          LeaveTypeID
	Name        string
	Description string
	DefaultDays int
	IsPaid      bool
	IsActive    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LEAVE POLICY - Rules plus approval hierarchy
// =============================================================================

// PolicyLeaveTypeRule binds one leave type to the numeric rules a policy
// grants for it.
//
// INVARIANTS (enforced by policy validation):
//   - MaxDays >= 0
//   - MaxCarryForwardDays <= MaxDays
//   - MaxEncashmentDays <= MaxDays
//   - EncashmentRate > 0 when EncashmentEligible
type PolicyLeaveTypeRule struct {
	LeaveTypeID         LeaveTypeID
	MaxDays             int
	CarryForward        bool
	MaxCarryForwardDays int
	EncashmentEligible  bool
	MaxEncashmentDays   int

	// EncashmentRate is money-per-day. Payout = encashed days * rate.
	EncashmentRate decimal.Decimal
}

// ApprovalLevel is one step of a policy's approval hierarchy.
// Levels are contiguous starting at 1 with no duplicates.
type ApprovalLevel struct {
	Level        int
	RequiredRole Role
}

// NotificationSettings are persisted policy flags consumed by the external
// notification dispatcher. The engine stores them verbatim and never
// interprets them.
type NotificationSettings struct {
	OnApply   bool
	OnApprove bool
	OnReject  bool
	OnCancel  bool
}

// LeavePolicy is the contract between the organization and a group of
// employees: which leave types they get, how many days, what happens at
// year end, and who must approve a request, in what order.
type LeavePolicy struct {
	ID            PolicyID
	Name          string
	Description   string
	Rules         []PolicyLeaveTypeRule
	Hierarchy     []ApprovalLevel
	Notifications NotificationSettings

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rule returns the rule for a leave type, if the policy covers it.
func (p *LeavePolicy) Rule(id LeaveTypeID) (PolicyLeaveTypeRule, bool) {
	for _, r := range p.Rules {
		if r.LeaveTypeID == id {
			return r, true
		}
	}
	return PolicyLeaveTypeRule{}, false
}

// RoleAt returns the required role for an approval level (1-based).
func (p *LeavePolicy) RoleAt(level int) (Role, bool) {
	for _, l := range p.Hierarchy {
		if l.Level == level {
			return l.RequiredRole, true
		}
	}
	return "", false
}

// FinalLevel is the last approval level; approving at this level makes the
// application Approved.
func (p *LeavePolicy) FinalLevel() int {
	max := 0
	for _, l := range p.Hierarchy {
		if l.Level > max {
			max = l.Level
		}
	}
	return max
}
