/*
Package ledger is the single source of truth for leave balances.

PURPOSE:
  One Balance record exists per (employee, leave type, year). Every day an
  employee spends passes through exactly three atomic operations:

    Reserve -> hold days against a pending application (the overdraft gate)
    Commit  -> convert the hold into usage on final approval
    Release -> drop the hold on rejection or cancellation

  plus EnsureBalance (create-if-absent) and the year-end roll forward.

CRITICAL INVARIANTS:
  1. TotalDays, UsedDays, ReservedDays >= 0 at all times
  2. UsedDays + ReservedDays <= TotalDays (anti-overdraft)
  3. RemainingDays is derived, never stored: TotalDays - UsedDays
  4. Operations on one key are serialized; different keys never block
     each other
  5. Commit/Release are idempotent: repeating one returns the prior
     outcome instead of double-counting

AUDIT TRAIL:
  Every mutation appends an immutable Entry. Balances are mutable records
  for fast reads, but any balance state can be replayed from its entries.

KEY CONCEPTS IN THIS FILE (balance.go):
  - Key: The (employee, leave type, year) identity of a balance
  - Balance: The mutable record with total/used/reserved day counts
  - ReservationToken: A hold with its own settle-once lifecycle
  - Entry: One immutable audit line per mutation

SEE ALSO:
  - ledger.go: The atomic operations
  - store.go: Persistence interface
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// KEY - Balance identity
// =============================================================================

// Key identifies a balance. Ledger operations are linearizable per key.
type Key struct {
	EmployeeID  leave.EmployeeID
	LeaveTypeID leave.LeaveTypeID
	Year        int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// Next returns the same employee/type key for the following year.
func (k Key) Next() Key {
	return Key{EmployeeID: k.EmployeeID, LeaveTypeID: k.LeaveTypeID, Year: k.Year + 1}
}

// =============================================================================
// BALANCE - One record per key, never deleted
// =============================================================================

// Balance tracks an employee's entitlement for one leave type and year.
// PolicyID records which policy issued the balance; policy updates never
// retroactively change an issued balance.
type Balance struct {
	ID           string
	Key          Key
	PolicyID     leave.PolicyID
	TotalDays    int
	UsedDays     int
	ReservedDays int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemainingDays is the derived value surfaced to balance displays.
func (b *Balance) RemainingDays() int { return b.TotalDays - b.UsedDays }

// AvailableDays is what a new reservation can still claim.
func (b *Balance) AvailableDays() int { return b.TotalDays - b.UsedDays - b.ReservedDays }

// CheckInvariants verifies the balance is internally consistent. Every
// mutation path runs this before persisting.
func (b *Balance) CheckInvariants() error {
	if b.TotalDays < 0 || b.UsedDays < 0 || b.ReservedDays < 0 {
		return fmt.Errorf("balance %s: negative quantity (total=%d used=%d reserved=%d)",
			b.Key, b.TotalDays, b.UsedDays, b.ReservedDays)
	}
	if b.UsedDays+b.ReservedDays > b.TotalDays {
		return fmt.Errorf("balance %s: overdraft (used=%d + reserved=%d > total=%d)",
			b.Key, b.UsedDays, b.ReservedDays, b.TotalDays)
	}
	return nil
}

// =============================================================================
// RESERVATION TOKEN - A hold with a settle-once lifecycle
// =============================================================================

// TokenState tracks a reservation's lifecycle. A token settles exactly once;
// settling it again returns the prior result.
type TokenState string

const (
	TokenHeld      TokenState = "held"
	TokenCommitted TokenState = "committed"
	TokenReleased  TokenState = "released"
)

// ReservationToken references the exact amount held by a Reserve call.
// The workflow stores the token ID on the application and settles it on the
// terminal transition.
type ReservationToken struct {
	ID    leave.TokenID
	Key   Key
	Days  int
	State TokenState

	CreatedAt time.Time
	SettledAt *time.Time
}

// =============================================================================
// ENTRY - Immutable audit line
// =============================================================================

type EntryType string

const (
	EntryGrant        EntryType = "grant"         // opening entitlement for a year
	EntryReserve      EntryType = "reserve"       // hold placed
	EntryCommit       EntryType = "commit"        // hold converted to usage
	EntryRelease      EntryType = "release"       // hold dropped
	EntryCarryForward EntryType = "carry_forward" // days moved into next year
	EntryEncashment   EntryType = "encashment"    // days converted to payout
	EntryForfeit      EntryType = "forfeit"       // days expired at year end
)

// Entry records one balance mutation. Entries are append-only; corrections
// happen through new mutations, never edits.
type Entry struct {
	ID          string
	Key         Key
	Type        EntryType
	Days        int    // magnitude of the mutation, always >= 0
	ReferenceID string // token ID, application ID, or rollover run ID
	Reason      string
	CreatedAt   time.Time
}
