/*
ledger.go - Atomic balance operations

PURPOSE:
  Implements Reserve/Commit/Release/EnsureBalance and the year-end roll
  forward. This is the only code in the system that mutates balances.

CONCURRENCY MODEL:
  A lock per (employee, leave type, year) key. Operations on the same key
  are serialized; operations on different keys run fully concurrently, so a
  slow approval chain never stalls unrelated employees. Reserve fails fast
  with InsufficientBalance; nothing in this package waits for capacity.

  There is no cross-request transaction spanning Submit -> Approve -> Commit.
  The approval chain can take days and must survive restarts, so each
  operation commits its own state change and Commit/Release are idempotent.

WHY A RESERVATION TOKEN?
  The reserve amount is frozen at submission. The settle operations take a
  token, not a day count, so a retried Commit can never move a different
  amount than was held, and a double Commit is detected by the token state
  rather than by fragile arithmetic.

SEE ALSO:
  - balance.go: Types and invariants
  - ../workflow: The only caller of Reserve/Commit/Release
  - ../rollover: The only caller of RollForward
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger owns all balance mutations. Construct one per store; the per-key
// locks live in process, so all writers must share the same Ledger instance.
type Ledger struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		locks: make(map[Key]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one key. Locks are created on first
// use and kept for the process lifetime; the population is bounded by the
// number of balances.
func (l *Ledger) lockFor(key Key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// =============================================================================
// ENSURE BALANCE
// =============================================================================

// EnsureBalance returns the balance for the key, creating it from the
// policy's rule if none exists. An existing balance is returned unchanged:
// totals issued earlier are never overwritten, even if the policy has
// changed since.
func (l *Ledger) EnsureBalance(ctx context.Context, key Key, policy *leave.LeavePolicy) (*Balance, error) {
	rule, ok := policy.Rule(key.LeaveTypeID)
	if !ok {
		return nil, &leave.InvalidInputError{
			Field:  "leaveTypeId",
			Reason: fmt.Sprintf("policy %q does not cover leave type %q", policy.ID, key.LeaveTypeID),
		}
	}

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	existing, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := l.now().UTC()
	b := Balance{
		ID:        uuid.NewString(),
		Key:       key,
		PolicyID:  policy.ID,
		TotalDays: rule.MaxDays,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateBalance(ctx, b); err != nil {
		return nil, err
	}

	if err := l.append(ctx, key, EntryGrant, rule.MaxDays, string(policy.ID), "opening entitlement"); err != nil {
		return nil, err
	}
	return &b, nil
}

// =============================================================================
// RESERVE / COMMIT / RELEASE
// =============================================================================

// Reserve places a hold of days against the key's balance. This is the sole
// gate preventing overdraft from concurrent submissions: it succeeds only if
// used + reserved + days <= total, and fails fast with InsufficientBalance
// otherwise.
func (l *Ledger) Reserve(ctx context.Context, key Key, days int) (*ReservationToken, error) {
	if days <= 0 {
		return nil, &leave.InvalidInputError{Field: "days", Reason: "must be positive"}
	}

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	b, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, leave.ErrBalanceNotFound
	}

	if b.AvailableDays() < days {
		return nil, &leave.InsufficientBalanceError{
			EmployeeID:  key.EmployeeID,
			LeaveTypeID: key.LeaveTypeID,
			Year:        key.Year,
			Available:   b.AvailableDays(),
			Requested:   days,
		}
	}

	b.ReservedDays += days
	b.UpdatedAt = l.now().UTC()
	if err := b.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := l.store.UpdateBalance(ctx, *b); err != nil {
		return nil, err
	}

	token := ReservationToken{
		ID:        leave.TokenID(uuid.NewString()),
		Key:       key,
		Days:      days,
		State:     TokenHeld,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.SaveToken(ctx, token); err != nil {
		return nil, err
	}

	if err := l.append(ctx, key, EntryReserve, days, string(token.ID), "days held for pending application"); err != nil {
		return nil, err
	}
	return &token, nil
}

// Commit converts a hold into usage: reserved goes down, used goes up by the
// token's exact amount. Committing an already-committed token returns the
// prior result without touching the balance again.
func (l *Ledger) Commit(ctx context.Context, id leave.TokenID) (*ReservationToken, error) {
	return l.settle(ctx, id, TokenCommitted)
}

// Release drops a hold without touching usage. Idempotent in the same way
// as Commit.
func (l *Ledger) Release(ctx context.Context, id leave.TokenID) (*ReservationToken, error) {
	return l.settle(ctx, id, TokenReleased)
}

func (l *Ledger) settle(ctx context.Context, id leave.TokenID, target TokenState) (*ReservationToken, error) {
	token, err := l.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, leave.ErrTokenNotFound
	}

	mu := l.lockFor(token.Key)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; another settle may have raced us here.
	token, err = l.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}

	if token.State == target {
		// Retried settle: return the prior outcome, no double-counting.
		return token, nil
	}
	if token.State != TokenHeld {
		return nil, fmt.Errorf("%w: token %s already %s, cannot %s",
			leave.ErrInvalidState, token.ID, token.State, target)
	}

	b, err := l.store.GetBalance(ctx, token.Key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, leave.ErrBalanceNotFound
	}

	b.ReservedDays -= token.Days
	entryType := EntryRelease
	reason := "hold released"
	if target == TokenCommitted {
		b.UsedDays += token.Days
		entryType = EntryCommit
		reason = "hold committed to usage"
	}

	b.UpdatedAt = l.now().UTC()
	if err := b.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := l.store.UpdateBalance(ctx, *b); err != nil {
		return nil, err
	}

	settledAt := l.now().UTC()
	token.State = target
	token.SettledAt = &settledAt
	if err := l.store.SaveToken(ctx, *token); err != nil {
		return nil, err
	}

	if err := l.append(ctx, token.Key, entryType, token.Days, string(token.ID), reason); err != nil {
		return nil, err
	}
	return token, nil
}

// =============================================================================
// YEAR-END ROLL FORWARD
// =============================================================================

// RollForwardResult reports one key's year-end outcome.
type RollForwardResult struct {
	Key           Key
	CarriedOver   int
	EncashedDays  int
	Payout        decimal.Decimal
	ForfeitedDays int
	NextBalance   *Balance

	// AlreadyDone is true when a next-year balance already existed and the
	// call was a no-op. Re-running a rollover never double-credits.
	AlreadyDone bool
}

// RollForward closes out one balance at year end and opens the next year's.
//
//  1. carry = min(remaining, rule.MaxCarryForwardDays) if carry-forward is on
//  2. encash = min(remaining - carry, rule.MaxEncashmentDays) if eligible;
//     payout = encash * rule.EncashmentRate
//  3. everything beyond carry + encash is forfeited (audit entry only)
//  4. next year opens with rule.MaxDays + carry
//
// Fails with PendingReservations when a hold is still outstanding; the
// rollover batch skips that key and reports it for retry.
func (l *Ledger) RollForward(ctx context.Context, key Key, rule leave.PolicyLeaveTypeRule, policyID leave.PolicyID, runID string) (*RollForwardResult, error) {
	if rule.LeaveTypeID != key.LeaveTypeID {
		return nil, &leave.InvalidInputError{
			Field:  "rule",
			Reason: fmt.Sprintf("rule is for leave type %q, key is %s", rule.LeaveTypeID, key),
		}
	}

	// Ending year first, then the opening year: a fixed order, and rollovers
	// only ever move forward, so the two locks cannot deadlock.
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	nextKey := key.Next()
	nextMu := l.lockFor(nextKey)
	nextMu.Lock()
	defer nextMu.Unlock()

	b, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, leave.ErrBalanceNotFound
	}

	if existing, err := l.store.GetBalance(ctx, nextKey); err != nil {
		return nil, err
	} else if existing != nil {
		return &RollForwardResult{Key: key, Payout: decimal.Zero, NextBalance: existing, AlreadyDone: true}, nil
	}

	if b.ReservedDays > 0 {
		return nil, &leave.PendingReservationsError{
			EmployeeID:   key.EmployeeID,
			LeaveTypeID:  key.LeaveTypeID,
			Year:         key.Year,
			ReservedDays: b.ReservedDays,
		}
	}

	remaining := b.RemainingDays()

	carry := 0
	if rule.CarryForward {
		carry = min(remaining, rule.MaxCarryForwardDays)
	}
	encash := 0
	if rule.EncashmentEligible {
		encash = min(remaining-carry, rule.MaxEncashmentDays)
		if encash < 0 {
			encash = 0
		}
	}
	forfeit := remaining - carry - encash
	payout := decimal.NewFromInt(int64(encash)).Mul(rule.EncashmentRate)

	now := l.now().UTC()
	next := Balance{
		ID:        uuid.NewString(),
		Key:       nextKey,
		PolicyID:  policyID,
		TotalDays: rule.MaxDays + carry,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := l.store.CreateBalance(ctx, next); err != nil {
		return nil, err
	}

	// Close-out entries on the ending year, opening entries on the new one.
	if encash > 0 {
		if err := l.append(ctx, key, EntryEncashment, encash, runID,
			fmt.Sprintf("encashed at rate %s, payout %s", rule.EncashmentRate, payout)); err != nil {
			return nil, err
		}
	}
	if forfeit > 0 {
		if err := l.append(ctx, key, EntryForfeit, forfeit, runID, "unused days forfeited at year end"); err != nil {
			return nil, err
		}
	}
	if err := l.append(ctx, nextKey, EntryGrant, rule.MaxDays, runID, "opening entitlement"); err != nil {
		return nil, err
	}
	if carry > 0 {
		if err := l.append(ctx, nextKey, EntryCarryForward, carry, runID, "carried over from previous year"); err != nil {
			return nil, err
		}
	}

	return &RollForwardResult{
		Key:           key,
		CarriedOver:   carry,
		EncashedDays:  encash,
		Payout:        payout,
		ForfeitedDays: forfeit,
		NextBalance:   &next,
	}, nil
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the balance for a key.
func (l *Ledger) GetBalance(ctx context.Context, key Key) (*Balance, error) {
	b, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, leave.ErrBalanceNotFound
	}
	return b, nil
}

// BalancesForYear returns all balances for a year.
func (l *Ledger) BalancesForYear(ctx context.Context, year int) ([]Balance, error) {
	return l.store.ListBalances(ctx, year)
}

// BalancesForEmployee returns all of an employee's balances.
func (l *Ledger) BalancesForEmployee(ctx context.Context, id leave.EmployeeID) ([]Balance, error) {
	return l.store.ListBalancesByEmployee(ctx, id)
}

// Entries returns a key's audit trail, oldest first.
func (l *Ledger) Entries(ctx context.Context, key Key) ([]Entry, error) {
	return l.store.ListEntries(ctx, key)
}

// =============================================================================
// INTERNAL
// =============================================================================

func (l *Ledger) append(ctx context.Context, key Key, t EntryType, days int, ref, reason string) error {
	return l.store.AppendEntry(ctx, Entry{
		ID:          uuid.NewString(),
		Key:         key,
		Type:        t,
		Days:        days,
		ReferenceID: ref,
		Reason:      reason,
		CreatedAt:   l.now().UTC(),
	})
}
