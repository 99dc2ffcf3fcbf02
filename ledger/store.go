/*
store.go - Persistence interface for balances, tokens, and audit entries

PURPOSE:
  Defines the contract between the ledger and the database. Implementations
  exist for SQLite (production) and in-memory maps (tests/dev). The ledger
  itself provides the per-key serialization; the store only needs per-call
  atomicity.

APPEND-ONLY CONTRACT:
  Entries have AppendEntry and ListEntries only. No update, no delete.
  Balances are mutable records but are never deleted; superseded years
  remain as history.

SEE ALSO:
  - ../store/memory: In-memory implementation
  - ../store/sqlite: SQLite implementation
*/
package ledger

import (
	"context"

	"github.com/warp/leave-engine/leave"
)

// Store persists ledger state. Get* methods return nil (no error) for
// missing records; the ledger maps that to its own not-found errors.
type Store interface {
	// CreateBalance inserts a balance. Fails if the key already exists:
	// the (employee, leave type, year) key is unique.
	CreateBalance(ctx context.Context, b Balance) error

	// UpdateBalance replaces the day counters of an existing balance.
	UpdateBalance(ctx context.Context, b Balance) error

	GetBalance(ctx context.Context, key Key) (*Balance, error)

	// ListBalances returns every balance for a year, in stable key order.
	ListBalances(ctx context.Context, year int) ([]Balance, error)

	// ListBalancesByEmployee returns all of an employee's balances.
	ListBalancesByEmployee(ctx context.Context, id leave.EmployeeID) ([]Balance, error)

	SaveToken(ctx context.Context, t ReservationToken) error
	GetToken(ctx context.Context, id leave.TokenID) (*ReservationToken, error)

	// AppendEntry adds an audit line. Append-only.
	AppendEntry(ctx context.Context, e Entry) error

	// ListEntries returns a key's audit trail, oldest first.
	ListEntries(ctx context.Context, key Key) ([]Entry, error)
}
