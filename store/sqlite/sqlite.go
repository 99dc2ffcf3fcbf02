/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine defines (leave.TypeStore,
  leave.PolicyStore, ledger.Store, workflow.ApplicationStore) using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The entries table is the audit trail:
  - No UPDATE statements on entries
  - No DELETE statements on entries

KEY TABLES:
  leave_types:  The leave type catalog
  policies:     Policy definitions; rules and hierarchy as a JSON document
  balances:     One row per (employee, leave type, year), counters mutable
  tokens:       Reservation tokens with their settle state
  entries:      Immutable audit lines for every balance mutation
  applications: Leave applications with their approval trail as JSON

INDEXES:
  - idx_balances_unique_key: Enforces one balance per (employee, type, year)
  - idx_balances_year: Rollover's scan over a closing year
  - idx_entries_key: Audit trail reads
  - idx_applications_employee_status: Overlap check and list filters

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  led := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions for balances/tokens/entries
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/workflow"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ leave.TypeStore           = (*Store)(nil)
	_ leave.PolicyStore         = (*Store)(nil)
	_ ledger.Store              = (*Store)(nil)
	_ workflow.ApplicationStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Leave type catalog
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		default_days INTEGER NOT NULL,
		is_paid BOOLEAN NOT NULL,
		is_active BOOLEAN NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Policies (rules + hierarchy as one JSON document)
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Balances: one row per (employee, leave type, year)
	CREATE TABLE IF NOT EXISTS balances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		policy_id TEXT NOT NULL,
		total_days INTEGER NOT NULL,
		used_days INTEGER NOT NULL,
		reserved_days INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one balance per key; CreateBalance relies on this
	CREATE UNIQUE INDEX IF NOT EXISTS idx_balances_unique_key
		ON balances(employee_id, leave_type_id, year);
	CREATE INDEX IF NOT EXISTS idx_balances_year
		ON balances(year);
	CREATE INDEX IF NOT EXISTS idx_balances_employee
		ON balances(employee_id);

	-- Reservation tokens
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		days INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		settled_at TEXT
	);

	-- Audit entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		days INTEGER NOT NULL,
		reference_id TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_key
		ON entries(employee_id, leave_type_id, year);

	-- Leave applications (approval trail as JSON)
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		requested_days INTEGER NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		current_level INTEGER NOT NULL,
		trail_json TEXT NOT NULL,
		rejection_reason TEXT,
		token_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_applications_employee_status
		ON applications(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_applications_leave_type
		ON applications(leave_type_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEAVE TYPES (leave.TypeStore interface)
// =============================================================================

func (s *Store) SaveType(ctx context.Context, t leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_types (id, name, description, default_days, is_paid, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			default_days = excluded.default_days,
			is_paid = excluded.is_paid,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(t.ID),
		t.Name,
		t.Description,
		t.DefaultDays,
		t.IsPaid,
		t.IsActive,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, default_days, is_paid, is_active, created_at, updated_at
		FROM leave_types WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, string(id))
	t, err := scanType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return t, nil
}

func (s *Store) ListTypes(ctx context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, default_days, is_paid, is_active, created_at, updated_at
		FROM leave_types
	`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	defer rows.Close()

	var types []leave.LeaveType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *t)
	}
	return types, rows.Err()
}

func (s *Store) DeleteType(ctx context.Context, id leave.LeaveTypeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM leave_types WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete leave type: %w", err)
	}
	return nil
}

func (s *Store) TypeInUse(ctx context.Context, id leave.LeaveTypeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(*) FROM balances
		WHERE leave_type_id = ? AND (used_days > 0 OR reserved_days > 0)
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, string(id)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) TypeReferenced(ctx context.Context, id leave.LeaveTypeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT
			(SELECT COUNT(*) FROM balances WHERE leave_type_id = ?) +
			(SELECT COUNT(*) FROM applications WHERE leave_type_id = ?)
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, string(id), string(id)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanType(row rowScanner) (*leave.LeaveType, error) {
	var t leave.LeaveType
	var id, createdAt, updatedAt string
	var description sql.NullString

	err := row.Scan(&id, &t.Name, &description, &t.DefaultDays, &t.IsPaid, &t.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.ID = leave.LeaveTypeID(id)
	t.Description = description.String
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

// =============================================================================
// POLICIES (leave.PolicyStore interface)
// =============================================================================

// policyConfig is the JSON document stored in policies.config_json. It pins
// the persisted field names so struct renames never silently change the
// storage format.
type policyConfig struct {
	Rules         []policyRuleConfig   `json:"rules"`
	Hierarchy     []approvalLevelRow   `json:"hierarchy"`
	Notifications notificationSettings `json:"notifications"`
}

type policyRuleConfig struct {
	LeaveTypeID         string          `json:"leaveTypeId"`
	MaxDays             int             `json:"maxDays"`
	CarryForward        bool            `json:"carryForward"`
	MaxCarryForwardDays int             `json:"maxCarryForwardDays"`
	EncashmentEligible  bool            `json:"encashmentEligible"`
	MaxEncashmentDays   int             `json:"maxEncashmentDays"`
	EncashmentRate      decimal.Decimal `json:"encashmentRate"`
}

type approvalLevelRow struct {
	Level        int    `json:"level"`
	RequiredRole string `json:"requiredRole"`
}

type notificationSettings struct {
	OnApply   bool `json:"onApply"`
	OnApprove bool `json:"onApprove"`
	OnReject  bool `json:"onReject"`
	OnCancel  bool `json:"onCancel"`
}

func (s *Store) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := policyConfig{
		Notifications: notificationSettings{
			OnApply:   p.Notifications.OnApply,
			OnApprove: p.Notifications.OnApprove,
			OnReject:  p.Notifications.OnReject,
			OnCancel:  p.Notifications.OnCancel,
		},
	}
	for _, r := range p.Rules {
		cfg.Rules = append(cfg.Rules, policyRuleConfig{
			LeaveTypeID:         string(r.LeaveTypeID),
			MaxDays:             r.MaxDays,
			CarryForward:        r.CarryForward,
			MaxCarryForwardDays: r.MaxCarryForwardDays,
			EncashmentEligible:  r.EncashmentEligible,
			MaxEncashmentDays:   r.MaxEncashmentDays,
			EncashmentRate:      r.EncashmentRate,
		})
	}
	for _, l := range p.Hierarchy {
		cfg.Hierarchy = append(cfg.Hierarchy, approvalLevelRow{Level: l.Level, RequiredRole: string(l.RequiredRole)})
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal policy config: %w", err)
	}

	query := `
		INSERT INTO policies (id, name, description, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		string(p.ID),
		p.Name,
		p.Description,
		string(configJSON),
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id leave.PolicyID) (*leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, description, config_json, created_at, updated_at FROM policies WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, string(id))
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, description, config_json, created_at, updated_at FROM policies ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []leave.LeavePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func scanPolicy(row rowScanner) (*leave.LeavePolicy, error) {
	var p leave.LeavePolicy
	var id, configJSON, createdAt, updatedAt string
	var description sql.NullString

	err := row.Scan(&id, &p.Name, &description, &configJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var cfg policyConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy config: %w", err)
	}

	p.ID = leave.PolicyID(id)
	p.Description = description.String
	p.Notifications = leave.NotificationSettings{
		OnApply:   cfg.Notifications.OnApply,
		OnApprove: cfg.Notifications.OnApprove,
		OnReject:  cfg.Notifications.OnReject,
		OnCancel:  cfg.Notifications.OnCancel,
	}
	for _, r := range cfg.Rules {
		p.Rules = append(p.Rules, leave.PolicyLeaveTypeRule{
			LeaveTypeID:         leave.LeaveTypeID(r.LeaveTypeID),
			MaxDays:             r.MaxDays,
			CarryForward:        r.CarryForward,
			MaxCarryForwardDays: r.MaxCarryForwardDays,
			EncashmentEligible:  r.EncashmentEligible,
			MaxEncashmentDays:   r.MaxEncashmentDays,
			EncashmentRate:      r.EncashmentRate,
		})
	}
	for _, l := range cfg.Hierarchy {
		p.Hierarchy = append(p.Hierarchy, leave.ApprovalLevel{Level: l.Level, RequiredRole: leave.Role(l.RequiredRole)})
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// =============================================================================
// BALANCES (ledger.Store interface)
// =============================================================================

func (s *Store) CreateBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO balances
		(id, employee_id, leave_type_id, year, policy_id, total_days, used_days, reserved_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		string(b.Key.EmployeeID),
		string(b.Key.LeaveTypeID),
		b.Key.Year,
		string(b.PolicyID),
		b.TotalDays,
		b.UsedDays,
		b.ReservedDays,
		b.CreatedAt.UTC().Format(time.RFC3339),
		b.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("balance %s already exists", b.Key)
		}
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (s *Store) UpdateBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE balances
		SET total_days = ?, used_days = ?, reserved_days = ?, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		b.TotalDays,
		b.UsedDays,
		b.ReservedDays,
		b.UpdatedAt.UTC().Format(time.RFC3339),
		string(b.Key.EmployeeID),
		string(b.Key.LeaveTypeID),
		b.Key.Year,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("balance %s does not exist", b.Key)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, key ledger.Key) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := balanceSelect + ` WHERE employee_id = ? AND leave_type_id = ? AND year = ?`

	row := s.db.QueryRowContext(ctx, query, string(key.EmployeeID), string(key.LeaveTypeID), key.Year)
	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func (s *Store) ListBalances(ctx context.Context, year int) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := balanceSelect + ` WHERE year = ? ORDER BY employee_id, leave_type_id`
	return s.queryBalances(ctx, query, year)
}

func (s *Store) ListBalancesByEmployee(ctx context.Context, id leave.EmployeeID) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := balanceSelect + ` WHERE employee_id = ? ORDER BY year, leave_type_id`
	return s.queryBalances(ctx, query, string(id))
}

const balanceSelect = `
	SELECT id, employee_id, leave_type_id, year, policy_id, total_days, used_days, reserved_days, created_at, updated_at
	FROM balances
`

func (s *Store) queryBalances(ctx context.Context, query string, args ...any) ([]ledger.Balance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func scanBalance(row rowScanner) (*ledger.Balance, error) {
	var b ledger.Balance
	var employeeID, leaveTypeID, policyID, createdAt, updatedAt string

	err := row.Scan(&b.ID, &employeeID, &leaveTypeID, &b.Key.Year, &policyID,
		&b.TotalDays, &b.UsedDays, &b.ReservedDays, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.Key.EmployeeID = leave.EmployeeID(employeeID)
	b.Key.LeaveTypeID = leave.LeaveTypeID(leaveTypeID)
	b.PolicyID = leave.PolicyID(policyID)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// TOKENS (ledger.Store interface)
// =============================================================================

func (s *Store) SaveToken(ctx context.Context, t ledger.ReservationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settledAt sql.NullString
	if t.SettledAt != nil {
		settledAt = sql.NullString{String: t.SettledAt.UTC().Format(time.RFC3339), Valid: true}
	}

	query := `
		INSERT INTO tokens (id, employee_id, leave_type_id, year, days, state, created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			settled_at = excluded.settled_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(t.ID),
		string(t.Key.EmployeeID),
		string(t.Key.LeaveTypeID),
		t.Key.Year,
		t.Days,
		string(t.State),
		t.CreatedAt.UTC().Format(time.RFC3339),
		settledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, id leave.TokenID) (*ledger.ReservationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, leave_type_id, year, days, state, created_at, settled_at
		FROM tokens WHERE id = ?
	`

	var t ledger.ReservationToken
	var tokenID, employeeID, leaveTypeID, state, createdAt string
	var settledAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(
		&tokenID, &employeeID, &leaveTypeID, &t.Key.Year, &t.Days, &state, &createdAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	t.ID = leave.TokenID(tokenID)
	t.Key.EmployeeID = leave.EmployeeID(employeeID)
	t.Key.LeaveTypeID = leave.LeaveTypeID(leaveTypeID)
	t.State = ledger.TokenState(state)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if settledAt.Valid {
		at, _ := time.Parse(time.RFC3339, settledAt.String)
		t.SettledAt = &at
	}
	return &t, nil
}

// =============================================================================
// ENTRIES (ledger.Store interface, append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO entries (id, employee_id, leave_type_id, year, entry_type, days, reference_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Key.EmployeeID),
		string(e.Key.LeaveTypeID),
		e.Key.Year,
		string(e.Type),
		e.Days,
		nullString(e.ReferenceID),
		nullString(e.Reason),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, key ledger.Key) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entry_type, days, reference_id, reason, created_at
		FROM entries
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, string(key.EmployeeID), string(key.LeaveTypeID), key.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e := ledger.Entry{Key: key}
		var entryType, createdAt string
		var referenceID, reason sql.NullString

		if err := rows.Scan(&e.ID, &entryType, &e.Days, &referenceID, &reason, &createdAt); err != nil {
			return nil, err
		}
		e.Type = ledger.EntryType(entryType)
		e.ReferenceID = referenceID.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// APPLICATIONS (workflow.ApplicationStore interface)
// =============================================================================

func (s *Store) SaveApplication(ctx context.Context, a workflow.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trailJSON, err := json.Marshal(trailRows(a.Trail))
	if err != nil {
		return fmt.Errorf("failed to marshal trail: %w", err)
	}

	query := `
		INSERT INTO applications
		(id, employee_id, leave_type_id, policy_id, start_date, end_date, requested_days,
		 reason, status, current_level, trail_json, rejection_reason, token_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_level = excluded.current_level,
			trail_json = excluded.trail_json,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		string(a.ID),
		string(a.EmployeeID),
		string(a.LeaveTypeID),
		string(a.PolicyID),
		a.StartDate.UTC().Format(time.RFC3339),
		a.EndDate.UTC().Format(time.RFC3339),
		a.RequestedDays,
		a.Reason,
		string(a.Status),
		a.CurrentLevel,
		string(trailJSON),
		nullString(a.RejectionReason),
		string(a.TokenID),
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id leave.ApplicationID) (*workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := applicationSelect + ` WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, string(id))
	a, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return a, nil
}

func (s *Store) ListApplications(ctx context.Context, f workflow.Filter) ([]workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := applicationSelect
	var conds []string
	var args []any
	if f.EmployeeID != nil {
		conds = append(conds, `employee_id = ?`)
		args = append(args, string(*f.EmployeeID))
	}
	if f.Status != nil {
		conds = append(conds, `status = ?`)
		args = append(args, string(*f.Status))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY created_at, id`

	return s.queryApplications(ctx, query, args...)
}

func (s *Store) ListActive(ctx context.Context, id leave.EmployeeID) ([]workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := applicationSelect + ` WHERE employee_id = ? AND status IN ('pending', 'approved')`
	return s.queryApplications(ctx, query, string(id))
}

const applicationSelect = `
	SELECT id, employee_id, leave_type_id, policy_id, start_date, end_date, requested_days,
	       reason, status, current_level, trail_json, rejection_reason, token_id, created_at, updated_at
	FROM applications
`

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]workflow.Application, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []workflow.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// trailRow pins the persisted trail format.
type trailRow struct {
	Level      int    `json:"level"`
	ApproverID string `json:"approverId"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
	At         string `json:"at"`
}

func trailRows(trail []workflow.TrailEntry) []trailRow {
	rows := make([]trailRow, 0, len(trail))
	for _, e := range trail {
		rows = append(rows, trailRow{
			Level:      e.Level,
			ApproverID: string(e.ApproverID),
			Decision:   string(e.Decision),
			Comment:    e.Comment,
			At:         e.At.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func scanApplication(row rowScanner) (*workflow.Application, error) {
	var a workflow.Application
	var id, employeeID, leaveTypeID, policyID string
	var startDate, endDate, status, trailJSON, tokenID, createdAt, updatedAt string
	var rejectionReason sql.NullString

	err := row.Scan(&id, &employeeID, &leaveTypeID, &policyID, &startDate, &endDate,
		&a.RequestedDays, &a.Reason, &status, &a.CurrentLevel, &trailJSON,
		&rejectionReason, &tokenID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var rows []trailRow
	if err := json.Unmarshal([]byte(trailJSON), &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trail: %w", err)
	}
	for _, r := range rows {
		at, _ := time.Parse(time.RFC3339, r.At)
		a.Trail = append(a.Trail, workflow.TrailEntry{
			Level:      r.Level,
			ApproverID: leave.EmployeeID(r.ApproverID),
			Decision:   workflow.Decision(r.Decision),
			Comment:    r.Comment,
			At:         at,
		})
	}

	a.ID = leave.ApplicationID(id)
	a.EmployeeID = leave.EmployeeID(employeeID)
	a.LeaveTypeID = leave.LeaveTypeID(leaveTypeID)
	a.PolicyID = leave.PolicyID(policyID)
	a.StartDate, _ = time.Parse(time.RFC3339, startDate)
	a.EndDate, _ = time.Parse(time.RFC3339, endDate)
	a.Status = workflow.Status(status)
	a.RejectionReason = rejectionReason.String
	a.TokenID = leave.TokenID(tokenID)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
