/*
memory.go - In-memory store

PURPOSE:
  Map-backed implementation of every persistence interface the engine
  defines. Used by tests and by the dev server when no database path is
  configured. One struct implements all four interfaces because the
  cross-entity checks (TypeInUse, TypeReferenced) need to see balances and
  applications alongside the catalog.

CONCURRENCY:
  A single RWMutex guards everything. Values are copied in and out so
  callers can never mutate stored state through a returned pointer.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/workflow"
)

// Store holds everything in maps. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	types    map[leave.LeaveTypeID]leave.LeaveType
	policies map[leave.PolicyID]leave.LeavePolicy
	balances map[ledger.Key]ledger.Balance
	tokens   map[leave.TokenID]ledger.ReservationToken
	entries  []ledger.Entry
	apps     map[leave.ApplicationID]workflow.Application
}

var (
	_ leave.TypeStore           = (*Store)(nil)
	_ leave.PolicyStore         = (*Store)(nil)
	_ ledger.Store              = (*Store)(nil)
	_ workflow.ApplicationStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		types:    make(map[leave.LeaveTypeID]leave.LeaveType),
		policies: make(map[leave.PolicyID]leave.LeavePolicy),
		balances: make(map[ledger.Key]ledger.Balance),
		tokens:   make(map[leave.TokenID]ledger.ReservationToken),
		apps:     make(map[leave.ApplicationID]workflow.Application),
	}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (s *Store) SaveType(_ context.Context, t leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t.ID] = t
	return nil
}

func (s *Store) GetType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) ListTypes(_ context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeaveType, 0, len(s.types))
	for _, t := range s.types {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteType(_ context.Context, id leave.LeaveTypeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.types, id)
	return nil
}

func (s *Store) TypeInUse(_ context.Context, id leave.LeaveTypeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, b := range s.balances {
		if key.LeaveTypeID == id && (b.UsedDays > 0 || b.ReservedDays > 0) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) TypeReferenced(_ context.Context, id leave.LeaveTypeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.balances {
		if key.LeaveTypeID == id {
			return true, nil
		}
	}
	for _, a := range s.apps {
		if a.LeaveTypeID == id {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(_ context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

func (s *Store) GetPolicy(_ context.Context, id leave.PolicyID) (*leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, nil
	}
	cp := copyPolicy(p)
	return &cp, nil
}

func (s *Store) ListPolicies(_ context.Context) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeavePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, copyPolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// copyPolicy detaches the rule and hierarchy slices.
func copyPolicy(p leave.LeavePolicy) leave.LeavePolicy {
	cp := p
	cp.Rules = append([]leave.PolicyLeaveTypeRule(nil), p.Rules...)
	cp.Hierarchy = append([]leave.ApprovalLevel(nil), p.Hierarchy...)
	return cp
}

// =============================================================================
// BALANCES, TOKENS, ENTRIES
// =============================================================================

func (s *Store) CreateBalance(_ context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.balances[b.Key]; exists {
		return fmt.Errorf("balance %s already exists", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

func (s *Store) UpdateBalance(_ context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.balances[b.Key]; !exists {
		return fmt.Errorf("balance %s does not exist", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

func (s *Store) GetBalance(_ context.Context, key ledger.Key) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *Store) ListBalances(_ context.Context, year int) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Balance
	for key, b := range s.balances {
		if key.Year == year {
			out = append(out, b)
		}
	}
	sortBalances(out)
	return out, nil
}

func (s *Store) ListBalancesByEmployee(_ context.Context, id leave.EmployeeID) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Balance
	for key, b := range s.balances {
		if key.EmployeeID == id {
			out = append(out, b)
		}
	}
	sortBalances(out)
	return out, nil
}

func sortBalances(bs []ledger.Balance) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Key.String() < bs[j].Key.String() })
}

func (s *Store) SaveToken(_ context.Context, t ledger.ReservationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.SettledAt != nil {
		at := *t.SettledAt
		t.SettledAt = &at
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) GetToken(_ context.Context, id leave.TokenID) (*ledger.ReservationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	if t.SettledAt != nil {
		at := *t.SettledAt
		t.SettledAt = &at
	}
	return &t, nil
}

func (s *Store) AppendEntry(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) ListEntries(_ context.Context, key ledger.Key) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (s *Store) SaveApplication(_ context.Context, a workflow.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[a.ID] = copyApplication(a)
	return nil
}

func (s *Store) GetApplication(_ context.Context, id leave.ApplicationID) (*workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, nil
	}
	cp := copyApplication(a)
	return &cp, nil
}

func (s *Store) ListApplications(_ context.Context, f workflow.Filter) ([]workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Application
	for _, a := range s.apps {
		if f.EmployeeID != nil && a.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, copyApplication(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListActive(_ context.Context, id leave.EmployeeID) ([]workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Application
	for _, a := range s.apps {
		if a.EmployeeID != id {
			continue
		}
		if a.Status != workflow.StatusPending && a.Status != workflow.StatusApproved {
			continue
		}
		out = append(out, copyApplication(a))
	}
	return out, nil
}

func copyApplication(a workflow.Application) workflow.Application {
	cp := a
	cp.Trail = append([]workflow.TrailEntry(nil), a.Trail...)
	return cp
}
