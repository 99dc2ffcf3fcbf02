/*
policy.go - Leave policy service and validation

PURPOSE:
  A LeavePolicy binds leave types to numeric entitlement rules and an ordered
  approval hierarchy. Policies are read-mostly configuration consumed by the
  application workflow and the rollover processor.

VALIDATION RULES:
  - name non-empty, at least one rule, at least one hierarchy level
  - every rule's leave type must exist in the catalog
  - MaxDays >= 0; MaxCarryForwardDays <= MaxDays; MaxEncashmentDays <= MaxDays
  - EncashmentRate > 0 whenever encashment is eligible
  - hierarchy levels are exactly 1..N: no gaps, no duplicates, roles non-empty

POLICY CHANGES:
  Updating a policy never recomputes balances already issued under the old
  rules. The change applies only to balances created afterwards, so historical
  entitlement is never silently mutated.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// POLICY STORE - Persistence interface
// =============================================================================

// PolicyStore persists leave policies.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p LeavePolicy) error

	// GetPolicy returns nil (no error) when the policy does not exist.
	GetPolicy(ctx context.Context, id PolicyID) (*LeavePolicy, error)

	ListPolicies(ctx context.Context) ([]LeavePolicy, error)
}

// =============================================================================
// POLICY SERVICE
// =============================================================================

// Policies manages leave policy configuration.
type Policies struct {
	store PolicyStore
	types TypeStore
	now   func() time.Time
}

func NewPolicies(store PolicyStore, types TypeStore) *Policies {
	return &Policies{store: store, types: types, now: time.Now}
}

// CreatePolicy validates and persists a new policy.
func (s *Policies) CreatePolicy(ctx context.Context, p LeavePolicy) (*LeavePolicy, error) {
	p.ID = PolicyID(uuid.NewString())
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.validate(ctx, &p); err != nil {
		return nil, err
	}
	if err := s.store.SavePolicy(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePolicy re-validates the full object and replaces it. Balances issued
// under the previous version are not touched.
func (s *Policies) UpdatePolicy(ctx context.Context, p LeavePolicy) (*LeavePolicy, error) {
	existing, err := s.store.GetPolicy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPolicyNotFound
	}

	if err := s.validate(ctx, &p); err != nil {
		return nil, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if err := s.store.SavePolicy(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPolicy returns a policy by ID.
func (s *Policies) GetPolicy(ctx context.Context, id PolicyID) (*LeavePolicy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPolicyNotFound
	}
	return p, nil
}

// ListPolicies returns all policies.
func (s *Policies) ListPolicies(ctx context.Context) ([]LeavePolicy, error) {
	return s.store.ListPolicies(ctx)
}

// =============================================================================
// VALIDATION
// =============================================================================

func (s *Policies) validate(ctx context.Context, p *LeavePolicy) error {
	if p.Name == "" {
		return &PolicyValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(p.Rules) == 0 {
		return &PolicyValidationError{Field: "rules", Reason: "policy must bind at least one leave type"}
	}
	if len(p.Hierarchy) == 0 {
		return &PolicyValidationError{Field: "approvalHierarchy", Reason: "must have at least one level"}
	}

	seen := make(map[LeaveTypeID]bool, len(p.Rules))
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)

		if r.LeaveTypeID == "" {
			return &PolicyValidationError{Field: field + ".leaveTypeId", Reason: "must not be empty"}
		}
		if seen[r.LeaveTypeID] {
			return &PolicyValidationError{Field: field + ".leaveTypeId", Reason: "duplicate leave type"}
		}
		seen[r.LeaveTypeID] = true

		t, err := s.types.GetType(ctx, r.LeaveTypeID)
		if err != nil {
			return err
		}
		if t == nil {
			return &PolicyValidationError{
				Field:  field + ".leaveTypeId",
				Reason: fmt.Sprintf("unknown leave type %q", r.LeaveTypeID),
			}
		}

		if r.MaxDays < 0 {
			return &PolicyValidationError{Field: field + ".maxDays", Reason: "must not be negative"}
		}
		if r.MaxCarryForwardDays < 0 || r.MaxCarryForwardDays > r.MaxDays {
			return &PolicyValidationError{
				Field:  field + ".maxCarryForwardDays",
				Reason: "must be between 0 and maxDays",
			}
		}
		if r.MaxEncashmentDays < 0 || r.MaxEncashmentDays > r.MaxDays {
			return &PolicyValidationError{
				Field:  field + ".maxEncashmentDays",
				Reason: "must be between 0 and maxDays",
			}
		}
		if r.EncashmentEligible && !r.EncashmentRate.IsPositive() {
			return &PolicyValidationError{
				Field:  field + ".encashmentRate",
				Reason: "must be positive when encashment is eligible",
			}
		}
	}

	// Levels must be exactly 1..N.
	for i, l := range p.Hierarchy {
		field := fmt.Sprintf("approvalHierarchy[%d]", i)
		if l.Level != i+1 {
			return &PolicyValidationError{
				Field:  field + ".level",
				Reason: fmt.Sprintf("levels must be contiguous from 1, got %d at position %d", l.Level, i),
			}
		}
		if l.RequiredRole == "" {
			return &PolicyValidationError{Field: field + ".requiredRole", Reason: "must not be empty"}
		}
	}

	return nil
}
