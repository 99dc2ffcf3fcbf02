/*
catalog.go - Leave type catalog

PURPOSE:
  Maintains the set of named leave categories ("Sick", "Casual", ...).
  Types are read-mostly configuration: created by an administrator, edited
  until history references them, then frozen except for deactivation.

LIFECYCLE:
  Create -> (Update while unused) -> Deactivate (soft delete)
                                  -> Delete only while never referenced

  Deactivation only blocks NEW submissions; in-flight applications that
  reference a since-deactivated type proceed unchanged.
*/
package leave

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TYPE STORE - Persistence interface
// =============================================================================

// TypeStore persists leave types.
type TypeStore interface {
	SaveType(ctx context.Context, t LeaveType) error

	// GetType returns nil (no error) when the type does not exist.
	GetType(ctx context.Context, id LeaveTypeID) (*LeaveType, error)

	ListTypes(ctx context.Context, activeOnly bool) ([]LeaveType, error)

	// DeleteType hard-deletes a type. Callers must check usage first.
	DeleteType(ctx context.Context, id LeaveTypeID) error

	// TypeInUse reports whether any balance referencing the type has
	// recorded usage.
	TypeInUse(ctx context.Context, id LeaveTypeID) (bool, error)

	// TypeReferenced reports whether any balance or application references
	// the type at all, used or not.
	TypeReferenced(ctx context.Context, id LeaveTypeID) (bool, error)
}

// =============================================================================
// CATALOG SERVICE
// =============================================================================

// Catalog manages the leave type catalog.
type Catalog struct {
	store TypeStore
	now   func() time.Time
}

func NewCatalog(store TypeStore) *Catalog {
	return &Catalog{store: store, now: time.Now}
}

// CreateType registers a new leave type. The type starts active.
func (c *Catalog) CreateType(ctx context.Context, name, description string, defaultDays int, isPaid bool) (*LeaveType, error) {
	if name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	if defaultDays < 0 {
		return nil, &InvalidInputError{Field: "defaultDays", Reason: "must not be negative"}
	}

	now := c.now().UTC()
	t := LeaveType{
		ID:          LeaveTypeID(uuid.NewString()),
		Name:        name,
		Description: description,
		DefaultDays: defaultDays,
		IsPaid:      isPaid,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.store.SaveType(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateType replaces a type's editable fields. A type referenced by a
// balance with recorded usage is immutable and the update fails with
// ErrTypeInUse.
func (c *Catalog) UpdateType(ctx context.Context, t LeaveType) (*LeaveType, error) {
	if t.Name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	if t.DefaultDays < 0 {
		return nil, &InvalidInputError{Field: "defaultDays", Reason: "must not be negative"}
	}

	existing, err := c.store.GetType(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrTypeNotFound
	}

	inUse, err := c.store.TypeInUse(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, ErrTypeInUse
	}

	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = c.now().UTC()
	if err := c.store.SaveType(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeactivateType soft-deletes a type. Always permitted: history keeps its
// reference and in-flight applications are untouched; only new submissions
// are blocked.
func (c *Catalog) DeactivateType(ctx context.Context, id LeaveTypeID) (*LeaveType, error) {
	t, err := c.store.GetType(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTypeNotFound
	}

	t.IsActive = false
	t.UpdatedAt = c.now().UTC()
	if err := c.store.SaveType(ctx, *t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteType hard-deletes a type that nothing references yet. Once any
// balance or application references the type, deletion fails with
// ErrTypeInUse and the caller should deactivate instead.
func (c *Catalog) DeleteType(ctx context.Context, id LeaveTypeID) error {
	t, err := c.store.GetType(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTypeNotFound
	}

	referenced, err := c.store.TypeReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrTypeInUse
	}
	return c.store.DeleteType(ctx, id)
}

// GetType returns a type by ID.
func (c *Catalog) GetType(ctx context.Context, id LeaveTypeID) (*LeaveType, error) {
	t, err := c.store.GetType(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTypeNotFound
	}
	return t, nil
}

// ListTypes returns all types, optionally only active ones.
func (c *Catalog) ListTypes(ctx context.Context, activeOnly bool) ([]LeaveType, error) {
	return c.store.ListTypes(ctx, activeOnly)
}
