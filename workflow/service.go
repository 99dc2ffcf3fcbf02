/*
service.go - Submit/Approve/Reject/Cancel

PURPOSE:
  The operations of the application state machine. Everything here follows
  the same shape: validate, take the employee's lock, check state, move the
  ledger first, then persist the application, then dispatch the event.

ORDERING NOTES:
  - Submit reserves BEFORE creating the application: a denied reservation
    leaves no record behind.
  - Terminal transitions settle the ledger BEFORE persisting the new status.
    If the process dies between the two, the settle is idempotent, so
    retrying the transition converges instead of double-counting.

AUTHORIZATION:
  The identity collaborator supplies approver IDs and roles; the service only
  checks the role against the policy hierarchy. Approve demands the exact
  current level's role. Reject accepts the current level's role or any later
  level's role: rejection is terminal and conservative, so a higher authority
  may short-circuit.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates the application lifecycle.
type Service struct {
	apps     ApplicationStore
	ledger   *ledger.Ledger
	policies leave.PolicyStore
	types    leave.TypeStore
	events   leave.Dispatcher
	now      func() time.Time

	// Per-employee locks serialize Submit's overlap check against other
	// submissions and approvals for the same employee. Balance-level
	// consistency is the ledger's job, not this lock's.
	mu    sync.Mutex
	locks map[leave.EmployeeID]*sync.Mutex
}

func NewService(apps ApplicationStore, led *ledger.Ledger, policies leave.PolicyStore, types leave.TypeStore, events leave.Dispatcher) *Service {
	if events == nil {
		events = leave.NopDispatcher{}
	}
	return &Service{
		apps:     apps,
		ledger:   led,
		policies: policies,
		types:    types,
		events:   events,
		now:      time.Now,
		locks:    make(map[leave.EmployeeID]*sync.Mutex),
	}
}

func (s *Service) lockFor(id leave.EmployeeID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput carries everything a submission needs. The policy is resolved
// by ID; identity fields are trusted as already authenticated.
type SubmitInput struct {
	EmployeeID  leave.EmployeeID
	LeaveTypeID leave.LeaveTypeID
	PolicyID    leave.PolicyID
	StartDate   time.Time
	EndDate     time.Time
	Reason      string
}

// Submit creates a Pending application at level 1 after reserving days.
//
// Failure modes, in check order:
//   - InvalidInput: empty reason, inactive/unknown leave type
//   - InvalidRange: end before start, or overlap with an existing
//     Pending/Approved application of the same employee
//   - InsufficientBalance: reservation denied; no record is created
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Application, error) {
	if in.Reason == "" {
		return nil, &leave.InvalidInputError{Field: "reason", Reason: "must not be empty"}
	}

	lt, err := s.types.GetType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if lt == nil {
		return nil, leave.ErrTypeNotFound
	}
	if !lt.IsActive {
		return nil, &leave.InvalidInputError{
			Field:  "leaveTypeId",
			Reason: fmt.Sprintf("leave type %q is deactivated", lt.Name),
		}
	}

	policy, err := s.policies.GetPolicy(ctx, in.PolicyID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, leave.ErrPolicyNotFound
	}

	r := leave.NewDateRange(in.StartDate, in.EndDate)
	if err := r.Validate(); err != nil {
		return nil, err
	}

	mu := s.lockFor(in.EmployeeID)
	mu.Lock()
	defer mu.Unlock()

	// No double-booking: one employee cannot hold two overlapping leaves,
	// pending or approved, regardless of leave type.
	active, err := s.apps.ListActive(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	for _, other := range active {
		if r.Overlaps(other.Range()) {
			return nil, &leave.OverlapError{ApplicationID: other.ID, Range: other.Range()}
		}
	}

	requestedDays := r.Days()
	key := ledger.Key{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Year: r.Start.Year()}

	if _, err := s.ledger.EnsureBalance(ctx, key, policy); err != nil {
		return nil, err
	}

	token, err := s.ledger.Reserve(ctx, key, requestedDays)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app := Application{
		ID:            leave.ApplicationID(uuid.NewString()),
		EmployeeID:    in.EmployeeID,
		LeaveTypeID:   in.LeaveTypeID,
		PolicyID:      in.PolicyID,
		StartDate:     r.Start,
		EndDate:       r.End,
		RequestedDays: requestedDays,
		Reason:        in.Reason,
		Status:        StatusPending,
		CurrentLevel:  1,
		TokenID:       token.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.apps.SaveApplication(ctx, app); err != nil {
		// Undo the hold so a failed save cannot strand reserved days.
		if _, relErr := s.ledger.Release(ctx, token.ID); relErr != nil {
			return nil, errors.Join(err, relErr)
		}
		return nil, err
	}

	s.events.Dispatch(ctx, leave.Event{
		Type:          leave.EventApplicationSubmitted,
		EmployeeID:    app.EmployeeID,
		LeaveTypeID:   app.LeaveTypeID,
		ApplicationID: app.ID,
		Year:          key.Year,
		At:            now,
		Detail:        map[string]string{"days": fmt.Sprint(requestedDays)},
	})
	return &app, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve records one approver's decision at the current level. The role
// must match hierarchy[currentLevel] exactly. At the final level the
// reservation is committed and the application becomes Approved; otherwise
// the level advances.
func (s *Service) Approve(ctx context.Context, id leave.ApplicationID, approverID leave.EmployeeID, role leave.Role, comment string) (*Application, error) {
	app, policy, unlock, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	required, ok := policy.RoleAt(app.CurrentLevel)
	if !ok {
		return nil, fmt.Errorf("%w: application %s at level %d beyond hierarchy",
			leave.ErrInvalidState, app.ID, app.CurrentLevel)
	}
	if role != required {
		return nil, &leave.NotAuthorizedError{Level: app.CurrentLevel, Required: required, Got: role}
	}

	now := s.now().UTC()
	app.Trail = append(app.Trail, TrailEntry{
		Level:      app.CurrentLevel,
		ApproverID: approverID,
		Decision:   DecisionApproved,
		Comment:    comment,
		At:         now,
	})

	final := app.CurrentLevel == policy.FinalLevel()
	if final {
		if _, err := s.ledger.Commit(ctx, app.TokenID); err != nil {
			return nil, err
		}
		app.Status = StatusApproved
	} else {
		app.CurrentLevel++
	}
	app.UpdatedAt = now

	if err := s.apps.SaveApplication(ctx, *app); err != nil {
		return nil, err
	}

	eventType := leave.EventLevelApproved
	if final {
		eventType = leave.EventApproved
	}
	s.events.Dispatch(ctx, leave.Event{
		Type:          eventType,
		EmployeeID:    app.EmployeeID,
		LeaveTypeID:   app.LeaveTypeID,
		ApplicationID: app.ID,
		At:            now,
		Detail:        map[string]string{"level": fmt.Sprint(len(app.Trail)), "approver": string(approverID)},
	})
	return app, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject terminates the application and releases the hold. Any role from the
// current level upward in the hierarchy may reject; rejection is terminal, so
// a higher authority need not wait for the chain to reach it.
func (s *Service) Reject(ctx context.Context, id leave.ApplicationID, approverID leave.EmployeeID, role leave.Role, rejectionReason string) (*Application, error) {
	if rejectionReason == "" {
		return nil, &leave.InvalidInputError{Field: "rejectionReason", Reason: "must not be empty"}
	}

	app, policy, unlock, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !authorizedToReject(policy, app.CurrentLevel, role) {
		required, _ := policy.RoleAt(app.CurrentLevel)
		return nil, &leave.NotAuthorizedError{Level: app.CurrentLevel, Required: required, Got: role}
	}

	if _, err := s.ledger.Release(ctx, app.TokenID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app.Trail = append(app.Trail, TrailEntry{
		Level:      app.CurrentLevel,
		ApproverID: approverID,
		Decision:   DecisionRejected,
		Comment:    rejectionReason,
		At:         now,
	})
	app.Status = StatusRejected
	app.RejectionReason = rejectionReason
	app.UpdatedAt = now

	if err := s.apps.SaveApplication(ctx, *app); err != nil {
		return nil, err
	}

	s.events.Dispatch(ctx, leave.Event{
		Type:          leave.EventRejected,
		EmployeeID:    app.EmployeeID,
		LeaveTypeID:   app.LeaveTypeID,
		ApplicationID: app.ID,
		At:            now,
		Detail:        map[string]string{"reason": rejectionReason, "approver": string(approverID)},
	})
	return app, nil
}

// authorizedToReject accepts the current level's role or any later level's.
func authorizedToReject(policy *leave.LeavePolicy, currentLevel int, role leave.Role) bool {
	for _, l := range policy.Hierarchy {
		if l.Level >= currentLevel && l.RequiredRole == role {
			return true
		}
	}
	return false
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a Pending application. Only the submitting employee may
// cancel, and only before any approver has acted; once the trail is
// non-empty, cancellation would undermine an in-progress decision and fails
// with InvalidState.
func (s *Service) Cancel(ctx context.Context, id leave.ApplicationID, employeeID leave.EmployeeID) (*Application, error) {
	app, _, unlock, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if app.EmployeeID != employeeID {
		return nil, fmt.Errorf("%w: only the applicant may cancel", leave.ErrNotAuthorized)
	}
	if len(app.Trail) > 0 {
		return nil, fmt.Errorf("%w: cannot cancel after an approver has acted", leave.ErrInvalidState)
	}

	if _, err := s.ledger.Release(ctx, app.TokenID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app.Status = StatusCancelled
	app.UpdatedAt = now

	if err := s.apps.SaveApplication(ctx, *app); err != nil {
		return nil, err
	}

	s.events.Dispatch(ctx, leave.Event{
		Type:          leave.EventCancelled,
		EmployeeID:    app.EmployeeID,
		LeaveTypeID:   app.LeaveTypeID,
		ApplicationID: app.ID,
		At:            now,
	})
	return app, nil
}

// =============================================================================
// READS
// =============================================================================

// GetApplication returns one application.
func (s *Service) GetApplication(ctx context.Context, id leave.ApplicationID) (*Application, error) {
	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, leave.ErrApplicationNotFound
	}
	return app, nil
}

// ListApplications returns applications matching the filter.
func (s *Service) ListApplications(ctx context.Context, f Filter) ([]Application, error) {
	return s.apps.ListApplications(ctx, f)
}

// =============================================================================
// INTERNAL
// =============================================================================

// loadPending fetches the application and its policy and takes the
// employee's lock, re-reading under the lock. The returned unlock must be
// called by the caller. Fails with InvalidState for terminal applications.
func (s *Service) loadPending(ctx context.Context, id leave.ApplicationID) (*Application, *leave.LeavePolicy, func(), error) {
	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if app == nil {
		return nil, nil, nil, leave.ErrApplicationNotFound
	}

	mu := s.lockFor(app.EmployeeID)
	mu.Lock()

	app, err = s.apps.GetApplication(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, nil, nil, err
	}
	if app.Status.Terminal() {
		mu.Unlock()
		return nil, nil, nil, fmt.Errorf("%w: application %s is %s", leave.ErrInvalidState, app.ID, app.Status)
	}

	policy, err := s.policies.GetPolicy(ctx, app.PolicyID)
	if err != nil {
		mu.Unlock()
		return nil, nil, nil, err
	}
	if policy == nil {
		mu.Unlock()
		return nil, nil, nil, leave.ErrPolicyNotFound
	}

	return app, policy, mu.Unlock, nil
}
