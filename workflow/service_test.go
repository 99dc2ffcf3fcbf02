package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc    *workflow.Service
	led    *ledger.Ledger
	store  *memory.Store
	typeID leave.LeaveTypeID
	policy *leave.LeavePolicy
}

// newFixture builds a service over the in-memory store with one leave type
// (12 days) and one two-level policy (HR_MANAGER then ADMIN).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	catalog := leave.NewCatalog(store)
	lt, err := catalog.CreateType(ctx, "Earned Leave", "", 12, true)
	require.NoError(t, err)

	policies := leave.NewPolicies(store, store)
	pol, err := policies.CreatePolicy(ctx, leave.LeavePolicy{
		Name: "Standard",
		Rules: []leave.PolicyLeaveTypeRule{{
			LeaveTypeID:         lt.ID,
			MaxDays:             12,
			CarryForward:        true,
			MaxCarryForwardDays: 8,
			EncashmentEligible:  true,
			MaxEncashmentDays:   5,
			EncashmentRate:      decimal.NewFromInt(100),
		}},
		Hierarchy: []leave.ApprovalLevel{
			{Level: 1, RequiredRole: "HR_MANAGER"},
			{Level: 2, RequiredRole: "ADMIN"},
		},
	})
	require.NoError(t, err)

	led := ledger.New(store)
	svc := workflow.NewService(store, led, store, store, nil)

	return &fixture{svc: svc, led: led, store: store, typeID: lt.ID, policy: pol}
}

func (f *fixture) submit(t *testing.T, start, end time.Time) *workflow.Application {
	t.Helper()
	app, err := f.svc.Submit(context.Background(), workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   start,
		EndDate:     end,
		Reason:      "family visit",
	})
	require.NoError(t, err)
	return app
}

func (f *fixture) balance(t *testing.T, year int) *ledger.Balance {
	t.Helper()
	b, err := f.led.GetBalance(context.Background(),
		ledger.Key{EmployeeID: "emp-1", LeaveTypeID: f.typeID, Year: year})
	require.NoError(t, err)
	return b
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestService_Submit_ReservesAndCreatesPending(t *testing.T) {
	f := newFixture(t)

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	assert.Equal(t, workflow.StatusPending, app.Status)
	assert.Equal(t, 1, app.CurrentLevel)
	assert.Equal(t, 5, app.RequestedDays)
	assert.Empty(t, app.Trail)
	assert.NotEmpty(t, app.TokenID)

	b := f.balance(t, 2026)
	assert.Equal(t, 5, b.ReservedDays)
	assert.Equal(t, 0, b.UsedDays)
}

func TestService_Submit_EmptyReason(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   day(2026, time.March, 10),
		EndDate:     day(2026, time.March, 14),
	})
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}

func TestService_Submit_DeactivatedType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	catalog := leave.NewCatalog(f.store)
	_, err := catalog.DeactivateType(ctx, f.typeID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   day(2026, time.March, 10),
		EndDate:     day(2026, time.March, 14),
		Reason:      "x",
	})
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}

func TestService_Submit_EndBeforeStart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   day(2026, time.March, 14),
		EndDate:     day(2026, time.March, 10),
		Reason:      "x",
	})
	assert.ErrorIs(t, err, leave.ErrInvalidRange)
}

func TestService_Submit_Overlap_Rejected(t *testing.T) {
	// GIVEN: A pending application for March 10-14
	// WHEN: The same employee applies for March 13-16
	// THEN: The second submission fails and holds no days

	f := newFixture(t)

	f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	_, err := f.svc.Submit(context.Background(), workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   day(2026, time.March, 13),
		EndDate:     day(2026, time.March, 16),
		Reason:      "x",
	})
	assert.ErrorIs(t, err, leave.ErrInvalidRange)

	var oerr *leave.OverlapError
	assert.ErrorAs(t, err, &oerr)

	b := f.balance(t, 2026)
	assert.Equal(t, 5, b.ReservedDays, "only the first application holds days")
}

func TestService_Submit_InsufficientBalance_NoRecordCreated(t *testing.T) {
	// GIVEN: A 12-day balance
	// WHEN: Applying for 15 days
	// THEN: Reservation is denied and no application exists at all

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, workflow.SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: f.typeID,
		PolicyID:    f.policy.ID,
		StartDate:   day(2026, time.June, 1),
		EndDate:     day(2026, time.June, 15),
		Reason:      "long trip",
	})
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	apps, err := f.svc.ListApplications(ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Empty(t, apps)

	b := f.balance(t, 2026)
	assert.Equal(t, 0, b.ReservedDays)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestService_Approve_TwoLevels_CommitsAtFinal(t *testing.T) {
	// GIVEN: A pending application under a two-level hierarchy
	// WHEN: HR_MANAGER approves, then ADMIN approves
	// THEN: Level advances first, then the hold becomes usage

	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	after1, err := f.svc.Approve(ctx, app.ID, "mgr-1", "HR_MANAGER", "ok")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, after1.Status)
	assert.Equal(t, 2, after1.CurrentLevel)
	require.Len(t, after1.Trail, 1)
	assert.Equal(t, workflow.DecisionApproved, after1.Trail[0].Decision)

	b := f.balance(t, 2026)
	assert.Equal(t, 5, b.ReservedDays, "still held until final approval")
	assert.Equal(t, 0, b.UsedDays)

	after2, err := f.svc.Approve(ctx, app.ID, "adm-1", "ADMIN", "approved")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, after2.Status)
	require.Len(t, after2.Trail, 2)

	b = f.balance(t, 2026)
	assert.Equal(t, 0, b.ReservedDays)
	assert.Equal(t, 5, b.UsedDays)
	assert.Equal(t, 7, b.RemainingDays())
}

func TestService_Approve_WrongRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	// ADMIN belongs to level 2, not level 1
	_, err := f.svc.Approve(ctx, app.ID, "adm-1", "ADMIN", "")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)

	var nae *leave.NotAuthorizedError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, 1, nae.Level)
	assert.Equal(t, leave.Role("HR_MANAGER"), nae.Required)
}

func TestService_Approve_Terminal_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))
	_, err := f.svc.Approve(ctx, app.ID, "mgr-1", "HR_MANAGER", "")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, app.ID, "adm-1", "ADMIN", "")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, app.ID, "adm-1", "ADMIN", "again")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
}

// =============================================================================
// REJECT
// =============================================================================

func TestService_Reject_ReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	rejected, err := f.svc.Reject(ctx, app.ID, "mgr-1", "HR_MANAGER", "team is short-staffed")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, rejected.Status)
	assert.Equal(t, "team is short-staffed", rejected.RejectionReason)
	require.Len(t, rejected.Trail, 1)
	assert.Equal(t, workflow.DecisionRejected, rejected.Trail[0].Decision)

	b := f.balance(t, 2026)
	assert.Equal(t, 0, b.ReservedDays)
	assert.Equal(t, 0, b.UsedDays)
	assert.Equal(t, 12, b.AvailableDays(), "rejected days are available again")
}

func TestService_Reject_HigherLevelMayShortCircuit(t *testing.T) {
	// GIVEN: An application waiting at level 1
	// WHEN: The level-2 ADMIN rejects before level 1 acted
	// THEN: Rejection is accepted; it is terminal and conservative

	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	rejected, err := f.svc.Reject(ctx, app.ID, "adm-1", "ADMIN", "blackout period")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, rejected.Status)
}

func TestService_Reject_EarlierLevelRole_Rejected(t *testing.T) {
	// GIVEN: An application already advanced to level 2
	// WHEN: The level-1 HR_MANAGER tries to reject
	// THEN: Not authorized; their level has already passed

	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))
	_, err := f.svc.Approve(ctx, app.ID, "mgr-1", "HR_MANAGER", "")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, app.ID, "mgr-2", "HR_MANAGER", "changed my mind")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)
}

func TestService_Reject_RequiresReason(t *testing.T) {
	f := newFixture(t)

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	_, err := f.svc.Reject(context.Background(), app.ID, "mgr-1", "HR_MANAGER", "")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestService_Cancel_BeforeAnyApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	cancelled, err := f.svc.Cancel(ctx, app.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, cancelled.Status)

	b := f.balance(t, 2026)
	assert.Equal(t, 0, b.ReservedDays)
	assert.Equal(t, 12, b.AvailableDays())
}

func TestService_Cancel_AfterApproverActed_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))
	_, err := f.svc.Approve(ctx, app.ID, "mgr-1", "HR_MANAGER", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, app.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
}

func TestService_Cancel_OnlyApplicant(t *testing.T) {
	f := newFixture(t)

	app := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))

	_, err := f.svc.Cancel(context.Background(), app.ID, "emp-2")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestService_RejectedDaysReusable(t *testing.T) {
	// GIVEN: A 5-day application rejected after submission
	// WHEN: The employee applies for the full 12 days on other dates
	// THEN: The new application succeeds; nothing stayed stuck on hold

	f := newFixture(t)
	ctx := context.Background()

	first := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))
	_, err := f.svc.Reject(ctx, first.ID, "mgr-1", "HR_MANAGER", "no")
	require.NoError(t, err)

	second := f.submit(t, day(2026, time.July, 1), day(2026, time.July, 12))
	assert.Equal(t, 12, second.RequestedDays)
	assert.Equal(t, workflow.StatusPending, second.Status)
}

func TestService_ListApplications_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submit(t, day(2026, time.March, 10), day(2026, time.March, 14))
	_, err := f.svc.Reject(ctx, first.ID, "mgr-1", "HR_MANAGER", "no")
	require.NoError(t, err)
	f.submit(t, day(2026, time.July, 1), day(2026, time.July, 3))

	pending := workflow.StatusPending
	apps, err := f.svc.ListApplications(ctx, workflow.Filter{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	emp := leave.EmployeeID("emp-1")
	apps, err = f.svc.ListApplications(ctx, workflow.Filter{EmployeeID: &emp})
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}
