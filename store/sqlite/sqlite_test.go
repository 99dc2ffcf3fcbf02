package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func TestStore_LeaveTypes_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lt := leave.LeaveType{
		ID:          "lt-1",
		Name:        "Sick Leave",
		Description: "Illness",
		DefaultDays: 10,
		IsPaid:      true,
		IsActive:    true,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	require.NoError(t, store.SaveType(ctx, lt))

	got, err := store.GetType(ctx, "lt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lt.Name, got.Name)
	assert.Equal(t, lt.DefaultDays, got.DefaultDays)
	assert.True(t, got.IsPaid)

	missing, err := store.GetType(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing type is nil, not an error")
}

func TestStore_ListTypes_ActiveFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := leave.LeaveType{ID: "lt-1", Name: "Active", IsActive: true, CreatedAt: now(), UpdatedAt: now()}
	inactive := leave.LeaveType{ID: "lt-2", Name: "Inactive", IsActive: false, CreatedAt: now(), UpdatedAt: now()}
	require.NoError(t, store.SaveType(ctx, active))
	require.NoError(t, store.SaveType(ctx, inactive))

	all, err := store.ListTypes(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := store.ListTypes(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "Active", onlyActive[0].Name)
}

func TestStore_TypeInUse_And_Referenced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := ledger.Key{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026}
	require.NoError(t, store.CreateBalance(ctx, ledger.Balance{
		ID: "bal-1", Key: key, PolicyID: "pol-1", TotalDays: 12,
		CreatedAt: now(), UpdatedAt: now(),
	}))

	// Referenced but unused
	referenced, err := store.TypeReferenced(ctx, "lt-1")
	require.NoError(t, err)
	assert.True(t, referenced)

	inUse, err := store.TypeInUse(ctx, "lt-1")
	require.NoError(t, err)
	assert.False(t, inUse)

	// Record usage
	b, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	b.UsedDays = 2
	require.NoError(t, store.UpdateBalance(ctx, *b))

	inUse, err = store.TypeInUse(ctx, "lt-1")
	require.NoError(t, err)
	assert.True(t, inUse)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestStore_Policies_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := leave.LeavePolicy{
		ID:          "pol-1",
		Name:        "Standard",
		Description: "Default policy",
		Rules: []leave.PolicyLeaveTypeRule{{
			LeaveTypeID:         "lt-1",
			MaxDays:             12,
			CarryForward:        true,
			MaxCarryForwardDays: 8,
			EncashmentEligible:  true,
			MaxEncashmentDays:   5,
			EncashmentRate:      decimal.RequireFromString("123.45"),
		}},
		Hierarchy: []leave.ApprovalLevel{
			{Level: 1, RequiredRole: "HR_MANAGER"},
			{Level: 2, RequiredRole: "ADMIN"},
		},
		Notifications: leave.NotificationSettings{OnApply: true, OnReject: true},
		CreatedAt:     now(),
		UpdatedAt:     now(),
	}
	require.NoError(t, store.SavePolicy(ctx, p))

	got, err := store.GetPolicy(ctx, "pol-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.Len(t, got.Rules, 1)
	assert.Equal(t, leave.LeaveTypeID("lt-1"), got.Rules[0].LeaveTypeID)
	assert.True(t, decimal.RequireFromString("123.45").Equal(got.Rules[0].EncashmentRate),
		"decimal rate survives the round trip exactly")

	require.Len(t, got.Hierarchy, 2)
	assert.Equal(t, leave.Role("ADMIN"), got.Hierarchy[1].RequiredRole)
	assert.True(t, got.Notifications.OnApply)
	assert.False(t, got.Notifications.OnApprove)
}

// =============================================================================
// BALANCES, TOKENS, ENTRIES
// =============================================================================

func TestStore_CreateBalance_DuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := ledger.Key{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026}
	b := ledger.Balance{ID: "bal-1", Key: key, PolicyID: "pol-1", TotalDays: 12, CreatedAt: now(), UpdatedAt: now()}
	require.NoError(t, store.CreateBalance(ctx, b))

	b.ID = "bal-2"
	err := store.CreateBalance(ctx, b)
	assert.Error(t, err, "one balance per (employee, type, year)")
}

func TestStore_ListBalances_ByYearAndEmployee(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, key := range []ledger.Key{
		{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026},
		{EmployeeID: "emp-1", LeaveTypeID: "lt-2", Year: 2026},
		{EmployeeID: "emp-2", LeaveTypeID: "lt-1", Year: 2026},
		{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2027},
	} {
		require.NoError(t, store.CreateBalance(ctx, ledger.Balance{
			ID: string(rune('a' + i)), Key: key, PolicyID: "pol-1", TotalDays: 12,
			CreatedAt: now(), UpdatedAt: now(),
		}))
	}

	year, err := store.ListBalances(ctx, 2026)
	require.NoError(t, err)
	assert.Len(t, year, 3)

	emp, err := store.ListBalancesByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, emp, 3)
}

func TestStore_Tokens_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := ledger.Key{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026}
	token := ledger.ReservationToken{ID: "tok-1", Key: key, Days: 5, State: ledger.TokenHeld, CreatedAt: now()}
	require.NoError(t, store.SaveToken(ctx, token))

	got, err := store.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.TokenHeld, got.State)
	assert.Nil(t, got.SettledAt)

	settled := now()
	token.State = ledger.TokenCommitted
	token.SettledAt = &settled
	require.NoError(t, store.SaveToken(ctx, token))

	got, err = store.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TokenCommitted, got.State)
	require.NotNil(t, got.SettledAt)
}

func TestStore_Entries_AppendOnlyOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := ledger.Key{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026}
	base := now()
	for i, et := range []ledger.EntryType{ledger.EntryGrant, ledger.EntryReserve, ledger.EntryCommit} {
		require.NoError(t, store.AppendEntry(ctx, ledger.Entry{
			ID: string(rune('a' + i)), Key: key, Type: et, Days: i + 1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.ListEntries(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntryGrant, entries[0].Type)
	assert.Equal(t, ledger.EntryCommit, entries[2].Type)
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func TestStore_Applications_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := workflow.Application{
		ID:            "app-1",
		EmployeeID:    "emp-1",
		LeaveTypeID:   "lt-1",
		PolicyID:      "pol-1",
		StartDate:     time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC),
		RequestedDays: 5,
		Reason:        "family visit",
		Status:        workflow.StatusPending,
		CurrentLevel:  1,
		TokenID:       "tok-1",
		CreatedAt:     now(),
		UpdatedAt:     now(),
	}
	require.NoError(t, store.SaveApplication(ctx, a))

	// Advance with a trail entry
	a.CurrentLevel = 2
	a.Trail = []workflow.TrailEntry{{
		Level: 1, ApproverID: "mgr-1", Decision: workflow.DecisionApproved, Comment: "ok", At: now(),
	}}
	require.NoError(t, store.SaveApplication(ctx, a))

	got, err := store.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.CurrentLevel)
	require.Len(t, got.Trail, 1)
	assert.Equal(t, leave.EmployeeID("mgr-1"), got.Trail[0].ApproverID)
	assert.Equal(t, a.StartDate, got.StartDate)
}

func TestStore_ListActive_PendingAndApprovedOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, status workflow.Status) workflow.Application {
		return workflow.Application{
			ID: leave.ApplicationID(id), EmployeeID: "emp-1", LeaveTypeID: "lt-1", PolicyID: "pol-1",
			StartDate: now(), EndDate: now(), RequestedDays: 1, Reason: "x",
			Status: status, CurrentLevel: 1, TokenID: "t-" + leave.TokenID(id),
			CreatedAt: now(), UpdatedAt: now(),
		}
	}
	require.NoError(t, store.SaveApplication(ctx, mk("a1", workflow.StatusPending)))
	require.NoError(t, store.SaveApplication(ctx, mk("a2", workflow.StatusApproved)))
	require.NoError(t, store.SaveApplication(ctx, mk("a3", workflow.StatusRejected)))
	require.NoError(t, store.SaveApplication(ctx, mk("a4", workflow.StatusCancelled)))

	active, err := store.ListActive(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestStore_ListApplications_Filter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := workflow.Application{
		ID: "app-1", EmployeeID: "emp-1", LeaveTypeID: "lt-1", PolicyID: "pol-1",
		StartDate: now(), EndDate: now(), RequestedDays: 1, Reason: "x",
		Status: workflow.StatusPending, CurrentLevel: 1, TokenID: "tok-1",
		CreatedAt: now(), UpdatedAt: now(),
	}
	b := a
	b.ID = "app-2"
	b.EmployeeID = "emp-2"
	b.Status = workflow.StatusApproved
	b.TokenID = "tok-2"
	require.NoError(t, store.SaveApplication(ctx, a))
	require.NoError(t, store.SaveApplication(ctx, b))

	emp := leave.EmployeeID("emp-1")
	got, err := store.ListApplications(ctx, workflow.Filter{EmployeeID: &emp})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, leave.ApplicationID("app-1"), got[0].ID)

	status := workflow.StatusApproved
	got, err = store.ListApplications(ctx, workflow.Filter{Status: &status})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, leave.ApplicationID("app-2"), got[0].ID)
}

// =============================================================================
// END TO END THROUGH THE LEDGER
// =============================================================================

func TestStore_LedgerLifecycleOnSQLite(t *testing.T) {
	// GIVEN: The real ledger running on the SQLite store
	// WHEN: Grant, reserve, commit, and roll forward
	// THEN: Every step behaves exactly as on the in-memory store

	store := newTestStore(t)
	ctx := context.Background()
	led := ledger.New(store)

	rule := leave.PolicyLeaveTypeRule{
		LeaveTypeID:         "lt-1",
		MaxDays:             12,
		CarryForward:        true,
		MaxCarryForwardDays: 8,
		EncashmentEligible:  true,
		MaxEncashmentDays:   5,
		EncashmentRate:      decimal.NewFromInt(100),
	}
	policy := &leave.LeavePolicy{
		ID:        "pol-1",
		Name:      "Standard",
		Rules:     []leave.PolicyLeaveTypeRule{rule},
		Hierarchy: []leave.ApprovalLevel{{Level: 1, RequiredRole: "HR_MANAGER"}},
	}

	key := ledger.Key{EmployeeID: "emp-1", LeaveTypeID: "lt-1", Year: 2026}
	_, err := led.EnsureBalance(ctx, key, policy)
	require.NoError(t, err)

	token, err := led.Reserve(ctx, key, 5)
	require.NoError(t, err)
	_, err = led.Commit(ctx, token.ID)
	require.NoError(t, err)

	res, err := led.RollForward(ctx, key, rule, "pol-1", "run-1")
	require.NoError(t, err)

	// 7 remaining: 7 carried (within cap 8), nothing left to encash
	assert.Equal(t, 7, res.CarriedOver)
	assert.Equal(t, 0, res.EncashedDays)
	assert.Equal(t, 19, res.NextBalance.TotalDays)

	entries, err := led.Entries(ctx, key)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
