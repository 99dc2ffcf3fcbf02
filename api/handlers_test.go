package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/rollover"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog := leave.NewCatalog(store)
	policies := leave.NewPolicies(store, store)
	led := ledger.New(store)
	apps := workflow.NewService(store, led, store, store, nil)
	processor := rollover.NewProcessor(led, store, nil)

	handler := api.NewHandler(catalog, policies, led, apps, processor)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// createLeaveType posts a type and returns its ID.
func createLeaveType(t *testing.T, baseURL string) string {
	t.Helper()
	var lt api.LeaveTypeDTO
	resp := doJSON(t, http.MethodPost, baseURL+"/api/leave-types", api.CreateLeaveTypeRequest{
		Name:        "Earned Leave",
		DefaultDays: 12,
		IsPaid:      true,
	}, &lt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return lt.ID
}

// createPolicy posts a two-level policy covering the type and returns its ID.
func createPolicy(t *testing.T, baseURL, typeID string) string {
	t.Helper()
	var p api.PolicyDTO
	resp := doJSON(t, http.MethodPost, baseURL+"/api/policies", map[string]any{
		"name": "Standard",
		"rules": []map[string]any{{
			"leave_type_id":          typeID,
			"max_days":               12,
			"carry_forward":          true,
			"max_carry_forward_days": 8,
			"encashment_eligible":    true,
			"max_encashment_days":    5,
			"encashment_rate":        "100",
		}},
		"approval_hierarchy": []map[string]any{
			{"level": 1, "required_role": "HR_MANAGER"},
			{"level": 2, "required_role": "ADMIN"},
		},
	}, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return p.ID
}

// =============================================================================
// CATALOG AND POLICY ENDPOINTS
// =============================================================================

func TestAPI_LeaveTypeLifecycle(t *testing.T) {
	srv := newTestServer(t)
	typeID := createLeaveType(t, srv.URL)

	var listed []api.LeaveTypeDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/leave-types?active=true", nil, &listed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listed, 1)
	assert.Equal(t, typeID, listed[0].ID)

	var deactivated api.LeaveTypeDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/leave-types/"+typeID+"/deactivate", nil, &deactivated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, deactivated.IsActive)
}

func TestAPI_CreatePolicy_ValidationError(t *testing.T) {
	srv := newTestServer(t)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/policies", map[string]any{
		"name":  "Broken",
		"rules": []map[string]any{},
	}, &errResp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, errResp.Details)
}

// =============================================================================
// APPLICATION FLOW
// =============================================================================

func TestAPI_FullApprovalFlow(t *testing.T) {
	srv := newTestServer(t)
	typeID := createLeaveType(t, srv.URL)
	policyID := createPolicy(t, srv.URL, typeID)

	// Submit
	var app api.ApplicationDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/applications", api.SubmitApplicationRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: typeID,
		PolicyID:    policyID,
		StartDate:   "2026-03-10",
		EndDate:     "2026-03-14",
		Reason:      "family visit",
	}, &app)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", app.Status)
	assert.Equal(t, 5, app.RequestedDays)

	// Balance shows the hold
	var balances []api.BalanceDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/employees/emp-1/balances", nil, &balances)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, balances, 1)
	assert.Equal(t, 5, balances[0].ReservedDays)
	assert.Equal(t, 7, balances[0].AvailableDays)

	// Wrong role at level 1
	var errResp api.ErrorResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/applications/"+app.ID+"/approve", api.DecisionRequest{
		ApproverID: "adm-1", Role: "ADMIN",
	}, &errResp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Level 1 then level 2
	var after api.ApplicationDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/applications/"+app.ID+"/approve", api.DecisionRequest{
		ApproverID: "mgr-1", Role: "HR_MANAGER", Comment: "ok",
	}, &after)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", after.Status)
	assert.Equal(t, 2, after.CurrentLevel)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/applications/"+app.ID+"/approve", api.DecisionRequest{
		ApproverID: "adm-1", Role: "ADMIN",
	}, &after)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", after.Status)
	require.Len(t, after.Trail, 2)

	// Usage recorded
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/employees/emp-1/balances", nil, &balances)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, balances, 1)
	assert.Equal(t, 5, balances[0].UsedDays)
	assert.Equal(t, 0, balances[0].ReservedDays)

	// Audit trail visible
	var entries []api.EntryDTO
	url := fmt.Sprintf("%s/api/employees/emp-1/balances/%s/2026/entries", srv.URL, typeID)
	resp = doJSON(t, http.MethodGet, url, nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, entries)
}

func TestAPI_Submit_InsufficientBalance_Conflict(t *testing.T) {
	srv := newTestServer(t)
	typeID := createLeaveType(t, srv.URL)
	policyID := createPolicy(t, srv.URL, typeID)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/applications", api.SubmitApplicationRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: typeID,
		PolicyID:    policyID,
		StartDate:   "2026-06-01",
		EndDate:     "2026-06-15",
		Reason:      "long trip",
	}, &errResp)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// ROLLOVER ENDPOINT
// =============================================================================

func TestAPI_Rollover(t *testing.T) {
	srv := newTestServer(t)
	typeID := createLeaveType(t, srv.URL)
	policyID := createPolicy(t, srv.URL, typeID)

	// Seed one balance through a submitted-then-cancelled application
	var app api.ApplicationDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/applications", api.SubmitApplicationRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: typeID,
		PolicyID:    policyID,
		StartDate:   "2026-03-10",
		EndDate:     "2026-03-11",
		Reason:      "seed",
	}, &app)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/applications/"+app.ID+"/cancel",
		api.CancelApplicationRequest{EmployeeID: "emp-1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report api.RolloverReportDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/rollover", api.RolloverRequest{Year: 2026}, &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, report.Processed, 1)
	assert.Equal(t, 8, report.Processed[0].CarriedOver)
	assert.Equal(t, 4, report.Processed[0].EncashedDays)

	// Re-run: nothing double-credited
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/rollover", api.RolloverRequest{Year: 2026}, &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, report.Processed)
	assert.Equal(t, 1, report.AlreadyDone)
}
