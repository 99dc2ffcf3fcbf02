/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Leave types:
    GET    /api/leave-types                 List types (?active=true)
    POST   /api/leave-types                 Create type
    GET    /api/leave-types/{id}            Get type
    PUT    /api/leave-types/{id}            Update type
    POST   /api/leave-types/{id}/deactivate Soft-delete
    DELETE /api/leave-types/{id}            Hard-delete (unreferenced only)

  Policies:
    GET    /api/policies                    List policies
    POST   /api/policies                    Create policy
    GET    /api/policies/{id}               Get policy
    PUT    /api/policies/{id}               Update policy

  Balances:
    GET    /api/employees/{id}/balances     All balances of an employee
    GET    /api/balances?year=2026          All balances of a year
    GET    /api/employees/{id}/balances/{typeId}/{year}/entries
                                            Audit trail of one balance

  Applications:
    POST   /api/applications                Submit
    GET    /api/applications                List (?employee_id=&status=)
    GET    /api/applications/{id}           Get
    POST   /api/applications/{id}/approve   Approve at current level
    POST   /api/applications/{id}/reject    Reject
    POST   /api/applications/{id}/cancel    Cancel (applicant only)

  Admin:
    POST   /api/admin/rollover              Trigger year-end rollover

ERROR HANDLING:
  Domain errors map to HTTP status by category:
  - 400: Validation errors, invalid input, bad date ranges
  - 403: Role not authorized for the approval level
  - 404: Record not found
  - 409: Insufficient balance, wrong state, type in use
  - 500: Everything else

SECURITY NOTE:
  Approver identity and role arrive in the request body and are trusted.
  Production deployments put an authenticating proxy in front and strip
  these fields from the client contract.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/rollover"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Catalog      *leave.Catalog
	Policies     *leave.Policies
	Ledger       *ledger.Ledger
	Applications *workflow.Service
	Rollover     *rollover.Processor
}

// NewHandler creates a new handler with the given services.
func NewHandler(catalog *leave.Catalog, policies *leave.Policies, led *ledger.Ledger, apps *workflow.Service, roll *rollover.Processor) *Handler {
	return &Handler{
		Catalog:      catalog,
		Policies:     policies,
		Ledger:       led,
		Applications: apps,
		Rollover:     roll,
	}
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns the catalog. ?active=true filters to active types.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	types, err := h.Catalog.ListTypes(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, "Failed to list leave types", err)
		return
	}

	dtos := make([]LeaveTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toLeaveTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Catalog.CreateType(r.Context(), req.Name, req.Description, req.DefaultDays, req.IsPaid)
	if err != nil {
		writeDomainError(w, "Failed to create leave type", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(*t))
}

func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	t, err := h.Catalog.GetType(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get leave type", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(*t))
}

func (h *Handler) UpdateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	var req UpdateLeaveTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Catalog.GetType(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get leave type", err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.DefaultDays = req.DefaultDays
	existing.IsPaid = req.IsPaid

	t, err := h.Catalog.UpdateType(r.Context(), *existing)
	if err != nil {
		writeDomainError(w, "Failed to update leave type", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(*t))
}

func (h *Handler) DeactivateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	t, err := h.Catalog.DeactivateType(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to deactivate leave type", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(*t))
}

func (h *Handler) DeleteLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	if err := h.Catalog.DeleteType(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete leave type", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": string(id)})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.ListPolicies(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Policies.CreatePolicy(r.Context(), req.toPolicy())
	if err != nil {
		writeDomainError(w, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := leave.PolicyID(chi.URLParam(r, "id"))

	p, err := h.Policies.GetPolicy(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := leave.PolicyID(chi.URLParam(r, "id"))

	var req SavePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := req.toPolicy()
	p.ID = id

	updated, err := h.Policies.UpdatePolicy(r.Context(), p)
	if err != nil {
		writeDomainError(w, "Failed to update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*updated))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetEmployeeBalances returns all balances of one employee, across years.
func (h *Handler) GetEmployeeBalances(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	balances, err := h.Ledger.BalancesForEmployee(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBalances returns every balance of a year. ?year is required.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing year parameter", err)
		return
	}

	balances, err := h.Ledger.BalancesForYear(r.Context(), year)
	if err != nil {
		writeDomainError(w, "Failed to list balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalanceEntries returns the audit trail of one balance.
func (h *Handler) GetBalanceEntries(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	key := ledger.Key{
		EmployeeID:  leave.EmployeeID(chi.URLParam(r, "id")),
		LeaveTypeID: leave.LeaveTypeID(chi.URLParam(r, "typeId")),
		Year:        year,
	}

	entries, err := h.Ledger.Entries(r.Context(), key)
	if err != nil {
		writeDomainError(w, "Failed to get entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req SubmitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	app, err := h.Applications.Submit(r.Context(), workflow.SubmitInput{
		EmployeeID:  leave.EmployeeID(req.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		PolicyID:    leave.PolicyID(req.PolicyID),
		StartDate:   start,
		EndDate:     end,
		Reason:      req.Reason,
	})
	if err != nil {
		writeDomainError(w, "Failed to submit application", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicationDTO(*app))
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	var f workflow.Filter
	if v := r.URL.Query().Get("employee_id"); v != "" {
		id := leave.EmployeeID(v)
		f.EmployeeID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := workflow.Status(v)
		f.Status = &st
	}

	apps, err := h.Applications.ListApplications(r.Context(), f)
	if err != nil {
		writeDomainError(w, "Failed to list applications", err)
		return
	}

	dtos := make([]ApplicationDTO, len(apps))
	for i, a := range apps {
		dtos[i] = toApplicationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id := leave.ApplicationID(chi.URLParam(r, "id"))

	app, err := h.Applications.GetApplication(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*app))
}

func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	id := leave.ApplicationID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	app, err := h.Applications.Approve(r.Context(), id,
		leave.EmployeeID(req.ApproverID), leave.Role(req.Role), req.Comment)
	if err != nil {
		writeDomainError(w, "Failed to approve application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*app))
}

func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	id := leave.ApplicationID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	app, err := h.Applications.Reject(r.Context(), id,
		leave.EmployeeID(req.ApproverID), leave.Role(req.Role), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*app))
}

func (h *Handler) CancelApplication(w http.ResponseWriter, r *http.Request) {
	id := leave.ApplicationID(chi.URLParam(r, "id"))

	var req CancelApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	app, err := h.Applications.Cancel(r.Context(), id, leave.EmployeeID(req.EmployeeID))
	if err != nil {
		writeDomainError(w, "Failed to cancel application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*app))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRollover runs the year-end rollover for the requested year.
// POST /api/admin/rollover
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	var req RolloverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year == 0 {
		writeError(w, http.StatusBadRequest, "Year is required", nil)
		return
	}

	report, err := h.Rollover.Run(r.Context(), req.Year)
	if err != nil {
		writeDomainError(w, "Rollover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverReportDTO(*report))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case leave.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, leave.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, leave.ErrInsufficientBalance),
		errors.Is(err, leave.ErrInvalidState),
		errors.Is(err, leave.ErrTypeInUse),
		errors.Is(err, leave.ErrPendingReservations):
		writeError(w, http.StatusConflict, message, err)
	case leave.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
