/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (required fields, formats) is done in handlers;
  business validation lives in the domain services. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/rollover"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveTypeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DefaultDays int    `json:"default_days"`
	IsPaid      bool   `json:"is_paid"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type CreateLeaveTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DefaultDays int    `json:"default_days"`
	IsPaid      bool   `json:"is_paid"`
}

type UpdateLeaveTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DefaultDays int    `json:"default_days"`
	IsPaid      bool   `json:"is_paid"`
}

func toLeaveTypeDTO(t leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:          string(t.ID),
		Name:        t.Name,
		Description: t.Description,
		DefaultDays: t.DefaultDays,
		IsPaid:      t.IsPaid,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyRuleDTO struct {
	LeaveTypeID         string          `json:"leave_type_id"`
	MaxDays             int             `json:"max_days"`
	CarryForward        bool            `json:"carry_forward"`
	MaxCarryForwardDays int             `json:"max_carry_forward_days"`
	EncashmentEligible  bool            `json:"encashment_eligible"`
	MaxEncashmentDays   int             `json:"max_encashment_days"`
	EncashmentRate      decimal.Decimal `json:"encashment_rate"`
}

type ApprovalLevelDTO struct {
	Level        int    `json:"level"`
	RequiredRole string `json:"required_role"`
}

type NotificationSettingsDTO struct {
	OnApply   bool `json:"on_apply"`
	OnApprove bool `json:"on_approve"`
	OnReject  bool `json:"on_reject"`
	OnCancel  bool `json:"on_cancel"`
}

type PolicyDTO struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description,omitempty"`
	Rules         []PolicyRuleDTO         `json:"rules"`
	Hierarchy     []ApprovalLevelDTO      `json:"approval_hierarchy"`
	Notifications NotificationSettingsDTO `json:"notifications"`
	CreatedAt     string                  `json:"created_at,omitempty"`
	UpdatedAt     string                  `json:"updated_at,omitempty"`
}

// SavePolicyRequest is shared by create and update; update takes the ID from
// the URL.
type SavePolicyRequest struct {
	Name          string                  `json:"name"`
	Description   string                  `json:"description"`
	Rules         []PolicyRuleDTO         `json:"rules"`
	Hierarchy     []ApprovalLevelDTO      `json:"approval_hierarchy"`
	Notifications NotificationSettingsDTO `json:"notifications"`
}

func (r SavePolicyRequest) toPolicy() leave.LeavePolicy {
	p := leave.LeavePolicy{
		Name:        r.Name,
		Description: r.Description,
		Notifications: leave.NotificationSettings{
			OnApply:   r.Notifications.OnApply,
			OnApprove: r.Notifications.OnApprove,
			OnReject:  r.Notifications.OnReject,
			OnCancel:  r.Notifications.OnCancel,
		},
	}
	for _, rule := range r.Rules {
		p.Rules = append(p.Rules, leave.PolicyLeaveTypeRule{
			LeaveTypeID:         leave.LeaveTypeID(rule.LeaveTypeID),
			MaxDays:             rule.MaxDays,
			CarryForward:        rule.CarryForward,
			MaxCarryForwardDays: rule.MaxCarryForwardDays,
			EncashmentEligible:  rule.EncashmentEligible,
			MaxEncashmentDays:   rule.MaxEncashmentDays,
			EncashmentRate:      rule.EncashmentRate,
		})
	}
	for _, l := range r.Hierarchy {
		p.Hierarchy = append(p.Hierarchy, leave.ApprovalLevel{
			Level:        l.Level,
			RequiredRole: leave.Role(l.RequiredRole),
		})
	}
	return p
}

func toPolicyDTO(p leave.LeavePolicy) PolicyDTO {
	dto := PolicyDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Notifications: NotificationSettingsDTO{
			OnApply:   p.Notifications.OnApply,
			OnApprove: p.Notifications.OnApprove,
			OnReject:  p.Notifications.OnReject,
			OnCancel:  p.Notifications.OnCancel,
		},
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
	for _, rule := range p.Rules {
		dto.Rules = append(dto.Rules, PolicyRuleDTO{
			LeaveTypeID:         string(rule.LeaveTypeID),
			MaxDays:             rule.MaxDays,
			CarryForward:        rule.CarryForward,
			MaxCarryForwardDays: rule.MaxCarryForwardDays,
			EncashmentEligible:  rule.EncashmentEligible,
			MaxEncashmentDays:   rule.MaxEncashmentDays,
			EncashmentRate:      rule.EncashmentRate,
		})
	}
	for _, l := range p.Hierarchy {
		dto.Hierarchy = append(dto.Hierarchy, ApprovalLevelDTO{
			Level:        l.Level,
			RequiredRole: string(l.RequiredRole),
		})
	}
	return dto
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	EmployeeID    string `json:"employee_id"`
	LeaveTypeID   string `json:"leave_type_id"`
	Year          int    `json:"year"`
	PolicyID      string `json:"policy_id"`
	TotalDays     int    `json:"total_days"`
	UsedDays      int    `json:"used_days"`
	ReservedDays  int    `json:"reserved_days"`
	RemainingDays int    `json:"remaining_days"`
	AvailableDays int    `json:"available_days"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:    string(b.Key.EmployeeID),
		LeaveTypeID:   string(b.Key.LeaveTypeID),
		Year:          b.Key.Year,
		PolicyID:      string(b.PolicyID),
		TotalDays:     b.TotalDays,
		UsedDays:      b.UsedDays,
		ReservedDays:  b.ReservedDays,
		RemainingDays: b.RemainingDays(),
		AvailableDays: b.AvailableDays(),
	}
}

type EntryDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Days        int    `json:"days"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		Type:        string(e.Type),
		Days:        e.Days,
		ReferenceID: e.ReferenceID,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// APPLICATIONS
// =============================================================================

type SubmitApplicationRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	PolicyID    string `json:"policy_id"`
	StartDate   string `json:"start_date"` // YYYY-MM-DD
	EndDate     string `json:"end_date"`   // YYYY-MM-DD
	Reason      string `json:"reason"`
}

// DecisionRequest carries an approver's identity alongside the action.
// The role comes from the identity layer in production; here it is trusted.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Role       string `json:"role"`
	Comment    string `json:"comment"`
	Reason     string `json:"reason"` // rejection reason
}

type CancelApplicationRequest struct {
	EmployeeID string `json:"employee_id"`
}

type TrailEntryDTO struct {
	Level      int    `json:"level"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
	At         string `json:"at"`
}

type ApplicationDTO struct {
	ID              string          `json:"id"`
	EmployeeID      string          `json:"employee_id"`
	LeaveTypeID     string          `json:"leave_type_id"`
	PolicyID        string          `json:"policy_id"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	RequestedDays   int             `json:"requested_days"`
	Reason          string          `json:"reason"`
	Status          string          `json:"status"`
	CurrentLevel    int             `json:"current_level"`
	Trail           []TrailEntryDTO `json:"approval_trail"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

func toApplicationDTO(a workflow.Application) ApplicationDTO {
	dto := ApplicationDTO{
		ID:              string(a.ID),
		EmployeeID:      string(a.EmployeeID),
		LeaveTypeID:     string(a.LeaveTypeID),
		PolicyID:        string(a.PolicyID),
		StartDate:       a.StartDate.Format("2006-01-02"),
		EndDate:         a.EndDate.Format("2006-01-02"),
		RequestedDays:   a.RequestedDays,
		Reason:          a.Reason,
		Status:          string(a.Status),
		CurrentLevel:    a.CurrentLevel,
		RejectionReason: a.RejectionReason,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.Format(time.RFC3339),
	}
	for _, t := range a.Trail {
		dto.Trail = append(dto.Trail, TrailEntryDTO{
			Level:      t.Level,
			ApproverID: string(t.ApproverID),
			Decision:   string(t.Decision),
			Comment:    t.Comment,
			At:         t.At.Format(time.RFC3339),
		})
	}
	return dto
}

// =============================================================================
// ROLLOVER
// =============================================================================

type RolloverRequest struct {
	Year int `json:"year"`
}

type RolloverProcessedDTO struct {
	EmployeeID    string          `json:"employee_id"`
	LeaveTypeID   string          `json:"leave_type_id"`
	Year          int             `json:"year"`
	CarriedOver   int             `json:"carried_over"`
	EncashedDays  int             `json:"encashed_days"`
	Payout        decimal.Decimal `json:"payout"`
	ForfeitedDays int             `json:"forfeited_days"`
}

type RolloverSkippedDTO struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
	Reason      string `json:"reason"`
}

type RolloverReportDTO struct {
	RunID       string                 `json:"run_id"`
	Year        int                    `json:"year"`
	Processed   []RolloverProcessedDTO `json:"processed"`
	Skipped     []RolloverSkippedDTO   `json:"skipped"`
	AlreadyDone int                    `json:"already_done"`
	StartedAt   string                 `json:"started_at"`
	FinishedAt  string                 `json:"finished_at"`
}

func toRolloverReportDTO(r rollover.Report) RolloverReportDTO {
	dto := RolloverReportDTO{
		RunID:       r.RunID,
		Year:        r.Year,
		Processed:   []RolloverProcessedDTO{},
		Skipped:     []RolloverSkippedDTO{},
		AlreadyDone: r.AlreadyDone,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		FinishedAt:  r.FinishedAt.Format(time.RFC3339),
	}
	for _, p := range r.Processed {
		dto.Processed = append(dto.Processed, RolloverProcessedDTO{
			EmployeeID:    string(p.Key.EmployeeID),
			LeaveTypeID:   string(p.Key.LeaveTypeID),
			Year:          p.Key.Year,
			CarriedOver:   p.CarriedOver,
			EncashedDays:  p.EncashedDays,
			Payout:        p.Payout,
			ForfeitedDays: p.ForfeitedDays,
		})
	}
	for _, s := range r.Skipped {
		dto.Skipped = append(dto.Skipped, RolloverSkippedDTO{
			EmployeeID:  string(s.Key.EmployeeID),
			LeaveTypeID: string(s.Key.LeaveTypeID),
			Year:        s.Key.Year,
			Reason:      s.Reason,
		})
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
