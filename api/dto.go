/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Attendance:
    ToggleRequest, OutcomeDTO, AttendanceRecordDTO, AttendanceEventDTO, CutoffDTO

  Directory:
    SchoolDTO, FellowDTO, SessionDTO and their Create*Request

  Payments:
    PaymentRequestDTO, DiscrepancyDTO, ReconciliationRunDTO, ResubmitRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 struct tags; handlers call h.bind,
  which decodes and validates in one step. Field names in validation errors
  are the JSON names.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/payments"
	"github.com/shamiri/attendance-engine/program"
)

// =============================================================================
// ATTENDANCE
// =============================================================================

// ToggleRequest is the body of both toggle and confirm.
type ToggleRequest struct {
	FellowID     string `json:"fellow_id" validate:"required,max=64"`
	SchoolID     string `json:"school_id" validate:"required,max=64"`
	SessionLabel string `json:"session_label" validate:"required,max=32"`

	// CurrentStatus is the status the client displayed when the user clicked.
	// When omitted the stored status is used.
	CurrentStatus string `json:"current_status,omitempty" validate:"omitempty,oneof=present absent not-marked"`
}

// OutcomeDTO is the result of a toggle or confirm.
type OutcomeDTO struct {
	Outcome                 string  `json:"outcome"`
	Status                  string  `json:"status,omitempty"`
	ProposedStatus          string  `json:"proposed_status,omitempty"`
	AttendanceRecordID      string  `json:"attendance_record_id,omitempty"`
	PaymentRequestTriggered bool    `json:"payment_request_triggered"`
	PaymentRequestID        string  `json:"payment_request_id,omitempty"`
	Reason                  string  `json:"reason,omitempty"`
	Message                 string  `json:"message,omitempty"`
	Cutoff                  *string `json:"cutoff,omitempty"`
	NeedsReconciliation     bool    `json:"needs_reconciliation,omitempty"`
	Retryable               bool    `json:"retryable,omitempty"`
}

type AttendanceRecordDTO struct {
	ID             string  `json:"id"`
	FellowID       string  `json:"fellow_id"`
	SchoolID       string  `json:"school_id"`
	SessionLabel   string  `json:"session_label"`
	SessionID      string  `json:"session_id,omitempty"`
	Status         string  `json:"status"`
	RecordedAt     string  `json:"recorded_at"`
	RecordedBy     string  `json:"recorded_by,omitempty"`
	DelayedPayment bool    `json:"delayed_payment"`
	Cutoff         *string `json:"cutoff,omitempty"`
	BeforeCutoff   bool    `json:"before_cutoff"`
}

type AttendanceEventDTO struct {
	ID             string `json:"id"`
	From           string `json:"from"`
	To             string `json:"to"`
	SessionID      string `json:"session_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	DelayedPayment bool   `json:"delayed_payment"`
	At             string `json:"at"`
}

// CutoffDTO previews the payout cutoff for a session date.
type CutoffDTO struct {
	SessionDate  *string `json:"session_date,omitempty"`
	Cutoff       *string `json:"cutoff,omitempty"`
	BeforeCutoff bool    `json:"before_cutoff"`
	Now          string  `json:"now"`
	Timezone     string  `json:"timezone"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

type SchoolDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	HubID string `json:"hub_id,omitempty"`
}

type CreateSchoolRequest struct {
	ID    string `json:"id" validate:"omitempty,max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	HubID string `json:"hub_id" validate:"omitempty,max=64"`
}

type FellowDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	HubID        string `json:"hub_id,omitempty"`
}

type CreateFellowRequest struct {
	ID           string `json:"id" validate:"omitempty,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	SupervisorID string `json:"supervisor_id" validate:"required,max=64"`
	HubID        string `json:"hub_id" validate:"omitempty,max=64"`
}

type SessionDTO struct {
	ID           string `json:"id"`
	SchoolID     string `json:"school_id"`
	SessionLabel string `json:"session_label"`
	SessionDate  string `json:"session_date"`
	Cutoff       string `json:"cutoff"`
}

type CreateSessionRequest struct {
	ID           string `json:"id" validate:"omitempty,max=64"`
	SchoolID     string `json:"school_id" validate:"required,max=64"`
	SessionLabel string `json:"session_label" validate:"required,max=32"`
	SessionDate  string `json:"session_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// =============================================================================
// PAYMENTS AND RECONCILIATION
// =============================================================================

type PaymentRequestDTO struct {
	ID                 string `json:"id"`
	FellowID           string `json:"fellow_id"`
	SupervisorID       string `json:"supervisor_id"`
	SessionID          string `json:"session_id"`
	AttendanceRecordID string `json:"attendance_record_id"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Reason             string `json:"reason"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
}

type DiscrepancyDTO struct {
	AttendanceRecordID string `json:"attendance_record_id"`
	FellowID           string `json:"fellow_id"`
	SchoolID           string `json:"school_id"`
	SessionLabel       string `json:"session_label"`
	SessionID          string `json:"session_id,omitempty"`
	SupervisorID       string `json:"supervisor_id,omitempty"`
	RecordedAt         string `json:"recorded_at"`
	RecordedBy         string `json:"recorded_by,omitempty"`
}

type ReconciliationRunDTO struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Found       int     `json:"found"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type ReconcileResponse struct {
	Run           ReconciliationRunDTO `json:"run"`
	Discrepancies []DiscrepancyDTO     `json:"discrepancies"`
}

// ResubmitRequest optionally overrides the supervisor on a resubmitted request.
type ResubmitRequest struct {
	SupervisorID string `json:"supervisor_id" validate:"omitempty,max=64"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

func toOutcomeDTO(out attendance.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Outcome:                 string(out.Kind),
		Status:                  string(out.NewStatus),
		ProposedStatus:          string(out.ProposedStatus),
		AttendanceRecordID:      string(out.RecordID),
		PaymentRequestTriggered: out.PaymentRequestTriggered,
		PaymentRequestID:        out.PaymentRequestID,
		Reason:                  string(out.Reason),
		Cutoff:                  optionalTime(out.Cutoff),
	}
	if err := out.Err(); err != nil {
		dto.Message = err.Error()
		dto.NeedsReconciliation = attendance.NeedsReconciliation(err)
		dto.Retryable = attendance.IsRetryable(err)
	}
	if out.Kind == attendance.OutcomeRequiresConfirmation {
		dto.Message = "this session is past its payout cutoff; confirm to mark present and raise a delayed payment request"
	}
	return dto
}

func toRecordDTO(rec attendance.Record, cutoff time.Time, now time.Time) AttendanceRecordDTO {
	return AttendanceRecordDTO{
		ID:             string(rec.ID),
		FellowID:       rec.FellowID,
		SchoolID:       rec.SchoolID,
		SessionLabel:   string(rec.Label),
		SessionID:      rec.SessionID,
		Status:         string(rec.Status),
		RecordedAt:     formatTime(rec.RecordedAt),
		RecordedBy:     rec.RecordedBy,
		DelayedPayment: rec.DelayedPayment,
		Cutoff:         optionalTime(cutoff),
		BeforeCutoff:   !cutoff.IsZero() && now.Before(cutoff),
	}
}

func toEventDTOs(events []attendance.Event) []AttendanceEventDTO {
	dtos := make([]AttendanceEventDTO, len(events))
	for i, e := range events {
		dtos[i] = AttendanceEventDTO{
			ID:             e.ID,
			From:           string(e.From),
			To:             string(e.To),
			SessionID:      e.SessionID,
			ActorID:        e.ActorID,
			DelayedPayment: e.DelayedPayment,
			At:             formatTime(e.At),
		}
	}
	return dtos
}

func toSchoolDTO(s program.School) SchoolDTO {
	return SchoolDTO{ID: s.ID, Name: s.Name, HubID: s.HubID}
}

func toFellowDTO(f program.Fellow) FellowDTO {
	return FellowDTO{ID: f.ID, Name: f.Name, SupervisorID: f.SupervisorID, HubID: f.HubID}
}

func toSessionDTO(s program.ScheduledSession, cutoff time.Time) SessionDTO {
	return SessionDTO{
		ID:           s.ID,
		SchoolID:     s.SchoolID,
		SessionLabel: string(s.Label),
		SessionDate:  formatTime(s.SessionDate),
		Cutoff:       formatTime(cutoff),
	}
}

func toPaymentRequestDTOs(reqs []payments.DelayedPaymentRequest) []PaymentRequestDTO {
	dtos := make([]PaymentRequestDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = PaymentRequestDTO{
			ID:                 r.ID,
			FellowID:           r.FellowID,
			SupervisorID:       r.SupervisorID,
			SessionID:          r.SessionID,
			AttendanceRecordID: string(r.AttendanceRecordID),
			Amount:             r.Amount.Value.StringFixed(2),
			Currency:           r.Amount.Currency,
			Reason:             r.Reason,
			Status:             string(r.Status),
			CreatedAt:          formatTime(r.CreatedAt),
		}
	}
	return dtos
}

func toDiscrepancyDTOs(found []payments.Discrepancy) []DiscrepancyDTO {
	dtos := make([]DiscrepancyDTO, len(found))
	for i, d := range found {
		dtos[i] = DiscrepancyDTO{
			AttendanceRecordID: string(d.RecordID),
			FellowID:           d.FellowID,
			SchoolID:           d.SchoolID,
			SessionLabel:       string(d.Label),
			SessionID:          d.SessionID,
			SupervisorID:       d.SupervisorID,
			RecordedAt:         formatTime(d.RecordedAt),
			RecordedBy:         d.RecordedBy,
		}
	}
	return dtos
}

func toRunDTO(r payments.ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:        r.ID,
		Status:    string(r.Status),
		Found:     r.Found,
		Error:     r.Error,
		StartedAt: formatTime(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = optionalTime(*r.CompletedAt)
	}
	return dto
}
