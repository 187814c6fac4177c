package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/report"
)

// Store persists delayed payment requests.
type Store interface {
	// SavePaymentRequest inserts a request. It returns
	// ErrDuplicateIdempotencyKey if one with the same key exists.
	SavePaymentRequest(ctx context.Context, r DelayedPaymentRequest) error

	// GetPaymentRequestByRecord returns the request for an attendance record,
	// or nil if none exists.
	GetPaymentRequestByRecord(ctx context.Context, recordID attendance.RecordID) (*DelayedPaymentRequest, error)

	ListPaymentRequests(ctx context.Context, f Filter) ([]DelayedPaymentRequest, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service raises delayed payment requests. It implements
// attendance.PaymentRequester.
type Service struct {
	Store    Store
	Rate     Amount // amount owed per late session
	Reporter report.Reporter
}

var _ attendance.PaymentRequester = (*Service)(nil)

func NewService(store Store, rate Amount) *Service {
	return &Service{Store: store, Rate: rate, Reporter: report.Discard}
}

func (s *Service) reporter() report.Reporter {
	if s.Reporter == nil {
		return report.Discard
	}
	return s.Reporter
}

// SubmitDelayedPaymentRequest creates a pending request for a late present
// and returns its id. A second submission for the same attendance record
// returns the existing request's id.
func (s *Service) SubmitDelayedPaymentRequest(ctx context.Context, in attendance.DelayedPaymentInput) (string, error) {
	if err := validateInput(in); err != nil {
		return "", err
	}
	if !s.Rate.IsPositive() {
		return "", fmt.Errorf("%w: late session rate must be positive, got %s", ErrInvalidAmount, s.Rate)
	}

	existing, err := s.Store.GetPaymentRequestByRecord(ctx, in.AttendanceRecordID)
	if err != nil {
		return "", fmt.Errorf("failed to look up payment request: %w", err)
	}
	if existing != nil {
		return existing.ID, nil
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	req := DelayedPaymentRequest{
		ID:                 uuid.NewString(),
		FellowID:           in.FellowID,
		SupervisorID:       in.SupervisorID,
		SessionID:          in.SessionID,
		AttendanceRecordID: in.AttendanceRecordID,
		Amount:             s.Rate,
		Reason:             ReasonLateAttendance,
		Status:             RequestPending,
		IdempotencyKey:     IdempotencyKey(in.AttendanceRecordID),
		CreatedAt:          at.UTC(),
	}

	if err := s.Store.SavePaymentRequest(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Lost a race with another submission for the same record.
			existing, getErr := s.Store.GetPaymentRequestByRecord(ctx, in.AttendanceRecordID)
			if getErr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("failed to save payment request: %w", err)
	}

	s.reporter().Info("delayed payment request created", report.Fields{
		"request": req.ID,
		"record":  req.AttendanceRecordID,
		"fellow":  req.FellowID,
		"session": req.SessionID,
		"amount":  req.Amount.String(),
	})
	return req.ID, nil
}

// Resubmit raises the missing request for a discrepancy found by the
// Reconciler. supervisorID overrides the discrepancy's supervisor when set.
func (s *Service) Resubmit(ctx context.Context, d Discrepancy, supervisorID string, at time.Time) (string, error) {
	if supervisorID == "" {
		supervisorID = d.SupervisorID
	}
	id, err := s.SubmitDelayedPaymentRequest(ctx, attendance.DelayedPaymentInput{
		FellowID:           d.FellowID,
		SupervisorID:       supervisorID,
		SessionID:          d.SessionID,
		AttendanceRecordID: d.RecordID,
		At:                 at,
	})
	if err != nil {
		return "", err
	}
	s.reporter().Warn("delayed payment request resubmitted", report.Fields{"record": d.RecordID, "request": id})
	return id, nil
}

func validateInput(in attendance.DelayedPaymentInput) error {
	switch {
	case in.FellowID == "":
		return fmt.Errorf("%w: fellow id is required", ErrInvalidRequest)
	case in.SupervisorID == "":
		return fmt.Errorf("%w: supervisor id is required", ErrInvalidRequest)
	case in.SessionID == "":
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	case in.AttendanceRecordID == "":
		return fmt.Errorf("%w: attendance record id is required", ErrInvalidRequest)
	}
	return nil
}
