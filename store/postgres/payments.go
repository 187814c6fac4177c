package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/payments"
)

var (
	_ payments.Store               = (*Store)(nil)
	_ payments.ReconciliationStore = (*Store)(nil)
)

type paymentRow struct {
	ID                 string    `db:"id"`
	FellowID           string    `db:"fellow_id"`
	SupervisorID       string    `db:"supervisor_id"`
	SessionID          string    `db:"session_id"`
	AttendanceRecordID string    `db:"attendance_record_id"`
	Amount             string    `db:"amount"`
	Currency           string    `db:"currency"`
	Reason             string    `db:"reason"`
	Status             string    `db:"status"`
	IdempotencyKey     string    `db:"idempotency_key"`
	CreatedAt          time.Time `db:"created_at"`
}

func (r paymentRow) toRequest() (payments.DelayedPaymentRequest, error) {
	value, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return payments.DelayedPaymentRequest{}, fmt.Errorf("corrupt amount %q on request %s: %w", r.Amount, r.ID, err)
	}
	return payments.DelayedPaymentRequest{
		ID:                 r.ID,
		FellowID:           r.FellowID,
		SupervisorID:       r.SupervisorID,
		SessionID:          r.SessionID,
		AttendanceRecordID: attendance.RecordID(r.AttendanceRecordID),
		Amount:             payments.Amount{Value: value, Currency: r.Currency},
		Reason:             r.Reason,
		Status:             payments.RequestStatus(r.Status),
		IdempotencyKey:     r.IdempotencyKey,
		CreatedAt:          r.CreatedAt,
	}, nil
}

const paymentColumns = `id, fellow_id, supervisor_id, session_id, attendance_record_id,
	amount::text AS amount, currency, reason, status, idempotency_key, created_at`

func (s *Store) SavePaymentRequest(ctx context.Context, r payments.DelayedPaymentRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delayed_payment_requests
		(id, fellow_id, supervisor_id, session_id, attendance_record_id, amount, currency,
		 reason, status, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.FellowID, r.SupervisorID, r.SessionID, string(r.AttendanceRecordID),
		r.Amount.Value.String(), r.Amount.Currency, r.Reason, string(r.Status),
		r.IdempotencyKey, r.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return payments.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	return nil
}

func (s *Store) GetPaymentRequestByRecord(ctx context.Context, recordID attendance.RecordID) (*payments.DelayedPaymentRequest, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+paymentColumns+" FROM delayed_payment_requests WHERE idempotency_key = $1",
		payments.IdempotencyKey(recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	req, err := row.toRequest()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListPaymentRequests(ctx context.Context, f payments.Filter) ([]payments.DelayedPaymentRequest, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, clause+" = $"+strconv.Itoa(len(args)))
	}
	if f.FellowID != "" {
		add("fellow_id", f.FellowID)
	}
	if f.SupervisorID != "" {
		add("supervisor_id", f.SupervisorID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}

	query := "SELECT " + paymentColumns + " FROM delayed_payment_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]payments.DelayedPaymentRequest, 0, len(rows))
	for _, r := range rows {
		req, err := r.toRequest()
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type discrepancyRow struct {
	RecordID     string    `db:"id"`
	FellowID     string    `db:"fellow_id"`
	SchoolID     string    `db:"school_id"`
	Label        string    `db:"session_label"`
	SessionID    string    `db:"session_id"`
	SupervisorID string    `db:"supervisor_id"`
	RecordedAt   time.Time `db:"recorded_at"`
	RecordedBy   string    `db:"recorded_by"`
}

func (s *Store) FindUnpaidLatePresent(ctx context.Context) ([]payments.Discrepancy, error) {
	var rows []discrepancyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.fellow_id, r.school_id, r.session_label, r.session_id,
			COALESCE(f.supervisor_id, '') AS supervisor_id, r.recorded_at, r.recorded_by
		FROM attendance_records r
		LEFT JOIN fellows f ON f.id = r.fellow_id
		LEFT JOIN delayed_payment_requests p ON p.attendance_record_id = r.id
		WHERE r.delayed_payment AND r.status = 'present' AND p.id IS NULL
		ORDER BY r.recorded_at ASC
	`)
	if err != nil {
		return nil, err
	}
	found := make([]payments.Discrepancy, 0, len(rows))
	for _, r := range rows {
		found = append(found, payments.Discrepancy{
			RecordID:     attendance.RecordID(r.RecordID),
			FellowID:     r.FellowID,
			SchoolID:     r.SchoolID,
			Label:        attendance.SessionLabel(r.Label),
			SessionID:    r.SessionID,
			SupervisorID: r.SupervisorID,
			RecordedAt:   r.RecordedAt,
			RecordedBy:   r.RecordedBy,
		})
	}
	return found, nil
}

type runRow struct {
	ID          string       `db:"id"`
	Status      string       `db:"status"`
	Found       int          `db:"found"`
	Error       string       `db:"error"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

func (s *Store) SaveReconciliationRun(ctx context.Context, r payments.ReconciliationRun) error {
	var completed sql.NullTime
	if r.CompletedAt != nil {
		completed = sql.NullTime{Time: r.CompletedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, status, found, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			found = EXCLUDED.found,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`, r.ID, string(r.Status), r.Found, r.Error, r.StartedAt.UTC(), completed)
	return err
}

func (s *Store) GetReconciliationRuns(ctx context.Context, status payments.RunStatus) ([]payments.ReconciliationRun, error) {
	query := "SELECT id, status, found, error, started_at, completed_at FROM reconciliation_runs"
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY started_at DESC"

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	runs := make([]payments.ReconciliationRun, 0, len(rows))
	for _, r := range rows {
		run := payments.ReconciliationRun{
			ID:        r.ID,
			Status:    payments.RunStatus(r.Status),
			Found:     r.Found,
			Error:     r.Error,
			StartedAt: r.StartedAt,
		}
		if r.CompletedAt.Valid {
			t := r.CompletedAt.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, nil
}
