package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/payments"
)

// =============================================================================
// PAYMENT REQUEST STORE (payments.Store interface)
// =============================================================================

var _ payments.Store = (*Store)(nil)

const paymentColumns = `id, fellow_id, supervisor_id, session_id, attendance_record_id,
	amount, currency, reason, status, idempotency_key, created_at`

// SavePaymentRequest inserts a delayed payment request.
func (s *Store) SavePaymentRequest(ctx context.Context, r payments.DelayedPaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delayed_payment_requests (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.FellowID, r.SupervisorID, r.SessionID, r.AttendanceRecordID,
		r.Amount.Value.String(), r.Amount.Currency, r.Reason, r.Status,
		r.IdempotencyKey, formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payments.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	return nil
}

// GetPaymentRequestByRecord returns the request for an attendance record.
func (s *Store) GetPaymentRequestByRecord(ctx context.Context, recordID attendance.RecordID) (*payments.DelayedPaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM delayed_payment_requests WHERE idempotency_key = ?",
		payments.IdempotencyKey(recordID),
	)
	r, err := scanPaymentRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListPaymentRequests returns requests matching f, newest first.
func (s *Store) ListPaymentRequests(ctx context.Context, f payments.Filter) ([]payments.DelayedPaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.FellowID != "" {
		where = append(where, "fellow_id = ?")
		args = append(args, f.FellowID)
	}
	if f.SupervisorID != "" {
		where = append(where, "supervisor_id = ?")
		args = append(args, f.SupervisorID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + paymentColumns + " FROM delayed_payment_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payments.DelayedPaymentRequest
	for rows.Next() {
		r, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanPaymentRequest(row rowScanner) (payments.DelayedPaymentRequest, error) {
	var r payments.DelayedPaymentRequest
	var amount, createdAt string
	err := row.Scan(&r.ID, &r.FellowID, &r.SupervisorID, &r.SessionID, &r.AttendanceRecordID,
		&amount, &r.Amount.Currency, &r.Reason, &r.Status, &r.IdempotencyKey, &createdAt)
	if err != nil {
		return payments.DelayedPaymentRequest{}, err
	}
	r.Amount.Value, err = decimal.NewFromString(amount)
	if err != nil {
		return payments.DelayedPaymentRequest{}, fmt.Errorf("corrupt amount %q on request %s: %w", amount, r.ID, err)
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}
