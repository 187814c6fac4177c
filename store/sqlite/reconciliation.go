package sqlite

import (
	"context"
	"database/sql"

	"github.com/shamiri/attendance-engine/payments"
)

// =============================================================================
// RECONCILIATION STORE (payments.ReconciliationStore interface)
// =============================================================================

var _ payments.ReconciliationStore = (*Store)(nil)

// FindUnpaidLatePresent returns late presents with no delayed payment request.
func (s *Store) FindUnpaidLatePresent(ctx context.Context) ([]payments.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.fellow_id, r.school_id, r.session_label, r.session_id,
			COALESCE(f.supervisor_id, ''), r.recorded_at, r.recorded_by
		FROM attendance_records r
		LEFT JOIN fellows f ON f.id = r.fellow_id
		LEFT JOIN delayed_payment_requests p ON p.attendance_record_id = r.id
		WHERE r.delayed_payment = 1 AND r.status = 'present' AND p.id IS NULL
		ORDER BY r.recorded_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []payments.Discrepancy
	for rows.Next() {
		var d payments.Discrepancy
		var recordedAt string
		if err := rows.Scan(&d.RecordID, &d.FellowID, &d.SchoolID, &d.Label, &d.SessionID,
			&d.SupervisorID, &recordedAt, &d.RecordedBy); err != nil {
			return nil, err
		}
		d.RecordedAt = parseTime(recordedAt)
		found = append(found, d)
	}
	return found, rows.Err()
}

// SaveReconciliationRun saves a reconciliation run.
func (s *Store) SaveReconciliationRun(ctx context.Context, r payments.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reconciliation_runs (id, status, found, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			found = excluded.found,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.Found, r.Error, formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// GetReconciliationRuns returns reconciliation runs, newest first.
func (s *Store) GetReconciliationRuns(ctx context.Context, status payments.RunStatus) ([]payments.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, status, found, error, started_at, completed_at
		FROM reconciliation_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []payments.ReconciliationRun
	for rows.Next() {
		var r payments.ReconciliationRun
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Status, &r.Found, &r.Error, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
