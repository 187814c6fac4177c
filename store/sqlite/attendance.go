package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/shamiri/attendance-engine/attendance"
)

// =============================================================================
// ATTENDANCE STORE (attendance.Store interface)
// =============================================================================

var _ attendance.Store = (*Store)(nil)

const recordColumns = `id, fellow_id, school_id, session_label, session_id, status,
	recorded_at, recorded_by, delayed_payment, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (attendance.Record, error) {
	var r attendance.Record
	var recordedAt string
	var delayed int
	err := row.Scan(&r.ID, &r.FellowID, &r.SchoolID, &r.Label, &r.SessionID, &r.Status,
		&recordedAt, &r.RecordedBy, &delayed, &r.Version)
	if err != nil {
		return attendance.Record{}, err
	}
	r.RecordedAt = parseTime(recordedAt)
	r.DelayedPayment = delayed != 0
	return r, nil
}

// Get returns the record for key, or nil if it has never been touched.
func (s *Store) Get(ctx context.Context, key attendance.Key) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRecord(ctx, s.db, key)
}

func getRecord(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, key attendance.Key) (*attendance.Record, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM attendance_records WHERE fellow_id = ? AND school_id = ? AND session_label = ?",
		key.FellowID, key.SchoolID, key.Label,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CompareAndSwap applies the write if the stored status matches w.Expected.
func (s *Store) CompareAndSwap(ctx context.Context, w attendance.Write) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getRecord(ctx, tx, w.Key)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to load attendance: %w", err)
	}

	from := attendance.StatusNotMarked
	var next attendance.Record
	if current == nil {
		if w.Expected != attendance.StatusNotMarked {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
		next = attendance.Record{
			ID:             attendance.RecordID(uuid.NewString()),
			FellowID:       w.Key.FellowID,
			SchoolID:       w.Key.SchoolID,
			Label:          w.Key.Label,
			SessionID:      w.SessionID,
			Status:         w.Next,
			RecordedAt:     w.At,
			RecordedBy:     w.ActorID,
			DelayedPayment: w.DelayedPayment,
			Version:        1,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attendance_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			next.ID, next.FellowID, next.SchoolID, next.Label, next.SessionID, next.Status,
			formatTime(next.RecordedAt), next.RecordedBy, boolInt(next.DelayedPayment), next.Version,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return attendance.Record{}, attendance.ErrConcurrentModification
			}
			return attendance.Record{}, fmt.Errorf("failed to insert attendance: %w", err)
		}
	} else {
		from = current.Status
		if from != w.Expected {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
		next = *current
		next.Status = w.Next
		next.RecordedAt = w.At
		next.RecordedBy = w.ActorID
		next.DelayedPayment = current.DelayedPayment || w.DelayedPayment
		next.Version = current.Version + 1
		if w.SessionID != "" {
			next.SessionID = w.SessionID
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE attendance_records
			SET status = ?, session_id = ?, recorded_at = ?, recorded_by = ?,
				delayed_payment = ?, version = version + 1
			WHERE id = ? AND status = ?
		`,
			next.Status, next.SessionID, formatTime(next.RecordedAt), next.RecordedBy,
			boolInt(next.DelayedPayment), next.ID, w.Expected,
		)
		if err != nil {
			return attendance.Record{}, fmt.Errorf("failed to update attendance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_events
		(id, record_id, from_status, to_status, session_id, actor_id, delayed_payment, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), next.ID, from, w.Next, next.SessionID, w.ActorID,
		boolInt(w.DelayedPayment), formatTime(w.At),
	)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to append attendance event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, fmt.Errorf("failed to commit attendance: %w", err)
	}
	return next, nil
}

// History returns the transition events for key, oldest first.
func (s *Store) History(ctx context.Context, key attendance.Key) ([]attendance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.record_id, e.from_status, e.to_status, e.session_id, e.actor_id,
			e.delayed_payment, e.at
		FROM attendance_events e
		JOIN attendance_records r ON r.id = e.record_id
		WHERE r.fellow_id = ? AND r.school_id = ? AND r.session_label = ?
		ORDER BY e.at ASC, e.rowid ASC
	`, key.FellowID, key.SchoolID, key.Label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []attendance.Event
	for rows.Next() {
		var e attendance.Event
		var at string
		var delayed int
		if err := rows.Scan(&e.ID, &e.RecordID, &e.From, &e.To, &e.SessionID, &e.ActorID, &delayed, &at); err != nil {
			return nil, err
		}
		e.DelayedPayment = delayed != 0
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListByFellow returns every record for a fellow.
func (s *Store) ListByFellow(ctx context.Context, fellowID string) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM attendance_records WHERE fellow_id = ? ORDER BY school_id, session_label",
		fellowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
