package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shamiri/attendance-engine/attendance"
)

var _ attendance.Store = (*Store)(nil)

type recordRow struct {
	ID             string    `db:"id"`
	FellowID       string    `db:"fellow_id"`
	SchoolID       string    `db:"school_id"`
	Label          string    `db:"session_label"`
	SessionID      string    `db:"session_id"`
	Status         string    `db:"status"`
	RecordedAt     time.Time `db:"recorded_at"`
	RecordedBy     string    `db:"recorded_by"`
	DelayedPayment bool      `db:"delayed_payment"`
	Version        int64     `db:"version"`
}

func (r recordRow) toRecord() attendance.Record {
	return attendance.Record{
		ID:             attendance.RecordID(r.ID),
		FellowID:       r.FellowID,
		SchoolID:       r.SchoolID,
		Label:          attendance.SessionLabel(r.Label),
		SessionID:      r.SessionID,
		Status:         attendance.Status(r.Status),
		RecordedAt:     r.RecordedAt,
		RecordedBy:     r.RecordedBy,
		DelayedPayment: r.DelayedPayment,
		Version:        r.Version,
	}
}

type eventRow struct {
	ID             string    `db:"id"`
	RecordID       string    `db:"record_id"`
	From           string    `db:"from_status"`
	To             string    `db:"to_status"`
	SessionID      string    `db:"session_id"`
	ActorID        string    `db:"actor_id"`
	DelayedPayment bool      `db:"delayed_payment"`
	At             time.Time `db:"at"`
}

const recordColumns = `id, fellow_id, school_id, session_label, session_id, status,
	recorded_at, recorded_by, delayed_payment, version`

func (s *Store) Get(ctx context.Context, key attendance.Key) (*attendance.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+recordColumns+" FROM attendance_records WHERE fellow_id = $1 AND school_id = $2 AND session_label = $3",
		key.FellowID, key.SchoolID, string(key.Label))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := row.toRecord()
	return &rec, nil
}

// CompareAndSwap applies the write if the stored status matches w.Expected.
func (s *Store) CompareAndSwap(ctx context.Context, w attendance.Write) (attendance.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row recordRow
	err = tx.GetContext(ctx, &row,
		"SELECT "+recordColumns+` FROM attendance_records
		WHERE fellow_id = $1 AND school_id = $2 AND session_label = $3
		FOR UPDATE`,
		w.Key.FellowID, w.Key.SchoolID, string(w.Key.Label))
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, fmt.Errorf("failed to load attendance: %w", err)
	}

	from := attendance.StatusNotMarked
	var next attendance.Record
	if !exists {
		if w.Expected != attendance.StatusNotMarked {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
		next, err = insertRecord(ctx, tx, w)
	} else {
		current := row.toRecord()
		from = current.Status
		if from != w.Expected {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
		next, err = updateRecord(ctx, tx, current, w)
	}
	if err != nil {
		return attendance.Record{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_events
		(id, record_id, from_status, to_status, session_id, actor_id, delayed_payment, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), string(next.ID), string(from), string(w.Next), next.SessionID, w.ActorID,
		w.DelayedPayment, w.At.UTC())
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to append attendance event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, fmt.Errorf("failed to commit attendance: %w", err)
	}
	return next, nil
}

func insertRecord(ctx context.Context, tx *sqlx.Tx, w attendance.Write) (attendance.Record, error) {
	rec := attendance.Record{
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
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fellow_id, school_id, session_label) DO NOTHING
	`, string(rec.ID), rec.FellowID, rec.SchoolID, string(rec.Label), rec.SessionID, string(rec.Status),
		rec.RecordedAt.UTC(), rec.RecordedBy, rec.DelayedPayment, rec.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return attendance.Record{}, attendance.ErrConcurrentModification
		}
		return attendance.Record{}, fmt.Errorf("failed to insert attendance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return attendance.Record{}, attendance.ErrConcurrentModification
	}
	return rec, nil
}

func updateRecord(ctx context.Context, tx *sqlx.Tx, current attendance.Record, w attendance.Write) (attendance.Record, error) {
	next := current
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
		SET status = $1, session_id = $2, recorded_at = $3, recorded_by = $4,
			delayed_payment = $5, version = version + 1
		WHERE id = $6 AND status = $7
	`, string(next.Status), next.SessionID, next.RecordedAt.UTC(), next.RecordedBy,
		next.DelayedPayment, string(next.ID), string(w.Expected))
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to update attendance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return attendance.Record{}, attendance.ErrConcurrentModification
	}
	return next, nil
}

func (s *Store) History(ctx context.Context, key attendance.Key) ([]attendance.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT e.id, e.record_id, e.from_status, e.to_status, e.session_id, e.actor_id,
			e.delayed_payment, e.at
		FROM attendance_events e
		JOIN attendance_records r ON r.id = e.record_id
		WHERE r.fellow_id = $1 AND r.school_id = $2 AND r.session_label = $3
		ORDER BY e.seq ASC
	`, key.FellowID, key.SchoolID, string(key.Label))
	if err != nil {
		return nil, err
	}

	events := make([]attendance.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, attendance.Event{
			ID:             r.ID,
			RecordID:       attendance.RecordID(r.RecordID),
			From:           attendance.Status(r.From),
			To:             attendance.Status(r.To),
			SessionID:      r.SessionID,
			ActorID:        r.ActorID,
			DelayedPayment: r.DelayedPayment,
			At:             r.At,
		})
	}
	return events, nil
}

func (s *Store) ListByFellow(ctx context.Context, fellowID string) ([]attendance.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+recordColumns+" FROM attendance_records WHERE fellow_id = $1 ORDER BY school_id, session_label",
		fellowID)
	if err != nil {
		return nil, err
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}
