package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/program"
)

var _ program.Directory = (*Store)(nil)

type schoolRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	HubID     string    `db:"hub_id"`
	CreatedAt time.Time `db:"created_at"`
}

type fellowRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	SupervisorID string    `db:"supervisor_id"`
	HubID        string    `db:"hub_id"`
	CreatedAt    time.Time `db:"created_at"`
}

type sessionRow struct {
	ID          string    `db:"id"`
	SchoolID    string    `db:"school_id"`
	Label       string    `db:"session_label"`
	SessionDate time.Time `db:"session_date"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r sessionRow) toSession() program.ScheduledSession {
	return program.ScheduledSession{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		Label:       attendance.SessionLabel(r.Label),
		SessionDate: r.SessionDate,
		CreatedAt:   r.CreatedAt,
	}
}

func (s *Store) SaveSchool(ctx context.Context, sc program.School) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schools (id, name, hub_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, hub_id = EXCLUDED.hub_id
	`, sc.ID, sc.Name, sc.HubID)
	return err
}

func (s *Store) GetSchool(ctx context.Context, id string) (*program.School, error) {
	var row schoolRow
	err := s.db.GetContext(ctx, &row, "SELECT id, name, hub_id, created_at FROM schools WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sc := program.School(row)
	return &sc, nil
}

func (s *Store) ListSchools(ctx context.Context) ([]program.School, error) {
	var rows []schoolRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, name, hub_id, created_at FROM schools ORDER BY name"); err != nil {
		return nil, err
	}
	schools := make([]program.School, 0, len(rows))
	for _, r := range rows {
		schools = append(schools, program.School(r))
	}
	return schools, nil
}

func (s *Store) SaveFellow(ctx context.Context, f program.Fellow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fellows (id, name, supervisor_id, hub_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			supervisor_id = EXCLUDED.supervisor_id,
			hub_id = EXCLUDED.hub_id
	`, f.ID, f.Name, f.SupervisorID, f.HubID)
	return err
}

func (s *Store) GetFellow(ctx context.Context, id string) (*program.Fellow, error) {
	var row fellowRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, supervisor_id, hub_id, created_at FROM fellows WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f := program.Fellow(row)
	return &f, nil
}

func (s *Store) ListFellowsBySupervisor(ctx context.Context, supervisorID string) ([]program.Fellow, error) {
	var rows []fellowRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, supervisor_id, hub_id, created_at FROM fellows WHERE supervisor_id = $1 ORDER BY name",
		supervisorID)
	if err != nil {
		return nil, err
	}
	fellows := make([]program.Fellow, 0, len(rows))
	for _, r := range rows {
		fellows = append(fellows, program.Fellow(r))
	}
	return fellows, nil
}

func (s *Store) SaveSession(ctx context.Context, ss program.ScheduledSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_sessions (id, school_id, session_label, session_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			session_label = EXCLUDED.session_label,
			session_date = EXCLUDED.session_date
	`, ss.ID, ss.SchoolID, string(ss.Label), ss.SessionDate.UTC())
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*program.ScheduledSession, error) {
	return s.getSession(ctx, "id = $1", id)
}

func (s *Store) FindSession(ctx context.Context, schoolID string, label attendance.SessionLabel) (*program.ScheduledSession, error) {
	return s.getSession(ctx, "school_id = $1 AND session_label = $2", schoolID, string(label))
}

func (s *Store) getSession(ctx context.Context, where string, args ...any) (*program.ScheduledSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, school_id, session_label, session_date, created_at FROM scheduled_sessions WHERE "+where,
		args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ss := row.toSession()
	return &ss, nil
}

func (s *Store) ListSessionsBySchool(ctx context.Context, schoolID string) ([]program.ScheduledSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, school_id, session_label, session_date, created_at FROM scheduled_sessions WHERE school_id = $1 ORDER BY session_date",
		schoolID)
	if err != nil {
		return nil, err
	}
	sessions := make([]program.ScheduledSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}
