package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/program"
)

// =============================================================================
// PROGRAM DIRECTORY (program.Directory interface)
// =============================================================================

var _ program.Directory = (*Store)(nil)

// SaveSchool inserts or updates a school.
func (s *Store) SaveSchool(ctx context.Context, sc program.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schools (id, name, hub_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hub_id = excluded.hub_id
	`, sc.ID, sc.Name, sc.HubID, formatTime(createdOrNow(sc.CreatedAt)))
	return err
}

// GetSchool retrieves a school by ID.
func (s *Store) GetSchool(ctx context.Context, id string) (*program.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sc program.School
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, hub_id, created_at FROM schools WHERE id = ?", id,
	).Scan(&sc.ID, &sc.Name, &sc.HubID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sc.CreatedAt = parseTime(createdAt)
	return &sc, nil
}

// ListSchools returns all schools.
func (s *Store) ListSchools(ctx context.Context) ([]program.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, hub_id, created_at FROM schools ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []program.School
	for rows.Next() {
		var sc program.School
		var createdAt string
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.HubID, &createdAt); err != nil {
			return nil, err
		}
		sc.CreatedAt = parseTime(createdAt)
		schools = append(schools, sc)
	}
	return schools, rows.Err()
}

// SaveFellow inserts or updates a fellow.
func (s *Store) SaveFellow(ctx context.Context, f program.Fellow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fellows (id, name, supervisor_id, hub_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			supervisor_id = excluded.supervisor_id,
			hub_id = excluded.hub_id
	`, f.ID, f.Name, f.SupervisorID, f.HubID, formatTime(createdOrNow(f.CreatedAt)))
	return err
}

// GetFellow retrieves a fellow by ID.
func (s *Store) GetFellow(ctx context.Context, id string) (*program.Fellow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, supervisor_id, hub_id, created_at FROM fellows WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	fellows, err := scanFellows(rows)
	if err != nil || len(fellows) == 0 {
		return nil, err
	}
	return &fellows[0], nil
}

// ListFellowsBySupervisor returns the fellows a supervisor is responsible for.
func (s *Store) ListFellowsBySupervisor(ctx context.Context, supervisorID string) ([]program.Fellow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, supervisor_id, hub_id, created_at FROM fellows WHERE supervisor_id = ? ORDER BY name",
		supervisorID)
	if err != nil {
		return nil, err
	}
	return scanFellows(rows)
}

func scanFellows(rows *sql.Rows) ([]program.Fellow, error) {
	defer rows.Close()

	var fellows []program.Fellow
	for rows.Next() {
		var f program.Fellow
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.SupervisorID, &f.HubID, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(createdAt)
		fellows = append(fellows, f)
	}
	return fellows, rows.Err()
}

// SaveSession inserts or updates a scheduled session.
func (s *Store) SaveSession(ctx context.Context, ss program.ScheduledSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_sessions (id, school_id, session_label, session_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			session_label = excluded.session_label,
			session_date = excluded.session_date
	`, ss.ID, ss.SchoolID, ss.Label, formatTime(ss.SessionDate), formatTime(createdOrNow(ss.CreatedAt)))
	return err
}

// GetSession retrieves a scheduled session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*program.ScheduledSession, error) {
	return s.findSession(ctx, "id = ?", id)
}

// FindSession returns the scheduled occurrence of label at a school.
func (s *Store) FindSession(ctx context.Context, schoolID string, label attendance.SessionLabel) (*program.ScheduledSession, error) {
	return s.findSession(ctx, "school_id = ? AND session_label = ?", schoolID, label)
}

func (s *Store) findSession(ctx context.Context, where string, args ...any) (*program.ScheduledSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, school_id, session_label, session_date, created_at FROM scheduled_sessions WHERE "+where,
		args...)
	if err != nil {
		return nil, err
	}
	sessions, err := scanSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[0], nil
}

// ListSessionsBySchool returns a school's sessions in date order.
func (s *Store) ListSessionsBySchool(ctx context.Context, schoolID string) ([]program.ScheduledSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, school_id, session_label, session_date, created_at FROM scheduled_sessions WHERE school_id = ? ORDER BY session_date",
		schoolID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]program.ScheduledSession, error) {
	defer rows.Close()

	var sessions []program.ScheduledSession
	for rows.Next() {
		var ss program.ScheduledSession
		var sessionDate, createdAt string
		if err := rows.Scan(&ss.ID, &ss.SchoolID, &ss.Label, &sessionDate, &createdAt); err != nil {
			return nil, err
		}
		ss.SessionDate = parseTime(sessionDate)
		ss.CreatedAt = parseTime(createdAt)
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
