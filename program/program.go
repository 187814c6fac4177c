/*
Package program holds the intervention directory: schools, fellows and the
scheduled session occurrences attendance is marked against.

KEY CONCEPTS:
  - School: delivery site, belongs to a hub
  - Fellow: delivers sessions, reports to one supervisor
  - ScheduledSession: one dated occurrence of a session label at a school

  The attendance engine only reads ScheduledSession.SessionDate. A label
  with no ScheduledSession yet is "unscheduled".
*/
package program

import (
	"context"
	"errors"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
)

var (
	ErrSchoolNotFound  = errors.New("school not found")
	ErrFellowNotFound  = errors.New("fellow not found")
	ErrSessionNotFound = errors.New("session not found")
)

type School struct {
	ID        string
	Name      string
	HubID     string
	CreatedAt time.Time
}

type Fellow struct {
	ID           string
	Name         string
	SupervisorID string
	HubID        string
	CreatedAt    time.Time
}

type ScheduledSession struct {
	ID          string
	SchoolID    string
	Label       attendance.SessionLabel
	SessionDate time.Time
	CreatedAt   time.Time
}

// Directory stores the program entities. Get methods return nil when the
// entity does not exist.
type Directory interface {
	SaveSchool(ctx context.Context, s School) error
	GetSchool(ctx context.Context, id string) (*School, error)
	ListSchools(ctx context.Context) ([]School, error)

	SaveFellow(ctx context.Context, f Fellow) error
	GetFellow(ctx context.Context, id string) (*Fellow, error)
	ListFellowsBySupervisor(ctx context.Context, supervisorID string) ([]Fellow, error)

	SaveSession(ctx context.Context, s ScheduledSession) error
	GetSession(ctx context.Context, id string) (*ScheduledSession, error)
	ListSessionsBySchool(ctx context.Context, schoolID string) ([]ScheduledSession, error)

	// FindSession returns the scheduled occurrence of label at a school.
	FindSession(ctx context.Context, schoolID string, label attendance.SessionLabel) (*ScheduledSession, error)
}
