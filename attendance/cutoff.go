package attendance

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// PAYOUT CUTOFF - Weekly processing boundaries
// =============================================================================
//
// Payouts are processed at fixed points in the week. With the default
// schedule (Monday 11:00 and Thursday 11:00) the week splits into two
// windows and every session maps to the next boundary that processes it:
//
//   session <= Mon 11:00          -> Mon 11:00 of that week
//   Mon 11:00 < session <= Thu 11:00 -> Thu 11:00 of that week
//   session > Thu 11:00           -> Mon 11:00 of the following week
//
// Weeks start on Monday. All arithmetic runs in the schedule's Location and
// boundaries are built from wall-clock fields, so 11:00 stays 11:00 across
// daylight-saving changes.

// DefaultTimezone is the program's operating timezone.
const DefaultTimezone = "Africa/Nairobi"

// Boundary is a weekly payout processing point.
type Boundary struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (b Boundary) String() string {
	return fmt.Sprintf("%s %02d:%02d", b.Weekday, b.Hour, b.Minute)
}

// offset is the boundary's position in a Monday-first week, in minutes.
func (b Boundary) offset() int {
	day := (int(b.Weekday) + 6) % 7
	return day*24*60 + b.Hour*60 + b.Minute
}

// Schedule is the set of weekly boundaries plus the timezone they live in.
type Schedule struct {
	Boundaries []Boundary
	Location   *time.Location
}

// DefaultSchedule returns Monday 11:00 and Thursday 11:00 in loc.
// A nil loc means UTC.
func DefaultSchedule(loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{
		Boundaries: []Boundary{
			{Weekday: time.Monday, Hour: 11},
			{Weekday: time.Thursday, Hour: 11},
		},
		Location: loc,
	}
}

// Validate checks the schedule is usable.
func (s Schedule) Validate() error {
	if len(s.Boundaries) == 0 {
		return errors.New("cutoff schedule: at least one boundary is required")
	}
	if s.Location == nil {
		return errors.New("cutoff schedule: location is required")
	}
	seen := make(map[int]bool, len(s.Boundaries))
	for _, b := range s.Boundaries {
		if b.Weekday < time.Sunday || b.Weekday > time.Saturday {
			return fmt.Errorf("cutoff schedule: invalid weekday %d", b.Weekday)
		}
		if b.Hour < 0 || b.Hour > 23 || b.Minute < 0 || b.Minute > 59 {
			return fmt.Errorf("cutoff schedule: invalid time %02d:%02d", b.Hour, b.Minute)
		}
		if seen[b.offset()] {
			return fmt.Errorf("cutoff schedule: duplicate boundary %s", b)
		}
		seen[b.offset()] = true
	}
	return nil
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Schedule) sorted() []Boundary {
	bs := append([]Boundary(nil), s.Boundaries...)
	sort.Slice(bs, func(i, j int) bool { return bs[i].offset() < bs[j].offset() })
	return bs
}

// WeekStart returns midnight of the Monday of t's week, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	daysSinceMonday := (int(lt.Weekday()) + 6) % 7
	return time.Date(lt.Year(), lt.Month(), lt.Day()-daysSinceMonday, 0, 0, 0, 0, loc)
}

// at builds the boundary instant in the week starting at monday.
func (b Boundary) at(monday time.Time, loc *time.Location) time.Time {
	day := (int(b.Weekday) + 6) % 7
	return time.Date(monday.Year(), monday.Month(), monday.Day()+day, b.Hour, b.Minute, 0, 0, loc)
}

// BoundaryFor returns the payout boundary that processes a session held at
// sessionDate: the first boundary in the session's week that is at or after
// the session, or the first boundary of the following week.
func (s Schedule) BoundaryFor(sessionDate time.Time) time.Time {
	loc := s.location()
	monday := WeekStart(sessionDate, loc)
	bs := s.sorted()
	if len(bs) == 0 {
		return sessionDate
	}
	for _, b := range bs {
		at := b.at(monday, loc)
		if !sessionDate.After(at) {
			return at
		}
	}
	return bs[0].at(monday.AddDate(0, 0, 7), loc)
}

// IsBeforeCutoff reports whether now is strictly before the boundary for the
// session. An unscheduled session (nil date) is never before the cutoff.
func (s Schedule) IsBeforeCutoff(now time.Time, sessionDate *time.Time) bool {
	if sessionDate == nil || sessionDate.IsZero() {
		return false
	}
	return now.Before(s.BoundaryFor(*sessionDate))
}

// =============================================================================
// DECISION - What a toggle is allowed to do right now
// =============================================================================

type Decision string

const (
	DecisionApply   Decision = "apply"
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// Decide applies the transition authorization rule to a toggle from current.
//
//   - present at/after the cutoff: reject, present can no longer be undone
//   - toggle lands on present at/after the cutoff: needs confirmation
//   - anything else: apply immediately
func (s Schedule) Decide(current Status, sessionDate *time.Time, now time.Time) Decision {
	before := s.IsBeforeCutoff(now, sessionDate)
	if current == StatusPresent && !before {
		return DecisionReject
	}
	if current.Next() == StatusPresent && !before {
		return DecisionConfirm
	}
	return DecisionApply
}
