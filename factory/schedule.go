/*
Package factory converts JSON cutoff schedules into attendance.Schedule.

PURPOSE:
  Payout processing days are an operational decision. Keeping them in JSON
  lets finance move a batch day by changing configuration instead of code.

JSON SCHEMA:
  {
    "timezone": "Africa/Nairobi",
    "boundaries": [
      {"weekday": "monday",   "time": "11:00"},
      {"weekday": "thursday", "time": "11:00"}
    ]
  }

  timezone defaults to the caller's fallback when omitted. Weekdays are
  case-insensitive English names; time is 24h HH:MM (two digits each) local
  to the timezone.

USAGE:
  f := factory.NewScheduleFactory(attendance.DefaultTimezone)
  schedule, err := f.ParseSchedule(conf.CutoffSchedule)

SEE ALSO:
  - attendance/cutoff.go: Boundary computation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ScheduleJSON struct {
	Timezone   string         `json:"timezone,omitempty"`
	Boundaries []BoundaryJSON `json:"boundaries"`
}

type BoundaryJSON struct {
	Weekday string `json:"weekday"`
	Time    string `json:"time"` // HH:MM
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

type ScheduleFactory struct {
	// DefaultTimezone is used when the JSON omits one.
	DefaultTimezone string
}

func NewScheduleFactory(defaultTimezone string) *ScheduleFactory {
	if defaultTimezone == "" {
		defaultTimezone = attendance.DefaultTimezone
	}
	return &ScheduleFactory{DefaultTimezone: defaultTimezone}
}

// ParseSchedule parses and validates a JSON schedule. An empty string yields
// the default Monday/Thursday 11:00 schedule in the default timezone.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (attendance.Schedule, error) {
	if strings.TrimSpace(jsonStr) == "" {
		jsonStr = DefaultScheduleJSON(f.DefaultTimezone)
	}

	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return attendance.Schedule{}, fmt.Errorf("invalid schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (attendance.Schedule, error) {
	tz := sj.Timezone
	if tz == "" {
		tz = f.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return attendance.Schedule{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	schedule := attendance.Schedule{Location: loc}
	for i, bj := range sj.Boundaries {
		b, err := parseBoundary(bj)
		if err != nil {
			return attendance.Schedule{}, fmt.Errorf("boundary %d: %w", i, err)
		}
		schedule.Boundaries = append(schedule.Boundaries, b)
	}

	if err := schedule.Validate(); err != nil {
		return attendance.Schedule{}, err
	}
	return schedule, nil
}

// ToJSON renders a schedule back to its JSON form.
func ToJSON(s attendance.Schedule) ScheduleJSON {
	sj := ScheduleJSON{}
	if s.Location != nil {
		sj.Timezone = s.Location.String()
	}
	for _, b := range s.Boundaries {
		sj.Boundaries = append(sj.Boundaries, BoundaryJSON{
			Weekday: strings.ToLower(b.Weekday.String()),
			Time:    fmt.Sprintf("%02d:%02d", b.Hour, b.Minute),
		})
	}
	return sj
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseBoundary(bj BoundaryJSON) (attendance.Boundary, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(bj.Weekday))]
	if !ok {
		return attendance.Boundary{}, fmt.Errorf("unknown weekday %q", bj.Weekday)
	}
	raw := strings.TrimSpace(bj.Time)
	if len(raw) != len("15:04") {
		return attendance.Boundary{}, fmt.Errorf("invalid time %q, want HH:MM", bj.Time)
	}
	// 15:04 alone also accepts a single-digit hour such as 9:30.
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return attendance.Boundary{}, fmt.Errorf("invalid time %q, want HH:MM", bj.Time)
	}
	return attendance.Boundary{Weekday: wd, Hour: t.Hour(), Minute: t.Minute()}, nil
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultScheduleJSON is the standard payout schedule: batches run Monday
// and Thursday at 11:00.
func DefaultScheduleJSON(timezone string) string {
	return fmt.Sprintf(`{
  "timezone": %q,
  "boundaries": [
    {"weekday": "monday", "time": "11:00"},
    {"weekday": "thursday", "time": "11:00"}
  ]
}`, timezone)
}
