/*
Package attendance implements the fellow session-attendance engine.

PURPOSE:
  A fellow is paid per attended session. Attendance is marked by toggling a
  tri-state status, and payouts are processed in weekly batches. Once a
  batch boundary has passed for a session, marking that session "present"
  can no longer ride the normal payout and needs a delayed payment request,
  and an existing "present" can no longer be taken back.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: present | absent | not-marked, with a fixed cyclic Next()
  - SessionLabel: which occurrence in the intervention sequence ("Pre", "S1".."S4")
  - Key: identity of an attendance record (fellow + school + label)
  - Record: persisted attendance outcome for one key
  - Event: one applied transition, kept as history

STATE MACHINE:
  ┌──────────┐  Next   ┌──────────┐  Next   ┌────────────┐
  │ present  │ ──────▶ │  absent  │ ──────▶ │ not-marked │
  └──────────┘         └──────────┘         └────────────┘
        ▲                                          │
        └──────────────────── Next ────────────────┘

  There is no terminal state and no invalid transition. Whether a
  transition may be applied right now is decided by the cutoff rule
  (cutoff.go) and carried out by the Engine (engine.go).

SEE ALSO:
  - cutoff.go: Payout cutoff boundary computation
  - engine.go: Transition evaluation and commit
  - store.go: Persistence interface
*/
package attendance

import (
	"fmt"
	"time"
)

// =============================================================================
// STATUS - Tri-state attendance outcome
// =============================================================================

type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusNotMarked Status = "not-marked"
)

// Statuses lists every valid status in rotation order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusNotMarked}

// Valid reports whether s is one of the three enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusNotMarked:
		return true
	}
	return false
}

// Next returns the status a toggle moves to.
// Unknown values are treated as not-marked, the initial state.
func (s Status) Next() Status {
	switch s {
	case StatusPresent:
		return StatusAbsent
	case StatusAbsent:
		return StatusNotMarked
	default:
		return StatusPresent
	}
}

// ParseStatus converts a string to a Status. The empty string means not-marked.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return StatusNotMarked, nil
	}
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// =============================================================================
// SESSION LABEL
// =============================================================================

// SessionLabel tags which occurrence in the intervention sequence a session is.
type SessionLabel string

const (
	LabelPre SessionLabel = "Pre"
	LabelS1  SessionLabel = "S1"
	LabelS2  SessionLabel = "S2"
	LabelS3  SessionLabel = "S3"
	LabelS4  SessionLabel = "S4"
)

// StandardLabels is the default intervention sequence.
var StandardLabels = []SessionLabel{LabelPre, LabelS1, LabelS2, LabelS3, LabelS4}

// =============================================================================
// RECORD
// =============================================================================

type RecordID string

// Key identifies an attendance record. A fellow has at most one record per
// session label at a school; the concrete session occurrence is an attribute.
type Key struct {
	FellowID string
	SchoolID string
	Label    SessionLabel
}

func (k Key) String() string {
	return k.FellowID + "/" + k.SchoolID + "/" + string(k.Label)
}

// Record is one fellow's attendance outcome for one session label.
type Record struct {
	ID         RecordID
	FellowID   string
	SchoolID   string
	Label      SessionLabel
	SessionID  string // empty until a session is scheduled
	Status     Status
	RecordedAt time.Time
	RecordedBy string

	// DelayedPayment is set when the record was marked present after the
	// payout cutoff and therefore needs a delayed payment request.
	DelayedPayment bool

	Version int64
}

func (r Record) Key() Key {
	return Key{FellowID: r.FellowID, SchoolID: r.SchoolID, Label: r.Label}
}

// Event is one applied transition. Events are append-only.
type Event struct {
	ID             string
	RecordID       RecordID
	From           Status
	To             Status
	SessionID      string
	ActorID        string
	DelayedPayment bool
	At             time.Time
}
