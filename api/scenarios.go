/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	program: one hub, one school, a supervisor with three fellows, and a
	run of sessions placed around the current payout cutoff.

AVAILABLE SCENARIOS:

	weekly-sessions:  Pre and S1 already past their cutoff, S2 open now,
	                  S3 and S4 scheduled ahead
	late-attendance:  weekly-sessions plus a confirmed late present with its
	                  delayed payment request
	missed-payment:   weekly-sessions plus a late present whose payment
	                  request never got created (shows up in reconciliation)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create school, fellows and sessions relative to the request clock
 3. Record attendance through the store or the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "missed-payment"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. The routes are only mounted when
	Handler.AllowScenarios is set.

SEE ALSO:
  - handlers.go: Handler
  - attendance/cutoff.go: How session dates map to cutoffs
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/program"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-sessions",
		Name:        "Weekly Sessions",
		Description: "One school, three fellows, sessions on both sides of the payout cutoff",
	},
	{
		ID:          "late-attendance",
		Name:        "Late Attendance",
		Description: "A present marked after the cutoff, confirmed, with a delayed payment request",
	},
	{
		ID:          "missed-payment",
		Name:        "Missed Payment Request",
		Description: "A late present whose delayed payment request was never created",
	},
}

const (
	demoHubID        = "hub-nairobi"
	demoSchoolID     = "school-kibera"
	demoSupervisorID = "sup-wanjiku"
)

var demoFellows = []program.Fellow{
	{ID: "fellow-amina", Name: "Amina Otieno"},
	{ID: "fellow-brian", Name: "Brian Mwangi"},
	{ID: "fellow-chebet", Name: "Chebet Kiprono"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	var req LoadScenarioRequest
	if !h.bind(w, r, &req) {
		return
	}
	ctx := r.Context()

	var load func(context.Context) error
	switch req.ScenarioID {
	case "weekly-sessions":
		load = h.loadWeeklySessionsScenario
	case "late-attendance":
		load = h.loadLateAttendanceScenario
	case "missed-payment":
		load = h.loadMissedPaymentScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoSessionDates places the standard labels around now: Pre two weeks back,
// S1 last week (both past their cutoff), S2 now, S3 and S4 in the coming weeks.
func demoSessionDates(now time.Time) map[attendance.SessionLabel]time.Time {
	now = now.Truncate(time.Minute)
	return map[attendance.SessionLabel]time.Time{
		attendance.LabelPre: now.AddDate(0, 0, -14),
		attendance.LabelS1:  now.AddDate(0, 0, -7),
		attendance.LabelS2:  now,
		attendance.LabelS3:  now.AddDate(0, 0, 7),
		attendance.LabelS4:  now.AddDate(0, 0, 14),
	}
}

func (h *Handler) loadWeeklySessionsScenario(ctx context.Context) error {
	now := h.now()

	school := program.School{ID: demoSchoolID, Name: "Kibera Secondary School", HubID: demoHubID}
	if err := h.Store.SaveSchool(ctx, school); err != nil {
		return err
	}

	for _, f := range demoFellows {
		f.SupervisorID = demoSupervisorID
		f.HubID = demoHubID
		if err := h.Store.SaveFellow(ctx, f); err != nil {
			return err
		}
	}

	dates := demoSessionDates(now)
	for _, label := range attendance.StandardLabels {
		if _, err := h.scheduleSession(ctx, demoSchoolID+"-"+string(label), demoSchoolID, label, dates[label]); err != nil {
			return err
		}
	}

	// Attendance taken on time for the sessions already behind the cutoff.
	for _, f := range demoFellows {
		for _, label := range []attendance.SessionLabel{attendance.LabelPre, attendance.LabelS1} {
			status := attendance.StatusPresent
			if f.ID == "fellow-chebet" && label == attendance.LabelS1 {
				continue
			}
			if f.ID == "fellow-brian" && label == attendance.LabelPre {
				status = attendance.StatusAbsent
			}
			if err := h.recordOnTime(ctx, f.ID, label, status, dates[label]); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordOnTime writes a mark as if it had been taken during the session.
func (h *Handler) recordOnTime(ctx context.Context, fellowID string, label attendance.SessionLabel, status attendance.Status, at time.Time) error {
	key := attendance.Key{FellowID: fellowID, SchoolID: demoSchoolID, Label: label}
	current := attendance.StatusNotMarked
	for current != status {
		if _, err := h.Store.CompareAndSwap(ctx, attendance.Write{
			Key:       key,
			SessionID: demoSchoolID + "-" + string(label),
			Expected:  current,
			Next:      current.Next(),
			At:        at,
			ActorID:   demoSupervisorID,
		}); err != nil {
			return fmt.Errorf("record %s: %w", key, err)
		}
		current = current.Next()
	}
	return nil
}

func (h *Handler) loadLateAttendanceScenario(ctx context.Context) error {
	if err := h.loadWeeklySessionsScenario(ctx); err != nil {
		return err
	}

	date := demoSessionDates(h.now())[attendance.LabelS1]
	out := h.Engine.CommitConfirmed(ctx, attendance.TransitionInput{
		FellowID:      "fellow-chebet",
		SchoolID:      demoSchoolID,
		SupervisorID:  demoSupervisorID,
		Label:         attendance.LabelS1,
		SessionID:     demoSchoolID + "-" + string(attendance.LabelS1),
		SessionDate:   &date,
		CurrentStatus: attendance.StatusNotMarked,
		Now:           h.now(),
		ActorID:       demoSupervisorID,
		Authorized:    true,
	})
	if out.Kind != attendance.OutcomeApplied {
		return fmt.Errorf("late attendance not applied: %s: %v", out.Kind, out.Err())
	}
	return nil
}

func (h *Handler) loadMissedPaymentScenario(ctx context.Context) error {
	if err := h.loadWeeklySessionsScenario(ctx); err != nil {
		return err
	}

	// The present mark lands with its delayed payment flag, but no request
	// follows it.
	_, err := h.Store.CompareAndSwap(ctx, attendance.Write{
		Key:            attendance.Key{FellowID: "fellow-chebet", SchoolID: demoSchoolID, Label: attendance.LabelS1},
		SessionID:      demoSchoolID + "-" + string(attendance.LabelS1),
		Expected:       attendance.StatusNotMarked,
		Next:           attendance.StatusPresent,
		At:             h.now(),
		ActorID:        demoSupervisorID,
		DelayedPayment: true,
	})
	return err
}
