/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP request/response,
  JSON serialization, authorization lookups, and delegates the cutoff
  decision to attendance.Engine.

ENDPOINTS:
  Attendance:
    POST   /api/attendance/toggle      Evaluate a toggle click
    POST   /api/attendance/confirm     Commit a confirmed late present
    GET    /api/attendance/cutoff      Preview the payout cutoff
    GET    /api/attendance/history     Record and transition history

  Directory (directory.go):
    /api/schools, /api/fellows, /api/sessions

  Payments and reconciliation (reconciliation.go):
    /api/payments/delayed, /api/reconciliation/*

  Scenarios (scenarios.go):
    /api/scenarios/*

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: one backend serving attendance, payments, and the directory
  - Engine: cutoff rule and toggle lifecycle
  - Payments / Reconciler: delayed payment requests and their audit

REQUEST FLOW (toggle / confirm):
  1. Decode and validate the body
  2. Load the caller, fellow, school, and scheduled session
  3. Resolve the observed status (body, or the stored record)
  4. Compute authorization and hand everything to the engine
  5. Map the outcome to a status code

OUTCOME MAPPING:
  applied                 200
  requires_confirmation   202
  rejected                422
  unauthorized            403
  concurrent modification 409 (reload and retry)
  invalid input           400
  payment request failed  502 (needs_reconciliation: the present mark stuck)
  persistence failure     500 (nothing changed; retry)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - attendance/engine.go: Toggle lifecycle
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/payments"
	"github.com/shamiri/attendance-engine/program"
	"github.com/shamiri/attendance-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API needs. store/sqlite and store/postgres both
// satisfy it.
type Backend interface {
	attendance.Store
	payments.Store
	payments.ReconciliationStore
	program.Directory
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Backend
	Engine     *attendance.Engine
	Payments   *payments.Service
	Reconciler *payments.Reconciler
	Reporter   report.Reporter

	// Now is the request clock. Tests pin it.
	Now func() time.Time

	// AllowScenarios enables the scenario loader and reset endpoints.
	AllowScenarios bool

	validator *requestValidator

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires a handler around an engine and its payments collaborators.
func NewHandler(store Backend, engine *attendance.Engine, svc *payments.Service, reconciler *payments.Reconciler) *Handler {
	return &Handler{
		Store:          store,
		Engine:         engine,
		Payments:       svc,
		Reconciler:     reconciler,
		Reporter:       report.Discard,
		Now:            time.Now,
		AllowScenarios: true,
		validator:      newRequestValidator(),
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) reporter() report.Reporter {
	if h.Reporter == nil {
		return report.Discard
	}
	return h.Reporter
}

// Health reports whether the server is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// ToggleAttendance evaluates a toggle click. A late present comes back as 202
// requires_confirmation and nothing is written.
func (h *Handler) ToggleAttendance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Evaluate)
}

// ConfirmAttendance commits a late present the user confirmed and raises its
// delayed payment request.
func (h *Handler) ConfirmAttendance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.CommitConfirmed)
}

type transitionFunc func(ctx context.Context, in attendance.TransitionInput) attendance.Outcome

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, run transitionFunc) {
	var req ToggleRequest
	if !h.bind(w, r, &req) {
		return
	}
	ctx := r.Context()

	principal, ok := auth.FromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	fellow, err := h.Store.GetFellow(ctx, req.FellowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load fellow", err)
		return
	}
	if fellow == nil {
		writeError(w, http.StatusNotFound, "Fellow not found", program.ErrFellowNotFound)
		return
	}

	school, err := h.Store.GetSchool(ctx, req.SchoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load school", err)
		return
	}
	if school == nil {
		writeError(w, http.StatusNotFound, "School not found", program.ErrSchoolNotFound)
		return
	}

	label := attendance.SessionLabel(req.SessionLabel)
	session, err := h.Store.FindSession(ctx, school.ID, label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}

	in := attendance.TransitionInput{
		FellowID:     fellow.ID,
		SchoolID:     school.ID,
		SupervisorID: fellow.SupervisorID,
		Label:        label,
		Now:          h.now(),
		ActorID:      principal.ID,
		Authorized:   auth.CanMarkAttendance(principal, *fellow, school),
	}
	if session != nil {
		date := session.SessionDate
		in.SessionID = session.ID
		in.SessionDate = &date
	}

	in.CurrentStatus, err = h.observedStatus(ctx, in.Key(), req.CurrentStatus)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load attendance", err)
		return
	}

	out := run(ctx, in)
	writeJSON(w, outcomeStatus(out), outcomeResponse(out))
}

// observedStatus is the status the client toggled from. Without one in the
// request it falls back to the stored record.
func (h *Handler) observedStatus(ctx context.Context, key attendance.Key, raw string) (attendance.Status, error) {
	if raw != "" {
		return attendance.ParseStatus(raw)
	}
	rec, err := h.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return attendance.StatusNotMarked, nil
	}
	return rec.Status, nil
}

func outcomeStatus(out attendance.Outcome) int {
	switch out.Kind {
	case attendance.OutcomeApplied:
		return http.StatusOK
	case attendance.OutcomeRequiresConfirmation:
		return http.StatusAccepted
	case attendance.OutcomeRejected:
		return http.StatusUnprocessableEntity
	}

	err := out.Err()
	switch {
	case errors.Is(err, attendance.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrConcurrentModification):
		return http.StatusConflict
	case attendance.NeedsReconciliation(err):
		return http.StatusBadGateway
	case attendance.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func outcomeResponse(out attendance.Outcome) OutcomeDTO {
	dto := toOutcomeDTO(out)
	err := out.Err()
	switch {
	case errors.Is(err, attendance.ErrConcurrentModification):
		dto.Message = "attendance changed since it was loaded; reload and try again"
	case attendance.NeedsReconciliation(err):
		dto.Message = "attendance was marked present but the delayed payment request failed; it has been flagged for reconciliation"
	case errors.Is(err, attendance.ErrPersistenceFailed):
		dto.Message = "attendance was not saved; please retry"
		dto.Retryable = true
	}
	return dto
}

// GetCutoff previews the payout cutoff. Either session_date (RFC 3339) or
// school_id + session_label must be given.
func (h *Handler) GetCutoff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var sessionDate *time.Time
	switch {
	case q.Get("session_date") != "":
		d, err := time.Parse(time.RFC3339, q.Get("session_date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid session_date, expected RFC 3339", err)
			return
		}
		sessionDate = &d
	case q.Get("school_id") != "" && q.Get("session_label") != "":
		session, err := h.Store.FindSession(ctx, q.Get("school_id"), attendance.SessionLabel(q.Get("session_label")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load session", err)
			return
		}
		if session != nil {
			d := session.SessionDate
			sessionDate = &d
		}
	default:
		writeError(w, http.StatusBadRequest, "session_date or school_id and session_label are required", nil)
		return
	}

	now := h.now()
	dto := CutoffDTO{
		Now:          formatTime(now),
		Timezone:     h.timezone(),
		BeforeCutoff: h.Engine.Schedule.IsBeforeCutoff(now, sessionDate),
	}
	if sessionDate != nil {
		dto.SessionDate = optionalTime(*sessionDate)
		dto.Cutoff = optionalTime(h.Engine.Cutoff(sessionDate))
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) timezone() string {
	if h.Engine.Schedule.Location == nil {
		return time.UTC.String()
	}
	return h.Engine.Schedule.Location.String()
}

// GetAttendanceHistory returns the record for a key and every transition
// applied to it. The caller must be allowed to view the fellow.
func (h *Handler) GetAttendanceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	key := attendance.Key{
		FellowID: q.Get("fellow_id"),
		SchoolID: q.Get("school_id"),
		Label:    attendance.SessionLabel(q.Get("session_label")),
	}
	if key.FellowID == "" || key.SchoolID == "" || key.Label == "" {
		writeError(w, http.StatusBadRequest, "fellow_id, school_id and session_label are required", nil)
		return
	}
	if _, ok := h.loadFellow(w, r, key.FellowID); !ok {
		return
	}

	rec, err := h.Store.Get(ctx, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load attendance", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Attendance not recorded", nil)
		return
	}

	events, err := h.Store.History(ctx, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	cutoff, err := h.recordCutoff(ctx, *rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record": toRecordDTO(*rec, cutoff, h.now()),
		"events": toEventDTOs(events),
	})
}

// recordCutoff is the cutoff of the session a record is attached to, or the
// zero time when it has none.
func (h *Handler) recordCutoff(ctx context.Context, rec attendance.Record) (time.Time, error) {
	session, err := h.Store.FindSession(ctx, rec.SchoolID, rec.Label)
	if err != nil || session == nil {
		return time.Time{}, err
	}
	return h.Engine.Cutoff(&session.SessionDate), nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// requireManager writes a 403 and returns false unless the caller may manage
// the program directory.
func requireManager(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return p, false
	}
	if !auth.CanManageProgram(p) {
		writeError(w, http.StatusForbidden, "Admin or hub coordinator role required", nil)
		return p, false
	}
	return p, true
}
