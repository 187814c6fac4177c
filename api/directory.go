package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/program"
)

// =============================================================================
// SCHOOL HANDLERS
// =============================================================================

// ListSchools returns all schools.
func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.Store.ListSchools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schools", err)
		return
	}
	dtos := make([]SchoolDTO, len(schools))
	for i, s := range schools {
		dtos[i] = toSchoolDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSchool creates or updates a school. Hub coordinators may only add
// schools to their own hub.
func (h *Handler) CreateSchool(w http.ResponseWriter, r *http.Request) {
	p, ok := requireManager(w, r)
	if !ok {
		return
	}
	var req CreateSchoolRequest
	if !h.bind(w, r, &req) {
		return
	}
	if p.Role == auth.RoleHubCoordinator {
		if req.HubID == "" {
			req.HubID = p.HubID
		}
		if req.HubID != p.HubID {
			writeError(w, http.StatusForbidden, "Hub coordinators can only manage schools in their hub", nil)
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	school := program.School{ID: req.ID, Name: req.Name, HubID: req.HubID, CreatedAt: h.now()}
	if err := h.Store.SaveSchool(r.Context(), school); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save school", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchoolDTO(school))
}

// ListSchoolSessions returns a school's scheduled sessions with their cutoffs.
func (h *Handler) ListSchoolSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schoolID := chi.URLParam(r, "id")

	school, err := h.Store.GetSchool(ctx, schoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load school", err)
		return
	}
	if school == nil {
		writeError(w, http.StatusNotFound, "School not found", program.ErrSchoolNotFound)
		return
	}

	sessions, err := h.Store.ListSessionsBySchool(ctx, schoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s, h.Engine.Cutoff(&s.SessionDate))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// FELLOW HANDLERS
// =============================================================================

// CreateFellow creates or updates a fellow.
func (h *Handler) CreateFellow(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	var req CreateFellowRequest
	if !h.bind(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	fellow := program.Fellow{
		ID:           req.ID,
		Name:         req.Name,
		SupervisorID: req.SupervisorID,
		HubID:        req.HubID,
		CreatedAt:    h.now(),
	}
	if err := h.Store.SaveFellow(r.Context(), fellow); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fellow", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFellowDTO(fellow))
}

// GetFellow returns a single fellow.
func (h *Handler) GetFellow(w http.ResponseWriter, r *http.Request) {
	fellow, ok := h.loadFellow(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toFellowDTO(*fellow))
}

// ListSupervisorFellows returns the fellows a supervisor is responsible for
// that the caller may read. Supervisors only list their own.
func (h *Handler) ListSupervisorFellows(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	supervisorID := chi.URLParam(r, "id")
	if p.Role == auth.RoleSupervisor && p.ID != supervisorID {
		writeError(w, http.StatusForbidden, "Supervisors may only list their own fellows", nil)
		return
	}

	fellows, err := h.Store.ListFellowsBySupervisor(r.Context(), supervisorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fellows", err)
		return
	}
	dtos := make([]FellowDTO, 0, len(fellows))
	for _, f := range fellows {
		if auth.CanViewFellow(p, f) {
			dtos = append(dtos, toFellowDTO(f))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFellowAttendance returns every attendance record for a fellow with the
// cutoff that applies to it.
func (h *Handler) GetFellowAttendance(w http.ResponseWriter, r *http.Request) {
	fellow, ok := h.loadFellow(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	ctx := r.Context()

	records, err := h.Store.ListByFellow(ctx, fellow.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}

	now := h.now()
	dtos := make([]AttendanceRecordDTO, 0, len(records))
	for _, rec := range records {
		cutoff, err := h.recordCutoff(ctx, rec)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load session", err)
			return
		}
		dtos = append(dtos, toRecordDTO(rec, cutoff, now))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// loadFellow loads a fellow the caller may read, writing 404 or 403
// otherwise.
func (h *Handler) loadFellow(w http.ResponseWriter, r *http.Request, id string) (*program.Fellow, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return nil, false
	}
	fellow, err := h.Store.GetFellow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load fellow", err)
		return nil, false
	}
	if fellow == nil {
		writeError(w, http.StatusNotFound, "Fellow not found", program.ErrFellowNotFound)
		return nil, false
	}
	if !auth.CanViewFellow(p, *fellow) {
		writeError(w, http.StatusForbidden, "Not allowed to view this fellow", nil)
		return nil, false
	}
	return fellow, true
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession schedules a session for a school. A school has one session
// per label; scheduling the same label again moves it.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	var req CreateSessionRequest
	if !h.bind(w, r, &req) {
		return
	}
	ctx := r.Context()

	date, err := time.Parse(time.RFC3339, req.SessionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session_date, expected RFC 3339", err)
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
	session, err := h.scheduleSession(ctx, req.ID, school.ID, label, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session, h.Engine.Cutoff(&session.SessionDate)))
}

// scheduleSession saves a session, reusing the id of an existing session with
// the same school and label.
func (h *Handler) scheduleSession(ctx context.Context, id, schoolID string, label attendance.SessionLabel, date time.Time) (program.ScheduledSession, error) {
	existing, err := h.Store.FindSession(ctx, schoolID, label)
	if err != nil {
		return program.ScheduledSession{}, err
	}
	switch {
	case existing != nil:
		id = existing.ID
	case id == "":
		id = uuid.NewString()
	}

	session := program.ScheduledSession{
		ID:          id,
		SchoolID:    schoolID,
		Label:       label,
		SessionDate: date,
		CreatedAt:   h.now(),
	}
	if err := h.Store.SaveSession(ctx, session); err != nil {
		return program.ScheduledSession{}, err
	}
	return session, nil
}

// GetSession returns a single scheduled session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found", program.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*session, h.Engine.Cutoff(&session.SessionDate)))
}
