/*
handlers_test.go - HTTP tests for the attendance API

Tests for:
- Toggle and confirm outcomes and their status codes
- Authorization (token, supervisor scope, hub scope)
- Request validation
- Cutoff preview
- Directory writes restricted to managers
- Reconciliation scan and resubmission
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/payments"
	"github.com/shamiri/attendance-engine/program"
	"github.com/shamiri/attendance-engine/store/sqlite"
)

// Thursday 13 March 2025, one hour after the Thursday 11:00 cutoff.
var testNow = time.Date(2025, time.March, 13, 12, 0, 0, 0, time.UTC)

var (
	// S1 ran Wednesday; its cutoff (Thu 11:00) has passed.
	pastSessionDate = time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC)
	// S2 runs Friday; its cutoff is Monday 17 March 11:00.
	openSessionDate = time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)
)

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *sqlite.Store
	tokens  *auth.Tokens
}

func setupTestHandler(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := payments.NewService(store, payments.NewAmount(500, payments.DefaultCurrency))
	engine := attendance.NewEngine(store, svc, attendance.DefaultSchedule(time.UTC))
	handler := NewHandler(store, engine, svc, payments.NewReconciler(store))
	handler.Now = func() time.Time { return testNow }

	tokens := auth.NewTokens("test-secret", time.Hour)
	return &testServer{
		handler: handler,
		router:  NewRouter(handler, tokens, []string{"http://localhost:5173"}),
		store:   store,
		tokens:  tokens,
	}
}

// seedProgram creates school-1 (hub-1) with fellow-1 under sup-1, fellow-2
// under sup-2, a past S1 and an open S2.
func (ts *testServer) seedProgram(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(ts.store.SaveSchool(ctx, program.School{ID: "school-1", Name: "Kibera Secondary", HubID: "hub-1"}))
	must(ts.store.SaveFellow(ctx, program.Fellow{ID: "fellow-1", Name: "Amina", SupervisorID: "sup-1", HubID: "hub-1"}))
	must(ts.store.SaveFellow(ctx, program.Fellow{ID: "fellow-2", Name: "Brian", SupervisorID: "sup-2", HubID: "hub-1"}))
	must(ts.store.SaveSession(ctx, program.ScheduledSession{
		ID: "sess-s1", SchoolID: "school-1", Label: attendance.LabelS1, SessionDate: pastSessionDate,
	}))
	must(ts.store.SaveSession(ctx, program.ScheduledSession{
		ID: "sess-s2", SchoolID: "school-1", Label: attendance.LabelS2, SessionDate: openSessionDate,
	}))
}

func (ts *testServer) token(t *testing.T, id string, role auth.Role, hub string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(auth.Principal{ID: id, Role: role, HubID: hub})
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func toggleBody(label attendance.SessionLabel, current string) map[string]string {
	body := map[string]string{
		"fellow_id":     "fellow-1",
		"school_id":     "school-1",
		"session_label": string(label),
	}
	if current != "" {
		body["current_status"] = current
	}
	return body
}

// =============================================================================
// TOGGLE AND CONFIRM
// =============================================================================

func TestToggle_AppliesBeforeCutoff(t *testing.T) {
	// GIVEN: An open session and its fellow's supervisor
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Toggling twice from not-marked
	first := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, "not-marked"))
	second := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, "present"))

	// THEN: present, then absent, with no payment requests
	if first.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", first.Code, first.Body.String())
	}
	out := decode[OutcomeDTO](t, first)
	if out.Outcome != "applied" || out.Status != "present" || out.PaymentRequestTriggered {
		t.Errorf("Unexpected first outcome: %+v", out)
	}
	if out.Cutoff == nil || *out.Cutoff != "2025-03-17T11:00:00Z" {
		t.Errorf("Expected cutoff Monday 11:00, got %v", out.Cutoff)
	}

	if second.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", second.Code, second.Body.String())
	}
	if out := decode[OutcomeDTO](t, second); out.Status != "absent" {
		t.Errorf("Expected absent, got %q", out.Status)
	}

	reqs, _ := ts.store.ListPaymentRequests(context.Background(), payments.Filter{})
	if len(reqs) != 0 {
		t.Errorf("Expected no payment requests, got %d", len(reqs))
	}
}

func TestToggle_UsesStoredStatusWhenOmitted(t *testing.T) {
	// GIVEN: fellow-1 already present for S2
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, ""))

	// WHEN: Toggling without current_status
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, ""))

	// THEN: The stored present moves to absent
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decode[OutcomeDTO](t, rec); out.Status != "absent" {
		t.Errorf("Expected absent, got %q", out.Status)
	}
}

func TestToggle_LatePresentRequiresConfirmation(t *testing.T) {
	// GIVEN: A session past its cutoff with no mark
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Toggling to present
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS1, "not-marked"))

	// THEN: 202 and nothing is written
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[OutcomeDTO](t, rec)
	if out.Outcome != "requires_confirmation" || out.ProposedStatus != "present" {
		t.Errorf("Unexpected outcome: %+v", out)
	}

	stored, err := ts.store.Get(context.Background(), attendance.Key{FellowID: "fellow-1", SchoolID: "school-1", Label: attendance.LabelS1})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored != nil {
		t.Errorf("Expected no record, got %+v", stored)
	}
}

func TestToggle_PresentAfterCutoffRejected(t *testing.T) {
	// GIVEN: fellow-1 marked present for S1 before its cutoff
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	_, err := ts.store.CompareAndSwap(context.Background(), attendance.Write{
		Key:       attendance.Key{FellowID: "fellow-1", SchoolID: "school-1", Label: attendance.LabelS1},
		SessionID: "sess-s1",
		Expected:  attendance.StatusNotMarked,
		Next:      attendance.StatusPresent,
		At:        pastSessionDate,
		ActorID:   "sup-1",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Toggling after the cutoff
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS1, ""))

	// THEN: 422 with the immutable-present reason
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[OutcomeDTO](t, rec)
	if out.Reason != string(attendance.ReasonPostCutoffPresentImmutable) {
		t.Errorf("Unexpected reason %q", out.Reason)
	}
	if out.Message == "" {
		t.Error("Expected a message")
	}
}

func TestConfirm_CreatesDelayedPaymentRequest(t *testing.T) {
	// GIVEN: A late present that needs confirmation
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Confirming it
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS1, "not-marked"))

	// THEN: Present is stored and a pending request is raised for sup-1
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[OutcomeDTO](t, rec)
	if !out.PaymentRequestTriggered || out.PaymentRequestID == "" || out.Status != "present" {
		t.Fatalf("Unexpected outcome: %+v", out)
	}

	list := ts.do(t, sup, http.MethodGet, "/api/payments/delayed", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", list.Code)
	}
	reqs := decode[[]PaymentRequestDTO](t, list)
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.ID != out.PaymentRequestID || got.AttendanceRecordID != out.AttendanceRecordID {
		t.Errorf("Request does not match outcome: %+v vs %+v", got, out)
	}
	if got.SessionID != "sess-s1" || got.SupervisorID != "sup-1" || got.Amount != "500.00" || got.Status != "pending" {
		t.Errorf("Unexpected request: %+v", got)
	}

	history := ts.do(t, sup, http.MethodGet,
		"/api/attendance/history?fellow_id=fellow-1&school_id=school-1&session_label=S1", nil)
	if history.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", history.Code)
	}
	body := decode[struct {
		Record AttendanceRecordDTO  `json:"record"`
		Events []AttendanceEventDTO `json:"events"`
	}](t, history)
	if !body.Record.DelayedPayment || body.Record.BeforeCutoff || len(body.Events) != 1 {
		t.Errorf("Unexpected history: %+v", body)
	}
}

func TestConfirm_WithoutPaymentsIsServerError(t *testing.T) {
	// GIVEN: An engine wired without a payments collaborator
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	ts.handler.Engine.Payments = nil
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Confirming a late present
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS1, "not-marked"))

	// THEN: 500 without a reconciliation flag, and nothing stored
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, err := ts.store.Get(context.Background(), attendance.Key{FellowID: "fellow-1", SchoolID: "school-1", Label: attendance.LabelS1})
	if err != nil || stored != nil {
		t.Errorf("Expected no record, got %+v, %v", stored, err)
	}
}

func TestConfirm_NotConfirmableBeforeCutoff(t *testing.T) {
	// GIVEN: An open session
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Confirming a toggle that needs no confirmation
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS2, "not-marked"))

	// THEN: 400
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestToggle_StaleStatusConflicts(t *testing.T) {
	// GIVEN: No stored mark, but the client believes it is absent
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Toggling from the stale status
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, "absent"))

	// THEN: 409 and the caller is told to reload
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if out := decode[OutcomeDTO](t, rec); !out.Retryable {
		t.Errorf("Expected retryable conflict: %+v", out)
	}
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestToggle_Authorization(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)

	tests := []struct {
		name  string
		id    string
		role  auth.Role
		hub   string
		label attendance.SessionLabel
		want  int
	}{
		{"other supervisor", "sup-2", auth.RoleSupervisor, "hub-1", attendance.LabelS2, http.StatusForbidden},
		{"fellow", "fellow-1", auth.RoleFellow, "hub-1", attendance.LabelS2, http.StatusForbidden},
		{"clinical lead", "cl-1", auth.RoleClinicalLead, "hub-1", attendance.LabelS2, http.StatusForbidden},
		{"coordinator of another hub", "hc-2", auth.RoleHubCoordinator, "hub-2", attendance.LabelS2, http.StatusForbidden},
		{"unauthorized late toggle is still forbidden", "sup-2", auth.RoleSupervisor, "hub-1", attendance.LabelS1, http.StatusForbidden},
		{"coordinator of the school's hub", "hc-1", auth.RoleHubCoordinator, "hub-1", attendance.LabelS2, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := ts.token(t, tt.id, tt.role, tt.hub)
			rec := ts.do(t, tok, http.MethodPost, "/api/attendance/toggle", toggleBody(tt.label, ""))
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestToggle_CrossHubSchoolForbidden(t *testing.T) {
	// GIVEN: A hub-2 school with an open session, and fellow-1 from hub-1
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	ctx := context.Background()
	if err := ts.store.SaveSchool(ctx, program.School{ID: "school-2", Name: "Mathare North", HubID: "hub-2"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ts.store.SaveSession(ctx, program.ScheduledSession{
		ID: "sess-2-s2", SchoolID: "school-2", Label: attendance.LabelS2, SessionDate: openSessionDate,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	body := map[string]string{"fellow_id": "fellow-1", "school_id": "school-2", "session_label": "S2"}

	tests := []struct {
		name string
		id   string
		role auth.Role
		hub  string
		want int
	}{
		{"coordinator of the school's hub", "hc-2", auth.RoleHubCoordinator, "hub-2", http.StatusForbidden},
		{"coordinator of the fellow's hub", "hc-1", auth.RoleHubCoordinator, "hub-1", http.StatusForbidden},
		{"fellow's own supervisor", "sup-1", auth.RoleSupervisor, "hub-1", http.StatusForbidden},
		{"admin", "admin-1", auth.RoleAdmin, "", http.StatusOK},
	}

	// WHEN/THEN: Only the admin may mark across hubs
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, ts.token(t, tt.id, tt.role, tt.hub), http.MethodPost, "/api/attendance/toggle", body)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := setupTestHandler(t)

	rec := ts.do(t, "", http.MethodGet, "/api/schools", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}

	rec = ts.do(t, "not-a-jwt", http.MethodGet, "/api/schools", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad token, got %d", rec.Code)
	}

	rec = ts.do(t, "", http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected public health check, got %d", rec.Code)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestToggle_Validation(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// GIVEN: A body with no fellow and an unknown status
	body := map[string]string{
		"school_id":      "school-1",
		"session_label":  "S2",
		"current_status": "maybe",
	}

	// WHEN: Toggling
	rec := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", body)

	// THEN: 400 with per-field messages keyed by JSON name
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	if resp.Code != "validation_failed" {
		t.Errorf("Unexpected code %q", resp.Code)
	}
	for _, field := range []string{"fellow_id", "current_status"} {
		if resp.Details[field] == "" {
			t.Errorf("Expected a message for %s, got %v", field, resp.Details)
		}
	}
}

func TestToggle_UnknownFellow(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	admin := ts.token(t, "admin-1", auth.RoleAdmin, "")

	body := toggleBody(attendance.LabelS2, "")
	body["fellow_id"] = "nobody"
	rec := ts.do(t, admin, http.MethodPost, "/api/attendance/toggle", body)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestToggle_UnscheduledSessionRequiresConfirmation(t *testing.T) {
	// GIVEN: A label with no scheduled session
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	// WHEN: Toggling to present, then confirming
	toggle := ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS4, ""))
	confirm := ts.do(t, sup, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS4, ""))

	// THEN: Confirmation is asked for but cannot be committed without a session
	if toggle.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", toggle.Code)
	}
	if confirm.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", confirm.Code, confirm.Body.String())
	}
}

// =============================================================================
// CUTOFF PREVIEW
// =============================================================================

func TestGetCutoff(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")

	tests := []struct {
		query      string
		wantCutoff string
		wantBefore bool
	}{
		{"session_date=2025-03-12T10:00:00Z", "2025-03-13T11:00:00Z", false},
		{"session_date=2025-03-14T10:00:00Z", "2025-03-17T11:00:00Z", true},
		{"school_id=school-1&session_label=S2", "2025-03-17T11:00:00Z", true},
	}
	for _, tt := range tests {
		rec := ts.do(t, sup, http.MethodGet, "/api/attendance/cutoff?"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.query, rec.Code)
		}
		got := decode[CutoffDTO](t, rec)
		if got.Cutoff == nil || *got.Cutoff != tt.wantCutoff || got.BeforeCutoff != tt.wantBefore {
			t.Errorf("%s: got %+v", tt.query, got)
		}
	}

	// Unscheduled label: no cutoff, never before it
	rec := ts.do(t, sup, http.MethodGet, "/api/attendance/cutoff?school_id=school-1&session_label=S4", nil)
	if got := decode[CutoffDTO](t, rec); got.Cutoff != nil || got.BeforeCutoff {
		t.Errorf("Unscheduled: got %+v", got)
	}

	rec = ts.do(t, sup, http.MethodGet, "/api/attendance/cutoff?session_date=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad date, got %d", rec.Code)
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_ManagersOnly(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	admin := ts.token(t, "admin-1", auth.RoleAdmin, "")

	session := map[string]string{
		"school_id":     "school-1",
		"session_label": "S3",
		"session_date":  "2025-03-20T09:00:00Z",
	}

	if rec := ts.do(t, sup, http.MethodPost, "/api/sessions", session); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for supervisor, got %d", rec.Code)
	}

	rec := ts.do(t, admin, http.MethodPost, "/api/sessions", session)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[SessionDTO](t, rec)
	if created.Cutoff != "2025-03-20T11:00:00Z" {
		t.Errorf("Expected Thursday cutoff, got %s", created.Cutoff)
	}

	// Rescheduling the same label keeps its id
	session["session_date"] = "2025-03-21T09:00:00Z"
	rec = ts.do(t, admin, http.MethodPost, "/api/sessions", session)
	moved := decode[SessionDTO](t, rec)
	if moved.ID != created.ID || moved.Cutoff != "2025-03-24T11:00:00Z" {
		t.Errorf("Expected the same session moved to next Monday's cutoff, got %+v", moved)
	}

	list := decode[[]SessionDTO](t, ts.do(t, sup, http.MethodGet, "/api/schools/school-1/sessions", nil))
	if len(list) != 3 {
		t.Errorf("Expected 3 sessions, got %d", len(list))
	}
}

func TestDirectory_HubCoordinatorScope(t *testing.T) {
	ts := setupTestHandler(t)
	hc := ts.token(t, "hc-1", auth.RoleHubCoordinator, "hub-1")

	rec := ts.do(t, hc, http.MethodPost, "/api/schools", map[string]string{"name": "Mathare", "hub_id": "hub-2"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another hub, got %d", rec.Code)
	}

	rec = ts.do(t, hc, http.MethodPost, "/api/schools", map[string]string{"name": "Mathare"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if school := decode[SchoolDTO](t, rec); school.HubID != "hub-1" || school.ID == "" {
		t.Errorf("Unexpected school: %+v", school)
	}
}

func TestGetFellowAttendance(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	ts.do(t, sup, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, ""))

	rec := ts.do(t, sup, http.MethodGet, "/api/fellows/fellow-1/attendance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	records := decode[[]AttendanceRecordDTO](t, rec)
	if len(records) != 1 || records[0].Status != "present" || !records[0].BeforeCutoff {
		t.Errorf("Unexpected records: %+v", records)
	}

	if rec := ts.do(t, sup, http.MethodGet, "/api/fellows/nobody", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	fellows := decode[[]FellowDTO](t, ts.do(t, sup, http.MethodGet, "/api/supervisors/sup-1/fellows", nil))
	if len(fellows) != 1 || fellows[0].ID != "fellow-1" {
		t.Errorf("Unexpected fellows: %+v", fellows)
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconciliation_FindAndResubmit(t *testing.T) {
	// GIVEN: A late present persisted without its payment request
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	rec, err := ts.store.CompareAndSwap(context.Background(), attendance.Write{
		Key:            attendance.Key{FellowID: "fellow-1", SchoolID: "school-1", Label: attendance.LabelS1},
		SessionID:      "sess-s1",
		Expected:       attendance.StatusNotMarked,
		Next:           attendance.StatusPresent,
		At:             testNow,
		ActorID:        "sup-1",
		DelayedPayment: true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	sup := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	admin := ts.token(t, "admin-1", auth.RoleAdmin, "")

	// WHEN: A supervisor tries to run reconciliation
	if got := ts.do(t, sup, http.MethodPost, "/api/reconciliation/process", nil); got.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", got.Code)
	}

	// WHEN: An admin runs it
	process := ts.do(t, admin, http.MethodPost, "/api/reconciliation/process", nil)
	if process.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", process.Code, process.Body.String())
	}
	result := decode[ReconcileResponse](t, process)

	// THEN: The record is reported and the run is recorded
	if result.Run.Found != 1 || result.Run.Status != "completed" || len(result.Discrepancies) != 1 {
		t.Fatalf("Unexpected run: %+v", result)
	}
	if result.Discrepancies[0].AttendanceRecordID != string(rec.ID) {
		t.Errorf("Unexpected discrepancy: %+v", result.Discrepancies[0])
	}
	runs := decode[[]ReconciliationRunDTO](t, ts.do(t, admin, http.MethodGet, "/api/reconciliation/runs", nil))
	if len(runs) != 1 {
		t.Errorf("Expected 1 run, got %d", len(runs))
	}

	// WHEN: The admin resubmits
	resubmit := ts.do(t, admin, http.MethodPost, "/api/reconciliation/"+string(rec.ID)+"/resubmit", nil)
	if resubmit.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resubmit.Code, resubmit.Body.String())
	}

	// THEN: The discrepancy is gone and a second resubmit finds nothing
	remaining := decode[[]DiscrepancyDTO](t, ts.do(t, admin, http.MethodGet, "/api/reconciliation/discrepancies", nil))
	if len(remaining) != 0 {
		t.Errorf("Expected no discrepancies, got %+v", remaining)
	}
	again := ts.do(t, admin, http.MethodPost, "/api/reconciliation/"+string(rec.ID)+"/resubmit", nil)
	if again.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", again.Code)
	}
}

func TestListDelayedPayments_SupervisorScope(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup1 := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	sup2 := ts.token(t, "sup-2", auth.RoleSupervisor, "hub-1")

	ts.do(t, sup1, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS1, ""))

	// sup-2 asks for sup-1's requests and still only sees their own
	list := decode[[]PaymentRequestDTO](t, ts.do(t, sup2, http.MethodGet, "/api/payments/delayed?supervisor_id=sup-1", nil))
	if len(list) != 0 {
		t.Errorf("Expected no requests for sup-2, got %d", len(list))
	}
	list = decode[[]PaymentRequestDTO](t, ts.do(t, sup1, http.MethodGet, "/api/payments/delayed", nil))
	if len(list) != 1 {
		t.Errorf("Expected 1 request for sup-1, got %d", len(list))
	}
}

func TestListDelayedPayments_RoleScope(t *testing.T) {
	// GIVEN: One delayed payment request each for fellow-1 and fellow-2
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	admin := ts.token(t, "admin-1", auth.RoleAdmin, "")
	ts.do(t, admin, http.MethodPost, "/api/attendance/confirm", toggleBody(attendance.LabelS1, ""))
	other := toggleBody(attendance.LabelS1, "")
	other["fellow_id"] = "fellow-2"
	ts.do(t, admin, http.MethodPost, "/api/attendance/confirm", other)

	if all := decode[[]PaymentRequestDTO](t, ts.do(t, admin, http.MethodGet, "/api/payments/delayed", nil)); len(all) != 2 {
		t.Fatalf("Expected 2 requests for admin, got %d", len(all))
	}

	// WHEN: fellow-1 asks for fellow-2's requests
	fellow := ts.token(t, "fellow-1", auth.RoleFellow, "hub-1")
	list := decode[[]PaymentRequestDTO](t, ts.do(t, fellow, http.MethodGet, "/api/payments/delayed?fellow_id=fellow-2", nil))

	// THEN: Only their own request comes back
	if len(list) != 1 || list[0].FellowID != "fellow-1" {
		t.Errorf("Expected only fellow-1's request, got %+v", list)
	}

	lead := ts.token(t, "cl-1", auth.RoleClinicalLead, "hub-1")
	if rec := ts.do(t, lead, http.MethodGet, "/api/payments/delayed", nil); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for clinical lead, got %d", rec.Code)
	}
}

func TestReconciliationReads_ManagersOnly(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	hc := ts.token(t, "hc-1", auth.RoleHubCoordinator, "hub-1")

	for _, path := range []string{"/api/reconciliation/discrepancies", "/api/reconciliation/runs"} {
		for _, tok := range []string{
			ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1"),
			ts.token(t, "fellow-1", auth.RoleFellow, "hub-1"),
			ts.token(t, "cl-1", auth.RoleClinicalLead, "hub-1"),
		} {
			if rec := ts.do(t, tok, http.MethodGet, path, nil); rec.Code != http.StatusForbidden {
				t.Errorf("%s: expected 403, got %d", path, rec.Code)
			}
		}
		if rec := ts.do(t, hc, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200 for hub coordinator, got %d", path, rec.Code)
		}
	}
}

func TestFellowReads_Scoped(t *testing.T) {
	// GIVEN: fellow-1 has a recorded S2 attendance
	ts := setupTestHandler(t)
	ts.seedProgram(t)
	sup1 := ts.token(t, "sup-1", auth.RoleSupervisor, "hub-1")
	ts.do(t, sup1, http.MethodPost, "/api/attendance/toggle", toggleBody(attendance.LabelS2, ""))
	history := "/api/attendance/history?fellow_id=fellow-1&school_id=school-1&session_label=S2"

	tests := []struct {
		name string
		id   string
		role auth.Role
		hub  string
		want int
	}{
		{"fellow self", "fellow-1", auth.RoleFellow, "hub-1", http.StatusOK},
		{"another fellow", "fellow-2", auth.RoleFellow, "hub-1", http.StatusForbidden},
		{"other supervisor", "sup-2", auth.RoleSupervisor, "hub-1", http.StatusForbidden},
		{"coordinator of another hub", "hc-2", auth.RoleHubCoordinator, "hub-2", http.StatusForbidden},
		{"clinical lead of the hub", "cl-1", auth.RoleClinicalLead, "hub-1", http.StatusOK},
	}

	// WHEN/THEN: History and the fellow's attendance list follow the same scope
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := ts.token(t, tt.id, tt.role, tt.hub)
			for _, path := range []string{history, "/api/fellows/fellow-1/attendance", "/api/fellows/fellow-1"} {
				if rec := ts.do(t, tok, http.MethodGet, path, nil); rec.Code != tt.want {
					t.Errorf("%s: expected %d, got %d", path, tt.want, rec.Code)
				}
			}
		})
	}

	if rec := ts.do(t, sup1, http.MethodGet, "/api/supervisors/sup-2/fellows", nil); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 listing another supervisor's fellows, got %d", rec.Code)
	}
}
