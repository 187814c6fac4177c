package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/payments"
	"github.com/shamiri/attendance-engine/report"
)

// =============================================================================
// DELAYED PAYMENT REQUESTS
// =============================================================================

// ListDelayedPayments returns delayed payment requests, newest first.
// Supervisors only see requests raised for their own fellows and fellows only
// their own. Admins and hub coordinators see every request; clinical leads
// see none.
func (h *Handler) ListDelayedPayments(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	q := r.URL.Query()
	filter := payments.Filter{
		FellowID:     q.Get("fellow_id"),
		SupervisorID: q.Get("supervisor_id"),
		Status:       payments.RequestStatus(q.Get("status")),
	}
	switch p.Role {
	case auth.RoleAdmin, auth.RoleHubCoordinator:
	case auth.RoleSupervisor:
		filter.SupervisorID = p.ID
	case auth.RoleFellow:
		filter.FellowID = p.ID
	default:
		writeError(w, http.StatusForbidden, "Not allowed to view payment requests", nil)
		return
	}

	reqs, err := h.Store.ListPaymentRequests(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payment requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentRequestDTOs(reqs))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ListDiscrepancies returns late present records that have no delayed payment
// request.
func (h *Handler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	found, err := h.Store.FindUnpaidLatePresent(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to scan for discrepancies", err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscrepancyDTOs(found))
}

// ListReconciliationRuns returns recorded reconciliation runs, newest first.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	runs, err := h.Store.GetReconciliationRuns(r.Context(), payments.RunStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliation runs", err)
		return
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerReconciliation runs a reconciliation scan now.
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireManager(w, r); !ok {
		return
	}
	run, found, err := h.Reconciler.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{
		Run:           toRunDTO(run),
		Discrepancies: toDiscrepancyDTOs(found),
	})
}

// ResubmitPaymentRequest raises the missing delayed payment request for a
// discrepancy. The body may override the supervisor.
func (h *Handler) ResubmitPaymentRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := requireManager(w, r)
	if !ok {
		return
	}
	var req ResubmitRequest
	if r.ContentLength != 0 {
		if !h.bind(w, r, &req) {
			return
		}
	}
	ctx := r.Context()
	recordID := attendance.RecordID(chi.URLParam(r, "recordID"))

	found, err := h.Store.FindUnpaidLatePresent(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to scan for discrepancies", err)
		return
	}
	var target *payments.Discrepancy
	for i := range found {
		if found[i].RecordID == recordID {
			target = &found[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "No unpaid late attendance for this record", nil)
		return
	}

	id, err := h.Payments.Resubmit(ctx, *target, req.SupervisorID, h.now())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, payments.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to resubmit delayed payment request", err)
		return
	}

	h.reporter().Info("discrepancy resolved", report.Fields{"record": recordID, "request": id, "actor": p.ID})
	writeJSON(w, http.StatusCreated, map[string]string{
		"attendance_record_id": string(recordID),
		"payment_request_id":   id,
	})
}
