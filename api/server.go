/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the attendance UI
  5. Auth:       Bearer JWT on everything under /api

ROUTE GROUPS:
  /healthz                   Liveness (public)
  /api/attendance/*          Toggle, confirm, cutoff preview, history
  /api/schools/*             School directory and sessions
  /api/fellows/*             Fellow directory and attendance
  /api/supervisors/*         Fellows per supervisor
  /api/sessions/*            Scheduled sessions
  /api/payments/*            Delayed payment requests
  /api/reconciliation/*      Discrepancies, runs, resubmission
  /api/scenarios/*           Demo scenarios (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: Token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shamiri/attendance-engine/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, tokens *auth.Tokens, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(tokens.Middleware)

		r.Route("/attendance", func(r chi.Router) {
			r.Post("/toggle", h.ToggleAttendance)
			r.Post("/confirm", h.ConfirmAttendance)
			r.Get("/cutoff", h.GetCutoff)
			r.Get("/history", h.GetAttendanceHistory)
		})

		r.Route("/schools", func(r chi.Router) {
			r.Get("/", h.ListSchools)
			r.Post("/", h.CreateSchool)
			r.Get("/{id}/sessions", h.ListSchoolSessions)
		})

		r.Route("/fellows", func(r chi.Router) {
			r.Post("/", h.CreateFellow)
			r.Get("/{id}", h.GetFellow)
			r.Get("/{id}/attendance", h.GetFellowAttendance)
		})

		r.Get("/supervisors/{id}/fellows", h.ListSupervisorFellows)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
		})

		r.Get("/payments/delayed", h.ListDelayedPayments)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/discrepancies", h.ListDiscrepancies)
			r.Get("/runs", h.ListReconciliationRuns)
			r.Post("/process", h.TriggerReconciliation)
			r.Post("/{recordID}/resubmit", h.ResubmitPaymentRequest)
		})

		if h.AllowScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}
