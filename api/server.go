/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/plans/*          Plan registry
  /api/beneficiaries/*  Beneficiary directory and state transitions
  /api/escrows/*        Escrow operations, addressed by beneficiary
  /api/accounts/*       Token ledger views
  /api/admin/*          Role management, bounty accrual (owner)
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/vestingd/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", CallerHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
			r.Get("/{id}/schedule", h.GetPlanSchedule)
		})

		r.Route("/beneficiaries", func(r chi.Router) {
			r.Get("/", h.ListBeneficiaries)
			r.Post("/", h.ConnectBeneficiary)
			r.Get("/{address}", h.GetBeneficiary)
			r.Post("/{address}/approve", h.ApproveBeneficiary)
			r.Post("/{address}/start", h.StartVesting)
			r.Post("/{address}/stop", h.StopVesting)
		})

		r.Route("/escrows/{address}", func(r chi.Router) {
			r.Post("/retrieve", h.Retrieve)
			r.Post("/delegate", h.Delegate)
			r.Post("/undelegate", h.Undelegate)
			r.Post("/bounty", h.WithdrawBounty)
			r.Post("/settle", h.Settle)
		})

		r.Get("/accounts/{address}", h.GetAccount)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/roles", h.ListRoles)
			r.Post("/roles", h.GrantRole)
			r.Delete("/roles", h.RevokeRole)
			r.Post("/bounties", h.AccrueBounty)
		})
	})

	return r
}
