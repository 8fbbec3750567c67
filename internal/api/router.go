// Package api is the gateway's thin read-only admin/health HTTP
// surface (§4.Q): liveness/readiness probes plus a handful of
// operator-facing lookups over the session directory and in-memory
// charger state, grounded on the teacher's chi-based router
// (_examples/balu-dk-go-cpms/internal/api/router.go) but trimmed to
// read-only GETs since this gateway's write surface is the OCPP
// WebSocket and command bus, not REST.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// API is the chi-backed admin/health HTTP server.
type API struct {
	router  chi.Router
	handler *Handler
}

// NewAPI builds the admin API, wiring handler against its collaborators.
func NewAPI(handler *Handler) *API {
	router := chi.NewRouter()

	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/healthz", handler.Healthz)
	router.Get("/readyz", handler.Readyz)

	router.Route("/admin/v1", func(r chi.Router) {
		r.Route("/chargepoints/{id}", func(r chi.Router) {
			r.Get("/session", handler.GetSession)
			r.Get("/connectors/{connectorId}", handler.GetConnectorStatus)
		})
		r.Get("/stats", handler.GetStats)
	})

	return &API{router: router, handler: handler}
}

// ServeHTTP satisfies http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}
