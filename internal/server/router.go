// Package server exposes the virtual identity store over HTTP. The routes
// are a thin JSON binding; all semantics live in the store.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kasunbg/carbon-identity-mgt/internal/security"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

// NewRouter builds the chi router over the virtual identity store. tokens
// may be nil; the authenticate endpoint then returns the user without a
// token.
//
// Routes:
//   - GET  /health                     - liveness probe
//   - GET  /metrics                    - Prometheus metrics
//   - POST /api/v1/authenticate        - claim + credential login
//   - /api/v1/users/*                  - user management
//   - /api/v1/groups/*                 - group management
func NewRouter(s *store.Store, tokens *security.TokenProvider) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(traceRequests)
	r.Use(countRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler())

	h := &handler{store: s, tokens: tokens}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/authenticate", h.authenticate)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.addUser)
			r.Post("/bulk", h.addUsers)
			r.Get("/", h.listUsers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getUser)
				r.Delete("/", h.deleteUser)
				r.Get("/claims", h.getClaims)
				r.Put("/claims", h.updateUserClaims)
				r.Get("/groups", h.getGroupsOfUser)
				r.Put("/groups", h.updateGroupsOfUser)
				r.Get("/groups/{groupId}", h.isUserInGroup)
			})
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.addGroup)
			r.Post("/bulk", h.addGroups)
			r.Get("/", h.listGroups)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getGroup)
				r.Delete("/", h.deleteGroup)
				r.Get("/claims", h.getGroupClaims)
				r.Put("/claims", h.updateGroupClaims)
				r.Get("/members", h.getUsersOfGroup)
				r.Put("/members", h.updateUsersOfGroup)
			})
		})
	})

	return r
}
