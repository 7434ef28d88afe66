/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, CORS, rate limiting and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the dashboard origin(s).
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/domain"
)

// NewRouter creates a new Chi router and registers the payout-service routes.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{
			"status":       "ok",
			"gateway_mode": string(h.service.GatewayMode()),
		})
	})

	r.Route("/api", func(r chi.Router) {
		// Login is limited per client IP.
		r.With(h.RateLimit(app.ScopeLogin)).Post("/auth/login", h.LoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.RateLimit(app.ScopeAPI))

			r.Get("/auth/me", h.MeHandler)

			r.Route("/users", func(r chi.Router) {
				r.Use(h.RequireRole(domain.RoleAdmin))
				r.Get("/", h.ListUsersHandler)
				r.Post("/", h.CreateUserHandler)
			})

			r.Route("/payouts", func(r chi.Router) {
				r.Get("/", h.ListPayoutsHandler)
				// Submissions move money and carry their own, tighter budget.
				r.With(h.RateLimit(app.ScopeSubmit)).Post("/", h.CreatePayoutHandler)
				r.Get("/{id}", h.GetPayoutHandler)
				r.Post("/{id}/refresh", h.RefreshPayoutHandler)
			})
		})
	})

	return r
}
