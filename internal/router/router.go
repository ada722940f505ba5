package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehouse-dev/gatehouse/internal/middleware"
	"github.com/gatehouse-dev/gatehouse/internal/setup"
)

// New configures all routes. Rate limits guard the three abuse surfaces
// separately: sending codes, checking codes and the login password oracle.
func New(deps *setup.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Public.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(middleware.SecurityHeaders(deps.Config.Public.SecureCookies))

	h := deps.Handler
	gate := deps.Gate

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Code-sending endpoints: every hit costs an email.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.SendLimiter, middleware.GetIP))
		r.With(gate.RequireAnonymous).Post("/register", h.Register)
		r.With(gate.RequireAnonymous).Post("/reset-password", h.ResetPassword)
		r.With(gate.RequireUser).Post("/settings/change-email", h.ChangeEmail)
	})

	// Code-checking: stricter, codes are short enough to brute force.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.CheckLimiter, middleware.GetIP))
		r.Get("/verify", h.Verify)
		r.Post("/verify", h.Verify)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.LoginLimiter, middleware.GetIP))
		r.With(gate.RequireAnonymous).Post("/login", h.Login)
	})

	r.With(gate.RequireAnonymous).Post("/onboarding", h.Onboarding)
	r.With(gate.RequireAnonymous).Post("/reset-password/complete", h.ResetPasswordComplete)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(gate.RequireUser)
		r.Get("/me", h.Me)
		r.Post("/settings/two-factor", h.TwoFactorEnable)
		r.Delete("/settings/two-factor", h.TwoFactorDisable)
	})

	// Preflight requests should not 404.
	r.MethodFunc(http.MethodOptions, "/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
