package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/httpserver/handlers"
	"github.com/marqd/marqd/internal/httpserver/mw"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps) {
	// Login code redemption gets a tight per-IP budget.
	limited := r.With(mw.RateLimit(mw.RateLimitConfig{
		Burst:             10,
		RefillPerIPPerMin: 30,
		TrustProxy:        d.TrustProxy,
	}))
	limited.Get("/auth/callback", handlers.AuthCallback(d))
	r.Post("/auth/logout", handlers.Logout(d))
}
