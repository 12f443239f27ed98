package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/httpserver/handlers"
	"github.com/marqd/marqd/internal/httpserver/mw"
)

func init() { Register(registerOps) }

func registerOps(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Get("/infra", handlers.Infra(d))
}
