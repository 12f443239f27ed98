package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/httpserver/handlers"
)

func init() { Register(registerRoot) }

func registerRoot(r chi.Router, d deps.Deps) {
	r.Get("/", handlers.Root(d))
}
