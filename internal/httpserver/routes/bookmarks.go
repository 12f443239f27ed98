package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/httpserver/handlers"
)

func init() { Register(registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/", handlers.Dashboard(d))
		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", handlers.BookmarksList(d))
			r.Post("/", handlers.BookmarksAdd(d))
			r.Delete("/{id}", handlers.BookmarksRemove(d))
			r.Get("/ws", handlers.BookmarksStream(d))
		})
	})
}
