package handlers

import (
	"net/http"

	"github.com/marqd/marqd/internal/httpserver/deps"
)

type rootResponse struct {
	App     string `json:"app"`
	Version string `json:"version,omitempty"`
	Login   string `json:"login"`
}

// Root is the public landing page. Authenticated users never see it:
// the gate bounces them to the dashboard first.
func Root(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, rootResponse{
			App:     "marqd",
			Version: d.Version,
			Login:   "/auth/callback",
		})
	}
}
