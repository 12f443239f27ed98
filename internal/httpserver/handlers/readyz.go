package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marqd/marqd/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz reports whether the service can do useful work. Redis backs
// both sessions and bookmarks, so an unreachable Redis means not ready.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.RedisClient.Ping(ctx).Err(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, readyzResponse{
				Ready: false,
				Error: "redis unreachable",
			})
			return
		}

		respondJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}
