package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marqd/marqd/internal/collection"
	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/gate"
	"github.com/marqd/marqd/internal/httpserver/deps"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// owner extracts the authenticated user, or writes a 401 and returns "".
// The gate redirects unauthenticated browsers; this guards direct API
// calls that bypass it.
func owner(w http.ResponseWriter, r *http.Request) string {
	id := gate.UserID(r.Context())
	if id == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
	}
	return id
}

// acquireReady returns the owner's initialized synchronizer. A failed
// bulk fetch is retryable, so it maps to 503 rather than a hard error.
func acquireReady(ctx context.Context, d deps.Deps, ownerID string) (*collection.Synchronizer, error) {
	s := d.Collections.Acquire(ownerID)
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func writeAddError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrAddInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrDisposed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusBadGateway, "failed to save bookmark")
	}
}
