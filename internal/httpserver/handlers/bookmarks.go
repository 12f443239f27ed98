package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/marqd/marqd/internal/collection"
	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/utils"
)

type bookmarkView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	DisplayURL string    `json:"display_url"`
	CreatedAt  time.Time `json:"created_at"`
}

type collectionResponse struct {
	Status    string         `json:"status"`
	Stale     bool           `json:"stale"`
	Bookmarks []bookmarkView `json:"bookmarks"`
}

type addBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func viewOf(bm domain.Bookmark) bookmarkView {
	return bookmarkView{
		ID:         bm.ID,
		Title:      bm.Title,
		URL:        bm.URL,
		DisplayURL: domain.DisplayURL(bm.URL),
		CreatedAt:  bm.CreatedAt,
	}
}

func collectionOf(snap collection.Snapshot) collectionResponse {
	views := make([]bookmarkView, 0, len(snap.Items))
	for _, bm := range snap.Items {
		views = append(views, viewOf(bm))
	}
	return collectionResponse{
		Status:    snap.Status.String(),
		Stale:     snap.Stale,
		Bookmarks: views,
	}
}

type dashboardResponse struct {
	UserID     string             `json:"user_id"`
	Collection collectionResponse `json:"collection"`
}

// Dashboard returns the authenticated user's dashboard view.
func Dashboard(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := owner(w, r)
		if ownerID == "" {
			return
		}

		s, err := acquireReady(r.Context(), d, ownerID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "collection is loading, retry shortly")
			return
		}

		respondJSON(w, http.StatusOK, dashboardResponse{
			UserID:     ownerID,
			Collection: collectionOf(s.Snapshot()),
		})
	}
}

// BookmarksList returns the owner's collection, newest first.
func BookmarksList(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := owner(w, r)
		if ownerID == "" {
			return
		}

		s, err := acquireReady(r.Context(), d, ownerID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "collection is loading, retry shortly")
			return
		}

		respondJSON(w, http.StatusOK, collectionOf(s.Snapshot()))
	}
}

// BookmarksAdd creates a bookmark and returns the stored record.
func BookmarksAdd(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := owner(w, r)
		if ownerID == "" {
			return
		}

		defer utils.Close(r.Body)
		var req addBookmarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s, err := acquireReady(r.Context(), d, ownerID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "collection is loading, retry shortly")
			return
		}

		bm, err := s.Add(r.Context(), req.Title, req.URL)
		if err != nil {
			writeAddError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, viewOf(bm))
	}
}

// BookmarksRemove deletes a bookmark by id.
func BookmarksRemove(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := owner(w, r)
		if ownerID == "" {
			return
		}

		s, err := acquireReady(r.Context(), d, ownerID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "collection is loading, retry shortly")
			return
		}

		id := chi.URLParam(r, "id")
		if err := s.Remove(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				respondError(w, http.StatusNotFound, "bookmark not found")
			case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrDisposed):
				respondError(w, http.StatusServiceUnavailable, err.Error())
			default:
				respondError(w, http.StatusBadGateway, "failed to delete bookmark")
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// BookmarksStream upgrades to a websocket and forwards the owner's
// change events as JSON frames. The browser uses it to observe inserts
// and deletes made from other tabs and devices.
func BookmarksStream(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := owner(w, r)
		if ownerID == "" {
			return
		}

		sub, err := d.Feed.Subscribe(r.Context(), ownerID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "change feed unavailable")
			return
		}
		defer utils.MustClose(sub)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			d.Logger.Debug("websocket accept failed", logger.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		// Discard client frames; cancels the context when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case ev, ok := <-sub.Events():
				if !ok {
					conn.Close(websocket.StatusGoingAway, "feed closed")
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	}
}
