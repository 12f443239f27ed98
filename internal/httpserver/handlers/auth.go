package handlers

import (
	"errors"
	"net/http"

	"github.com/marqd/marqd/internal/gate"
	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/session"
)

// AuthCallback redeems the one-time login code handed over by the
// identity provider. A missing or invalid code sends the browser back to
// the landing page instead of surfacing an error.
func AuthCallback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		cred, err := d.Sessions.ExchangeCode(r.Context(), code)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidCode) {
				d.Logger.Error("login code exchange failed", logger.Error(err))
			}
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		gate.SetCookie(w, r, cred)
		http.Redirect(w, r, "/dashboard", http.StatusTemporaryRedirect)
	}
}

// Logout revokes the session, disposes the owner's collection and clears
// the cookie. It always lands back on the public page, even when the
// request carried no session at all.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(gate.CookieName); err == nil {
			token = c.Value
		}

		if token != "" {
			// Resolve first so the owner's synchronizer can be torn down.
			res, err := d.Sessions.Resolve(r.Context(), token)
			if err == nil && res.Present {
				d.Collections.Release(res.UserID)
			}
			if err := d.Sessions.Revoke(r.Context(), token); err != nil {
				d.Logger.Warn("session revoke failed", logger.Error(err))
			}
		}

		gate.ClearCookie(w)
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
	}
}
