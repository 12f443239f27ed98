package gate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/session"
)

// CookieName is the cookie carrying the session credential.
const CookieName = "marqd_session"

// Action is the routing decision for one request.
type Action int

const (
	// Allow lets the request through to its handler.
	Allow Action = iota
	// RedirectToLogin bounces an unauthenticated request off a protected
	// path to the public landing page.
	RedirectToLogin
	// RedirectToProtectedHome bounces an authenticated request off the
	// public landing page to the dashboard.
	RedirectToProtectedHome
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToProtectedHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating one request. Refreshed, when
// non-nil, is a rotated credential that must reach the response even
// when the decision is a redirect.
type Decision struct {
	Action    Action
	UserID    string
	Refreshed *session.Credential
}

// Matcher decides which paths the gate inspects. Paths matching neither
// list are outside the gate entirely and always allowed.
type Matcher struct {
	// ProtectedPrefixes guard a whole subtree, e.g. "/dashboard" covers
	// "/dashboard" and "/dashboard/anything".
	ProtectedPrefixes []string
	// PublicPaths match exactly. An authenticated user landing on one is
	// sent to the protected home instead.
	PublicPaths []string
}

func (m Matcher) isProtected(path string) bool {
	for _, prefix := range m.ProtectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func (m Matcher) isPublic(path string) bool {
	for _, p := range m.PublicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Gate evaluates request access against the session resolver.
//
// It fails closed: any doubt about the credential (missing, malformed,
// forged, expired beyond recovery, or a resolver failure) is treated as
// no session.
type Gate struct {
	matcher       Matcher
	sessions      session.Resolver
	loginPath     string
	protectedHome string
	log           logger.Logger
}

// New creates a gate routing unauthenticated protected-path requests to
// loginPath and authenticated public-path requests to protectedHome.
func New(matcher Matcher, sessions session.Resolver, loginPath, protectedHome string, log logger.Logger) *Gate {
	return &Gate{
		matcher:       matcher,
		sessions:      sessions,
		loginPath:     loginPath,
		protectedHome: protectedHome,
		log:           log,
	}
}

// Evaluate decides what to do with a request for path carrying token.
func (g *Gate) Evaluate(ctx context.Context, path, token string) Decision {
	protected := g.matcher.isProtected(path)
	public := g.matcher.isPublic(path)
	if !protected && !public {
		return Decision{Action: Allow}
	}

	res, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		// Fail closed: an unreachable session store means no session.
		g.log.Error("session resolution failed",
			logger.String("path", path),
			logger.Error(err),
		)
		res = session.Resolution{}
	}

	d := Decision{Action: Allow, UserID: res.UserID, Refreshed: res.Refreshed}
	switch {
	case protected && !res.Present:
		d.Action = RedirectToLogin
		d.UserID = ""
	case public && res.Present:
		d.Action = RedirectToProtectedHome
	}
	return d
}

type ctxKey struct{}

// UserID returns the authenticated user id stored by the middleware, or
// "" for requests that did not pass through an authenticated gate.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware applies the gate to every request. Rotated credentials are
// written to the response before any redirect so the browser keeps its
// session across the bounce.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(CookieName); err == nil {
			token = c.Value
		}

		d := g.Evaluate(r.Context(), r.URL.Path, token)
		if d.Refreshed != nil {
			SetCookie(w, r, *d.Refreshed)
		}

		switch d.Action {
		case RedirectToLogin:
			http.Redirect(w, r, g.loginPath, http.StatusTemporaryRedirect)
		case RedirectToProtectedHome:
			http.Redirect(w, r, g.protectedHome, http.StatusTemporaryRedirect)
		default:
			if d.UserID != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, d.UserID))
			}
			next.ServeHTTP(w, r)
		}
	})
}

// SetCookie writes cred as the session cookie.
func SetCookie(w http.ResponseWriter, r *http.Request, cred session.Credential) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    cred.Token,
		Path:     "/",
		Expires:  cred.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
