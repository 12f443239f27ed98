package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/marqd/marqd/internal/logger"
)

var (
	// ErrInvalidCode is returned for an unknown or already-used login code.
	ErrInvalidCode = errors.New("invalid login code")
)

// Credential is the opaque material handed to the browser (a signed JWT in
// a cookie). ExpiresAt is the token expiry, not the session expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Resolution is the outcome of resolving a request credential.
// Present=false covers missing, malformed, forged and fully-expired
// credentials alike: callers fail closed. Refreshed is non-nil when the
// token was rotated during resolution and must be propagated onto the
// response.
type Resolution struct {
	Present   bool
	UserID    string
	Refreshed *Credential
}

// Record is one server-side session, stored with the session TTL.
type Record struct {
	SID       string    `json:"sid"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Records is the session record store consumed by the Provider.
type Records interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, sid string) (Record, bool, error)
	Delete(ctx context.Context, sid string) error
	// TakeCode redeems a one-time login code for a user id. A code can be
	// taken at most once.
	TakeCode(ctx context.Context, code string) (string, bool, error)
}

// Resolver is the read-only view the gate consumes.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Resolution, error)
}

type sessionClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Provider issues, resolves, rotates and revokes session credentials.
//
// A credential is a short-lived HS256 JWT carrying the session id and user
// id. The session itself lives server-side in Records with a longer TTL,
// so an expired token whose session record is still live is rotated
// transparently instead of bouncing the user to login.
type Provider struct {
	secret     []byte
	records    Records
	tokenTTL   time.Duration
	sessionTTL time.Duration
	log        logger.Logger
	now        func() time.Time
}

// NewProvider creates a session provider.
func NewProvider(secret string, records Records, tokenTTL, sessionTTL time.Duration, log logger.Logger) *Provider {
	return &Provider{
		secret:     []byte(secret),
		records:    records,
		tokenTTL:   tokenTTL,
		sessionTTL: sessionTTL,
		log:        log,
		now:        time.Now,
	}
}

// Issue creates a fresh session for userID and returns its credential.
func (p *Provider) Issue(ctx context.Context, userID string) (Credential, error) {
	rec := Record{
		SID:       ulid.Make().String(),
		UserID:    userID,
		CreatedAt: p.now().UTC(),
	}
	if err := p.records.Save(ctx, rec, p.sessionTTL); err != nil {
		return Credential{}, fmt.Errorf("failed to save session: %w", err)
	}
	return p.sign(rec)
}

// ExchangeCode redeems a one-time login code (written by the identity
// provider) for a session credential.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (Credential, error) {
	userID, ok, err := p.records.TakeCode(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to redeem login code: %w", err)
	}
	if !ok {
		return Credential{}, ErrInvalidCode
	}
	return p.Issue(ctx, userID)
}

// Resolve validates a request credential. A bad token resolves to absent
// rather than an error; only record-store failures surface as errors. An
// expired token backed by a live session record is rotated: the returned
// Resolution is present and carries the refreshed credential.
func (p *Provider) Resolve(ctx context.Context, token string) (Resolution, error) {
	if token == "" {
		return Resolution{}, nil
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, p.keyFunc,
		jwt.WithValidMethods([]string{"HS256"}))

	expired := false
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		// Signature already verified; reparse to extract the claims the
		// expiry check refused to hand over.
		expired = true
		claims = &sessionClaims{}
		if _, err := jwt.ParseWithClaims(token, claims, p.keyFunc,
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithoutClaimsValidation()); err != nil {
			return Resolution{}, nil
		}
	default:
		return Resolution{}, nil
	}

	if claims.SID == "" || claims.Subject == "" {
		return Resolution{}, nil
	}

	rec, ok, err := p.records.Get(ctx, claims.SID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok || rec.UserID != claims.Subject {
		return Resolution{}, nil
	}

	res := Resolution{Present: true, UserID: rec.UserID}
	if expired {
		// Sliding session: extend the record and rotate the token.
		if err := p.records.Save(ctx, rec, p.sessionTTL); err != nil {
			return Resolution{}, fmt.Errorf("failed to extend session: %w", err)
		}
		cred, err := p.sign(rec)
		if err != nil {
			return Resolution{}, err
		}
		res.Refreshed = &cred
	}
	return res, nil
}

// Revoke deletes the session behind token. Unparsable tokens are a no-op.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims := &sessionClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, p.keyFunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation()); err != nil {
		return nil
	}
	if claims.SID == "" {
		return nil
	}
	return p.records.Delete(ctx, claims.SID)
}

func (p *Provider) keyFunc(*jwt.Token) (interface{}, error) {
	return p.secret, nil
}

func (p *Provider) sign(rec Record) (Credential, error) {
	now := p.now().UTC()
	expires := now.Add(p.tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		SID: rec.SID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   rec.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return Credential{Token: signed, ExpiresAt: expires}, nil
}
