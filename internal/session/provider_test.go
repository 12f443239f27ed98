package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marqd/marqd/internal/logger"
)

type memRecords struct {
	mu    sync.Mutex
	recs  map[string]Record
	codes map[string]string

	saveErr error
	getErr  error
}

func newMemRecords() *memRecords {
	return &memRecords{
		recs:  make(map[string]Record),
		codes: make(map[string]string),
	}
}

func (m *memRecords) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.recs[rec.SID] = rec
	return nil
}

func (m *memRecords) Get(ctx context.Context, sid string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Record{}, false, m.getErr
	}
	rec, ok := m.recs[sid]
	return rec, ok, nil
}

func (m *memRecords) Delete(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, sid)
	return nil
}

func (m *memRecords) TakeCode(ctx context.Context, code string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.codes[code]
	if ok {
		delete(m.codes, code)
	}
	return userID, ok, nil
}

func newTestProvider(records Records) *Provider {
	return NewProvider("test-secret", records, 15*time.Minute, 24*time.Hour, logger.New("error", false))
}

func TestIssueAndResolve(t *testing.T) {
	records := newMemRecords()
	p := newTestProvider(records)
	ctx := context.Background()

	cred, err := p.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if cred.Token == "" {
		t.Fatal("Issue() returned empty token")
	}

	res, err := p.Resolve(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Present || res.UserID != "user-1" {
		t.Errorf("Resolve() = %+v, want present user-1", res)
	}
	if res.Refreshed != nil {
		t.Error("fresh token must not be rotated")
	}
}

func TestResolveAbsent(t *testing.T) {
	records := newMemRecords()
	p := newTestProvider(records)
	ctx := context.Background()

	cred, err := p.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewProvider("other-secret", records, 15*time.Minute, 24*time.Hour, logger.New("error", false))
	forged, err := other.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() with other secret error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "wrong signature", token: forged.Token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Resolve(ctx, tt.token)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Present {
				t.Errorf("Resolve(%q) resolved a session", tt.name)
			}
		})
	}

	// Revoked session: valid token, no record.
	if err := p.Revoke(ctx, cred.Token); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	res, err := p.Resolve(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Resolve() after revoke error = %v", err)
	}
	if res.Present {
		t.Error("revoked session still resolves")
	}
}

func TestResolveRotatesExpiredToken(t *testing.T) {
	records := newMemRecords()
	p := newTestProvider(records)
	ctx := context.Background()

	// Issue a token that is already expired.
	past := time.Now().Add(-2 * time.Hour)
	p.now = func() time.Time { return past }
	cred, err := p.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	p.now = time.Now

	res, err := p.Resolve(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Present || res.UserID != "user-1" {
		t.Fatalf("Resolve() = %+v, want present user-1", res)
	}
	if res.Refreshed == nil {
		t.Fatal("expired token with live session must be rotated")
	}
	if res.Refreshed.Token == cred.Token {
		t.Error("rotated token equals the expired one")
	}

	// The rotated credential resolves without another rotation.
	res2, err := p.Resolve(ctx, res.Refreshed.Token)
	if err != nil {
		t.Fatalf("Resolve() of rotated token error = %v", err)
	}
	if !res2.Present || res2.Refreshed != nil {
		t.Errorf("rotated token resolution = %+v, want present without refresh", res2)
	}
}

func TestResolveRecordStoreFailure(t *testing.T) {
	records := newMemRecords()
	p := newTestProvider(records)
	ctx := context.Background()

	cred, err := p.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	records.mu.Lock()
	records.getErr = errors.New("redis down")
	records.mu.Unlock()

	if _, err := p.Resolve(ctx, cred.Token); err == nil {
		t.Error("Resolve() with failing record store must return an error")
	}
}

func TestExchangeCode(t *testing.T) {
	records := newMemRecords()
	records.codes["code-123"] = "user-7"
	p := newTestProvider(records)
	ctx := context.Background()

	cred, err := p.ExchangeCode(ctx, "code-123")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	res, err := p.Resolve(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Present || res.UserID != "user-7" {
		t.Errorf("Resolve() = %+v, want present user-7", res)
	}

	// Codes are one-shot.
	if _, err := p.ExchangeCode(ctx, "code-123"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("second ExchangeCode() error = %v, want ErrInvalidCode", err)
	}
	if _, err := p.ExchangeCode(ctx, "never-existed"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("unknown ExchangeCode() error = %v, want ErrInvalidCode", err)
	}
}
