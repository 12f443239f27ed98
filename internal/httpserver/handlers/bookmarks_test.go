package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marqd/marqd/internal/collection"
	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/gate"
	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/session"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string][]domain.Bookmark
	seq  int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]domain.Bookmark)}
}

func (m *memStore) FetchAll(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Bookmark(nil), m.rows[owner]...), nil
}

func (m *memStore) Insert(ctx context.Context, owner, title, url string) (domain.Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	bm := domain.Bookmark{
		ID:        fmt.Sprintf("bm-%02d", m.seq),
		Title:     title,
		URL:       url,
		Owner:     owner,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second),
	}
	m.rows[owner] = append(m.rows[owner], bm)
	return bm, nil
}

func (m *memStore) Delete(ctx context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[owner]
	for i, bm := range rows {
		if bm.ID == id {
			m.rows[owner] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

type memSub struct {
	ch   chan domain.Event
	once sync.Once
}

func (s *memSub) Events() <-chan domain.Event { return s.ch }
func (s *memSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type memFeed struct{}

func (memFeed) Subscribe(ctx context.Context, owner string) (collection.Subscription, error) {
	return &memSub{ch: make(chan domain.Event, 16)}, nil
}

type memRecords struct {
	mu    sync.Mutex
	recs  map[string]session.Record
	codes map[string]string
}

func newMemRecords() *memRecords {
	return &memRecords{recs: make(map[string]session.Record), codes: make(map[string]string)}
}

func (m *memRecords) Save(ctx context.Context, rec session.Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.SID] = rec
	return nil
}

func (m *memRecords) Get(ctx context.Context, sid string) (session.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type testEnv struct {
	deps    deps.Deps
	router  chi.Router
	records *memRecords
	store   *memStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.New("error", false)

	store := newMemStore()
	records := newMemRecords()
	sessions := session.NewProvider("test-secret", records, 15*time.Minute, 24*time.Hour, log)
	collections := collection.NewManager(store, memFeed{}, log, 0, 0)
	t.Cleanup(collections.Stop)

	g := gate.New(gate.Matcher{
		ProtectedPrefixes: []string{"/dashboard"},
		PublicPaths:       []string{"/"},
	}, sessions, "/", "/dashboard", log)

	d := deps.Deps{
		Logger:      log,
		StartTime:   time.Now(),
		TimeNow:     time.Now,
		Sessions:    sessions,
		Gate:        g,
		Collections: collections,
	}

	r := chi.NewRouter()
	r.Use(g.Middleware)
	r.Get("/auth/callback", AuthCallback(d))
	r.Post("/auth/logout", Logout(d))
	r.Get("/dashboard/bookmarks", BookmarksList(d))
	r.Post("/dashboard/bookmarks", BookmarksAdd(d))
	r.Delete("/dashboard/bookmarks/{id}", BookmarksRemove(d))

	return &testEnv{deps: d, router: r, records: records, store: store}
}

func (e *testEnv) login(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	cred, err := e.deps.Sessions.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return &http.Cookie{Name: gate.CookieName, Value: cred.Token}
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestBookmarksAddAndList(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "user-1")

	rec := env.do(t, http.MethodPost, "/dashboard/bookmarks", `{"title":"Docs","url":"docs.example.com"}`, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created bookmarkView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	if created.URL != "https://docs.example.com" {
		t.Errorf("stored url = %q, want canonical https://docs.example.com", created.URL)
	}
	if created.DisplayURL != "https://docs.example.com" {
		t.Errorf("display url = %q", created.DisplayURL)
	}

	rec = env.do(t, http.MethodGet, "/dashboard/bookmarks", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed collectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if listed.Status != "ready" || len(listed.Bookmarks) != 1 {
		t.Errorf("list = %+v, want 1 ready bookmark", listed)
	}
}

func TestBookmarksAddValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "user-1")

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty title", body: `{"title":"","url":"https://a.example.com"}`, want: http.StatusUnprocessableEntity},
		{name: "empty url", body: `{"title":"A","url":""}`, want: http.StatusUnprocessableEntity},
		{name: "malformed body", body: `{not json`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/dashboard/bookmarks", tt.body, cookie)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	// Duplicate canonical URL.
	first := env.do(t, http.MethodPost, "/dashboard/bookmarks", `{"title":"A","url":"https://dup.example.com"}`, cookie)
	if first.Code != http.StatusCreated {
		t.Fatalf("first add status = %d", first.Code)
	}
	second := env.do(t, http.MethodPost, "/dashboard/bookmarks", `{"title":"B","url":"dup.example.com/"}`, cookie)
	if second.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate add status = %d, want %d", second.Code, http.StatusUnprocessableEntity)
	}
}

func TestBookmarksRemove(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "user-1")

	rec := env.do(t, http.MethodPost, "/dashboard/bookmarks", `{"title":"Docs","url":"https://docs.example.com"}`, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d", rec.Code)
	}
	var created bookmarkView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode add response: %v", err)
	}

	rec = env.do(t, http.MethodDelete, "/dashboard/bookmarks/"+created.ID, "", cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/dashboard/bookmarks/nope", "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove unknown id status = %d, want 404", rec.Code)
	}
}

func TestBookmarksRequireSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/dashboard/bookmarks", "", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want redirect to login", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestAuthCallback(t *testing.T) {
	env := newTestEnv(t)
	env.records.codes["code-1"] = "user-9"

	t.Run("missing code", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback", "", nil)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/" {
			t.Errorf("Location = %q, want /", loc)
		}
	})

	t.Run("valid code", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?code=code-1", "", nil)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/dashboard" {
			t.Errorf("Location = %q, want /dashboard", loc)
		}

		var sessionCookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == gate.CookieName {
				sessionCookie = c
			}
		}
		if sessionCookie == nil || sessionCookie.Value == "" {
			t.Fatal("callback did not set a session cookie")
		}

		// The issued cookie grants access to the dashboard.
		listRec := env.do(t, http.MethodGet, "/dashboard/bookmarks", "", sessionCookie)
		if listRec.Code != http.StatusOK {
			t.Errorf("list with issued cookie = %d, want 200", listRec.Code)
		}
	})

	t.Run("reused code", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/callback?code=code-1", "", nil)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/" {
			t.Errorf("Location = %q, want / (code already used)", loc)
		}
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "user-1")

	// Touch the collection so logout has something to dispose.
	if rec := env.do(t, http.MethodGet, "/dashboard/bookmarks", "", cookie); rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/auth/logout", "", cookie)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("logout status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if env.deps.Collections.Count() != 0 {
		t.Errorf("collections after logout = %d, want 0", env.deps.Collections.Count())
	}

	// The revoked cookie no longer opens the dashboard.
	rec = env.do(t, http.MethodGet, "/dashboard/bookmarks", "", cookie)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("list after logout = %d, want redirect", rec.Code)
	}
}
