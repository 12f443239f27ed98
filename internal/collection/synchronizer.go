package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/logger"
)

// Store is the persistent store contract the synchronizer consumes.
// All operations are scoped to an owner.
type Store interface {
	FetchAll(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, owner, title, url string) (domain.Bookmark, error)
	Delete(ctx context.Context, owner, id string) error
}

// Subscription is one live change-feed handle. Events() is closed when the
// subscription ends, by Close or by transport failure.
type Subscription interface {
	Events() <-chan domain.Event
	Close() error
}

// Feed hands out per-owner change-feed subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, owner string) (Subscription, error)
}

// Status is the synchronizer lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return "idle"
	}
}

// Snapshot is the read view exposed to the UI layer. Items are ordered by
// CreatedAt descending, newest first. Stale means the change feed dropped
// and the view may be missing events until recovery completes.
type Snapshot struct {
	Status Status
	Stale  bool
	Items  []domain.Bookmark
}

type pendingRemove struct {
	item      domain.Bookmark
	confirmed bool // a Delete event for this id arrived while the request was in flight
}

// Synchronizer owns the authoritative in-memory collection for one user.
//
// It merges three arrival paths into one consistent view: the initial bulk
// fetch, locally-issued mutation responses, and the asynchronous change
// feed. The same record may arrive both from a mutation response and from
// the feed (in either order); every apply step dedups by id, so the second
// arrival is a no-op. All state is guarded by one mutex and every mutation
// is a single atomic step, never split across a request await.
type Synchronizer struct {
	owner string
	store Store
	feed  Feed
	log   logger.Logger

	initMu sync.Mutex // serializes Initialize attempts

	mu             sync.Mutex
	status         Status
	items          []domain.Bookmark
	stale          bool
	addInFlight    bool
	pendingRemoves map[string]*pendingRemove
	disposed       bool
	sub            Subscription
	lastAccess     time.Time

	recoveryWait time.Duration // initial backoff before a resync attempt

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSynchronizer creates a synchronizer for one owner. It does nothing
// until Initialize succeeds.
func NewSynchronizer(owner string, store Store, feed Feed, log logger.Logger) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		owner:          owner,
		store:          store,
		feed:           feed,
		log:            log,
		status:         StatusIdle,
		pendingRemoves: make(map[string]*pendingRemove),
		lastAccess:     time.Now(),
		recoveryWait:   time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Owner returns the identity this synchronizer is scoped to.
func (s *Synchronizer) Owner() string { return s.owner }

// Initialize performs the bulk fetch and opens the change feed. On failure
// the status stays Loading and the caller may retry; once Ready it returns
// nil without refetching.
//
// The subscription is opened before the fetch: an event that races the
// fetch is re-applied on top of it, which the dedup-by-id merge absorbs.
// The reverse order would silently lose mutations committed in the gap.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrDisposed
	}
	if s.status == StatusReady {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusLoading
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, s.owner)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}

	items, err := s.store.FetchAll(ctx, s.owner)
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = sub.Close()
		return domain.ErrDisposed
	}
	s.items = items
	s.sortLocked()
	s.status = StatusReady
	s.stale = false
	s.sub = sub
	s.mu.Unlock()

	go s.pump(sub)
	return nil
}

// Add validates input, issues the insert, and merges the created record.
// Validation failures reject synchronously; no request is issued. Only one
// add may be in flight at a time (mirrors the disabled submit button).
func (s *Synchronizer) Add(ctx context.Context, title, rawURL string) (domain.Bookmark, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Bookmark{}, domain.ErrEmptyTitle
	}
	url, err := domain.CanonicalURL(rawURL)
	if err != nil {
		return domain.Bookmark{}, err
	}

	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return domain.Bookmark{}, domain.ErrDisposed
	case s.status != StatusReady:
		s.mu.Unlock()
		return domain.Bookmark{}, domain.ErrNotReady
	case s.addInFlight:
		s.mu.Unlock()
		return domain.Bookmark{}, domain.ErrAddInFlight
	}
	for i := range s.items {
		if s.items[i].URL == url {
			s.mu.Unlock()
			return domain.Bookmark{}, fmt.Errorf("%w: %s", domain.ErrDuplicateURL, url)
		}
	}
	s.addInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.addInFlight = false
		s.mu.Unlock()
	}()

	created, err := s.store.Insert(ctx, s.owner, title, url)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("%w: %v", domain.ErrInsertFailed, err)
	}

	// The feed may already have delivered the Insert event for this row;
	// whichever of response and event arrives second is a no-op.
	s.Apply(domain.Event{Kind: domain.EventInsert, Bookmark: &created})

	return created, nil
}

// Remove deletes a bookmark optimistically: the item disappears from the
// snapshot immediately and is restored if the request fails, unless a
// Delete event for the same id arrived while the request was in flight.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrDisposed
	}
	if s.status != StatusReady {
		s.mu.Unlock()
		return domain.ErrNotReady
	}
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}

	removed := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	pr := &pendingRemove{item: removed}
	s.pendingRemoves[id] = pr
	s.mu.Unlock()

	err := s.store.Delete(ctx, s.owner, id)
	if errors.Is(err, domain.ErrNotFound) {
		// Row already gone server-side (another session won the race);
		// the removal stands.
		err = nil
	}

	s.mu.Lock()
	delete(s.pendingRemoves, id)
	if err != nil && !s.disposed {
		if !pr.confirmed && s.indexOfLocked(id) < 0 {
			s.items = append(s.items, removed)
			s.sortLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrDeleteFailed, err)
	}
	s.mu.Unlock()
	return nil
}

// Apply merges one change-feed event. Idempotent under duplicate delivery:
// both branches are no-ops when the postcondition already holds.
func (s *Synchronizer) Apply(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.status != StatusReady {
		return
	}

	switch ev.Kind {
	case domain.EventInsert:
		if ev.Bookmark == nil || s.indexOfLocked(ev.Bookmark.ID) >= 0 {
			return
		}
		s.items = append(s.items, *ev.Bookmark)
		s.sortLocked()

	case domain.EventDelete:
		id := ev.RecordID()
		if pr, ok := s.pendingRemoves[id]; ok {
			pr.confirmed = true
		}
		if idx := s.indexOfLocked(id); idx >= 0 {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		}

	default:
		// No update operation in this data model.
	}
}

// Snapshot returns a copy of the current view.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
	items := make([]domain.Bookmark, len(s.items))
	copy(items, s.items)
	return Snapshot{Status: s.status, Stale: s.stale, Items: items}
}

// Dispose releases the subscription and stops recovery. Safe to call
// multiple times; no event is applied to a disposed instance.
func (s *Synchronizer) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		_ = sub.Close()
	}
}

// Disposed reports whether Dispose has been called.
func (s *Synchronizer) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// LastAccess is the last time the UI read or mutated this instance.
func (s *Synchronizer) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Synchronizer) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Synchronizer) pump(sub Subscription) {
	for ev := range sub.Events() {
		s.Apply(ev)
	}

	// Channel closed. Disposal is the normal teardown path; anything else
	// means the transport dropped and the view may be missing events.
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.stale = true
	s.sub = nil
	s.mu.Unlock()

	s.log.Warn("change feed dropped, recovering",
		logger.String("owner", s.owner))
	s.recoverFeed()
}

// recoverFeed retries resync with exponential backoff until it succeeds or
// the synchronizer is disposed.
func (s *Synchronizer) recoverFeed() {
	wait := s.recoveryWait
	const maxWait = 30 * time.Second

	for {
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.resync() {
			return
		}

		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}

// resync reopens the subscription and refetches the collection. Reconnects
// carry no replay guarantee, so only a fresh bulk fetch restores
// consistency.
func (s *Synchronizer) resync() bool {
	sub, err := s.feed.Subscribe(s.ctx, s.owner)
	if err != nil {
		s.log.Warn("feed resubscribe failed",
			logger.String("owner", s.owner), logger.Error(err))
		return false
	}

	items, err := s.store.FetchAll(s.ctx, s.owner)
	if err != nil {
		_ = sub.Close()
		s.log.Warn("refetch after reconnect failed",
			logger.String("owner", s.owner), logger.Error(err))
		return false
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = sub.Close()
		return true
	}
	// The refetch may still contain rows whose delete request is in
	// flight. Keep those hidden; the rollback path restores them if the
	// delete ultimately fails.
	if len(s.pendingRemoves) > 0 {
		kept := items[:0]
		for _, it := range items {
			if _, removing := s.pendingRemoves[it.ID]; !removing {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	s.items = items
	s.sortLocked()
	s.stale = false
	s.sub = sub
	s.mu.Unlock()

	s.log.Info("change feed recovered", logger.String("owner", s.owner))
	go s.pump(sub)
	return true
}

// sortLocked keeps the newest-first invariant. Stable sort on CreatedAt
// descending with id as tie-break, so two inserts delivered out of arrival
// order still converge to the same relative order on every client.
func (s *Synchronizer) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		a, b := s.items[i], s.items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (s *Synchronizer) indexOfLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
