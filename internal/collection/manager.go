package collection

import (
	"context"
	"sync"
	"time"

	"github.com/marqd/marqd/internal/logger"
)

const (
	// DefaultIdleTTL is how long an untouched synchronizer survives
	DefaultIdleTTL = 30 * time.Minute
	// DefaultReapInterval is how often idle instances are collected
	DefaultReapInterval = 5 * time.Minute
)

// Manager is the per-owner synchronizer registry. Requests of the same
// user share one instance; instances idle past the TTL are disposed by a
// periodic reaper so abandoned sessions do not leak feed subscriptions.
type Manager struct {
	store Store
	feed  Feed
	log   logger.Logger

	idleTTL      time.Duration
	reapInterval time.Duration

	mu     sync.Mutex
	active map[string]*Synchronizer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a synchronizer registry. Zero durations fall back to
// the defaults.
func NewManager(store Store, feed Feed, log logger.Logger, idleTTL, reapInterval time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}
	return &Manager{
		store:        store,
		feed:         feed,
		log:          log,
		idleTTL:      idleTTL,
		reapInterval: reapInterval,
		active:       make(map[string]*Synchronizer),
		stopCh:       make(chan struct{}),
	}
}

// Acquire returns the live synchronizer for owner, creating one if the
// previous instance was disposed or never existed. The caller still has to
// Initialize it (idempotent once Ready).
func (m *Manager) Acquire(owner string) *Synchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.active[owner]; ok && !s.Disposed() {
		s.touch()
		return s
	}

	s := NewSynchronizer(owner, m.store, m.feed, m.log)
	m.active[owner] = s
	return s
}

// Release disposes and forgets the synchronizer for owner (logout path).
func (m *Manager) Release(owner string) {
	m.mu.Lock()
	s, ok := m.active[owner]
	delete(m.active, owner)
	m.mu.Unlock()

	if ok {
		s.Dispose()
	}
}

// Count returns the number of registered synchronizers.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Start begins the periodic reap loop.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.reapInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reap()
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the reaper and disposes every registered synchronizer.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]*Synchronizer, 0, len(m.active))
	for _, s := range m.active {
		all = append(all, s)
	}
	m.active = make(map[string]*Synchronizer)
	m.mu.Unlock()

	for _, s := range all {
		s.Dispose()
	}
}

func (m *Manager) reap() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var victims []*Synchronizer
	for owner, s := range m.active {
		if s.Disposed() || s.LastAccess().Before(cutoff) {
			victims = append(victims, s)
			delete(m.active, owner)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.Dispose()
	}
	if len(victims) > 0 {
		m.log.Info("reaped idle synchronizers", logger.Int("count", len(victims)))
	}
}
