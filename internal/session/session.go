// Package session manages per-connection viewer state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/matthewbaird/metaui/internal/pagecache"
)

// ErrNothingOpen is returned when a session has no collection open.
var ErrNothingOpen = errors.New("no collection open")

// Target is the collection a session is viewing.
type Target struct {
	ApplName string         `json:"appl_name"`
	Name     string         `json:"name"`
	Filters  map[string]any `json:"filters,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
}

// Session holds one viewer's state. Each session owns its page cache, so
// cache entries are never shared between viewers.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	store *pagecache.Store

	mu           sync.Mutex
	lastActiveAt time.Time
	target       *Target
}

// Store returns the session's page cache.
func (s *Session) Store() *pagecache.Store { return s.store }

// Touch updates the last activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActiveAt = now
	s.mu.Unlock()
}

// LastActiveAt returns the last activity timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// Open switches the session to a collection.
func (s *Session) Open(t Target, now time.Time) {
	s.mu.Lock()
	s.target = &t
	s.lastActiveAt = now
	s.mu.Unlock()
}

// Target returns the open collection, or nil.
func (s *Session) Target() *Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	t := *s.target
	return &t
}

// Entry returns the cache entry of the open collection.
func (s *Session) Entry() (*pagecache.Entry, *Target, error) {
	t := s.Target()
	if t == nil {
		return nil, nil, ErrNothingOpen
	}
	e, err := s.store.Collection(t.ApplName, t.Name).Entry(t.Filters)
	if err != nil {
		return nil, nil, err
	}
	return e, t, nil
}

func (s *Session) expired(now time.Time, maxAge, idle time.Duration) bool {
	return now.Sub(s.CreatedAt) > maxAge || now.Sub(s.LastActiveAt()) > idle
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	newStore    func() *pagecache.Store
	maxAge      time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. newStore builds the page cache each
// new session owns.
func NewManager(newStore func() *pagecache.Store, maxAge, idleTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		newStore:    newStore,
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
		now:         time.Now,
		log:         log.With("module", "session"),
		sessions:    make(map[string]*Session),
	}
}

// Create creates a new session and returns it.
func (m *Manager) Create() *Session {
	now := m.now()
	s := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		store:        m.newStore(),
		lastActiveAt: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.expired(m.now(), m.maxAge, m.idleTimeout) {
		m.Remove(id)
		return nil
	}
	return s
}

// Remove deletes a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions and returns how many it
// removed.
func (m *Manager) Cleanup() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.expired(now, m.maxAge, m.idleTimeout) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := m.Cleanup(); n > 0 {
				m.log.Info("expired sessions removed", "count", n, "live", m.Len())
			}
		}
	}
}
