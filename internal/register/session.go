package register

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a session may sit idle before it expires.
const DefaultTimeout = 300 * time.Second

var (
	// ErrNoSession means the user has no active submission.
	ErrNoSession = errors.New("no active submission")
	// ErrStale means a callback referenced a session that no longer exists,
	// typically a leftover keyboard from an expired or replaced flow.
	ErrStale = errors.New("stale submission session")
	// ErrNotOwner means someone pressed a button on another user's flow.
	ErrNotOwner = errors.New("not your submission")
)

// Session is one user's live submission flow plus its bookkeeping.
// Flow itself is not safe for concurrent use: two dispatch workers can
// pick up updates for the same user at once, so every Flow access must
// happen between Lock and Unlock. The manager's mutex and a session's
// mutex are never held together.
type Session struct {
	ID       string
	UserID   int64
	ChatID   int64
	Flow     *Flow
	LastSeen time.Time

	mu sync.Mutex
}

// Lock serializes access to the session's Flow.
func (s *Session) Lock() { s.mu.Lock() }

func (s *Session) Unlock() { s.mu.Unlock() }

// Manager owns all live sessions, at most one per user. It is safe for
// concurrent use by the dispatch loop and the expiry sweeper.
type Manager struct {
	mu      sync.Mutex
	byUser  map[int64]*Session
	byID    map[string]*Session
	timeout time.Duration
	now     func() time.Time
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		byUser:  make(map[int64]*Session),
		byID:    make(map[string]*Session),
		timeout: timeout,
		now:     time.Now,
	}
}

// Begin starts a fresh session for the user, replacing any existing one.
// The replaced session, if any, is returned so the caller can tell the
// user their previous draft was discarded.
func (m *Manager) Begin(userID, chatID int64) (s *Session, replaced *Session) {
	m.mu.Lock()
	if old := m.byUser[userID]; old != nil {
		delete(m.byID, old.ID)
		replaced = old
	}
	s = &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		ChatID:   chatID,
		Flow:     NewFlow(),
		LastSeen: m.now(),
	}
	m.byUser[userID] = s
	m.byID[s.ID] = s
	m.mu.Unlock()

	if replaced != nil {
		replaced.Lock()
		replaced.Flow.Cancel()
		replaced.Unlock()
	}
	return s, replaced
}

// ByUser returns the user's live session, refreshing its idle clock.
// An idle-expired session is expired in place and ErrNoSession returned.
func (m *Manager) ByUser(userID int64) (*Session, error) {
	m.mu.Lock()
	s := m.byUser[userID]
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if m.idleLocked(s) {
		m.removeLocked(s)
		m.mu.Unlock()
		expire(s)
		return nil, ErrNoSession
	}
	s.LastSeen = m.now()
	m.mu.Unlock()
	return s, nil
}

// Resolve looks a session up by id (from callback payloads) and checks
// the presser owns it. The idle clock refreshes on success.
func (m *Manager) Resolve(sessionID string, fromUser int64) (*Session, error) {
	m.mu.Lock()
	s := m.byID[sessionID]
	if s == nil {
		m.mu.Unlock()
		return nil, ErrStale
	}
	if s.UserID != fromUser {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if m.idleLocked(s) {
		m.removeLocked(s)
		m.mu.Unlock()
		expire(s)
		return nil, ErrStale
	}
	s.LastSeen = m.now()
	m.mu.Unlock()
	return s, nil
}

// End removes a finished session. Safe to call twice.
func (m *Manager) End(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.byUser[s.UserID]; cur == s {
		delete(m.byUser, s.UserID)
	}
	delete(m.byID, s.ID)
}

// Sweep expires every idle session and returns them so the caller can
// notify their owners. Meant to run on a ticker.
func (m *Manager) Sweep() []*Session {
	m.mu.Lock()
	var expired []*Session
	for _, s := range m.byUser {
		if m.idleLocked(s) {
			m.removeLocked(s)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		expire(s)
	}
	return expired
}

// SetTimeout retunes the idle expiry for all sessions, live ones
// included. Zero or negative restores the default.
func (m *Manager) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// idleLocked reports whether s has sat past the timeout. Caller holds mu.
func (m *Manager) idleLocked(s *Session) bool {
	return m.now().Sub(s.LastSeen) > m.timeout
}

// removeLocked drops s from both indexes. Caller holds mu.
func (m *Manager) removeLocked(s *Session) {
	if cur := m.byUser[s.UserID]; cur == s {
		delete(m.byUser, s.UserID)
	}
	delete(m.byID, s.ID)
}

// expire marks a removed session's flow timed out. Called with the
// manager's mutex released so the two locks never nest.
func expire(s *Session) {
	s.Lock()
	s.Flow.Expire()
	s.Unlock()
}
