package triage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"stacksbot/internal/clarify"
	"stacksbot/internal/classifier"
	"stacksbot/internal/logging"
)

// Session is one conversation's triage state. Only the clarification
// exchange needs state; a turn that resolves in one pass never touches
// fields beyond History.
type Session struct {
	ID               string
	State            clarify.State
	Set              *clarify.Set
	OriginalQuestion string
	Depth            int
	History          []classifier.Message
	UpdatedAt        time.Time
}

// SessionStore holds live sessions with TTL expiry. Expired sessions are
// pruned lazily on access and by an explicit Prune call from a caller's
// ticker.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
}

// NewSessionStore creates a store with the given TTL. A non-positive TTL
// defaults to 30 minutes.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating a fresh one when id is empty
// or unknown or expired. The returned session is a copy; callers persist
// changes with Put.
func (s *SessionStore) Get(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok && time.Since(sess.UpdatedAt) <= s.ttl {
			return *sess
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	logging.SessionDebug("Fresh session %s", id)
	return Session{ID: id, State: clarify.StateResolved, UpdatedAt: time.Now()}
}

// Put stores the session, stamping UpdatedAt.
func (s *SessionStore) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now()
	s.sessions[sess.ID] = &sess
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of stored sessions, expired ones included until
// the next prune.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions idle past the TTL and returns how many went.
func (s *SessionStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	cutoff := time.Now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		logging.Session("Pruned %d expired sessions, %d live", pruned, len(s.sessions))
	}
	return pruned
}
