package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/metrics"
)

// sessionRecord pairs a session with the lock that serializes requests
// against it.
type sessionRecord struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	session *gptj.Session
}

// SessionStore holds the live sessions of one server.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionRecord),
	}
}

func (s *SessionStore) Create(session *gptj.Session, now time.Time) *sessionRecord {
	rec := &sessionRecord{
		ID:        newSessionID(),
		CreatedAt: now,
		session:   session,
	}
	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()
	metrics.SessionsActive.Inc()
	return rec
}

func (s *SessionStore) Get(id string) (*sessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		metrics.SessionsActive.Dec()
	}
	return ok
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
