package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"parlor/models"
)

// Session is an authenticated HTTP client. IsAdmin is captured at login.
type Session struct {
	Token     string
	Username  string
	IsAdmin   bool
	ExpiresAt time.Time
}

// SessionStore keeps sessions in memory. Every successful lookup pushes the
// expiry out by ttl.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (s *SessionStore) Create(user *models.User) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	sess := &Session{
		Token:     uuid.NewString(),
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.Token] = sess
	return *sess
}

func (s *SessionStore) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	return *sess, true
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) sweepLocked(now time.Time) {
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}
