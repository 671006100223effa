// Package memory provides an in-process ports.SessionStore.
// Sessions do not survive a restart; use the redis or sqlite stores for that.
package memory

import (
	"context"
	"errors"
	"sync"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.SessionStore = (*SessionStore)(nil)

// SessionStore holds at most one session in memory.
type SessionStore struct {
	mu   sync.Mutex
	sess *domainauth.Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore { return &SessionStore{} }

func (s *SessionStore) Load(_ context.Context) (*domainauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, nil
	}
	cp := *s.sess
	return &cp, nil
}

func (s *SessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.UserID == "" {
		return errors.New("session user ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = &sess
	return nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}
