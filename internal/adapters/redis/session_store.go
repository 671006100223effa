package redis

// Package redis provides Redis-backed adapters: the persisted admin session
// and a pub/sub relay for auth events.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.SessionStore = (*SessionStore)(nil)

// SessionStore keeps the single admin session under one key.
// The key expires after ttl so an abandoned refresh token does not live forever.
type SessionStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewSessionStore creates a Redis-based session store.
func NewSessionStore(client redis.UniversalClient, key string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, key: key, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.UserID == "" {
		return errors.New("session user ID cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns nil, nil when no session is stored.
func (s *SessionStore) Load(ctx context.Context) (*domainauth.Session, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
