// Package redis persists conversation sessions with a server-side TTL, so
// expiry works across process restarts and multiple API replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/docquery/internal/core/domain"
)

const keyPrefix = "session:"

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewWithClient is used by tests to point the store at miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrSessionStore, "get session", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, domain.WrapError(domain.ErrSessionStore, "decode session", err)
	}
	return &session, nil
}

func (s *Store) Save(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("save session: missing session id")
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return domain.WrapError(domain.ErrSessionStore, "encode session", err)
	}
	if err := s.client.Set(ctx, keyPrefix+session.ID, raw, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrSessionStore, "save session", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return domain.WrapError(domain.ErrSessionStore, "delete session", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
