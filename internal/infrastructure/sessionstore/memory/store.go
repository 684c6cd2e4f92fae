// Package memory is a single-process session store used when no redis address
// is configured. Expiry is checked lazily on read.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
)

type entry struct {
	session   domain.Session
	expiresAt time.Time
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]entry
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

// NewWithClock is used by tests to control expiry.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, sessionID)
		return nil, nil
	}

	copied := e.session
	copied.Messages = append([]domain.Message(nil), e.session.Messages...)
	return &copied, nil
}

func (s *Store) Save(_ context.Context, session *domain.Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("save session: missing session id")
	}

	copied := *session
	copied.Messages = append([]domain.Message(nil), session.Messages...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = entry{
		session:   copied,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
