package session

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	current *Session
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

func (s *memoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.current = &cp
	s.expires = s.now().Add(s.ttl)
	return nil
}

func (s *memoryStore) Get(ctx context.Context) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || !s.now().Before(s.expires) {
		return nil, nil
	}
	cp := *s.current
	return &cp, nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	return nil
}

func (s *memoryStore) Close() error { return nil }
