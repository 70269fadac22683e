package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hubbridge/internal/session"
	"hubbridge/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map for tests and development. It
// intentionally favors clarity over performance.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

// NewInMemory constructs an empty in-memory session store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]session.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.State]; ok {
		return fmt.Errorf("session %q: %w", sess.State, sentinel.ErrAlreadyExists)
	}
	s.sessions[sess.State] = *sess
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, state string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[state]; ok {
		return &sess, nil
	}
	return nil, fmt.Errorf("session %q: %w", state, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Update(_ context.Context, state string, upd session.Update) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[state]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", state, sentinel.ErrNotFound)
	}
	upd.Apply(&sess)
	s.sessions[state] = sess
	return &sess, nil
}

func (s *InMemoryStore) FindByPortal(_ context.Context, portalID int64) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *session.Session
	for state := range s.sessions {
		sess := s.sessions[state]
		if sess.PortalID != portalID || !sess.Authenticated() {
			continue
		}
		if best == nil || sess.AuthenticatedAt.After(best.AuthenticatedAt) {
			copied := sess
			best = &copied
		}
	}
	if best == nil {
		return nil, fmt.Errorf("portal %d: %w", portalID, sentinel.ErrNotFound)
	}
	return best, nil
}

func (s *InMemoryStore) DeleteExpiredPending(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for state, sess := range s.sessions {
		if sess.Status == session.StatusInitiated && sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, state)
			removed++
		}
	}
	return removed, nil
}
