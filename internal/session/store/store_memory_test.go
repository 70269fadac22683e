package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hubbridge/internal/session"
	"hubbridge/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func pendingSession() *session.Session {
	return &session.Session{
		State:     uuid.NewString(),
		Status:    session.StatusInitiated,
		CreatedAt: time.Now(),
	}
}

func authenticate(s *session.Session, portalID int64, at time.Time) session.Update {
	status := session.StatusAuthenticated
	access := "access-" + s.State
	refresh := "refresh-" + s.State
	expires := at.Add(time.Hour)
	return session.Update{
		Status:          &status,
		AccessToken:     &access,
		RefreshToken:    &refresh,
		ExpiresAt:       &expires,
		PortalID:        &portalID,
		AuthenticatedAt: &at,
	}
}

func (s *MemoryStoreSuite) TestCreateAndGet() {
	s.Run("round-trips a pending session", func() {
		sess := pendingSession()
		s.Require().NoError(s.store.Create(context.Background(), sess))

		found, err := s.store.Get(context.Background(), sess.State)
		s.Require().NoError(err)
		s.Equal(sess, found)
	})

	s.Run("rejects duplicate state", func() {
		sess := pendingSession()
		s.Require().NoError(s.store.Create(context.Background(), sess))
		err := s.store.Create(context.Background(), sess)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("returns ErrNotFound for unknown state", func() {
		_, err := s.store.Get(context.Background(), uuid.NewString())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestUpdate() {
	s.Run("merges only set fields", func() {
		sess := pendingSession()
		s.Require().NoError(s.store.Create(context.Background(), sess))

		now := time.Now()
		updated, err := s.store.Update(context.Background(), sess.State, authenticate(sess, 42, now))
		s.Require().NoError(err)
		s.Equal(session.StatusAuthenticated, updated.Status)
		s.Equal(int64(42), updated.PortalID)
		s.Equal(sess.CreatedAt, updated.CreatedAt, "unset fields stay untouched")

		// A refresh touches only the access token and expiry.
		access := "rotated"
		expires := now.Add(2 * time.Hour)
		updated, err = s.store.Update(context.Background(), sess.State, session.Update{
			AccessToken: &access,
			ExpiresAt:   &expires,
		})
		s.Require().NoError(err)
		s.Equal("rotated", updated.AccessToken)
		s.Equal("refresh-"+sess.State, updated.RefreshToken, "refresh token retained")
	})

	s.Run("returns ErrNotFound for unknown state", func() {
		_, err := s.store.Update(context.Background(), uuid.NewString(), session.Update{})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestFindByPortal() {
	s.Run("ignores pending sessions", func() {
		sess := pendingSession()
		sess.PortalID = 42
		s.Require().NoError(s.store.Create(context.Background(), sess))

		_, err := s.store.FindByPortal(context.Background(), 42)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns most recently authenticated session for portal", func() {
		older := pendingSession()
		newer := pendingSession()
		s.Require().NoError(s.store.Create(context.Background(), older))
		s.Require().NoError(s.store.Create(context.Background(), newer))

		base := time.Now()
		_, err := s.store.Update(context.Background(), older.State, authenticate(older, 42, base.Add(-time.Minute)))
		s.Require().NoError(err)
		_, err = s.store.Update(context.Background(), newer.State, authenticate(newer, 42, base))
		s.Require().NoError(err)

		found, err := s.store.FindByPortal(context.Background(), 42)
		s.Require().NoError(err)
		s.Equal(newer.State, found.State, "second install supersedes the first")
	})

	s.Run("returns ErrNotFound for unknown portal", func() {
		_, err := s.store.FindByPortal(context.Background(), 999)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestDeleteExpiredPending() {
	ctx := context.Background()
	stale := pendingSession()
	stale.CreatedAt = time.Now().Add(-time.Hour)
	fresh := pendingSession()
	authed := pendingSession()
	authed.CreatedAt = time.Now().Add(-time.Hour)

	s.Require().NoError(s.store.Create(ctx, stale))
	s.Require().NoError(s.store.Create(ctx, fresh))
	s.Require().NoError(s.store.Create(ctx, authed))
	_, err := s.store.Update(ctx, authed.State, authenticate(authed, 7, time.Now()))
	s.Require().NoError(err)

	removed, err := s.store.DeleteExpiredPending(ctx, time.Now().Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.store.Get(ctx, stale.State)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Get(ctx, fresh.State)
	s.Require().NoError(err)
	_, err = s.store.Get(ctx, authed.State)
	s.Require().NoError(err, "authenticated sessions survive the sweep")
}
