//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hubbridge/internal/session"
	"hubbridge/internal/session/store"
	"hubbridge/pkg/platform/sentinel"
	"hubbridge/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) newPending() *session.Session {
	sess := &session.Session{
		State:     uuid.NewString(),
		Status:    session.StatusInitiated,
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
	s.Require().NoError(s.store.Create(context.Background(), sess))
	return sess
}

func (s *RedisStoreSuite) authenticate(state string, portalID int64, at time.Time) *session.Session {
	status := session.StatusAuthenticated
	access := "access-" + state
	refresh := "refresh-" + state
	expires := at.Add(30 * time.Minute)
	sess, err := s.store.Update(context.Background(), state, session.Update{
		Status:          &status,
		AccessToken:     &access,
		RefreshToken:    &refresh,
		ExpiresAt:       &expires,
		PortalID:        &portalID,
		AuthenticatedAt: &at,
	})
	s.Require().NoError(err)
	return sess
}

func (s *RedisStoreSuite) TestCreateGetRoundTrip() {
	sess := s.newPending()

	found, err := s.store.Get(context.Background(), sess.State)
	s.Require().NoError(err)
	s.Equal(sess.State, found.State)
	s.Equal(session.StatusInitiated, found.Status)
	s.Equal(sess.CreatedAt.UnixMilli(), found.CreatedAt.UnixMilli())

	err = s.store.Create(context.Background(), sess)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyExists)
}

func (s *RedisStoreSuite) TestPortalIndexFollowsLatestInstall() {
	ctx := context.Background()
	first := s.newPending()
	second := s.newPending()

	base := time.Now().Truncate(time.Millisecond)
	s.authenticate(first.State, 42, base.Add(-time.Minute))
	s.authenticate(second.State, 42, base)

	found, err := s.store.FindByPortal(ctx, 42)
	s.Require().NoError(err)
	s.Equal(second.State, found.State)
	s.Equal("access-"+second.State, found.AccessToken)

	_, err = s.store.FindByPortal(ctx, 999)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestRefreshUpdateKeepsRefreshToken() {
	ctx := context.Background()
	sess := s.newPending()
	s.authenticate(sess.State, 7, time.Now())

	access := "rotated"
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	updated, err := s.store.Update(ctx, sess.State, session.Update{
		AccessToken: &access,
		ExpiresAt:   &expires,
	})
	s.Require().NoError(err)
	s.Equal("rotated", updated.AccessToken)
	s.Equal("refresh-"+sess.State, updated.RefreshToken)

	reread, err := s.store.FindByPortal(ctx, 7)
	s.Require().NoError(err)
	s.Equal("rotated", reread.AccessToken, "resolution re-reads current state")
}

func (s *RedisStoreSuite) TestDeleteExpiredPending() {
	ctx := context.Background()
	stale := &session.Session{
		State:     uuid.NewString(),
		Status:    session.StatusInitiated,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	s.Require().NoError(s.store.Create(ctx, stale))
	fresh := s.newPending()

	removed, err := s.store.DeleteExpiredPending(ctx, time.Now().Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.store.Get(ctx, stale.State)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Get(ctx, fresh.State)
	s.Require().NoError(err)
}
