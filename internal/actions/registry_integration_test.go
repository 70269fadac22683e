//go:build integration

package actions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"hubbridge/internal/actions"
	"hubbridge/pkg/platform/sentinel"
	"hubbridge/pkg/testutil/containers"
)

type RedisRegistrySuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	registry *actions.RedisRegistry
}

func TestRedisRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisRegistrySuite))
}

func (s *RedisRegistrySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.registry = actions.NewRedisRegistry(s.redis.Client)
}

func (s *RedisRegistrySuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisRegistrySuite) TestPutGetDeleteRoundTrip() {
	ctx := context.Background()
	cb := actions.Callback{ID: "cb-1", PortalID: 42, ObjectID: "7001"}
	s.Require().NoError(s.registry.Put(ctx, cb))

	found, err := s.registry.Get(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal(cb, found)

	s.Require().NoError(s.registry.Delete(ctx, "cb-1"))
	_, err = s.registry.Get(ctx, "cb-1")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisRegistrySuite) TestPutOverwritesRedelivery() {
	ctx := context.Background()
	s.Require().NoError(s.registry.Put(ctx, actions.Callback{ID: "cb-1", PortalID: 42, ObjectID: "7001"}))
	s.Require().NoError(s.registry.Put(ctx, actions.Callback{ID: "cb-1", PortalID: 42, ObjectID: "7002"}))

	found, err := s.registry.Get(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal("7002", found.ObjectID)
}

type PostgresRegistrySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	registry *actions.PostgresRegistry
}

func TestPostgresRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRegistrySuite))
}

func (s *PostgresRegistrySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(actions.EnsureSchema(context.Background(), s.postgres.DB))
	s.registry = actions.NewPostgresRegistry(s.postgres.DB)
}

func (s *PostgresRegistrySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "callbacks"))
}

func (s *PostgresRegistrySuite) TestPutGetDeleteRoundTrip() {
	ctx := context.Background()
	cb := actions.Callback{ID: "cb-1", PortalID: 42, ObjectID: "7001"}
	s.Require().NoError(s.registry.Put(ctx, cb))

	found, err := s.registry.Get(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal(cb, found)

	s.Require().NoError(s.registry.Delete(ctx, "cb-1"))
	_, err = s.registry.Get(ctx, "cb-1")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRegistrySuite) TestPutUpsertsRedelivery() {
	ctx := context.Background()
	s.Require().NoError(s.registry.Put(ctx, actions.Callback{ID: "cb-1", PortalID: 42, ObjectID: "7001"}))
	s.Require().NoError(s.registry.Put(ctx, actions.Callback{ID: "cb-1", PortalID: 43, ObjectID: "7002"}))

	found, err := s.registry.Get(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal(int64(43), found.PortalID)
	s.Equal("7002", found.ObjectID)
}
