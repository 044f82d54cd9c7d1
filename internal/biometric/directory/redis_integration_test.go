//go:build integration

package directory

import (
	"context"
	"testing"

	"examgate/pkg/domain"
	"examgate/pkg/platform/sentinel"
	"examgate/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

type RedisDirectorySuite struct {
	suite.Suite
	redis *containers.RedisContainer
	dir   *RedisDirectory
}

func TestRedisDirectorySuite(t *testing.T) {
	suite.Run(t, new(RedisDirectorySuite))
}

func (s *RedisDirectorySuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.dir = NewRedisDirectory(s.redis.Client)
}

func (s *RedisDirectorySuite) TearDownSuite() {
	s.redis.Terminate(s.T())
}

func (s *RedisDirectorySuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisDirectorySuite) TestRoundTrip() {
	ctx := context.Background()

	_, err := s.dir.Lookup(ctx, "a@x.com")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.dir.Remember(ctx, "a@x.com", domain.SubjectID(7)))
	id, err := s.dir.Lookup(ctx, "a@x.com")
	s.Require().NoError(err)
	s.Equal(domain.SubjectID(7), id)
}

func (s *RedisDirectorySuite) TestCorruptEntry() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.Set(ctx, keyPrefix+"b@x.com", "zero", 0).Err())

	_, err := s.dir.Lookup(ctx, "b@x.com")
	s.Error(err)
	s.NotErrorIs(err, sentinel.ErrNotFound)
}
