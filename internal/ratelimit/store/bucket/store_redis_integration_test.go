//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fecsync/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisBucketStoreSuite) TestWindowIsSharedAcrossStores() {
	first := NewRedis(s.redis.Client)
	second := NewRedis(s.redis.Client)

	for range 2 {
		result, err := first.Allow(s.ctx, "fec:receipts", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
	}
	result, err := second.Allow(s.ctx, "fec:receipts", 3, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Zero(result.Remaining)

	denied, err := first.Allow(s.ctx, "fec:receipts", 3, time.Minute)
	s.Require().NoError(err)
	s.False(denied.Allowed)
	s.True(denied.ResetAt.After(time.Now()))
}

func (s *RedisBucketStoreSuite) TestWindowSlides() {
	store := NewRedis(s.redis.Client)
	base := time.Now()
	store.now = func() time.Time { return base }

	_, err := store.Allow(s.ctx, "fec:slide", 1, time.Second)
	s.Require().NoError(err)
	denied, err := store.Allow(s.ctx, "fec:slide", 1, time.Second)
	s.Require().NoError(err)
	s.False(denied.Allowed)
	s.Equal(base.Add(time.Second).UnixMilli(), denied.ResetAt.UnixMilli())

	store.now = func() time.Time { return base.Add(1100 * time.Millisecond) }
	allowed, err := store.Allow(s.ctx, "fec:slide", 1, time.Second)
	s.Require().NoError(err)
	s.True(allowed.Allowed)
}
