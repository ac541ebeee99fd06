package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := &redisCache{rdb: rdb, now: func() time.Time { return now }}
	ctx := context.Background()

	e := Entry{AccountID: "a1", AccessKeyID: "x", SecretAccessKey: "y", SessionToken: "z", Expiration: now.Add(time.Hour)}
	require.NoError(t, c.Put(ctx, e))

	got, ok, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.SessionToken, got.SessionToken)
	assert.True(t, e.Expiration.Equal(got.Expiration))
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"a1"))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheSkipsExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Now()
	c := &redisCache{rdb: rdb, now: func() time.Time { return now }}
	require.NoError(t, c.Put(context.Background(), Entry{AccountID: "a1", Expiration: now.Add(-time.Minute)}))
	assert.False(t, mr.Exists(redisKeyPrefix+"a1"))
}
