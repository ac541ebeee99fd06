package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fleet:cred:"

type redisCache struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisCache keeps entries with a TTL matching their expiration, so the
// server drops them once they are useless.
func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb, now: time.Now}
}

func (c *redisCache) Get(ctx context.Context, accountID string) (Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (c *redisCache) Put(ctx context.Context, e Entry) error {
	ttl := e.Expiration.Sub(c.now())
	if ttl <= 0 {
		return c.Delete(ctx, e.AccountID)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+e.AccountID, raw, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, accountID string) error {
	return c.rdb.Del(ctx, redisKeyPrefix+accountID).Err()
}
