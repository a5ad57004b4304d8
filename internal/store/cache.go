package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "devicestatus:state:"

// StateCache mirrors the last published merged record per device in Redis so
// dashboard reads and fresh subscriptions don't have to wait for realtime
// traffic or hit Postgres.
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateCache(rdb *redis.Client) *StateCache {
	return &StateCache{rdb: rdb, ttl: 24 * time.Hour}
}

func (c *StateCache) Set(ctx context.Context, deviceID string, state []byte) error {
	return c.rdb.Set(ctx, stateKeyPrefix+deviceID, state, c.ttl).Err()
}

func (c *StateCache) Get(ctx context.Context, deviceID string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, stateKeyPrefix+deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (c *StateCache) Delete(ctx context.Context, deviceID string) error {
	return c.rdb.Del(ctx, stateKeyPrefix+deviceID).Err()
}
