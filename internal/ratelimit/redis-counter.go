package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liveplay/engine/cache"
)

type redisCounter struct {
	client *redis.Client
}

func NewRedisCounter(redisClient *cache.RedisClient) Counter {
	return &redisCounter{client: redisClient.GetClient()}
}

func (c *redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	// First hit of a window owns setting its expiry; an expired key restarts
	// at 1 through the same INCR, so there is no delete/recreate race.
	if count == 1 {
		c.client.Expire(ctx, key, window)
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	return count, ttl, nil
}

func (c *redisCounter) Count(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, 0, nil
	} else if err != nil {
		return 0, 0, err
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		ttl = 0
	}

	return count, ttl, nil
}
