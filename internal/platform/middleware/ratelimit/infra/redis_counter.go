package infra

import (
	"context"
	"strconv"
	"time"

	"bulwark/internal/platform/cache"
	"bulwark/internal/platform/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCounter counts in the shared store so every API replica sees the same
// window. Keys embed the window start so a window never carries over.
type RedisCounter struct {
	Client *cache.Client
	Prefix string
}

func (c RedisCounter) Increment(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := domain.WindowStart(now, window)
	storeKey := c.prefix() + ":" + key.String() + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	err := c.Client.Do(ctx, "ratelimit_incr", func(ctx context.Context, rdb redis.Cmdable) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, storeKey)
			pipe.Expire(ctx, storeKey, window)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return incr.Val(), start.Add(window), nil
}

func (c RedisCounter) prefix() string {
	if c.Prefix == "" {
		return "ratelimit"
	}
	return c.Prefix
}
