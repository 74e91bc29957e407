package matchqueue

import (
	"context"
	"time"

	"paircall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements RateLimiter on a shared fixed-window counter,
// so the cap holds across API replicas.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	return utils.AllowRate(ctx, l.rdb, "rate:match:"+userID, l.limit, l.window)
}
