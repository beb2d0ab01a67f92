package ratelimit

// Backward compatibility re-exports from adapters/redis.
// New code should import "github.com/olegeech-me/statustracker/pkg/api/ratelimit/adapters/redis"

import (
	"context"
	"time"

	"github.com/olegeech-me/statustracker/pkg/api/ratelimit/adapters/redis"
	goredis "github.com/redis/go-redis/v9"
)

// DistributedLimiter wraps the Redis adapter for backward compatibility.
// Deprecated: Use pkg/api/ratelimit/adapters/redis.New() instead.
type DistributedLimiter = redis.DistributedLimiter

// NewDistributedLimiter creates a new distributed rate limiter.
// Deprecated: Use pkg/api/ratelimit/adapters/redis.New() instead.
func NewDistributedLimiter(client goredis.Cmdable, strategy Strategy) *DistributedLimiter {
	return redis.New(client, toRedisStrategy(strategy))
}

// toRedisStrategy maps this package's string-keyed Strategy onto the
// adapter's int-keyed one; the two are named independently to avoid an
// import cycle (adapters/redis cannot depend back on this package).
func toRedisStrategy(s Strategy) redis.Strategy {
	switch s {
	case StrategyTokenBucket:
		return redis.StrategyTokenBucket
	case StrategyLeakyBucket:
		return redis.StrategyLeakyBucket
	case StrategySlidingWindow:
		return redis.StrategySlidingWindow
	default:
		return redis.StrategyFixedWindow
	}
}

// DistributedLimiterInterface for testing/mocking.
type DistributedLimiterInterface interface {
	Allow(ctx context.Context, key string, limit int64, period time.Duration) (*Result, error)
}
