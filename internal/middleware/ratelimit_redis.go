package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every replica
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	window  time.Duration
	maxReqs int64
}

// NewRedisLimiter creates a limiter storing counters under prefix
func NewRedisLimiter(client redis.Cmdable, prefix string, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, window: window, maxReqs: int64(maxReqs)}
}

// windowIncr bumps the counter and arms its expiry in one step, so a counter never outlives
// its window even if the client dies between the two commands.
var windowIncr = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Allow increments the window counter for key. The first hit of a window sets its expiry.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":" + key
	count, err := windowIncr.Run(ctx, l.client, []string{k}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis window incr: %w", err)
	}
	return count <= l.maxReqs, nil
}
