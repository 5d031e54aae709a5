package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// registerFailure returns the remaining lock in milliseconds, or 0 while under the threshold.
// KEYS: failure counter, lock. ARGV: lockout ms, max failures.
var registerFailure = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[2])
if ttl > 0 then
  return ttl
end
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n >= tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[1])
  redis.call('DEL', KEYS[1])
  return tonumber(ARGV[1])
end
return 0
`)

// Redis is a Tracker shared by every replica
type Redis struct {
	client redis.Cmdable
	prefix string
	policy Policy
}

// NewRedis creates a tracker storing its keys under prefix
func NewRedis(client redis.Cmdable, prefix string, p Policy) *Redis {
	return &Redis{client: client, prefix: prefix, policy: p}
}

func (r *Redis) failKey(key string) string { return r.prefix + ":fail:" + key }
func (r *Redis) lockKey(key string) string { return r.prefix + ":lock:" + key }

func (r *Redis) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.lockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl: %w", err)
	}
	// -1 and -2 come back as negative durations
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *Redis) Fail(ctx context.Context, key string) (time.Duration, error) {
	ms, err := registerFailure.Run(ctx, r.client,
		[]string{r.failKey(key), r.lockKey(key)},
		r.policy.Lockout.Milliseconds(), r.policy.MaxFailures,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis register failure: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.failKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
