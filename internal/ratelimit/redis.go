package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "genlimit:"
	keyTTLSlack    = 30 * time.Second
)

// admitScript prunes, counts and records in one step so concurrent callers
// on other instances cannot both take the last slot.
//
// KEYS[1] window key
// ARGV[1] window start (ms), ARGV[2] now (ms), ARGV[3] limit, ARGV[4] member, ARGV[5] ttl (ms)
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter keeps one sorted set per identifier and category, scored by
// admission time, so several API instances share a quota.
type RedisLimiter struct {
	rdb      redis.Cmdable
	policies Policies
	now      func() time.Time
}

// NewRedisLimiter returns a limiter backed by rdb.
func NewRedisLimiter(rdb redis.Cmdable, policies Policies) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, policies: policies, now: time.Now}
}

// Admit records an admission if the identifier is under its ceiling. Redis
// errors fail open.
func (rl *RedisLimiter) Admit(ctx context.Context, identifier string, category Category) bool {
	policy, ok := rl.policies[category]
	if !ok || policy.Limit <= 0 {
		return false
	}

	now := rl.now()
	admitted, err := admitScript.Run(ctx, rl.rdb,
		[]string{redisKey(identifier, category)},
		formatMillis(now.Add(-policy.Window)),
		formatMillis(now),
		policy.Limit,
		uuid.NewString(),
		(policy.Window + keyTTLSlack).Milliseconds(),
	).Int()
	if err != nil {
		slog.Warn("rate limiter: redis unavailable, admitting",
			"error", err, "identifier", identifier, "category", category)
		return true
	}
	return admitted == 1
}

// Remaining reports admissions left in the current window. Redis errors
// report the full ceiling.
func (rl *RedisLimiter) Remaining(ctx context.Context, identifier string, category Category) int {
	policy, ok := rl.policies[category]
	if !ok {
		return 0
	}

	now := rl.now()
	used, err := rl.rdb.ZCount(ctx, redisKey(identifier, category),
		"("+formatMillis(now.Add(-policy.Window)), formatMillis(now)).Result()
	if err != nil {
		slog.Warn("rate limiter: reading usage failed", "error", err, "identifier", identifier)
		return policy.Limit
	}
	return max(policy.Limit-int(used), 0)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func redisKey(identifier string, category Category) string {
	return redisKeyPrefix + string(category) + ":" + identifier
}
