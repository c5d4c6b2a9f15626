package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult contains rate limit check result
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

var rateLimitSeq atomic.Uint64

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call("ZREMRANGEBYSCORE", key, "-inf", window_start)

	local count = redis.call("ZCARD", key)
	local allowed = 0
	local remaining = 0

	if count < limit then
		redis.call("ZADD", key, now, member)
		redis.call("PEXPIRE", key, window_ms)
		allowed = 1
		remaining = limit - count - 1
	end

	local oldest = now
	local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	if first[2] then
		oldest = tonumber(first[2])
	end

	return {allowed, remaining, oldest}
`)

// CheckRateLimit implements a sliding window rate limiter
// key: unique identifier (e.g., "referral-link:user-123")
// limit: max requests allowed
// window: time window for the limit
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	prefixedKey := c.prefixKey("ratelimit:" + key)
	now := c.now()
	windowStart := now.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), rateLimitSeq.Add(1))

	result, err := slidingWindowScript.Run(ctx, c.rdb, []string{prefixedKey},
		now.UnixMilli(),
		windowStart,
		limit,
		window.Milliseconds(),
		member,
	).Slice()
	if err != nil {
		return nil, err
	}

	allowed := result[0].(int64) == 1
	remaining := result[1].(int64)
	oldest := time.UnixMilli(result[2].(int64))

	// the window frees a slot once its oldest request ages out
	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   oldest.Add(window),
	}, nil
}
