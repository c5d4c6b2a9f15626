package redis

import (
	"context"
	"errors"
	"time"
)

var (
	ErrKeyExists = errors.New("idempotency key already exists")
)

const idempotencyPending = "pending"

// CheckAndSetIdempotency claims key for a new request. It returns (nil, nil) when the caller owns
// the key, the cached response when a previous request completed, or ErrKeyExists while the
// original request is still in flight.
func (c *Client) CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	prefixedKey := c.prefixKey("idempotency:" + key)

	set, err := c.rdb.SetNX(ctx, prefixedKey, idempotencyPending, ttl).Result()
	if err != nil {
		return nil, err
	}

	if set {
		return nil, nil
	}

	val, err := c.rdb.Get(ctx, prefixedKey).Result()
	if err != nil {
		return nil, err
	}

	if val == idempotencyPending {
		return nil, ErrKeyExists
	}

	return []byte(val), nil
}

// MarkIdempotencyComplete stores the response replayed to later requests with the same key.
func (c *Client) MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	prefixedKey := c.prefixKey("idempotency:" + key)

	return c.rdb.Set(ctx, prefixedKey, response, ttl).Err()
}

// MarkIdempotencyFailed frees the key so the client can retry.
func (c *Client) MarkIdempotencyFailed(ctx context.Context, key string) error {
	prefixedKey := c.prefixKey("idempotency:" + key)

	return c.rdb.Del(ctx, prefixedKey).Err()
}
