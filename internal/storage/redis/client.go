// Package redis implements the cart snapshot store, the order submission guard
// and the shared rate limiter on Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "giftshop"

// cmdable is the subset of the go-redis client used by this package.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Options configures the connection.
type Options struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		parsed.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		parsed.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func buildKey(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}
