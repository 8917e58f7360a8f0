package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenking/giftshop/pkg/httpmiddleware"
)

// incrScript counts a hit and arms the expiry on the first one.
const incrScript = `local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window limiter shared by every API instance.
type RateLimiter struct {
	store  cmdable
	max    int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: client, max: max, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	k := buildKey("ratelimit", key, strconv.FormatInt(start.Unix(), 10))

	n, err := l.store.Eval(ctx, incrScript, []string{k}, l.window.Milliseconds()).Int64()
	if err != nil {
		return httpmiddleware.Decision{}, fmt.Errorf("incr %q: %w", k, err)
	}

	d := httpmiddleware.Decision{
		Limit:   l.max,
		ResetAt: start.Add(l.window),
		Allowed: n <= int64(l.max),
	}
	if d.Allowed {
		d.Remaining = l.max - int(n)
	}
	return d, nil
}
