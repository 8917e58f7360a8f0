package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/domain/order"
)

// releaseScript deletes the marker only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const releaseTimeout = 2 * time.Second

var _ order.Guard = (*Guard)(nil)

// Guard marks in-flight submissions with SET NX so that only one instance
// submits a session at a time. The marker expires after ttl in case the
// holder dies.
type Guard struct {
	store cmdable
	ttl   time.Duration
	lg    *zap.Logger
}

func NewGuard(client *redis.Client, ttl time.Duration, lg *zap.Logger) *Guard {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Guard{store: client, ttl: ttl, lg: lg}
}

func (g *Guard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	k := buildKey("submit", key)
	token := uuid.NewString()

	ok, err := g.store.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %q: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(ctx, k, token) })
	}, true, nil
}

func (g *Guard) release(ctx context.Context, k, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := g.store.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
		// The marker expires on its own.
		g.lg.Warn("Release submission marker", zap.String("key", k), zap.Error(err))
	}
}
