package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/giftshop/internal/domain/cart"
)

var _ cart.SnapshotStore = (*Snapshots)(nil)

// Snapshots stores cart snapshots as single values that expire after ttl of
// inactivity.
type Snapshots struct {
	store cmdable
	ttl   time.Duration
}

// NewSnapshots returns a cart.SnapshotStore on the given client. A zero ttl
// keeps snapshots forever.
func NewSnapshots(client *redis.Client, ttl time.Duration) *Snapshots {
	return &Snapshots{store: client, ttl: ttl}
}

// Load returns nil data when nothing is stored under key.
func (s *Snapshots) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.store.Get(ctx, buildKey("cart", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cart %q: %w", key, err)
	}
	return data, nil
}

func (s *Snapshots) Save(ctx context.Context, key string, data []byte) error {
	if err := s.store.Set(ctx, buildKey("cart", key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving cart %q: %w", key, err)
	}
	return nil
}
