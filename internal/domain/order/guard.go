package order

import (
	"context"
	"sync"
)

// Guard marks a submission as in flight. Acquire reports ok=false when the key
// is already held; release must be called once the submission finishes.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

var _ Guard = (*LocalGuard)(nil)

// LocalGuard is an in-process Guard.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}
