package handler

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/domain/auth"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/checkout"
)

// CartFactory opens the cart stored under key.
type CartFactory func(ctx context.Context, key string) *cart.Store

// Shopper is the checkout session and cart of one client.
type Shopper struct {
	Checkout *checkout.Session
	Cart     *cart.Store

	// placed lists orders completed by earlier sessions of this client.
	placed   []string
	lastSeen time.Time
}

// Placed reports whether orderID was placed by this shopper.
func (sh *Shopper) Placed(orderID string) bool {
	return sh.Checkout.State().OrderID == orderID || slices.Contains(sh.placed, orderID)
}

// Sessions keeps shoppers in memory, keyed by checkout session ID. Shoppers
// idle for longer than ttl are dropped by Sweep; their carts stay in the
// snapshot store.
type Sessions struct {
	mu       sync.Mutex
	shoppers map[string]*Shopper
	ttl      time.Duration
	openCart CartFactory
	now      func() time.Time
}

func NewSessions(ttl time.Duration, openCart CartFactory) *Sessions {
	return &Sessions{
		shoppers: make(map[string]*Shopper),
		ttl:      ttl,
		openCart: openCart,
		now:      time.Now,
	}
}

// Get returns the shopper for id. An unknown but well-formed id, left over
// from a restart or an idle sweep, is resumed so its stored cart is loaded
// again; anything else starts a new session. A new session starts logged in
// when identity is set.
func (s *Sessions) Get(ctx context.Context, id string, identity *auth.Identity) *Shopper {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sh, ok := s.shoppers[id]; ok && id != "" {
		sh.lastSeen = now
		return sh
	}

	var sess *checkout.Session
	if _, err := uuid.Parse(id); err == nil {
		sess = checkout.ResumeSession(id, identity)
	} else {
		sess = checkout.NewSession(identity)
	}
	return s.add(ctx, sess, nil, now)
}

// Renew replaces a completed shopper with a fresh session and an empty cart.
// The completed shopper stays reachable under its old ID until swept, so a
// repeated submit still gets its order back.
func (s *Sessions) Renew(ctx context.Context, done *Shopper) *Shopper {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := done.Checkout.State()
	placed := slices.Clone(done.placed)
	if st.OrderID != "" {
		placed = append(placed, st.OrderID)
	}
	return s.add(ctx, checkout.NewSession(st.Identity), placed, s.now())
}

// add registers a shopper for sess. Must be called with mu held.
func (s *Sessions) add(ctx context.Context, sess *checkout.Session, placed []string, now time.Time) *Shopper {
	id := sess.ID()
	sh := &Shopper{
		Checkout: sess,
		Cart:     s.openCart(ctx, cart.StorageKey+":"+id),
		placed:   placed,
		lastSeen: now,
	}
	s.shoppers[id] = sh
	return sh
}

// Sweep drops idle shoppers and returns how many were dropped.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, sh := range s.shoppers {
		if sh.lastSeen.Before(cutoff) {
			delete(s.shoppers, id)
			n++
		}
	}
	return n
}

// Run sweeps idle shoppers every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration, lg *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				lg.Debug("Dropped idle checkout sessions", zap.Int("count", n))
			}
		}
	}
}
