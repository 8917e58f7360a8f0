package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/apperr"
)

// Store is a single shopper's cart. All mutations are serialized; each one
// persists the resulting snapshot before it becomes visible, so a failed save
// leaves the previous state in place.
type Store struct {
	key       string
	oracle    StockOracle
	snapshots SnapshotStore
	notifier  Notifier
	lg        *zap.Logger

	mu    sync.Mutex
	lines []LineItem
	gifts []GiftLineItem
}

// New loads the cart stored under key. Loading never fails: missing or
// unreadable data yields an empty cart and malformed entries are dropped.
func New(
	ctx context.Context,
	key string,
	oracle StockOracle,
	snapshots SnapshotStore,
	notifier Notifier,
	lg *zap.Logger,
) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Store{
		key:       key,
		oracle:    oracle,
		snapshots: snapshots,
		notifier:  notifier,
		lg:        lg,
	}

	data, err := snapshots.Load(ctx, key)
	if err != nil {
		lg.Warn("Load cart snapshot", zap.String("key", key), zap.Error(err))
		return s
	}
	snap, skipped, err := DecodeSnapshot(data)
	if err != nil {
		lg.Warn("Stored cart is malformed, starting empty", zap.String("key", key), zap.Error(err))
		return s
	}
	if skipped > 0 {
		lg.Warn("Dropped malformed cart entries", zap.String("key", key), zap.Int("skipped", skipped))
	}
	s.lines = snap.Cart
	s.gifts = snap.Gifts
	return s
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Cart:  slices.Clone(s.lines),
		Gifts: cloneGifts(s.gifts),
	}
}

// AddToCart adds qty units of a variant, merging into an existing line.
func (s *Store) AddToCart(ctx context.Context, productID, optionID string, qty int) error {
	if qty <= 0 {
		return apperr.Newf(apperr.CodeInvalidQuantity, "quantity must be greater than 0, got %d", qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.find(productID, optionID)
	held := 0
	if idx >= 0 {
		held = s.lines[idx].Quantity
	}
	if err := s.checkStock(ctx, productID, optionID, held, qty); err != nil {
		return err
	}

	lines := slices.Clone(s.lines)
	if idx >= 0 {
		lines[idx].Quantity += qty
	} else {
		lines = append(lines, LineItem{ProductID: productID, PackageOptionID: optionID, Quantity: qty})
	}

	return s.commit(ctx, lines, s.gifts, Event{
		Kind:            EventAdded,
		ProductID:       productID,
		PackageOptionID: optionID,
		Quantity:        qty,
	})
}

// UpdateQuantity sets the quantity of a line. A non-positive quantity removes
// the line. Only an increase is checked against stock, and only by the delta.
func (s *Store) UpdateQuantity(ctx context.Context, productID, optionID string, qty int) error {
	if qty <= 0 {
		return s.RemoveFromCart(ctx, productID, optionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.find(productID, optionID)
	current := 0
	if idx >= 0 {
		current = s.lines[idx].Quantity
	}
	if qty == current {
		return nil
	}
	if delta := qty - current; delta > 0 {
		if err := s.checkStock(ctx, productID, optionID, current, delta); err != nil {
			return err
		}
	}

	lines := slices.Clone(s.lines)
	if idx >= 0 {
		lines[idx].Quantity = qty
	} else {
		lines = append(lines, LineItem{ProductID: productID, PackageOptionID: optionID, Quantity: qty})
	}

	return s.commit(ctx, lines, s.gifts, Event{
		Kind:            EventUpdated,
		ProductID:       productID,
		PackageOptionID: optionID,
		Quantity:        qty,
	})
}

// RemoveFromCart removes a line. Removing a missing line is a no-op.
func (s *Store) RemoveFromCart(ctx context.Context, productID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.find(productID, optionID)
	if idx < 0 {
		return nil
	}
	lines := slices.Delete(slices.Clone(s.lines), idx, idx+1)

	return s.commit(ctx, lines, s.gifts, Event{
		Kind:            EventRemoved,
		ProductID:       productID,
		PackageOptionID: optionID,
	})
}

// AddGift adds a gift line, replacing any gift with the same ID.
func (s *Store) AddGift(ctx context.Context, g GiftLineItem) error {
	if g.Quantity <= 0 {
		return apperr.Newf(apperr.CodeInvalidQuantity, "gift quantity must be greater than 0, got %d", g.Quantity)
	}
	if g.ID == "" {
		return apperr.New(apperr.CodeValidation, "gift id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gifts := cloneGifts(s.gifts)
	if i := slices.IndexFunc(gifts, func(x GiftLineItem) bool { return x.ID == g.ID }); i >= 0 {
		gifts[i] = g
	} else {
		gifts = append(gifts, g)
	}

	return s.commit(ctx, s.lines, gifts, Event{Kind: EventGiftAdded, ProductID: g.ID, Quantity: g.Quantity})
}

// RemoveGift removes a gift line. Removing a missing gift is a no-op.
func (s *Store) RemoveGift(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.gifts, func(x GiftLineItem) bool { return x.ID == id })
	if i < 0 {
		return nil
	}
	gifts := slices.Delete(cloneGifts(s.gifts), i, i+1)

	return s.commit(ctx, s.lines, gifts, Event{Kind: EventGiftRemoved, ProductID: id})
}

// Clear empties the cart and gift lines.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(ctx, nil, nil, Event{Kind: EventCleared})
}

// checkStock is the single stock precondition for every quantity increase:
// the variant must be active and held+delta must fit the available quantity.
func (s *Store) checkStock(ctx context.Context, productID, optionID string, held, delta int) error {
	stock, err := s.oracle.Query(ctx, productID, optionID)
	if err != nil {
		return errors.Wrap(err, "query stock")
	}
	if !stock.IsActive {
		return apperr.Newf(apperr.CodeProductUnavailable, "product %s/%s is unavailable", productID, optionID)
	}
	if held+delta > stock.AvailableQuantity {
		return apperr.Newf(apperr.CodeInsufficientStock,
			"requested %d with %d in cart, %d available", delta, held, stock.AvailableQuantity)
	}
	return nil
}

// commit persists the new state and only then swaps it in. Must be called
// with mu held.
func (s *Store) commit(ctx context.Context, lines []LineItem, gifts []GiftLineItem, ev Event) error {
	data := EncodeSnapshot(Snapshot{Cart: lines, Gifts: gifts})
	if err := s.snapshots.Save(ctx, s.key, data); err != nil {
		return errors.Wrap(err, "persist cart")
	}
	s.lines = lines
	s.gifts = gifts
	s.notifier.Notify(ctx, ev)
	return nil
}

func (s *Store) find(productID, optionID string) int {
	return slices.IndexFunc(s.lines, func(l LineItem) bool {
		return l.ProductID == productID && l.PackageOptionID == optionID
	})
}

func cloneGifts(gifts []GiftLineItem) []GiftLineItem {
	out := slices.Clone(gifts)
	for i, g := range out {
		if g.Recipient != nil {
			r := *g.Recipient
			out[i].Recipient = &r
		}
	}
	return out
}
