// Package cart owns a shopper's cart and gift lines, gates every quantity
// increase on stock and keeps a durable snapshot of both.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// StorageKey is the fixed key the cart snapshot is persisted under. Adapters
// namespace it per shopper session.
const StorageKey = "cart-storage"

// LineItem is a product variant held in the cart.
type LineItem struct {
	ProductID       string `json:"product_id"`
	PackageOptionID string `json:"package_option_id"`
	Quantity        int    `json:"quantity"`
}

// Recipient describes who receives a gift line.
type Recipient struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// GiftLineItem is a gift add-on. Adding a gift with an existing ID replaces it.
type GiftLineItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Recipient *Recipient      `json:"recipient,omitempty"`
}

// Snapshot is the persisted cart state.
type Snapshot struct {
	Cart  []LineItem     `json:"cart"`
	Gifts []GiftLineItem `json:"gifts"`
}

// Empty reports whether the snapshot holds no lines at all.
func (s Snapshot) Empty() bool {
	return len(s.Cart) == 0 && len(s.Gifts) == 0
}

// StockSnapshot is the stock state of a variant at query time.
type StockSnapshot struct {
	AvailableQuantity int
	IsActive          bool
}

// StockOracle reports current stock for a product variant. Unknown variants
// are reported as inactive.
type StockOracle interface {
	Query(ctx context.Context, productID, packageOptionID string) (StockSnapshot, error)
}

// SnapshotStore persists encoded cart snapshots.
type SnapshotStore interface {
	// Load returns the stored blob, or nil with no error when nothing is stored.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}
