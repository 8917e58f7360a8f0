package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested catalog entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Product is a catalog item sold through one or more package options.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	ImageURL    string
	Active      bool
	Options     []PackageOption
}

// PackageOption is a purchasable variant of a product (size, pack count).
// Active is false when either the option or its product is inactive.
type PackageOption struct {
	ID          string
	ProductID   string
	ProductName string
	Name        string
	Price       decimal.Decimal
	Stock       int
	Active      bool
}

// Description renders the order line description for the option.
func (o PackageOption) Description() string {
	if o.Name == "" {
		return o.ProductName
	}
	return o.ProductName + " (" + o.Name + ")"
}

// GiftProduct is an add-on that can be attached to an order as a gift.
type GiftProduct struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Active bool
}

// Repository defines read operations for the catalog.
type Repository interface {
	ListProducts(ctx context.Context) ([]Product, error)
	// GetOption returns ErrNotFound when the option does not belong to the product.
	GetOption(ctx context.Context, productID, optionID string) (*PackageOption, error)
	GetOptionsByIDs(ctx context.Context, optionIDs []string) ([]PackageOption, error)
	ListGiftProducts(ctx context.Context) ([]GiftProduct, error)
	GetGiftProductsByIDs(ctx context.Context, ids []string) ([]GiftProduct, error)
}
