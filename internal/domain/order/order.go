package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/payment"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/domain/profile"
)

// ErrNotFound is returned by a Store when no order matches.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of a persisted order.
type Status string

const (
	// StatusPaid is a card order whose payment succeeded.
	StatusPaid Status = "paid"
	// StatusAwaitingPayment is a cash on delivery or bank transfer order.
	StatusAwaitingPayment Status = "awaiting_payment"
)

// Order is a submitted customer order. Orders are written once and never
// mutated by the checkout.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     int64           `json:"order_number"`
	ProfileID       string          `json:"profile_id"`
	UserID          string          `json:"user_id,omitempty"`
	Email           string          `json:"email"`
	ContactName     string          `json:"contact_name"`
	Phone           string          `json:"phone"`
	Items           []Item          `json:"items"`
	ShippingAddress profile.Address `json:"shipping_address"`
	PaymentMethod   payment.Method  `json:"payment_method"`
	PaymentRef      string          `json:"payment_ref,omitempty"`
	Totals          pricing.Totals  `json:"totals"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	Gift            *GiftDetails    `json:"gift,omitempty"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Item is an order line.
type Item struct {
	ProductID       string          `json:"product_id"`
	PackageOptionID string          `json:"package_option_id,omitempty"`
	Description     string          `json:"description"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
	Gift            bool            `json:"gift"`
	Recipient       *cart.Recipient `json:"recipient,omitempty"`
}

// GiftDetails is the order-level gift metadata.
type GiftDetails struct {
	Packaging       bool            `json:"packaging"`
	PackagingCost   decimal.Decimal `json:"packaging_cost"`
	GiftProductID   string          `json:"gift_product_id,omitempty"`
	GiftProductName string          `json:"gift_product_name,omitempty"`
	GiftProductCost decimal.Decimal `json:"gift_product_cost"`
	Recipient       *cart.Recipient `json:"recipient,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// Ref identifies a persisted order. Created is false when Insert found an
// existing order with the same ID.
type Ref struct {
	ID          string
	OrderNumber int64
	Created     bool
}

// Store persists orders.
type Store interface {
	// NextOrderNumber allocates a unique, strictly increasing order number.
	NextOrderNumber(ctx context.Context) (int64, error)
	// Insert writes the order with its items in one transaction and counts a
	// use of its discount code. Inserting an existing ID is a no-op.
	Insert(ctx context.Context, o *Order) (Ref, error)
	FindByID(ctx context.Context, id string) (*Order, error)
}
