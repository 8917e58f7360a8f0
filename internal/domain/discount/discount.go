package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/pricing"
)

// ErrNotFound is returned by a Repository when no code matches.
var ErrNotFound = errors.New("discount code not found")

// Reason explains why a code was rejected.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonMinOrderNotMet    Reason = "min_order_not_met"
	ReasonAlreadyApplied    Reason = "already_applied"
)

// Code is a stored discount code.
type Code struct {
	Code           string
	Type           pricing.DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	Description    string
	// MaxUses of zero means unlimited.
	MaxUses     int
	CurrentUses int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	IsActive    bool
}

// Pricing returns the pricing view of c.
func (c Code) Pricing() pricing.Discount {
	return pricing.Discount{
		Code:           c.Code,
		Type:           c.Type,
		Value:          c.Value,
		MinOrderAmount: c.MinOrderAmount,
	}
}

// Result is the outcome of validating a code. Reason is set when Valid is false.
type Result struct {
	Valid  bool
	Code   *Code
	Reason Reason
}

// Repository provides lookup of discount codes. Usage is counted by the order
// store when an order referencing the code is persisted.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
}

// Validator validates a code against a cart subtotal.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error)
}
