// Package payment defines the contract with the external payment provider.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned by gateways that cannot take card payments.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Method is the way a shopper pays.
type Method string

const (
	MethodCreditCard     Method = "credit_card"
	MethodCashOnDelivery Method = "cash_on_delivery"
	MethodBankTransfer   Method = "bank_transfer"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodCashOnDelivery, MethodBankTransfer:
		return true
	}
	return false
}

// Status is the provider-reported state of a payment.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusCanceled              Status = "canceled"
	StatusSucceeded             Status = "succeeded"
	StatusFailed                Status = "failed"
)

// Intent is a provider-side payment created before confirmation.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
	Status       Status
}

// Confirmation is the result of confirming or re-reading a payment.
type Confirmation struct {
	ID       string
	Status   Status
	Amount   decimal.Decimal
	Currency string
}

// Gateway is the payment provider.
type Gateway interface {
	// CreateIntent is idempotent on orderRef.
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (Intent, error)
	Confirm(ctx context.Context, clientSecret, method string) (Confirmation, error)
	// Retrieve re-reads the current state of a payment.
	Retrieve(ctx context.Context, intentID string) (Confirmation, error)
}

// IntentIDFromSecret extracts the intent ID from a client secret of the form
// "<id>_secret_<nonce>".
func IntentIDFromSecret(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", errors.New("malformed client secret")
	}
	return id, nil
}

var _ Gateway = Unavailable{}

// Unavailable is a Gateway for deployments without a card provider. Orders
// with other payment methods still go through.
type Unavailable struct{}

func (Unavailable) CreateIntent(context.Context, decimal.Decimal, string, string) (Intent, error) {
	return Intent{}, ErrUnavailable
}

func (Unavailable) Confirm(context.Context, string, string) (Confirmation, error) {
	return Confirmation{}, ErrUnavailable
}

func (Unavailable) Retrieve(context.Context, string) (Confirmation, error) {
	return Confirmation{}, ErrUnavailable
}
