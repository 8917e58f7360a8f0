// Package stripe implements payment.Gateway with Stripe PaymentIntents.
package stripe

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/domain/payment"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = errors.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

	hundred = decimal.NewFromInt(100)
)

// intentsAPI is the subset of the Stripe client used by Gateway.
type intentsAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Confirm(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

var _ payment.Gateway = (*Gateway)(nil)

// Gateway talks to Stripe. Amounts are sent in minor units.
type Gateway struct {
	intents intentsAPI
	lg      *zap.Logger
}

// New validates the key against the environment and creates a Gateway.
func New(apiKey, environment string, lg *zap.Logger) (*Gateway, error) {
	env, err := normalizeEnv(environment)
	if err != nil {
		return nil, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = zap.NewNop()
	}

	sc := stripe.NewClient(apiKey)
	lg.Info("Stripe gateway initialized", zap.String("env", env))

	return &Gateway{intents: sc.V1PaymentIntents, lg: lg}, nil
}

func (g *Gateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (payment.Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(toMinor(amount)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_ref", orderRef)
	params.SetIdempotencyKey("intent-" + orderRef)

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "create payment intent")
	}

	return payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinor(pi.Amount),
		Currency:     string(pi.Currency),
		Status:       payment.Status(pi.Status),
	}, nil
}

// Confirm confirms the intent behind clientSecret with the given payment
// method. An intent that already left the confirmable states is only re-read,
// so a repeated submission never charges twice.
func (g *Gateway) Confirm(ctx context.Context, clientSecret, method string) (payment.Confirmation, error) {
	id, err := payment.IntentIDFromSecret(clientSecret)
	if err != nil {
		return payment.Confirmation{}, err
	}

	current, err := g.intents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return payment.Confirmation{}, errors.Wrap(err, "retrieve payment intent")
	}
	switch current.Status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusRequiresConfirmation:
	default:
		return confirmation(current), nil
	}

	params := &stripe.PaymentIntentConfirmParams{}
	if method != "" {
		params.PaymentMethod = stripe.String(method)
	}
	pi, err := g.intents.Confirm(ctx, id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			g.lg.Info("Card declined",
				zap.String("intent_id", id),
				zap.String("decline_code", string(se.DeclineCode)),
			)
			return payment.Confirmation{ID: id, Status: payment.StatusFailed}, nil
		}
		return payment.Confirmation{}, errors.Wrap(err, "confirm payment intent")
	}

	return confirmation(pi), nil
}

func (g *Gateway) Retrieve(ctx context.Context, intentID string) (payment.Confirmation, error) {
	pi, err := g.intents.Retrieve(ctx, intentID, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return payment.Confirmation{}, errors.Wrap(err, "retrieve payment intent")
	}
	return confirmation(pi), nil
}

func confirmation(pi *stripe.PaymentIntent) payment.Confirmation {
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return payment.Confirmation{
		ID:       pi.ID,
		Status:   payment.Status(pi.Status),
		Amount:   fromMinor(amount),
		Currency: string(pi.Currency),
	}
}

func toMinor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return errors.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return errors.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
