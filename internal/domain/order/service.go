// Package order submits checkouts as orders: it confirms the payment, resolves
// the customer profile, allocates an order number and persists the order.
package order

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/payment"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/domain/profile"
)

var errActionPending = errors.New("payment still requires action")

// Pricer prices a cart snapshot with the session selections.
type Pricer interface {
	Price(ctx context.Context, req catalog.PriceRequest) (*catalog.Quote, error)
}

// ProfileResolver returns the profile an order is attached to.
type ProfileResolver interface {
	Resolve(ctx context.Context, c profile.Contact) (*profile.Profile, error)
}

// Cart is the shopper cart consumed by a submission.
type Cart interface {
	Snapshot() cart.Snapshot
	Clear(ctx context.Context) error
}

// SubmitRequest carries what the client sends with a submission.
type SubmitRequest struct {
	// ClientTotals are the totals the client displayed. They are compared to
	// the server-side totals and never used.
	ClientTotals *pricing.Totals
	// PaymentMethodID is the provider payment method to confirm a card
	// payment with, if not already attached client-side.
	PaymentMethodID string
}

// SubmitConfig bounds the waiting and retrying done by Submit.
type SubmitConfig struct {
	// ActionTimeout bounds the wait for a payment that requires action.
	ActionTimeout time.Duration
	PollInterval  time.Duration
	// MaxAttempts bounds order number allocation and persistence attempts.
	MaxAttempts     uint
	InitialInterval time.Duration
}

// DefaultSubmitConfig returns the production defaults.
func DefaultSubmitConfig() SubmitConfig {
	return SubmitConfig{
		ActionTimeout:   2 * time.Minute,
		PollInterval:    2 * time.Second,
		MaxAttempts:     4,
		InitialInterval: 200 * time.Millisecond,
	}
}

// Submitter turns a submittable checkout session into an order.
type Submitter struct {
	pricer    Pricer
	discounts discount.Validator
	gateway   payment.Gateway
	profiles  ProfileResolver
	orders    Store
	guard     Guard
	metrics   *Metrics
	cfg       SubmitConfig
	now       func() time.Time
}

// NewSubmitter creates a Submitter. metrics may be nil.
func NewSubmitter(
	pricer Pricer,
	discounts discount.Validator,
	gateway payment.Gateway,
	profiles ProfileResolver,
	orders Store,
	guard Guard,
	metrics *Metrics,
	cfg SubmitConfig,
) *Submitter {
	return &Submitter{
		pricer:    pricer,
		discounts: discounts,
		gateway:   gateway,
		profiles:  profiles,
		orders:    orders,
		guard:     guard,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submit places the order for sess.
//
// Concurrent calls for the same session are rejected with
// ErrSubmissionInProgress. A session that already produced an order returns
// that order. Card payments must be confirmed as succeeded for the server-side
// total before anything is written. Failures after a captured payment are
// returned as *CapturedPaymentError.
func (s *Submitter) Submit(ctx context.Context, sess *checkout.Session, c Cart, req SubmitRequest) (*Order, error) {
	start := s.now()

	release, ok, err := s.guard.Acquire(ctx, sess.ID())
	if err != nil {
		return nil, errors.Wrap(err, "acquire submission guard")
	}
	if !ok {
		return nil, ErrSubmissionInProgress
	}
	defer release()

	st := sess.State()
	lg := zctx.From(ctx).With(zap.String("session_id", st.ID))

	if st.OrderID != "" {
		// A completed checkout only answers repeats of its own submission.
		if !c.Snapshot().Empty() {
			return nil, apperr.New(apperr.CodeInvalidTransition,
				"checkout already completed, start a new session for another order").
				WithReason("completed")
		}
		o, err := s.orders.FindByID(ctx, st.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "find completed order")
		}
		return o, nil
	}

	o, err := s.submit(ctx, lg, sess, st, c, req)
	if err != nil {
		err = withCapturedPayment(sess, err)
		var captured *CapturedPaymentError
		isCaptured := errors.As(err, &captured)
		s.metrics.failure(ctx, err, isCaptured)
		if isCaptured {
			lg.Error("Order failed after payment capture",
				zap.String("payment_ref", captured.PaymentRef),
				zap.String("order_id", captured.OrderID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	sess.Complete(o.ID)
	if err := c.Clear(ctx); err != nil {
		// The order stands; a stale cart is only an inconvenience.
		lg.Error("Clear cart after order", zap.String("order_id", o.ID), zap.Error(err))
	}
	s.metrics.success(ctx, o.PaymentMethod, start)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Int64("order_number", o.OrderNumber),
		zap.String("total", o.Totals.Total.StringFixed(2)),
	)
	return o, nil
}

func (s *Submitter) submit(
	ctx context.Context,
	lg *zap.Logger,
	sess *checkout.Session,
	st checkout.State,
	c Cart,
	req SubmitRequest,
) (*Order, error) {
	if !st.Submittable() {
		return nil, apperr.Newf(apperr.CodeInvalidTransition,
			"checkout is not ready for submission (%s/%s)", st.Step, st.Auth)
	}

	orderID := st.PendingOrderID
	if orderID == "" {
		orderID = uuid.NewString()
		sess.ReserveOrder(orderID, 0)
	}

	snap := c.Snapshot()
	if snap.Empty() {
		return nil, apperr.New(apperr.CodeValidation, "cart is empty")
	}

	quote, err := s.price(ctx, st, snap)
	if err != nil {
		return nil, err
	}
	if req.ClientTotals != nil && !req.ClientTotals.Equal(quote.Totals) {
		lg.Warn("Client totals differ from server totals",
			zap.String("client_total", req.ClientTotals.Total.StringFixed(2)),
			zap.String("server_total", quote.Totals.Total.StringFixed(2)),
		)
	}

	var paymentRef string
	if st.PaymentMethod == payment.MethodCreditCard {
		conf, err := s.confirmPayment(ctx, sess, st, req, quote.Totals)
		if err != nil {
			if conf.Status == payment.StatusSucceeded {
				return nil, &CapturedPaymentError{PaymentRef: conf.ID, OrderID: orderID, Err: err}
			}
			return nil, err
		}
		paymentRef = conf.ID
	}

	o, err := s.persist(ctx, lg, sess, st, orderID, snap, quote, paymentRef)
	if err != nil {
		if paymentRef != "" {
			return nil, &CapturedPaymentError{PaymentRef: paymentRef, OrderID: orderID, Err: err}
		}
		return nil, err
	}
	return o, nil
}

// withCapturedPayment reports err as a *CapturedPaymentError when the
// session's payment has been captured, whichever step failed.
func withCapturedPayment(sess *checkout.Session, err error) error {
	var captured *CapturedPaymentError
	if errors.As(err, &captured) {
		return err
	}
	st := sess.State()
	if !st.Payment.Captured() {
		return err
	}
	return &CapturedPaymentError{PaymentRef: st.Payment.IntentID, OrderID: st.PendingOrderID, Err: err}
}

// price re-derives totals from the catalog and re-checks the applied
// discount, since it may have expired or run out since it was applied.
func (s *Submitter) price(ctx context.Context, st checkout.State, snap cart.Snapshot) (*catalog.Quote, error) {
	req := catalog.PriceRequest{
		Snapshot:      snap,
		GiftPackaging: st.Gifts.Packaging,
		GiftProductID: st.Gifts.GiftProductID,
	}
	if st.Discount != nil {
		d := st.Discount.Pricing()
		req.Discount = &d
	}

	quote, err := s.pricer.Price(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}

	if st.Discount != nil {
		res, err := s.discounts.Validate(ctx, st.Discount.Code, quote.Totals.Subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "revalidate discount")
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
	}
	return quote, nil
}

// confirmPayment confirms the attached card payment. A payment that requires
// action gets one bounded extra round in which its status is polled until it
// leaves requires_action. The returned confirmation is valid even on error so
// that the caller can tell whether money was captured.
func (s *Submitter) confirmPayment(
	ctx context.Context,
	sess *checkout.Session,
	st checkout.State,
	req SubmitRequest,
	totals pricing.Totals,
) (payment.Confirmation, error) {
	if st.Payment.ClientSecret == "" {
		return payment.Confirmation{}, apperr.New(apperr.CodePaymentIncomplete, "no card payment attached").
			WithReason("missing_payment")
	}

	if !st.Payment.Captured() && !st.Payment.Amount.IsZero() && !st.Payment.Amount.Equal(totals.Total) {
		return payment.Confirmation{}, apperr.Newf(apperr.CodePaymentIncomplete,
			"payment was created for %s but order total is %s",
			st.Payment.Amount.StringFixed(2), totals.Total.StringFixed(2)).
			WithReason("amount_mismatch")
	}

	conf, err := s.gateway.Confirm(ctx, st.Payment.ClientSecret, req.PaymentMethodID)
	if err != nil {
		return payment.Confirmation{}, apperr.Wrap(apperr.CodePaymentIncomplete, err, "confirm payment")
	}
	sess.RecordPayment(conf)

	if conf.Status == payment.StatusRequiresAction {
		conf, err = s.awaitAction(ctx, conf)
		sess.RecordPayment(conf)
		if err != nil {
			return conf, err
		}
	}

	if conf.Status != payment.StatusSucceeded {
		return conf, apperr.New(apperr.CodePaymentIncomplete, "payment did not succeed").
			WithReason(string(conf.Status))
	}
	if !conf.Amount.Equal(totals.Total) {
		return conf, apperr.Newf(apperr.CodePaymentIncomplete,
			"captured %s but order total is %s", conf.Amount.StringFixed(2), totals.Total.StringFixed(2)).
			WithReason("amount_mismatch")
	}
	return conf, nil
}

func (s *Submitter) awaitAction(ctx context.Context, conf payment.Confirmation) (payment.Confirmation, error) {
	last := conf
	got, err := backoff.Retry(ctx, func() (payment.Confirmation, error) {
		c, err := s.gateway.Retrieve(ctx, conf.ID)
		if err != nil {
			return c, err
		}
		last = c
		if c.Status == payment.StatusRequiresAction {
			return c, errActionPending
		}
		return c, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.PollInterval)),
		backoff.WithMaxElapsedTime(s.cfg.ActionTimeout),
	)
	if err != nil {
		if errors.Is(err, errActionPending) || errors.Is(err, context.DeadlineExceeded) {
			return last, apperr.Wrap(apperr.CodePaymentIncomplete, err, "payment action not completed in time").
				WithReason("action_timeout")
		}
		return last, apperr.Wrap(apperr.CodePaymentIncomplete, err, "poll payment status")
	}
	return got, nil
}

// persist resolves the profile once, then allocates the order number and
// writes the order, retrying both with the same order ID and number.
func (s *Submitter) persist(
	ctx context.Context,
	lg *zap.Logger,
	sess *checkout.Session,
	st checkout.State,
	orderID string,
	snap cart.Snapshot,
	quote *catalog.Quote,
	paymentRef string,
) (*Order, error) {
	form := st.Form
	addr := form.Address()
	contact := profile.Contact{
		Email:    form.Email,
		FullName: form.FullName,
		Phone:    form.Phone,
		Address:  &addr,
	}
	if st.Identity != nil {
		contact.UserID = st.Identity.UserID
	}
	p, err := s.profiles.Resolve(ctx, contact)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeProfileResolutionFailed) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.CodeProfileResolutionFailed, err, "resolve profile")
	}

	number := st.PendingOrderNumber
	if number == 0 {
		number, err = retry(ctx, s.cfg, lg, "allocate order number", func() (int64, error) {
			return s.orders.NextOrderNumber(ctx)
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeOrderNumberAllocationFailed, err, "allocate order number")
		}
		sess.ReserveOrder(orderID, number)
	}

	o := buildOrder(orderID, number, p, st, snap, quote, paymentRef, s.now())

	ref, err := retry(ctx, s.cfg, lg, "insert order", func() (Ref, error) {
		return s.orders.Insert(ctx, o)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeOrderPersistFailed, err, "persist order")
	}
	if !ref.Created {
		lg.Info("Order already persisted", zap.String("order_id", ref.ID))
		o.OrderNumber = ref.OrderNumber
	}
	return o, nil
}

// retry runs fn with exponential backoff while it fails with a retryable
// error, up to the configured number of attempts.
func retry[T any](ctx context.Context, cfg SubmitConfig, lg *zap.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		lg.Warn("Retrying "+op, zap.Int("attempt", attempt), zap.Error(err))
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
	)
}

// isTransient reports whether a store error is worth retrying. Context
// cancellation and missing rows are final.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrNotFound):
		return false
	case apperr.As(err) != nil:
		return apperr.IsRetryable(err)
	default:
		return true
	}
}

func buildOrder(
	id string,
	number int64,
	p *profile.Profile,
	st checkout.State,
	snap cart.Snapshot,
	quote *catalog.Quote,
	paymentRef string,
	now time.Time,
) *Order {
	recipients := make(map[string]*cart.Recipient, len(snap.Gifts))
	for _, g := range snap.Gifts {
		recipients[g.ID] = g.Recipient
	}

	items := make([]Item, 0, len(quote.Lines))
	for _, l := range quote.Lines {
		it := Item{
			ProductID:       l.ProductID,
			PackageOptionID: l.PackageOptionID,
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			LineTotal:       l.Total().Round(2),
			Gift:            l.Gift,
		}
		if l.Gift {
			it.Recipient = recipients[l.ProductID]
		}
		items = append(items, it)
	}

	o := &Order{
		ID:              id,
		OrderNumber:     number,
		ProfileID:       p.ID,
		Email:           st.Form.Email,
		ContactName:     st.Form.FullName,
		Phone:           st.Form.Phone,
		Items:           items,
		ShippingAddress: st.Form.Address(),
		PaymentMethod:   st.PaymentMethod,
		PaymentRef:      paymentRef,
		Totals:          quote.Totals,
		Status:          StatusAwaitingPayment,
		CreatedAt:       now,
	}
	if st.Identity != nil {
		o.UserID = st.Identity.UserID
	}
	if st.PaymentMethod == payment.MethodCreditCard {
		o.Status = StatusPaid
	}
	if st.Discount != nil && quote.Totals.DiscountAmount.IsPositive() {
		o.DiscountCode = st.Discount.Code
	}

	g := st.Gifts
	if g.Packaging || quote.GiftProduct != nil || g.Recipient != nil || g.Message != "" {
		details := &GiftDetails{
			Packaging:       g.Packaging,
			PackagingCost:   quote.Totals.GiftOptionCost,
			GiftProductCost: quote.Totals.GiftProductCost,
			Recipient:       g.Recipient,
			Message:         g.Message,
		}
		if gp := quote.GiftProduct; gp != nil {
			details.GiftProductID = gp.ID
			details.GiftProductName = gp.Name
		}
		o.Gift = details
	}
	return o
}
