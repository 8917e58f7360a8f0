package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/payment"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/domain/profile"
)

// --- Mock implementations ---

type mockPricer struct {
	quote *catalog.Quote
	err   error
}

func (m *mockPricer) Price(_ context.Context, req catalog.PriceRequest) (*catalog.Quote, error) {
	if m.err != nil {
		return nil, m.err
	}
	q := *m.quote
	if req.Discount != nil {
		q.Totals = pricing.Compute(pricing.Input{
			Lines:    q.Lines,
			Discount: req.Discount,
			Shipping: testShipping,
		})
	}
	return &q, nil
}

type mockDiscounts struct {
	result discount.Result
	err    error
}

func (m *mockDiscounts) Validate(_ context.Context, _ string, _ decimal.Decimal) (discount.Result, error) {
	return m.result, m.err
}

type mockGateway struct {
	mu        sync.Mutex
	confirm   payment.Confirmation
	confirmEr error
	// retrieved is returned by Retrieve in order; the last entry repeats.
	retrieved []payment.Status
	confirms  int
	retrieves int
}

func (m *mockGateway) CreateIntent(context.Context, decimal.Decimal, string, string) (payment.Intent, error) {
	return payment.Intent{}, errors.New("not used")
}

func (m *mockGateway) Confirm(_ context.Context, _, _ string) (payment.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms++
	return m.confirm, m.confirmEr
}

func (m *mockGateway) Retrieve(_ context.Context, id string) (payment.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.retrieves
	if i >= len(m.retrieved) {
		i = len(m.retrieved) - 1
	}
	m.retrieves++
	return payment.Confirmation{
		ID:       id,
		Status:   m.retrieved[i],
		Amount:   m.confirm.Amount,
		Currency: "eur",
	}, nil
}

type mockResolver struct {
	mu       sync.Mutex
	contacts []profile.Contact
	err      error
}

func (m *mockResolver) Resolve(_ context.Context, c profile.Contact) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, c)
	if m.err != nil {
		return nil, m.err
	}
	return &profile.Profile{ID: "prof-1", UserID: c.UserID, Email: c.Email}, nil
}

type mockStore struct {
	mu          sync.Mutex
	next        int64
	numberFails int
	insertFails int
	insertErr   error
	numbers     int
	inserts     int
	orders      map[string]*Order
}

func newMockStore() *mockStore {
	return &mockStore{next: 1000, orders: make(map[string]*Order)}
}

func (m *mockStore) NextOrderNumber(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers++
	if m.numberFails > 0 {
		m.numberFails--
		return 0, errors.New("connection reset")
	}
	m.next++
	return m.next, nil
}

func (m *mockStore) Insert(_ context.Context, o *Order) (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return Ref{}, m.insertErr
	}
	if m.insertFails > 0 {
		m.insertFails--
		return Ref{}, errors.New("connection reset")
	}
	if existing, ok := m.orders[o.ID]; ok {
		return Ref{ID: existing.ID, OrderNumber: existing.OrderNumber}, nil
	}
	cp := *o
	m.orders[o.ID] = &cp
	return Ref{ID: o.ID, OrderNumber: o.OrderNumber, Created: true}, nil
}

func (m *mockStore) FindByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockCart struct {
	mu       sync.Mutex
	snap     cart.Snapshot
	cleared  bool
	clearErr error
}

func (m *mockCart) Snapshot() cart.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockCart) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.cleared = true
	m.snap = cart.Snapshot{}
	return nil
}

// --- Helpers ---

var testShipping = pricing.Shipping{
	FreeThreshold: decimal.NewFromInt(50),
	FlatCost:      decimal.RequireFromString("3.90"),
}

var testConfig = SubmitConfig{
	ActionTimeout:   30 * time.Millisecond,
	PollInterval:    time.Millisecond,
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
}

func testQuote() *catalog.Quote {
	lines := []pricing.Line{{
		ProductID:       "p1",
		PackageOptionID: "o1",
		Description:     "Honey (Small jar)",
		UnitPrice:       decimal.NewFromInt(25),
		Quantity:        1,
	}}
	return &catalog.Quote{
		Lines:  lines,
		Totals: pricing.Compute(pricing.Input{Lines: lines, Shipping: testShipping}),
	}
}

func testCart() *mockCart {
	return &mockCart{snap: cart.Snapshot{
		Cart: []cart.LineItem{{ProductID: "p1", PackageOptionID: "o1", Quantity: 1}},
	}}
}

func testForm() checkout.Form {
	return checkout.Form{
		FullName:   "Ana Novak",
		Email:      "ana@example.com",
		Phone:      "040 111 222",
		Street:     "Trubarjeva 1",
		City:       "Ljubljana",
		PostalCode: "1000",
		Country:    "SI",
	}
}

func readySession(t *testing.T, method payment.Method) *checkout.Session {
	t.Helper()

	s := checkout.NewSession(nil)
	require.NoError(t, s.ChooseGuest())
	require.NoError(t, s.SubmitForm(testForm()))
	require.NoError(t, s.SelectPaymentMethod(method))
	if method == payment.MethodCreditCard {
		require.NoError(t, s.AttachPaymentIntent(payment.Intent{
			ID:           "pi_1",
			ClientSecret: "pi_1_secret_abc",
			Amount:       decimal.RequireFromString("28.90"),
			Currency:     "eur",
			Status:       payment.StatusRequiresPaymentMethod,
		}))
	}
	return s
}

func succeededGateway() *mockGateway {
	return &mockGateway{confirm: payment.Confirmation{
		ID:       "pi_1",
		Status:   payment.StatusSucceeded,
		Amount:   decimal.RequireFromString("28.90"),
		Currency: "eur",
	}}
}

type fixture struct {
	pricer    *mockPricer
	discounts *mockDiscounts
	gateway   *mockGateway
	resolver  *mockResolver
	store     *mockStore
	submitter *Submitter
}

func newFixture(gw *mockGateway) *fixture {
	f := &fixture{
		pricer:    &mockPricer{quote: testQuote()},
		discounts: &mockDiscounts{},
		gateway:   gw,
		resolver:  &mockResolver{},
		store:     newMockStore(),
	}
	f.submitter = NewSubmitter(f.pricer, f.discounts, f.gateway, f.resolver, f.store, NewLocalGuard(), nil, testConfig)
	return f
}

// --- Tests ---

func TestSubmit_CardPayment(t *testing.T) {
	f := newFixture(succeededGateway())
	sess := readySession(t, payment.MethodCreditCard)
	c := testCart()

	o, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(1001), o.OrderNumber)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, "pi_1", o.PaymentRef)
	assert.Equal(t, "prof-1", o.ProfileID)
	assert.Equal(t, "28.90", o.Totals.Total.StringFixed(2))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Honey (Small jar)", o.Items[0].Description)
	assert.Equal(t, "25.00", o.Items[0].LineTotal.StringFixed(2))
	assert.Equal(t, "1000", o.ShippingAddress.PostalCode)

	assert.True(t, c.cleared)
	assert.Equal(t, o.ID, sess.State().OrderID)
	assert.Equal(t, 1, f.gateway.confirms)
	assert.Equal(t, 1, f.store.count())

	require.Len(t, f.resolver.contacts, 1)
	assert.Equal(t, "ana@example.com", f.resolver.contacts[0].Email)
	assert.Empty(t, f.resolver.contacts[0].UserID)
}

func TestSubmit_OfflinePaymentMethods(t *testing.T) {
	for _, method := range []payment.Method{payment.MethodCashOnDelivery, payment.MethodBankTransfer} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(&mockGateway{})
			sess := readySession(t, method)

			o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
			require.NoError(t, err)

			assert.Equal(t, StatusAwaitingPayment, o.Status)
			assert.Empty(t, o.PaymentRef)
			assert.Zero(t, f.gateway.confirms)
		})
	}
}

func TestSubmit_RequiresActionThenSucceeds(t *testing.T) {
	gw := succeededGateway()
	gw.confirm.Status = payment.StatusRequiresAction
	gw.retrieved = []payment.Status{payment.StatusRequiresAction, payment.StatusSucceeded}
	f := newFixture(gw)
	sess := readySession(t, payment.MethodCreditCard)

	o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.NoError(t, err)

	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, 2, gw.retrieves)
	assert.Equal(t, payment.StatusSucceeded, sess.State().Payment.Status)
}

func TestSubmit_PaymentNotCompleted(t *testing.T) {
	tests := []struct {
		name      string
		confirm   payment.Status
		retrieved []payment.Status
		reason    string
	}{
		{
			name:      "action then failed",
			confirm:   payment.StatusRequiresAction,
			retrieved: []payment.Status{payment.StatusFailed},
			reason:    "failed",
		},
		{
			name:      "action never completed",
			confirm:   payment.StatusRequiresAction,
			retrieved: []payment.Status{payment.StatusRequiresAction},
			reason:    "action_timeout",
		},
		{
			name:    "declined",
			confirm: payment.StatusFailed,
			reason:  "failed",
		},
		{
			name:    "processing",
			confirm: payment.StatusProcessing,
			reason:  "processing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := succeededGateway()
			gw.confirm.Status = tt.confirm
			gw.retrieved = tt.retrieved
			f := newFixture(gw)
			sess := readySession(t, payment.MethodCreditCard)
			c := testCart()

			_, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
			require.Error(t, err)

			e := apperr.As(err)
			require.NotNil(t, e)
			assert.Equal(t, apperr.CodePaymentIncomplete, e.Code())
			assert.Equal(t, tt.reason, e.Reason())

			var captured *CapturedPaymentError
			assert.False(t, errors.As(err, &captured))
			assert.Zero(t, f.store.count())
			assert.Empty(t, f.resolver.contacts)
			assert.False(t, c.cleared)
			assert.Empty(t, sess.State().OrderID)
		})
	}
}

func TestSubmit_IntentAmountDiffersFromTotal(t *testing.T) {
	f := newFixture(succeededGateway())
	sess := checkout.NewSession(nil)
	require.NoError(t, sess.ChooseGuest())
	require.NoError(t, sess.SubmitForm(testForm()))
	require.NoError(t, sess.SelectPaymentMethod(payment.MethodCreditCard))
	require.NoError(t, sess.AttachPaymentIntent(payment.Intent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret_abc",
		Amount:       decimal.NewFromInt(20),
		Status:       payment.StatusRequiresPaymentMethod,
	}))

	_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodePaymentIncomplete))
	assert.Equal(t, "amount_mismatch", apperr.As(err).Reason())
	assert.Zero(t, f.gateway.confirms)
}

func TestSubmit_MissingPayment(t *testing.T) {
	f := newFixture(succeededGateway())
	sess := checkout.NewSession(nil)
	require.NoError(t, sess.ChooseGuest())
	require.NoError(t, sess.SubmitForm(testForm()))
	require.NoError(t, sess.SelectPaymentMethod(payment.MethodCreditCard))

	_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodePaymentIncomplete))
	assert.Zero(t, f.gateway.confirms)
}

func TestSubmit_PersistFailureAfterCapture(t *testing.T) {
	f := newFixture(succeededGateway())
	f.store.insertFails = 100
	sess := readySession(t, payment.MethodCreditCard)
	c := testCart()

	_, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})

	var captured *CapturedPaymentError
	require.ErrorAs(t, err, &captured)
	assert.Equal(t, "pi_1", captured.PaymentRef)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderPersistFailed))
	assert.Equal(t, 3, f.store.inserts)
	assert.False(t, c.cleared)

	st := sess.State()
	assert.True(t, st.Payment.Captured())
	assert.Equal(t, captured.OrderID, st.PendingOrderID)
	assert.Equal(t, int64(1001), st.PendingOrderNumber)

	// The retry writes the same order without allocating a new number.
	f.store.insertFails = 0
	o, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, captured.OrderID, o.ID)
	assert.Equal(t, int64(1001), o.OrderNumber)
	assert.Equal(t, "pi_1", o.PaymentRef)
	assert.Equal(t, 1, f.store.numbers)
	assert.Equal(t, 1, f.store.count())
	assert.True(t, c.cleared)
}

func TestSubmit_TransientFailuresAreRetried(t *testing.T) {
	f := newFixture(&mockGateway{})
	f.store.numberFails = 2
	f.store.insertFails = 2
	sess := readySession(t, payment.MethodCashOnDelivery)

	o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(1001), o.OrderNumber)
	assert.Equal(t, 3, f.store.numbers)
	assert.Equal(t, 3, f.store.inserts)
}

func TestSubmit_NumberAllocationFails(t *testing.T) {
	f := newFixture(&mockGateway{})
	f.store.numberFails = 100
	sess := readySession(t, payment.MethodBankTransfer)

	_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeOrderNumberAllocationFailed))
	assert.True(t, apperr.IsRetryable(err))
	assert.Zero(t, f.store.inserts)
}

func TestSubmit_NotFoundIsNotRetried(t *testing.T) {
	f := newFixture(&mockGateway{})
	f.store.insertErr = ErrNotFound
	sess := readySession(t, payment.MethodBankTransfer)

	_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeOrderPersistFailed))
	assert.Equal(t, 1, f.store.inserts)
}

func TestSubmit_ProfileResolutionFails(t *testing.T) {
	t.Run("offline payment", func(t *testing.T) {
		f := newFixture(&mockGateway{})
		f.resolver.err = errors.New("db down")
		sess := readySession(t, payment.MethodCashOnDelivery)

		_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
		require.True(t, apperr.HasCode(err, apperr.CodeProfileResolutionFailed))

		var captured *CapturedPaymentError
		assert.False(t, errors.As(err, &captured))
		assert.Zero(t, f.store.numbers)
	})
	t.Run("captured card payment", func(t *testing.T) {
		f := newFixture(succeededGateway())
		f.resolver.err = errors.New("db down")
		sess := readySession(t, payment.MethodCreditCard)

		_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
		require.True(t, apperr.HasCode(err, apperr.CodeProfileResolutionFailed))

		var captured *CapturedPaymentError
		require.ErrorAs(t, err, &captured)
		assert.Equal(t, "pi_1", captured.PaymentRef)
	})
}

func TestSubmit_RepeatReturnsSameOrder(t *testing.T) {
	f := newFixture(succeededGateway())
	sess := readySession(t, payment.MethodCreditCard)
	c := testCart()

	first, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)

	second, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, 1, f.gateway.confirms)
	assert.Equal(t, 1, f.store.count())
}

func TestSubmit_CompletedSessionRejectsNewCart(t *testing.T) {
	f := newFixture(&mockGateway{})
	sess := readySession(t, payment.MethodCashOnDelivery)
	c := testCart()

	first, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)
	require.True(t, c.cleared)

	c.snap = cart.Snapshot{
		Cart: []cart.LineItem{{ProductID: "p9", PackageOptionID: "o9", Quantity: 3}},
	}
	_, err = f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeInvalidTransition))
	assert.Equal(t, "completed", apperr.As(err).Reason())

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, first.ID, sess.State().OrderID)
	assert.Len(t, c.Snapshot().Cart, 1)
}

func TestSubmit_ConcurrentSubmitsPlaceOneOrder(t *testing.T) {
	f := newFixture(succeededGateway())
	sess := readySession(t, payment.MethodCreditCard)
	c := testCart()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ids  = make(map[string]struct{})
		errs []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[o.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.count())
	assert.Len(t, ids, 1)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSubmissionInProgress)
	}
	assert.Equal(t, 1, f.store.numbers)
}

func TestSubmit_NotSubmittable(t *testing.T) {
	f := newFixture(&mockGateway{})

	sess := checkout.NewSession(nil)
	_, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeInvalidTransition))

	require.NoError(t, sess.ChooseGuest())
	require.NoError(t, sess.SubmitForm(testForm()))
	_, err = f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeInvalidTransition), "payment method missing")
}

func TestSubmit_EmptyCart(t *testing.T) {
	f := newFixture(&mockGateway{})
	sess := readySession(t, payment.MethodCashOnDelivery)

	_, err := f.submitter.Submit(context.Background(), sess, &mockCart{}, SubmitRequest{})
	require.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.Zero(t, f.store.count())
}

func TestSubmit_ClientTotalsAreIgnored(t *testing.T) {
	f := newFixture(&mockGateway{})
	sess := readySession(t, payment.MethodCashOnDelivery)

	client := pricing.Totals{Total: decimal.NewFromInt(1)}
	o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{ClientTotals: &client})
	require.NoError(t, err)
	assert.Equal(t, "28.90", o.Totals.Total.StringFixed(2))
}

func TestSubmit_DiscountRevalidated(t *testing.T) {
	code := &discount.Code{
		Code:     "SAVE10",
		Type:     pricing.DiscountPercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	}

	tests := []struct {
		name     string
		atSubmit discount.Result
		wantErr  bool
		total    string
	}{
		{
			name:     "still valid",
			atSubmit: discount.Result{Valid: true, Code: code},
			total:    "26.40",
		},
		{
			name:     "expired meanwhile",
			atSubmit: discount.Result{Code: code, Reason: discount.ReasonExpired},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(&mockGateway{})
			sess := readySession(t, payment.MethodCashOnDelivery)

			f.discounts.result = discount.Result{Valid: true, Code: code}
			_, err := sess.ApplyDiscount(context.Background(), f.discounts, "save10", decimal.NewFromInt(25))
			require.NoError(t, err)

			f.discounts.result = tt.atSubmit
			o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
			if tt.wantErr {
				require.True(t, apperr.HasCode(err, apperr.CodeInvalidDiscount))
				assert.Equal(t, string(discount.ReasonExpired), apperr.As(err).Reason())
				assert.Zero(t, f.store.count())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.total, o.Totals.Total.StringFixed(2))
			assert.Equal(t, "SAVE10", o.DiscountCode)
		})
	}
}

func TestSubmit_RevalidationFailureAfterCapture(t *testing.T) {
	code := &discount.Code{
		Code:     "SAVE10",
		Type:     pricing.DiscountPercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	}

	tests := []struct {
		name     string
		prepare  func(f *fixture)
		wantCode apperr.Code
	}{
		{
			name: "discount used up",
			prepare: func(f *fixture) {
				f.discounts.result = discount.Result{Code: code, Reason: discount.ReasonUsageLimitReached}
			},
			wantCode: apperr.CodeInvalidDiscount,
		},
		{
			name: "product withdrawn",
			prepare: func(f *fixture) {
				f.discounts.result = discount.Result{Valid: true, Code: code}
				f.pricer.err = apperr.New(apperr.CodeProductUnavailable, "product is not available")
			},
			wantCode: apperr.CodeProductUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(succeededGateway())
			sess := readySession(t, payment.MethodCreditCard)

			f.discounts.result = discount.Result{Valid: true, Code: code}
			_, err := sess.ApplyDiscount(context.Background(), f.discounts, "save10", decimal.NewFromInt(25))
			require.NoError(t, err)
			sess.RecordPayment(payment.Confirmation{ID: "pi_1", Status: payment.StatusSucceeded})

			tt.prepare(f)
			_, err = f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
			require.True(t, apperr.HasCode(err, tt.wantCode))

			var captured *CapturedPaymentError
			require.ErrorAs(t, err, &captured)
			assert.Equal(t, "pi_1", captured.PaymentRef)
			assert.Equal(t, sess.State().PendingOrderID, captured.OrderID)
			assert.NotEmpty(t, captured.OrderID)
			assert.Zero(t, f.gateway.confirms)
			assert.Zero(t, f.store.count())
		})
	}
}

func TestSubmit_ClearFailureKeepsOrder(t *testing.T) {
	f := newFixture(&mockGateway{})
	sess := readySession(t, payment.MethodCashOnDelivery)
	c := testCart()
	c.clearErr = errors.New("storage full")

	o, err := f.submitter.Submit(context.Background(), sess, c, SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, o.ID, sess.State().OrderID)
}

func TestSubmit_GiftDetails(t *testing.T) {
	f := newFixture(&mockGateway{})
	q := testQuote()
	q.GiftProduct = &catalog.GiftProduct{ID: "g1", Name: "Card", Price: decimal.RequireFromString("2.50")}
	f.pricer.quote = q
	sess := readySession(t, payment.MethodCashOnDelivery)
	sess.SelectGifts(checkout.GiftSelection{
		Packaging:     true,
		GiftProductID: "g1",
		Message:       "Happy birthday",
	})

	o, err := f.submitter.Submit(context.Background(), sess, testCart(), SubmitRequest{})
	require.NoError(t, err)
	require.NotNil(t, o.Gift)
	assert.True(t, o.Gift.Packaging)
	assert.Equal(t, "g1", o.Gift.GiftProductID)
	assert.Equal(t, "Card", o.Gift.GiftProductName)
	assert.Equal(t, "Happy birthday", o.Gift.Message)
}

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()

	release, ok, err := g.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := g.Acquire(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	release()
	release()

	again, ok, err := g.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}
