// Package checkout implements the checkout session: the guest, login and
// sign-up paths, the delivery form and the selections that feed pricing and
// order submission.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/auth"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/payment"
)

// Step is the top-level checkout step.
type Step string

const (
	StepSelection Step = "selection"
	StepGuestForm Step = "guest_form"
	StepAuthForm  Step = "auth_form"
)

// AuthState is the sub-state of StepAuthForm.
type AuthState string

const (
	AuthInitial  AuthState = "initial"
	AuthLogin    AuthState = "login"
	AuthSignup   AuthState = "signup"
	AuthLoggedIn AuthState = "logged_in"
)

// Authenticator verifies credentials and registers accounts.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.Identity, error)
	SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.Identity, error)
}

// GiftSelection holds the order-level gift choices.
type GiftSelection struct {
	Packaging     bool            `json:"packaging"`
	GiftProductID string          `json:"gift_product_id,omitempty"`
	Recipient     *cart.Recipient `json:"recipient,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// PaymentState tracks the card payment attached to the session. It survives
// failed submissions so that a retry re-checks the same intent.
type PaymentState struct {
	IntentID     string          `json:"intent_id,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Status       payment.Status  `json:"status,omitempty"`
}

// Captured reports whether the provider reported the payment as succeeded.
func (p PaymentState) Captured() bool {
	return p.Status == payment.StatusSucceeded
}

// State is a point-in-time copy of a Session.
type State struct {
	ID            string         `json:"id"`
	Step          Step           `json:"step"`
	Auth          AuthState      `json:"auth"`
	Identity      *auth.Identity `json:"-"`
	Form          Form           `json:"form"`
	FormReady     bool           `json:"form_ready"`
	Discount      *discount.Code `json:"-"`
	Gifts         GiftSelection  `json:"gifts"`
	PaymentMethod payment.Method `json:"payment_method,omitempty"`
	Payment       PaymentState   `json:"payment"`
	OrderID       string         `json:"order_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Reserved order identity, kept across failed submissions so that a retry
	// writes the same order.
	PendingOrderID     string `json:"-"`
	PendingOrderNumber int64  `json:"-"`
}

// Submittable reports whether the state may be handed to order submission.
func (s State) Submittable() bool {
	inForm := s.Step == StepGuestForm || (s.Step == StepAuthForm && s.Auth == AuthLoggedIn)
	return inForm && s.FormReady && s.PaymentMethod != "" && s.OrderID == ""
}

// Session is one shopper's checkout. Methods are safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewSession starts a checkout. With an identity the session starts logged in.
func NewSession(identity *auth.Identity) *Session {
	return ResumeSession(uuid.NewString(), identity)
}

// ResumeSession starts a checkout under an ID issued earlier, so that state
// kept under that ID, such as the cart, is picked up again. Checkout steps
// themselves start over.
func ResumeSession(id string, identity *auth.Identity) *Session {
	s := &Session{now: time.Now}
	s.state = State{
		ID:   id,
		Step: StepSelection,
		Auth: AuthInitial,
	}
	if identity != nil {
		s.loggedIn(identity)
	}
	s.state.UpdatedAt = s.now()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

// ChooseGuest moves to the guest form. Form data entered so far is kept.
func (s *Session) ChooseGuest() error {
	return s.update(func() error {
		if s.state.Auth == AuthLoggedIn {
			return invalidTransition(s.state, "guest")
		}
		s.state.Step = StepGuestForm
		s.state.Auth = AuthInitial
		return nil
	})
}

// ChooseLogin moves to the login form.
func (s *Session) ChooseLogin() error {
	return s.chooseAuth(AuthLogin)
}

// ChooseSignup moves to the sign-up form.
func (s *Session) ChooseSignup() error {
	return s.chooseAuth(AuthSignup)
}

func (s *Session) chooseAuth(to AuthState) error {
	return s.update(func() error {
		if s.state.Auth == AuthLoggedIn {
			return invalidTransition(s.state, string(to))
		}
		s.state.Step = StepAuthForm
		s.state.Auth = to
		s.state.FormReady = false
		return nil
	})
}

// Login authenticates in the login sub-state. On failure the session stays
// in login and the authentication error is returned.
func (s *Session) Login(ctx context.Context, a Authenticator, email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Step != StepAuthForm || s.state.Auth != AuthLogin {
		return invalidTransition(s.state, "login")
	}
	id, err := a.Login(ctx, email, password)
	if err != nil {
		return err
	}
	s.loggedIn(id)
	s.state.UpdatedAt = s.now()
	return nil
}

// SignUp registers an account in the sign-up sub-state. On failure the
// session stays in sign-up.
func (s *Session) SignUp(ctx context.Context, a Authenticator, req auth.SignUpRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Step != StepAuthForm || s.state.Auth != AuthSignup {
		return invalidTransition(s.state, "signup")
	}
	id, err := a.SignUp(ctx, req)
	if err != nil {
		return err
	}
	s.loggedIn(id)
	s.state.UpdatedAt = s.now()
	return nil
}

// Logout returns to the selection step from any state and forgets the
// identity and the form.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Step = StepSelection
	s.state.Auth = AuthInitial
	s.state.Identity = nil
	s.state.Form = Form{}
	s.state.FormReady = false
	s.state.UpdatedAt = s.now()
}

// SubmitForm validates and stores the delivery form. Only the guest form and
// the logged-in form accept it. Invalid fields keep the state unchanged apart
// from the entered data and are reported as a VALIDATION_ERROR with field
// reasons.
func (s *Session) SubmitForm(f Form) error {
	return s.update(func() error {
		st := s.state
		if st.Step != StepGuestForm && (st.Step != StepAuthForm || st.Auth != AuthLoggedIn) {
			return invalidTransition(st, "submit_form")
		}

		normalized, fieldErrs := ValidateForm(f)
		s.state.Form = normalized
		if fieldErrs != nil {
			s.state.FormReady = false
			return apperr.New(apperr.CodeValidation, "form has invalid fields").WithFields(fieldErrs)
		}
		s.state.FormReady = true
		return nil
	})
}

// ApplyDiscount validates code against subtotal and applies it. Only one
// discount may be applied at a time.
func (s *Session) ApplyDiscount(ctx context.Context, v discount.Validator, code string, subtotal decimal.Decimal) (*discount.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Discount != nil {
		return nil, apperr.New(apperr.CodeInvalidDiscount, "a discount is already applied").
			WithReason(string(discount.ReasonAlreadyApplied))
	}

	res, err := v.Validate(ctx, code, subtotal)
	if err != nil {
		return nil, errors.Wrap(err, "validate discount")
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	s.state.Discount = res.Code
	s.state.UpdatedAt = s.now()
	c := *res.Code
	return &c, nil
}

// RemoveDiscount drops the applied discount, if any.
func (s *Session) RemoveDiscount() {
	_ = s.update(func() error {
		s.state.Discount = nil
		return nil
	})
}

// SelectGifts replaces the order-level gift selection.
func (s *Session) SelectGifts(g GiftSelection) {
	_ = s.update(func() error {
		if g.Recipient != nil {
			r := *g.Recipient
			g.Recipient = &r
		}
		s.state.Gifts = g
		return nil
	})
}

// SelectPaymentMethod sets the payment method.
func (s *Session) SelectPaymentMethod(m payment.Method) error {
	return s.update(func() error {
		if !m.Valid() {
			return apperr.Newf(apperr.CodeValidation, "unknown payment method %q", m).
				WithFields(map[string]string{"payment_method": ReasonInvalid})
		}
		s.state.PaymentMethod = m
		return nil
	})
}

// AttachPaymentIntent records the card payment created for this session.
// A captured payment is never replaced.
func (s *Session) AttachPaymentIntent(in payment.Intent) error {
	return s.update(func() error {
		if s.state.Payment.Captured() && s.state.Payment.IntentID != in.ID {
			return invalidTransition(s.state, "replace_captured_payment")
		}
		s.state.Payment = PaymentState{
			IntentID:     in.ID,
			ClientSecret: in.ClientSecret,
			Amount:       in.Amount,
			Status:       in.Status,
		}
		return nil
	})
}

// RecordPayment stores the latest confirmed status of the attached payment.
func (s *Session) RecordPayment(c payment.Confirmation) {
	_ = s.update(func() error {
		if c.ID != "" {
			s.state.Payment.IntentID = c.ID
		}
		s.state.Payment.Status = c.Status
		return nil
	})
}

// ReserveOrder records the order ID and number chosen for this checkout.
// A zero number leaves a previously reserved number in place.
func (s *Session) ReserveOrder(id string, number int64) {
	_ = s.update(func() error {
		s.state.PendingOrderID = id
		if number != 0 {
			s.state.PendingOrderNumber = number
		}
		return nil
	})
}

// Complete marks the session as finished with the given order.
func (s *Session) Complete(orderID string) {
	_ = s.update(func() error {
		s.state.OrderID = orderID
		return nil
	})
}

func (s *Session) update(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	s.state.UpdatedAt = s.now()
	return nil
}

// loggedIn switches to the logged-in form and pre-fills empty contact fields
// from the identity. Must be called with mu held.
func (s *Session) loggedIn(id *auth.Identity) {
	cp := *id
	s.state.Identity = &cp
	s.state.Step = StepAuthForm
	s.state.Auth = AuthLoggedIn
	s.state.FormReady = false
	if s.state.Form.Email == "" {
		s.state.Form.Email = id.Email
	}
	if s.state.Form.FullName == "" {
		s.state.Form.FullName = id.FullName
	}
	if s.state.Form.Phone == "" {
		s.state.Form.Phone = id.Phone
	}
}

func (s *Session) copyState() State {
	st := s.state
	if st.Identity != nil {
		id := *st.Identity
		st.Identity = &id
	}
	if st.Discount != nil {
		d := *st.Discount
		st.Discount = &d
	}
	if st.Gifts.Recipient != nil {
		r := *st.Gifts.Recipient
		st.Gifts.Recipient = &r
	}
	return st
}

func invalidTransition(st State, action string) error {
	return apperr.Newf(apperr.CodeInvalidTransition,
		"cannot %s from %s/%s", action, st.Step, st.Auth)
}
