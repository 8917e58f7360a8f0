package handler

import (
	"net/http"

	"github.com/xenking/giftshop/internal/domain/auth"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
	"github.com/xenking/giftshop/internal/domain/payment"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type discountRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type giftsRequest struct {
	Packaging     bool            `json:"packaging"`
	GiftProductID string          `json:"gift_product_id"`
	Recipient     *cart.Recipient `json:"recipient,omitempty"`
	Message       string          `json:"message" validate:"max=500"`
}

type paymentMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

func (h *Handler) writeState(w http.ResponseWriter, sess *checkout.Session) {
	writeJSON(w, http.StatusOK, newStateResponse(sess.State()))
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, shopperFrom(r.Context()).Checkout)
}

func (h *Handler) chooseGuest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Session).ChooseGuest)
}

func (h *Handler) chooseLogin(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Session).ChooseLogin)
}

func (h *Handler) chooseSignup(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Session).ChooseSignup)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(*checkout.Session) error) {
	sess := shopperFrom(r.Context()).Checkout
	if err := fn(sess); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeState(w, sess)
}

// login authenticates and returns the state with a bearer token for later
// sessions.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sess := shopperFrom(r.Context()).Checkout
	if err := sess.Login(r.Context(), h.deps.Accounts, req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withToken(sess.State()))
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sess := shopperFrom(r.Context()).Checkout
	err := sess.SignUp(r.Context(), h.deps.Accounts, auth.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withToken(sess.State()))
}

func withToken(st checkout.State) stateResponse {
	resp := newStateResponse(st)
	if st.Identity != nil {
		resp.Token = st.Identity.Token
	}
	return resp
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shopperFrom(r.Context()).Checkout
	sess.Logout()
	h.writeState(w, sess)
}

// submitForm stores the delivery form. Field problems come back as a
// VALIDATION_ERROR with per-field reasons.
func (h *Handler) submitForm(w http.ResponseWriter, r *http.Request) {
	var f checkout.Form
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, r, err)
		return
	}

	sess := shopperFrom(r.Context()).Checkout
	if err := sess.SubmitForm(f); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeState(w, sess)
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sh := shopperFrom(r.Context())
	st := sh.Checkout.State()
	q, err := h.deps.Catalog.Price(r.Context(), catalog.PriceRequest{
		Snapshot:      sh.Cart.Snapshot(),
		GiftPackaging: st.Gifts.Packaging,
		GiftProductID: st.Gifts.GiftProductID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := sh.Checkout.ApplyDiscount(r.Context(), h.deps.Discounts, req.Code, q.Totals.Subtotal); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeState(w, sh.Checkout)
}

func (h *Handler) removeDiscount(w http.ResponseWriter, r *http.Request) {
	sess := shopperFrom(r.Context()).Checkout
	sess.RemoveDiscount()
	h.writeState(w, sess)
}

func (h *Handler) selectGifts(w http.ResponseWriter, r *http.Request) {
	var req giftsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sess := shopperFrom(r.Context()).Checkout
	sess.SelectGifts(checkout.GiftSelection{
		Packaging:     req.Packaging,
		GiftProductID: req.GiftProductID,
		Recipient:     req.Recipient,
		Message:       req.Message,
	})
	h.writeState(w, sess)
}

func (h *Handler) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sess := shopperFrom(r.Context()).Checkout
	if err := sess.SelectPaymentMethod(payment.Method(req.PaymentMethod)); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeState(w, sess)
}
