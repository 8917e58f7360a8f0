package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/internal/domain/payment"
)

type intentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

type submitRequest struct {
	ClientTotals    *totalsPayload `json:"client_totals,omitempty"`
	PaymentMethodID string         `json:"payment_method_id"`
}

// createPaymentIntent creates a card payment for the current total and
// attaches it to the session. The provider deduplicates on the session and
// amount, so repeated calls for an unchanged cart return the same intent.
func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sh := shopperFrom(ctx)
	st := sh.Checkout.State()

	if sh.Cart.Snapshot().Empty() {
		writeError(w, r, apperr.New(apperr.CodeValidation, "cart is empty"))
		return
	}
	q, err := h.quote(r, sh, st)
	if err != nil {
		writeError(w, r, err)
		return
	}

	total := q.Totals.Total
	in, err := h.deps.Payments.CreateIntent(ctx, total, h.cfg.Currency, st.ID+":"+total.StringFixed(2))
	if err != nil {
		if errors.Is(err, payment.ErrUnavailable) {
			err = apperr.Wrap(apperr.CodePaymentIncomplete, err, "card payments are unavailable").
				WithReason("unavailable")
		}
		writeError(w, r, err)
		return
	}
	if err := sh.Checkout.AttachPaymentIntent(in); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, intentResponse{
		IntentID:     in.ID,
		ClientSecret: in.ClientSecret,
		Amount:       money(in.Amount),
		Currency:     in.Currency,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sh := shopperFrom(r.Context())
	o, err := h.deps.Submitter.Submit(r.Context(), sh.Checkout, sh.Cart, order.SubmitRequest{
		ClientTotals:    req.ClientTotals.totals(),
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The finished checkout is retired; the client continues on a new session.
	next := h.deps.Sessions.Renew(r.Context(), sh)
	w.Header().Set(SessionHeader, next.Checkout.ID())
	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// getOrder returns an order placed by this session or by the logged-in user.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	sh := shopperFrom(r.Context())
	st := sh.Checkout.State()

	o, err := h.deps.Orders.FindByID(r.Context(), id)
	if errors.Is(err, order.ErrNotFound) {
		writeError(w, r, notFound("order"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	owned := sh.Placed(o.ID) || (st.Identity != nil && o.UserID != "" && st.Identity.UserID == o.UserID)
	if !owned {
		writeError(w, r, notFound("order"))
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
