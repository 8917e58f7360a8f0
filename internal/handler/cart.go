package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
)

type itemRequest struct {
	ProductID       string `json:"product_id" validate:"required"`
	PackageOptionID string `json:"package_option_id"`
	Quantity        int    `json:"quantity"`
}

type giftRequest struct {
	ID        string          `json:"id" validate:"required"`
	Name      string          `json:"name" validate:"required,max=200"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Recipient *cart.Recipient `json:"recipient,omitempty"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCartResponse(shopperFrom(r.Context()).Cart.Snapshot()))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c := shopperFrom(r.Context()).Cart
	if err := c.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := shopperFrom(r.Context()).Cart
	if err := c.AddToCart(r.Context(), req.ProductID, req.PackageOptionID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := shopperFrom(r.Context()).Cart
	if err := c.UpdateQuantity(r.Context(), req.ProductID, req.PackageOptionID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := shopperFrom(r.Context()).Cart
	if err := c.RemoveFromCart(r.Context(), q.Get("product_id"), q.Get("package_option_id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

func (h *Handler) addGift(w http.ResponseWriter, r *http.Request) {
	var req giftRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := shopperFrom(r.Context()).Cart
	err := c.AddGift(r.Context(), cart.GiftLineItem{
		ID:        req.ID,
		Name:      req.Name,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Recipient: req.Recipient,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

func (h *Handler) removeGift(w http.ResponseWriter, r *http.Request) {
	c := shopperFrom(r.Context()).Cart
	if err := c.RemoveGift(r.Context(), chi.URLParam(r, "giftID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c.Snapshot()))
}

// getTotals prices the cart with the session's discount and gift selections.
func (h *Handler) getTotals(w http.ResponseWriter, r *http.Request) {
	sh := shopperFrom(r.Context())
	q, err := h.quote(r, sh, sh.Checkout.State())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (h *Handler) quote(r *http.Request, sh *Shopper, st checkout.State) (*catalog.Quote, error) {
	req := catalog.PriceRequest{
		Snapshot:      sh.Cart.Snapshot(),
		GiftPackaging: st.Gifts.Packaging,
		GiftProductID: st.Gifts.GiftProductID,
	}
	if st.Discount != nil {
		d := st.Discount.Pricing()
		req.Discount = &d
	}
	return h.deps.Catalog.Price(r.Context(), req)
}
