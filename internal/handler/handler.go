// Package handler exposes the catalog, cart and checkout over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/auth"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/internal/domain/payment"
)

// SessionHeader carries the checkout session ID in both directions.
const SessionHeader = "X-Checkout-Session"

// Catalog serves products and prices carts.
type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	ListGiftProducts(ctx context.Context) ([]catalog.GiftProduct, error)
	Price(ctx context.Context, req catalog.PriceRequest) (*catalog.Quote, error)
}

// Accounts authenticates shoppers.
type Accounts interface {
	checkout.Authenticator
	Identify(ctx context.Context, token string) (*auth.Identity, error)
}

// Submitter places orders.
type Submitter interface {
	Submit(ctx context.Context, sess *checkout.Session, c order.Cart, req order.SubmitRequest) (*order.Order, error)
}

// OrderFinder reads placed orders.
type OrderFinder interface {
	FindByID(ctx context.Context, id string) (*order.Order, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Currency is the ISO currency code card payments are created in.
	Currency string
	// ImageBaseURL is prepended to product image paths.
	ImageBaseURL string
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Catalog   Catalog
	Discounts discount.Validator
	Accounts  Accounts
	Payments  payment.Gateway
	Submitter Submitter
	Orders    OrderFinder
	Sessions  *Sessions
}

// Handler serves the shop API.
type Handler struct {
	cfg  HandlerConfig
	deps Deps
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	return &Handler{cfg: cfg, deps: deps}
}

// Routes returns the API router. Cart and checkout routes are bound to the
// shopper named by SessionHeader.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", h.listProducts)
	r.Get("/gift-products", h.listGiftProducts)

	r.Group(func(r chi.Router) {
		r.Use(h.withShopper)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Get("/totals", h.getTotals)
			r.Post("/items", h.addItem)
			r.Patch("/items", h.updateItem)
			r.Delete("/items", h.removeItem)
			r.Post("/gifts", h.addGift)
			r.Delete("/gifts/{giftID}", h.removeGift)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.getCheckout)
			r.Post("/guest", h.chooseGuest)
			r.Post("/login-form", h.chooseLogin)
			r.Post("/signup-form", h.chooseSignup)
			r.Post("/login", h.login)
			r.Post("/signup", h.signUp)
			r.Post("/logout", h.logout)
			r.Put("/form", h.submitForm)
			r.Post("/discount", h.applyDiscount)
			r.Delete("/discount", h.removeDiscount)
			r.Put("/gifts", h.selectGifts)
			r.Put("/payment-method", h.selectPaymentMethod)
			r.Post("/payment-intent", h.createPaymentIntent)
			r.Post("/submit", h.submit)
		})

		r.Get("/orders/{orderID}", h.getOrder)
	})

	return r
}

type shopperKey struct{}

func shopperFrom(ctx context.Context) *Shopper {
	return ctx.Value(shopperKey{}).(*Shopper)
}

// withShopper resolves the shopper for the request. Requests without a known
// session start a new one, logged in when a valid bearer token is present.
func (h *Handler) withShopper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var identity *auth.Identity
		if token, ok := bearerToken(r); ok {
			id, err := h.deps.Accounts.Identify(ctx, token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			identity = id
		}

		sh := h.deps.Sessions.Get(ctx, r.Header.Get(SessionHeader), identity)
		w.Header().Set(SessionHeader, sh.Checkout.ID())

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, shopperKey{}, sh)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(v, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func notFound(what string) error {
	return apperr.New(apperr.CodeNotFound, what+" not found")
}
