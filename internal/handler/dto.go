package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/checkout"
	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/domain/profile"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type optionResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Price   string `json:"price"`
	InStock bool   `json:"in_stock"`
	Active  bool   `json:"active"`
}

type productResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	ImageURL    string           `json:"image_url"`
	Active      bool             `json:"active"`
	Options     []optionResponse `json:"options"`
}

func newProductResponse(p catalog.Product, imageBaseURL string) productResponse {
	resp := productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		ImageURL:    imageBaseURL + p.ImageURL,
		Active:      p.Active,
		Options:     make([]optionResponse, len(p.Options)),
	}
	for i, o := range p.Options {
		resp.Options[i] = optionResponse{
			ID:      o.ID,
			Name:    o.Name,
			Price:   money(o.Price),
			InStock: o.Active && o.Stock > 0,
			Active:  o.Active,
		}
	}
	return resp
}

type giftProductResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type lineResponse struct {
	ProductID       string `json:"product_id"`
	PackageOptionID string `json:"package_option_id"`
	Quantity        int    `json:"quantity"`
}

type giftLineResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     string          `json:"price"`
	Quantity  int             `json:"quantity"`
	Recipient *cart.Recipient `json:"recipient,omitempty"`
}

type cartResponse struct {
	Cart  []lineResponse     `json:"cart"`
	Gifts []giftLineResponse `json:"gifts"`
}

func newCartResponse(s cart.Snapshot) cartResponse {
	resp := cartResponse{
		Cart:  make([]lineResponse, len(s.Cart)),
		Gifts: make([]giftLineResponse, len(s.Gifts)),
	}
	for i, l := range s.Cart {
		resp.Cart[i] = lineResponse{
			ProductID:       l.ProductID,
			PackageOptionID: l.PackageOptionID,
			Quantity:        l.Quantity,
		}
	}
	for i, g := range s.Gifts {
		resp.Gifts[i] = giftLineResponse{
			ID:        g.ID,
			Name:      g.Name,
			Price:     money(g.Price),
			Quantity:  g.Quantity,
			Recipient: g.Recipient,
		}
	}
	return resp
}

type totalsResponse struct {
	Subtotal              string `json:"subtotal"`
	DiscountAmount        string `json:"discount_amount"`
	SubtotalAfterDiscount string `json:"subtotal_after_discount"`
	ShippingCost          string `json:"shipping_cost"`
	GiftOptionCost        string `json:"gift_option_cost"`
	GiftProductCost       string `json:"gift_product_cost"`
	Total                 string `json:"total"`
}

func newTotalsResponse(t pricing.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:              money(t.Subtotal),
		DiscountAmount:        money(t.DiscountAmount),
		SubtotalAfterDiscount: money(t.SubtotalAfterDiscount),
		ShippingCost:          money(t.ShippingCost),
		GiftOptionCost:        money(t.GiftOptionCost),
		GiftProductCost:       money(t.GiftProductCost),
		Total:                 money(t.Total),
	}
}

type quoteLineResponse struct {
	ProductID       string `json:"product_id"`
	PackageOptionID string `json:"package_option_id,omitempty"`
	Description     string `json:"description"`
	UnitPrice       string `json:"unit_price"`
	Quantity        int    `json:"quantity"`
	LineTotal       string `json:"line_total"`
	Gift            bool   `json:"gift"`
}

type quoteResponse struct {
	Lines  []quoteLineResponse `json:"lines"`
	Totals totalsResponse      `json:"totals"`
}

func newQuoteResponse(q *catalog.Quote) quoteResponse {
	resp := quoteResponse{
		Lines:  make([]quoteLineResponse, len(q.Lines)),
		Totals: newTotalsResponse(q.Totals),
	}
	for i, l := range q.Lines {
		resp.Lines[i] = quoteLineResponse{
			ProductID:       l.ProductID,
			PackageOptionID: l.PackageOptionID,
			Description:     l.Description,
			UnitPrice:       money(l.UnitPrice),
			Quantity:        l.Quantity,
			LineTotal:       money(l.Total()),
			Gift:            l.Gift,
		}
	}
	return resp
}

// totalsPayload is what the client displayed. Values are informational.
type totalsPayload struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	ShippingCost          decimal.Decimal `json:"shipping_cost"`
	GiftOptionCost        decimal.Decimal `json:"gift_option_cost"`
	GiftProductCost       decimal.Decimal `json:"gift_product_cost"`
	Total                 decimal.Decimal `json:"total"`
}

func (p *totalsPayload) totals() *pricing.Totals {
	if p == nil {
		return nil
	}
	return &pricing.Totals{
		Subtotal:              p.Subtotal,
		DiscountAmount:        p.DiscountAmount,
		SubtotalAfterDiscount: p.SubtotalAfterDiscount,
		ShippingCost:          p.ShippingCost,
		GiftOptionCost:        p.GiftOptionCost,
		GiftProductCost:       p.GiftProductCost,
		Total:                 p.Total,
	}
}

type discountResponse struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type paymentResponse struct {
	IntentID string `json:"intent_id,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Status   string `json:"status,omitempty"`
}

type stateResponse struct {
	SessionID     string                 `json:"session_id"`
	Step          string                 `json:"step"`
	Auth          string                 `json:"auth"`
	Email         string                 `json:"email,omitempty"`
	Form          checkout.Form          `json:"form"`
	FormReady     bool                   `json:"form_ready"`
	Discount      *discountResponse      `json:"discount,omitempty"`
	Gifts         checkout.GiftSelection `json:"gifts"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	Payment       *paymentResponse       `json:"payment,omitempty"`
	OrderID       string                 `json:"order_id,omitempty"`
	Submittable   bool                   `json:"submittable"`
	Token         string                 `json:"token,omitempty"`
}

func newStateResponse(st checkout.State) stateResponse {
	resp := stateResponse{
		SessionID:     st.ID,
		Step:          string(st.Step),
		Auth:          string(st.Auth),
		Form:          st.Form,
		FormReady:     st.FormReady,
		Gifts:         st.Gifts,
		PaymentMethod: string(st.PaymentMethod),
		OrderID:       st.OrderID,
		Submittable:   st.Submittable(),
	}
	if st.Identity != nil {
		resp.Email = st.Identity.Email
	}
	if d := st.Discount; d != nil {
		resp.Discount = &discountResponse{
			Code:        d.Code,
			Type:        string(d.Type),
			Value:       d.Value.String(),
			Description: d.Description,
		}
	}
	if p := st.Payment; p.IntentID != "" {
		resp.Payment = &paymentResponse{
			IntentID: p.IntentID,
			Amount:   money(p.Amount),
			Status:   string(p.Status),
		}
	}
	return resp
}

type orderItemResponse struct {
	ProductID       string          `json:"product_id"`
	PackageOptionID string          `json:"package_option_id,omitempty"`
	Description     string          `json:"description"`
	Quantity        int             `json:"quantity"`
	UnitPrice       string          `json:"unit_price"`
	LineTotal       string          `json:"line_total"`
	Gift            bool            `json:"gift"`
	Recipient       *cart.Recipient `json:"recipient,omitempty"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     int64               `json:"order_number"`
	Status          string              `json:"status"`
	Email           string              `json:"email"`
	ContactName     string              `json:"contact_name"`
	Phone           string              `json:"phone"`
	ShippingAddress profile.Address     `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentRef      string              `json:"payment_ref,omitempty"`
	DiscountCode    string              `json:"discount_code,omitempty"`
	Items           []orderItemResponse `json:"items"`
	Gift            *order.GiftDetails  `json:"gift,omitempty"`
	Totals          totalsResponse      `json:"totals"`
	CreatedAt       string              `json:"created_at"`
}

func newOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		Status:          string(o.Status),
		Email:           o.Email,
		ContactName:     o.ContactName,
		Phone:           o.Phone,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentRef:      o.PaymentRef,
		DiscountCode:    o.DiscountCode,
		Items:           make([]orderItemResponse, len(o.Items)),
		Gift:            o.Gift,
		Totals:          newTotalsResponse(o.Totals),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ProductID:       it.ProductID,
			PackageOptionID: it.PackageOptionID,
			Description:     it.Description,
			Quantity:        it.Quantity,
			UnitPrice:       money(it.UnitPrice),
			LineTotal:       money(it.LineTotal),
			Gift:            it.Gift,
			Recipient:       it.Recipient,
		}
	}
	return resp
}
