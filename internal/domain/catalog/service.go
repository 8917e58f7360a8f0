// Package catalog serves products, package options and gift products, answers
// stock queries for the cart and prices cart snapshots from catalog data.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/pricing"
)

var _ cart.StockOracle = (*Service)(nil)

// PriceRequest is a cart snapshot plus the session selections that affect
// the total.
type PriceRequest struct {
	Snapshot      cart.Snapshot
	Discount      *pricing.Discount
	GiftPackaging bool
	GiftProductID string
}

// Quote is a priced cart.
type Quote struct {
	Lines       []pricing.Line
	GiftProduct *GiftProduct
	Totals      pricing.Totals
}

// Service implements catalog queries on top of a Repository.
type Service struct {
	repo          Repository
	shipping      pricing.Shipping
	packagingCost decimal.Decimal
}

// NewService creates a catalog Service. packagingCost is charged when a gift
// packaging option is selected.
func NewService(repo Repository, shipping pricing.Shipping, packagingCost decimal.Decimal) *Service {
	return &Service{
		repo:          repo,
		shipping:      shipping,
		packagingCost: packagingCost,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

func (s *Service) ListGiftProducts(ctx context.Context) ([]GiftProduct, error) {
	gifts, err := s.repo.ListGiftProducts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list gift products")
	}
	return gifts, nil
}

// Query reports stock for a variant. Unknown variants are inactive.
func (s *Service) Query(ctx context.Context, productID, optionID string) (cart.StockSnapshot, error) {
	opt, err := s.repo.GetOption(ctx, productID, optionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return cart.StockSnapshot{}, nil
		}
		return cart.StockSnapshot{}, errors.Wrap(err, "get package option")
	}
	return cart.StockSnapshot{
		AvailableQuantity: opt.Stock,
		IsActive:          opt.Active,
	}, nil
}

// Price resolves every line of the request against the catalog and computes
// totals. Stored gift prices are ignored in favour of catalog prices, so a
// tampered snapshot cannot change what is charged.
func (s *Service) Price(ctx context.Context, req PriceRequest) (*Quote, error) {
	lines, err := s.cartLines(ctx, req.Snapshot.Cart)
	if err != nil {
		return nil, err
	}

	giftIDs := make([]string, 0, len(req.Snapshot.Gifts)+1)
	for _, g := range req.Snapshot.Gifts {
		giftIDs = append(giftIDs, g.ID)
	}
	if req.GiftProductID != "" {
		giftIDs = append(giftIDs, req.GiftProductID)
	}

	gifts := map[string]GiftProduct{}
	if len(giftIDs) > 0 {
		fetched, err := s.repo.GetGiftProductsByIDs(ctx, giftIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get gift products")
		}
		for _, g := range fetched {
			gifts[g.ID] = g
		}
	}

	for _, g := range req.Snapshot.Gifts {
		gp, ok := gifts[g.ID]
		if !ok || !gp.Active {
			return nil, apperr.Newf(apperr.CodeProductUnavailable, "gift %s is unavailable", g.ID)
		}
		lines = append(lines, pricing.Line{
			ProductID:   gp.ID,
			Description: gp.Name,
			UnitPrice:   gp.Price,
			Quantity:    g.Quantity,
			Gift:        true,
		})
	}

	in := pricing.Input{
		Lines:    lines,
		Discount: req.Discount,
		Shipping: s.shipping,
	}
	if req.GiftPackaging {
		in.GiftOptionCost = s.packagingCost
	}

	var giftProduct *GiftProduct
	if req.GiftProductID != "" {
		gp, ok := gifts[req.GiftProductID]
		if !ok || !gp.Active {
			return nil, apperr.Newf(apperr.CodeProductUnavailable, "gift %s is unavailable", req.GiftProductID)
		}
		giftProduct = &gp
		in.GiftProductCost = gp.Price
	}

	return &Quote{
		Lines:       lines,
		GiftProduct: giftProduct,
		Totals:      pricing.Compute(in),
	}, nil
}

func (s *Service) cartLines(ctx context.Context, items []cart.LineItem) ([]pricing.Line, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.PackageOptionID
	}

	fetched, err := s.repo.GetOptionsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get package options")
	}
	byID := make(map[string]PackageOption, len(fetched))
	for _, o := range fetched {
		byID[o.ID] = o
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		opt, ok := byID[item.PackageOptionID]
		if !ok || opt.ProductID != item.ProductID || !opt.Active {
			return nil, apperr.New(apperr.CodeProductUnavailable,
				fmt.Sprintf("product %s/%s is unavailable", item.ProductID, item.PackageOptionID))
		}
		lines = append(lines, pricing.Line{
			ProductID:       opt.ProductID,
			PackageOptionID: opt.ID,
			Description:     opt.Description(),
			UnitPrice:       opt.Price,
			Quantity:        item.Quantity,
		})
	}
	return lines, nil
}
