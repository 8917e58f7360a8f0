package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/storage/postgres"
)

type seedFile struct {
	Products     []productJSON  `json:"products"`
	GiftProducts []giftJSON     `json:"gift_products"`
	Discounts    []discountJSON `json:"discounts"`
}

type productJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	ImageURL    string       `json:"image_url"`
	Inactive    bool         `json:"inactive"`
	Options     []optionJSON `json:"options"`
}

type optionJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Inactive bool            `json:"inactive"`
}

type giftJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type discountJSON struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	MaxUses        int             `json:"max_uses"`
	Description    string          `json:"description"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to the catalog seed JSON file")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalogRepo := postgres.NewCatalogRepository(pool)
	if err := seedProducts(ctx, lg, catalogRepo, seed); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, lg, postgres.NewDiscountRepository(pool), seed.Discounts); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.CatalogRepository, seed seedFile) error {
	lg.Info("Upserting products", zap.Int("count", len(seed.Products)))

	for _, p := range seed.Products {
		product := catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			ImageURL:    p.ImageURL,
			Active:      !p.Inactive,
			Options:     make([]catalog.PackageOption, len(p.Options)),
		}
		for i, o := range p.Options {
			product.Options[i] = catalog.PackageOption{
				ID:        o.ID,
				ProductID: p.ID,
				Name:      o.Name,
				Price:     o.Price,
				Stock:     o.Stock,
				Active:    !o.Inactive,
			}
		}
		if err := repo.UpsertProduct(ctx, product); err != nil {
			return err
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.Int("options", len(p.Options)))
	}

	for _, g := range seed.GiftProducts {
		if err := repo.UpsertGiftProduct(ctx, catalog.GiftProduct{
			ID:     g.ID,
			Name:   g.Name,
			Price:  g.Price,
			Active: true,
		}); err != nil {
			return err
		}
		lg.Info("Upserted gift product", zap.String("id", g.ID))
	}
	return nil
}

func seedDiscounts(ctx context.Context, lg *zap.Logger, repo *postgres.DiscountRepository, discounts []discountJSON) error {
	for _, d := range discounts {
		t := pricing.DiscountType(d.Type)
		if t != pricing.DiscountPercentage && t != pricing.DiscountFixed {
			return errors.Errorf("discount %s: unknown type %q", d.Code, d.Type)
		}
		if err := repo.Upsert(ctx, discount.Code{
			Code:           d.Code,
			Type:           t,
			Value:          d.Value,
			MinOrderAmount: d.MinOrderAmount,
			Description:    d.Description,
			MaxUses:        d.MaxUses,
			IsActive:       true,
		}); err != nil {
			return err
		}
		lg.Info("Upserted discount", zap.String("code", d.Code), zap.String("description", d.Description))
	}
	return nil
}
