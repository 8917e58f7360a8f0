package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftshop/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, description, category, image_url, active
		FROM products ORDER BY name, id`

	listOptionsSQL = `SELECT o.id, o.product_id, p.name, o.name, o.price, o.stock, o.active AND p.active
		FROM package_options o JOIN products p ON p.id = o.product_id
		ORDER BY o.product_id, o.sort_order, o.id`

	getOptionSQL = `SELECT o.id, o.product_id, p.name, o.name, o.price, o.stock, o.active AND p.active
		FROM package_options o JOIN products p ON p.id = o.product_id
		WHERE o.product_id = $1 AND o.id = $2`

	getOptionsByIDsSQL = `SELECT o.id, o.product_id, p.name, o.name, o.price, o.stock, o.active AND p.active
		FROM package_options o JOIN products p ON p.id = o.product_id
		WHERE o.id = ANY($1)`

	listGiftProductsSQL = `SELECT id, name, price, active FROM gift_products ORDER BY name, id`

	getGiftProductsByIDsSQL = `SELECT id, name, price, active FROM gift_products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, description, category, image_url, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			image_url = EXCLUDED.image_url,
			active = EXCLUDED.active`

	upsertOptionSQL = `INSERT INTO package_options (id, product_id, name, price, stock, active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			sort_order = EXCLUDED.sort_order`

	upsertGiftProductSQL = `INSERT INTO gift_products (id, name, price, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			active = EXCLUDED.active`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListProducts returns all products with their package options.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	rows, err = r.pool.Query(ctx, listOptionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing package options: %w", err)
	}
	options, err := pgx.CollectRows(rows, scanOption)
	if err != nil {
		return nil, fmt.Errorf("listing package options: %w", err)
	}

	byProduct := make(map[string][]catalog.PackageOption, len(products))
	for _, o := range options {
		byProduct[o.ProductID] = append(byProduct[o.ProductID], o)
	}
	for i := range products {
		products[i].Options = byProduct[products[i].ID]
	}
	return products, nil
}

// GetOption returns the option of the given product, or catalog.ErrNotFound.
func (r *CatalogRepository) GetOption(ctx context.Context, productID, optionID string) (*catalog.PackageOption, error) {
	rows, err := r.pool.Query(ctx, getOptionSQL, productID, optionID)
	if err != nil {
		return nil, fmt.Errorf("getting option %q of %q: %w", optionID, productID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting option %q of %q: %w", optionID, productID, err)
	}
	return &o, nil
}

// GetOptionsByIDs returns the options found among ids. Missing IDs are
// silently skipped.
func (r *CatalogRepository) GetOptionsByIDs(ctx context.Context, ids []string) ([]catalog.PackageOption, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getOptionsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting options by ids: %w", err)
	}
	options, err := pgx.CollectRows(rows, scanOption)
	if err != nil {
		return nil, fmt.Errorf("getting options by ids: %w", err)
	}
	return options, nil
}

func (r *CatalogRepository) ListGiftProducts(ctx context.Context) ([]catalog.GiftProduct, error) {
	rows, err := r.pool.Query(ctx, listGiftProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing gift products: %w", err)
	}
	gifts, err := pgx.CollectRows(rows, scanGiftProduct)
	if err != nil {
		return nil, fmt.Errorf("listing gift products: %w", err)
	}
	return gifts, nil
}

func (r *CatalogRepository) GetGiftProductsByIDs(ctx context.Context, ids []string) ([]catalog.GiftProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getGiftProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting gift products by ids: %w", err)
	}
	gifts, err := pgx.CollectRows(rows, scanGiftProduct)
	if err != nil {
		return nil, fmt.Errorf("getting gift products by ids: %w", err)
	}
	return gifts, nil
}

// UpsertProduct writes p and its options in one transaction.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Description, p.Category, p.ImageURL, p.Active,
		); err != nil {
			return err
		}
		for i, o := range p.Options {
			if _, err := tx.Exec(ctx, upsertOptionSQL,
				o.ID, p.ID, o.Name, o.Price, o.Stock, o.Active, i,
			); err != nil {
				return fmt.Errorf("option %q: %w", o.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func (r *CatalogRepository) UpsertGiftProduct(ctx context.Context, g catalog.GiftProduct) error {
	if _, err := r.pool.Exec(ctx, upsertGiftProductSQL, g.ID, g.Name, g.Price, g.Active); err != nil {
		return fmt.Errorf("upserting gift product %q: %w", g.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.ImageURL, &p.Active)
	return p, err
}

func scanOption(row pgx.CollectableRow) (catalog.PackageOption, error) {
	var (
		o     catalog.PackageOption
		stock int32
	)
	err := row.Scan(&o.ID, &o.ProductID, &o.ProductName, &o.Name, &o.Price, &stock, &o.Active)
	o.Stock = int(stock)
	return o, err
}

func scanGiftProduct(row pgx.CollectableRow) (catalog.GiftProduct, error) {
	var g catalog.GiftProduct
	err := row.Scan(&g.ID, &g.Name, &g.Price, &g.Active)
	return g, err
}
